package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/bufferserver/pkg/client"
	"github.com/downfa11-org/bufferserver/pkg/controller"
	"github.com/downfa11-org/bufferserver/pkg/types"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "buffer server address")
	gzip := flag.Bool("gzip", false, "enable gzip frames")
	flag.Parse()

	c, err := client.Dial(*addr, client.Options{EnableGzip: *gzip})
	if err != nil {
		fmt.Println("❌ Failed to connect:", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Println("🔹 Connected. Type HELP for commands.")
	fmt.Println("")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "EXIT") {
			break
		}

		cmd, err := controller.ParseCommand(line)
		if err == nil && cmd.Type == controller.CmdSubscribe {
			tail(c, line)
			return
		}
		if err == nil && cmd.Type == controller.CmdPublish {
			fmt.Println("PUBLISH is not supported from the interactive client")
			continue
		}

		resp, err := c.Command(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Println(resp)
	}
}

// tail prints every record of a subscription until the connection ends.
func tail(c *client.Client, line string) {
	resp, err := c.Command(line)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(resp)
	for {
		r, err := c.Next(0)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				fmt.Println("🔌 subscription ended:", err)
			}
			return
		}
		switch r.Kind() {
		case types.KindResetWindow:
			fmt.Printf("%s generation=%d width=%dms\n", r.Kind(), r.Generation(), r.Width())
		case types.KindBeginWindow, types.KindEndWindow:
			fmt.Printf("%s %s\n", r.Kind(), types.FormatWindowID(r.WindowID()))
		case types.KindPartitionedData:
			fmt.Printf("%s [%s] %s\n", r.Kind(), r.Partition(), r.Payload())
		default:
			fmt.Printf("%s %s\n", r.Kind(), r.Payload())
		}
	}
}
