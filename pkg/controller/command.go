package controller

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/downfa11-org/bufferserver/pkg/types"
	"github.com/downfa11-org/bufferserver/util"
)

type CommandType int

const (
	CmdHelp CommandType = iota
	CmdPublish
	CmdSubscribe
	CmdPurge
	CmdInspect
)

func (t CommandType) String() string {
	switch t {
	case CmdPublish:
		return "PUBLISH"
	case CmdSubscribe:
		return "SUBSCRIBE"
	case CmdPurge:
		return "PURGE"
	case CmdInspect:
		return "INSPECT"
	default:
		return "HELP"
	}
}

// Command is a parsed client command.
type Command struct {
	Type        CommandType
	Upstream    string
	Group       string
	Partitions  [][]byte
	StartMillis int64
	Policy      string
	Window      uint64
}

// ParseCommand parses `NAME key=value ...`. Command names are case
// insensitive, keys are not.
func ParseCommand(raw string) (Command, error) {
	cmd := strings.TrimSpace(raw)
	if cmd == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	name, rest, _ := strings.Cut(cmd, " ")
	args := parseKeyValueArgs(rest)

	switch strings.ToUpper(name) {
	case "HELP":
		return Command{Type: CmdHelp}, nil

	case "INSPECT":
		return Command{Type: CmdInspect}, nil

	case "PUBLISH":
		if args["upstream"] == "" {
			return Command{}, fmt.Errorf("invalid PUBLISH syntax. Expected: PUBLISH upstream=<name>")
		}
		return Command{Type: CmdPublish, Upstream: args["upstream"]}, nil

	case "SUBSCRIBE":
		if args["upstream"] == "" || args["group"] == "" {
			return Command{}, fmt.Errorf("invalid SUBSCRIBE syntax. Expected: SUBSCRIBE upstream=<name> group=<name> [partitions=<a,b>] [start=<millis>] [policy=<name>]")
		}
		c := Command{
			Type:     CmdSubscribe,
			Upstream: args["upstream"],
			Group:    args["group"],
			Policy:   args["policy"],
		}
		for _, p := range util.ParseList(args["partitions"]) {
			c.Partitions = append(c.Partitions, []byte(p))
		}
		if s, ok := args["start"]; ok {
			start, err := strconv.ParseInt(s, 10, 64)
			if err != nil || start < 0 {
				return Command{}, fmt.Errorf("start must be a non-negative millisecond timestamp")
			}
			c.StartMillis = start
		}
		return c, nil

	case "PURGE":
		if args["upstream"] == "" || args["window"] == "" {
			return Command{}, fmt.Errorf("invalid PURGE syntax. Expected: PURGE upstream=<name> window=<gen:offset|id>")
		}
		w, err := parseWindow(args["window"])
		if err != nil {
			return Command{}, err
		}
		return Command{Type: CmdPurge, Upstream: args["upstream"], Window: w}, nil

	default:
		return Command{}, fmt.Errorf("unknown command: %s. Type HELP for available commands", name)
	}
}

func parseKeyValueArgs(argsStr string) map[string]string {
	result := make(map[string]string)
	for _, part := range strings.Fields(argsStr) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}
	return result
}

// parseWindow accepts a packed id or the "generation:offset" form.
func parseWindow(s string) (uint64, error) {
	if gen, off, ok := strings.Cut(s, ":"); ok {
		g, err := strconv.ParseUint(gen, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid window generation %q: %w", gen, err)
		}
		o, err := strconv.ParseUint(off, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid window offset %q: %w", off, err)
		}
		return types.PackWindowID(uint32(g), uint32(o)), nil
	}
	w, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	return w, nil
}
