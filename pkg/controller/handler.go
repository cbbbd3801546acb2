package controller

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/downfa11-org/bufferserver/pkg/upstream"
	"github.com/downfa11-org/bufferserver/util"
)

const helpText = `Available commands:
PUBLISH upstream=<name> - following frames are records appended to the upstream
SUBSCRIBE upstream=<name> group=<name> [partitions=<a,b>] [start=<millis>] [policy=<broadcast|roundrobin|sticky>] - receive records
PURGE upstream=<name> window=<gen:offset|id> - release records before a window
INSPECT - list groups
HELP - show this help`

// CommandHandler answers the request/response commands. PUBLISH and
// SUBSCRIBE take over the connection and are handled by the server.
type CommandHandler struct {
	Manager *upstream.Manager
}

func NewCommandHandler(m *upstream.Manager) *CommandHandler {
	return &CommandHandler{Manager: m}
}

func (ch *CommandHandler) logCommandResult(cmd, response string) {
	status := "SUCCESS"
	if strings.HasPrefix(response, "ERROR:") {
		status = "FAILURE"
	}
	cleanResponse := strings.ReplaceAll(response, "\n", " ")
	util.Debug("status: '%s', command: '%s' to Response '%s'", status, cmd, cleanResponse)
}

// HandleCommand executes HELP, INSPECT and PURGE and returns the response.
func (ch *CommandHandler) HandleCommand(cmd Command) string {
	var resp string

	switch cmd.Type {
	case CmdHelp:
		resp = helpText

	case CmdInspect:
		infos := ch.Manager.Inspect()
		if infos == nil {
			infos = []upstream.GroupInfo{}
		}
		b, err := json.Marshal(infos)
		if err != nil {
			resp = fmt.Sprintf("ERROR: %v", err)
			break
		}
		resp = string(b)

	case CmdPurge:
		n, err := ch.Manager.Purge(cmd.Upstream, cmd.Window)
		if err != nil {
			resp = fmt.Sprintf("ERROR: %v", err)
			break
		}
		resp = fmt.Sprintf("OK purged=%d", n)

	default:
		resp = fmt.Sprintf("ERROR: %s must be the first frame of a connection", cmd.Type)
	}

	ch.logCommandResult(cmd.Type.String(), resp)
	return resp
}
