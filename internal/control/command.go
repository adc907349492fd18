package control

import (
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kblocks/internal/api"
	"kblocks/pkg/objuri"
)

// CommandType names a control command.
type CommandType string

const (
	CommandApply   CommandType = "APPLY"
	CommandPatch   CommandType = "PATCH"
	CommandDelete  CommandType = "DELETE"
	CommandRefresh CommandType = "REFRESH"
	CommandRead    CommandType = "READ"
)

// Command is a message received from the control plane.
type Command struct {
	Type   CommandType            `json:"type"`
	ObjURI string                 `json:"objUri,omitempty"`
	Object map[string]interface{} `json:"object,omitempty"`
	Patch  map[string]interface{} `json:"patch,omitempty"`
}

// ParseCommand decodes and validates a command addressed to channel c. It
// returns the identity the command targets.
func ParseCommand(c objuri.Channel, data []byte) (Command, objuri.Identity, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, objuri.Identity{}, &api.ProtocolError{Reason: "malformed command", Err: err}
	}

	switch cmd.Type {
	case CommandApply:
		if len(cmd.Object) == 0 {
			return cmd, objuri.Identity{}, &api.ProtocolError{Reason: "APPLY requires an object"}
		}
		obj := &unstructured.Unstructured{Object: cmd.Object}
		if obj.GetName() == "" {
			return cmd, objuri.Identity{}, &api.ProtocolError{Reason: "APPLY object has no metadata.name"}
		}
		return cmd, objuri.FromObject(c, obj), nil

	case CommandPatch, CommandDelete, CommandRefresh, CommandRead:
		id, err := objuri.Parse(cmd.ObjURI)
		if err != nil {
			return cmd, objuri.Identity{}, &api.ProtocolError{Reason: fmt.Sprintf("%s has an invalid objUri", cmd.Type), Err: err}
		}
		if id.Channel() != c {
			return cmd, id, &api.ProtocolError{Reason: fmt.Sprintf("objUri %s does not belong to channel %s/%s/%s?system=%s",
				cmd.ObjURI, c.Group, c.Version, c.Plural, c.System)}
		}
		if cmd.Type == CommandPatch && len(cmd.Patch) == 0 {
			return cmd, id, &api.ProtocolError{Reason: "PATCH requires a patch"}
		}
		return cmd, id, nil

	case "":
		return cmd, objuri.Identity{}, &api.ProtocolError{Reason: "command has no type"}
	default:
		return cmd, objuri.Identity{}, &api.ProtocolError{Reason: fmt.Sprintf("unknown command type %q", cmd.Type)}
	}
}
