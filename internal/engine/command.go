package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kblocks/internal/api"
	"kblocks/pkg/logging"
	kstrings "kblocks/pkg/strings"
)

const commandSubsystem = "CommandEngine"

// execCommandContext is a variable to allow mocking in tests
var execCommandContext = exec.CommandContext

// Operations passed to a command engine.
const (
	OperationApply  = "apply"
	OperationDelete = "delete"
	OperationRead   = "read"
)

// commandRequest is written to the command's stdin.
type commandRequest struct {
	Operation string                 `json:"operation"`
	Object    map[string]interface{} `json:"object"`
}

// CommandAdapter runs an executable per operation. The request is written to
// stdin as JSON and the command prints a JSON object of outputs on stdout.
// Empty stdout means no outputs. Every stderr line is forwarded to the LogSink
// of the call context. A non-zero exit fails the operation with the command's
// stderr.
type CommandAdapter struct {
	// Name identifies the engine in errors and logs.
	Name string

	Command string
	Args    []string

	// Env is appended to the current process environment.
	Env []string

	// Dir is the working directory; empty means the current one.
	Dir string
}

// Apply implements Adapter.
func (c *CommandAdapter) Apply(ctx context.Context, doc *unstructured.Unstructured, isDelete bool) (map[string]interface{}, error) {
	op := OperationApply
	if isDelete {
		op = OperationDelete
	}
	return c.run(ctx, op, doc)
}

// Read implements Reader.
func (c *CommandAdapter) Read(ctx context.Context, doc *unstructured.Unstructured) (map[string]interface{}, error) {
	return c.run(ctx, OperationRead, doc)
}

func (c *CommandAdapter) run(ctx context.Context, op string, doc *unstructured.Unstructured) (map[string]interface{}, error) {
	input, err := json.Marshal(commandRequest{Operation: op, Object: doc.Object})
	if err != nil {
		return nil, &api.EngineError{Engine: c.Name, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	cmd := execCommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	lines := newLineWriter(LogSinkFrom(ctx), api.LogLevelInfo)
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(&stderr, lines)

	logging.Debug(commandSubsystem, "Running %s %s for %s/%s", c.Name, op, doc.GetNamespace(), doc.GetName())
	err = cmd.Run()
	lines.Flush()
	if err != nil {
		msg := kstrings.TruncateMessage(stderr.String(), kstrings.MaxConditionMessageLen)
		if msg != "" {
			err = fmt.Errorf("%s failed: %w: %s", op, err, msg)
		} else {
			err = fmt.Errorf("%s failed: %w", op, err)
		}
		return nil, &api.EngineError{Engine: c.Name, Err: err}
	}

	outputs := map[string]interface{}{}
	if out := bytes.TrimSpace(stdout.Bytes()); len(out) > 0 {
		if err := json.Unmarshal(out, &outputs); err != nil {
			return nil, &api.EngineError{Engine: c.Name, Err: fmt.Errorf("invalid outputs: %w", err)}
		}
	}
	return outputs, nil
}
