package handler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

// maxCommandOutput bounds captured command output in the action result.
const maxCommandOutput = 64 * 1024

// envAllowlist is the environment passed to child processes. Everything
// else, tokens and credentials included, stays out.
var envAllowlist = []string{"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR", "USER", "SHELL", "TERM"}

type Command struct {
	ws Workspace
}

var _ Handler = (*Command)(nil)

func (h *Command) Name() string        { return action.TypeSystemCommand }
func (h *Command) Description() string { return "run a command with the workspace as working directory" }

func (h *Command) Validate(p action.Params) error {
	cp, ok := p.(action.CommandParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("system_command requires command params")
	}
	return cp.Validate()
}

func (h *Command) Execute(ctx context.Context, act *action.Action) (string, error) {
	cp, ok := act.Params.(action.CommandParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("system_command requires command params")
	}

	cmd := exec.CommandContext(ctx, cp.Command, cp.Args...)
	cmd.Dir = h.ws.Root
	cmd.Env = filteredEnv()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := out.String()
	if len(result) > maxCommandOutput {
		result = result[:maxCommandOutput] + "\n[truncated]"
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), tailOf(result))
		}
		return "", err
	}
	return result, nil
}

// filteredEnv copies only allowlisted variables from the parent env.
func filteredEnv() []string {
	var env []string
	for _, key := range envAllowlist {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// tailOf keeps the last few lines of output for failure messages.
func tailOf(s string) string {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
