package handler

import (
	"context"
	"fmt"
	"os"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

// maxReadResult bounds how much file content travels back in the action
// result. Larger files are truncated with a marker, not failed.
const maxReadResult = 64 * 1024

type FileRead struct {
	ws Workspace
}

var _ Handler = (*FileRead)(nil)

func (h *FileRead) Name() string        { return action.TypeFileRead }
func (h *FileRead) Description() string { return "read a file inside the workspace" }

func (h *FileRead) Validate(p action.Params) error {
	fp, ok := p.(action.FileReadParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("file_read requires file read params")
	}
	_, err := h.ws.Resolve(fp.Path)
	return err
}

func (h *FileRead) Execute(ctx context.Context, act *action.Action) (string, error) {
	fp, ok := act.Params.(action.FileReadParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("file_read requires file read params")
	}
	path, err := h.ws.Resolve(fp.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", fp.Path, err)
	}
	if len(data) > maxReadResult {
		return string(data[:maxReadResult]) + "\n[truncated]", nil
	}
	return string(data), nil
}
