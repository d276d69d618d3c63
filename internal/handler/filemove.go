package handler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

type FileMove struct {
	ws Workspace
}

var _ Handler = (*FileMove)(nil)

func (h *FileMove) Name() string        { return action.TypeFileMove }
func (h *FileMove) Description() string { return "move or rename a file inside the workspace" }

func (h *FileMove) Validate(p action.Params) error {
	fp, ok := p.(action.FileMoveParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("file_move requires file move params")
	}
	if _, err := h.ws.Resolve(fp.Source); err != nil {
		return err
	}
	_, err := h.ws.Resolve(fp.Dest)
	return err
}

func (h *FileMove) Execute(ctx context.Context, act *action.Action) (string, error) {
	fp, ok := act.Params.(action.FileMoveParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("file_move requires file move params")
	}
	src, err := h.ws.Resolve(fp.Source)
	if err != nil {
		return "", err
	}
	dst, err := h.ws.Resolve(fp.Dest)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", fp.Source, fp.Dest, err)
	}
	return fmt.Sprintf("moved %s to %s", fp.Source, fp.Dest), nil
}
