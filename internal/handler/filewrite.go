package handler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

type FileWrite struct {
	ws Workspace
}

var _ Handler = (*FileWrite)(nil)

func (h *FileWrite) Name() string        { return action.TypeFileWrite }
func (h *FileWrite) Description() string { return "write or append a file inside the workspace" }

func (h *FileWrite) Validate(p action.Params) error {
	fp, ok := p.(action.FileWriteParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("file_write requires file write params")
	}
	_, err := h.ws.Resolve(fp.Path)
	return err
}

func (h *FileWrite) Execute(ctx context.Context, act *action.Action) (string, error) {
	fp, ok := act.Params.(action.FileWriteParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("file_write requires file write params")
	}
	path, err := h.ws.Resolve(fp.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if fp.Append {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", fp.Path, err)
		}
		defer f.Close()
		if _, err := f.WriteString(fp.Content); err != nil {
			return "", fmt.Errorf("append %s: %w", fp.Path, err)
		}
		return fmt.Sprintf("appended %d bytes to %s", len(fp.Content), fp.Path), nil
	}
	if err := os.WriteFile(path, []byte(fp.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", fp.Path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(fp.Content), fp.Path), nil
}
