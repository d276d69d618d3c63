package handler

import (
	"context"
	"fmt"
	"os"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

type FileDelete struct {
	ws Workspace
}

var _ Handler = (*FileDelete)(nil)

func (h *FileDelete) Name() string        { return action.TypeFileDelete }
func (h *FileDelete) Description() string { return "delete a file or directory inside the workspace" }

func (h *FileDelete) Validate(p action.Params) error {
	fp, ok := p.(action.FileDeleteParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("file_delete requires file delete params")
	}
	path, err := h.ws.Resolve(fp.Path)
	if err != nil {
		return err
	}
	// Deleting the workspace root itself is never a valid request.
	if path == h.ws.Root {
		return errclass.ErrInvalidParams.WithMessage("refusing to delete the workspace root")
	}
	return nil
}

func (h *FileDelete) Execute(ctx context.Context, act *action.Action) (string, error) {
	fp, ok := act.Params.(action.FileDeleteParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("file_delete requires file delete params")
	}
	if err := h.Validate(fp); err != nil {
		return "", err
	}
	path, err := h.ws.Resolve(fp.Path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", fp.Path, err)
	}
	if info.IsDir() && !fp.Recursive {
		return "", fmt.Errorf("%s is a directory; set recursive to delete it", fp.Path)
	}
	if fp.Recursive {
		if err := os.RemoveAll(path); err != nil {
			return "", fmt.Errorf("delete %s: %w", fp.Path, err)
		}
	} else if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("delete %s: %w", fp.Path, err)
	}
	return fmt.Sprintf("deleted %s", fp.Path), nil
}
