package handler

import (
	"context"
	"fmt"
	"os"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

type DirCreate struct {
	ws Workspace
}

var _ Handler = (*DirCreate)(nil)

func (h *DirCreate) Name() string        { return action.TypeDirCreate }
func (h *DirCreate) Description() string { return "create a directory inside the workspace" }

func (h *DirCreate) Validate(p action.Params) error {
	dp, ok := p.(action.DirCreateParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("dir_create requires dir create params")
	}
	_, err := h.ws.Resolve(dp.Path)
	return err
}

func (h *DirCreate) Execute(ctx context.Context, act *action.Action) (string, error) {
	dp, ok := act.Params.(action.DirCreateParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("dir_create requires dir create params")
	}
	path, err := h.ws.Resolve(dp.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dp.Path, err)
	}
	return fmt.Sprintf("created %s", dp.Path), nil
}
