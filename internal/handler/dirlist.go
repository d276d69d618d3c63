package handler

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

type DirList struct {
	ws Workspace
}

var _ Handler = (*DirList)(nil)

func (h *DirList) Name() string        { return action.TypeDirList }
func (h *DirList) Description() string { return "list a directory inside the workspace" }

func (h *DirList) Validate(p action.Params) error {
	dp, ok := p.(action.DirListParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("dir_list requires dir list params")
	}
	_, err := h.ws.Resolve(dp.Path)
	return err
}

func (h *DirList) Execute(ctx context.Context, act *action.Action) (string, error) {
	dp, ok := act.Params.(action.DirListParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("dir_list requires dir list params")
	}
	path, err := h.ws.Resolve(dp.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", dp.Path, err)
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
		} else {
			fmt.Fprintf(&b, "%s\n", e.Name())
		}
	}
	return b.String(), nil
}
