package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
)

type Comm struct {
	client *http.Client
}

var _ Handler = (*Comm)(nil)

func (h *Comm) Name() string        { return action.TypeExternalComm }
func (h *Comm) Description() string { return "send a payload to an external http endpoint" }

func (h *Comm) Validate(p action.Params) error {
	cp, ok := p.(action.CommParams)
	if !ok {
		return errclass.ErrInvalidParams.WithMessage("external_comm requires comm params")
	}
	return cp.Validate()
}

func (h *Comm) Execute(ctx context.Context, act *action.Action) (string, error) {
	cp, ok := act.Params.(action.CommParams)
	if !ok {
		return "", errclass.ErrInvalidParams.WithMessage("external_comm requires comm params")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cp.Endpoint, strings.NewReader(cp.Payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", cp.Endpoint, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("post %s: status %d: %s", cp.Endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Sprintf("POST %s -> %d (%d bytes)", cp.Endpoint, resp.StatusCode, len(body)), nil
}
