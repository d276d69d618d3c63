// Package client is the CLI side of the daemon socket: one request frame
// out, one response frame back, plus the streaming watch mode. Errors come
// back as the same classes the daemon raised, so errors.Is works across
// the socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/events"
	"github.com/warden-project/warden/internal/ipc"
)

// Call sends one operation to the daemon and decodes the result into out.
// Pass nil payload for operations without one, and nil out to discard the
// result.
func Call(conn net.Conn, op string, payload, out any) error {
	req := ipc.Request{Op: op}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		req.Payload = data
	}
	if err := ipc.WriteJSON(conn, ipc.TagRequest, &req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp ipc.Response
	if err := ipc.ReadJSON(conn, ipc.TagResponse, &resp); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if !resp.OK {
		return respError(resp)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// respError rebuilds the daemon's error class on this side of the socket.
func respError(resp ipc.Response) error {
	if resp.Code == "" {
		return errors.New(resp.Error)
	}
	msg := strings.TrimPrefix(resp.Error, resp.Code)
	msg = strings.TrimPrefix(msg, ": ")
	return &errclass.Error{Code: resp.Code, Message: msg}
}

// Watch switches the connection into event streaming and calls fn for
// every event until the daemon goes away or fn returns an error. A clean
// hangup returns nil.
func Watch(conn net.Conn, fn func(events.Event) error) error {
	if err := ipc.WriteJSON(conn, ipc.TagRequest, &ipc.Request{Op: ipc.OpWatch}); err != nil {
		return fmt.Errorf("send watch request: %w", err)
	}
	for {
		var ev events.Event
		if err := ipc.ReadJSON(conn, ipc.TagEvent, &ev); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Connect attempts to connect to a running daemon.
func Connect() (net.Conn, error) {
	sockPath, err := ipc.SocketPath()
	if err != nil {
		return nil, err
	}
	return net.Dial("unix", sockPath)
}

// ConnectOrSpawn tries to connect to an existing daemon. If none is
// running, it spawns one as a detached child and retries with backoff.
func ConnectOrSpawn(ctx context.Context, selfPath string) (net.Conn, error) {
	if conn, err := Connect(); err == nil {
		return conn, nil
	}

	// Spawn daemon.
	cmd := exec.Command(selfPath, "daemon")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}
	cmd.Process.Release()

	// Backoff retry.
	delays := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
	}
	for _, d := range delays {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		if conn, err := Connect(); err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("daemon did not start within timeout")
}
