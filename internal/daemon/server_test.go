package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/engine"
	"github.com/warden-project/warden/internal/events"
	"github.com/warden-project/warden/internal/ipc"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Workspace.Root = filepath.Join(base, "ws")
	cfg.Workspace.State = filepath.Join(base, "state")
	cfg.Audit.Path = filepath.Join(base, "audit.jsonl")
	cfg.Limits.ActionTimeout = "5s"

	eng, err := engine.New(cfg, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func testServer(t *testing.T, idleTimeout time.Duration) (*Server, *engine.Engine, net.Listener, string) {
	t.Helper()
	eng := testEngine(t)

	// Use /tmp directly for the socket to stay within macOS's 104-char
	// unix socket path limit (t.TempDir() paths can be too long).
	sockDir, err := os.MkdirTemp("", "warden-test-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	sockPath := filepath.Join(sockDir, "s.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := New(eng, nil, idleTimeout)
	return srv, eng, ln, sockPath
}

// roundTrip dials the socket, sends one request and reads one response.
func roundTrip(t *testing.T, sockPath, op string, payload any) ipc.Response {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := ipc.Request{Op: op}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		req.Payload = data
	}
	if err := ipc.WriteJSON(conn, ipc.TagRequest, &req); err != nil {
		t.Fatalf("send request: %v", err)
	}

	var resp ipc.Response
	if err := ipc.ReadJSON(conn, ipc.TagResponse, &resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}

func decodeResult(t *testing.T, resp ipc.Response, v any) {
	t.Helper()
	if !resp.OK {
		t.Fatalf("response not OK: code=%s error=%s", resp.Code, resp.Error)
	}
	if err := json.Unmarshal(resp.Result, v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestServerStatusRoundTrip(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	var st engine.Status
	decodeResult(t, roundTrip(t, sockPath, ipc.OpStatus, nil), &st)

	if st.Trust.Score != 0.5 {
		t.Errorf("trust score = %v, want 0.5", st.Trust.Score)
	}
	if st.Trust.Tier.Name != "trusted" {
		t.Errorf("tier = %q, want %q", st.Trust.Tier.Name, "trusted")
	}
}

func TestServerSubmitAndExecute(t *testing.T) {
	srv, eng, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	var act action.Action
	decodeResult(t, roundTrip(t, sockPath, ipc.OpSubmit, action.Request{
		Type:             action.TypeFileWrite,
		Resource:         "daemon.txt",
		Params:           action.FileWriteParams{Path: "daemon.txt", Content: "over the wire\n"},
		Actor:            "tester",
		SkipConfirmation: true,
	}), &act)

	if act.Status != action.StatusApproved {
		t.Fatalf("status = %s, want %s", act.Status, action.StatusApproved)
	}

	var final action.Action
	decodeResult(t, roundTrip(t, sockPath, ipc.OpExecute, ipc.ExecutePayload{ID: act.ID}), &final)

	if final.Status != action.StatusCompleted {
		t.Fatalf("status = %s, want %s", final.Status, action.StatusCompleted)
	}
	data, err := os.ReadFile(filepath.Join(eng.Config().Workspace.Root, "daemon.txt"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "over the wire\n" {
		t.Errorf("artifact = %q", data)
	}
}

func TestServerSubmitDenialIsStillOK(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	// A policy denial is an outcome, not a transport failure: the response
	// is OK and the rejection rides inside the action.
	var act action.Action
	decodeResult(t, roundTrip(t, sockPath, ipc.OpSubmit, action.Request{
		Type:     action.TypeFileDelete,
		Resource: "precious.txt",
		Params:   action.FileDeleteParams{Path: "precious.txt"},
	}), &act)

	if act.Status != action.StatusRejected {
		t.Fatalf("status = %s, want %s", act.Status, action.StatusRejected)
	}
	if act.Rejection == nil || act.Rejection.Stage != "trust_gate" {
		t.Errorf("rejection = %+v, want trust_gate", act.Rejection)
	}
}

func TestServerExecuteUnknownAction(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	resp := roundTrip(t, sockPath, ipc.OpExecute, ipc.ExecutePayload{ID: "no-such-id"})
	if resp.OK {
		t.Fatal("expected error response")
	}
	if resp.Code != "E_ACTION_NOT_FOUND" {
		t.Errorf("code = %q, want E_ACTION_NOT_FOUND", resp.Code)
	}
}

func TestServerListFiltersByStatus(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	for _, res := range []string{"a.txt", "b.txt"} {
		roundTrip(t, sockPath, ipc.OpSubmit, action.Request{
			Type:             action.TypeFileRead,
			Resource:         res,
			Params:           action.FileReadParams{Path: res},
			SkipConfirmation: true,
		})
	}

	var acts []*action.Action
	decodeResult(t, roundTrip(t, sockPath, ipc.OpList, ipc.ListPayload{Status: "approved"}), &acts)
	if len(acts) != 2 {
		t.Fatalf("got %d approved actions, want 2", len(acts))
	}

	resp := roundTrip(t, sockPath, ipc.OpList, ipc.ListPayload{Status: "sideways"})
	if resp.OK || resp.Code != "E_INVALID_PARAMS" {
		t.Errorf("bad status filter: ok=%v code=%q", resp.OK, resp.Code)
	}
}

func TestServerAuditPaging(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	for _, res := range []string{"a.txt", "b.txt"} {
		roundTrip(t, sockPath, ipc.OpSubmit, action.Request{
			Type:             action.TypeFileRead,
			Resource:         res,
			Params:           action.FileReadParams{Path: res},
			SkipConfirmation: true,
		})
	}

	// Two submissions leave four entries; page backwards two at a time.
	var page1, page2 []map[string]any
	decodeResult(t, roundTrip(t, sockPath, ipc.OpAuditRecent, ipc.AuditRecentPayload{N: 2}), &page1)
	decodeResult(t, roundTrip(t, sockPath, ipc.OpAuditRecent, ipc.AuditRecentPayload{N: 2, Offset: 2}), &page2)

	if len(page1) != 2 || len(page2) != 2 {
		t.Fatalf("page sizes = %d, %d, want 2, 2", len(page1), len(page2))
	}
	if page1[0]["event"] != "action_approved" || page2[0]["event"] != "action_approved" {
		t.Errorf("page heads = %v, %v, want action_approved", page1[0]["event"], page2[0]["event"])
	}
	if page1[0]["action_id"] == page2[0]["action_id"] {
		t.Error("offset page returned the same action")
	}
}

func TestServerUnknownOp(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	resp := roundTrip(t, sockPath, "frobnicate", nil)
	if resp.OK {
		t.Fatal("expected error response")
	}
	if resp.Code != "E_INVALID_PARAMS" {
		t.Errorf("code = %q, want E_INVALID_PARAMS", resp.Code)
	}
	if !strings.Contains(resp.Error, "unknown operation") {
		t.Errorf("error = %q, want to mention unknown operation", resp.Error)
	}
}

func TestServerInvalidFirstFrame(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Send a non-request frame as the first frame.
	if err := ipc.WriteFrame(conn, ipc.TagEvent, []byte("bogus")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp ipc.Response
	if err := ipc.ReadJSON(conn, ipc.TagResponse, &resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.OK {
		t.Fatal("expected error response")
	}
	if resp.Error == "" {
		t.Error("expected non-empty error")
	}
}

func TestServerConcurrentConnections(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)

	for i := range n {
		go func() {
			defer wg.Done()

			var act action.Action
			res := fmt.Sprintf("conn-%d.txt", i)
			decodeResult(t, roundTrip(t, sockPath, ipc.OpSubmit, action.Request{
				Type:             action.TypeFileRead,
				Resource:         res,
				Params:           action.FileReadParams{Path: res},
				SkipConfirmation: true,
			}), &act)
			if act.Resource != res {
				t.Errorf("conn %d: resource = %q, want %q", i, act.Resource, res)
			}
		}()
	}

	wg.Wait()
}

func TestServerIdleTimeout(t *testing.T) {
	srv, _, ln, _ := testServer(t, 100*time.Millisecond)

	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	// Server should shut down after idle timeout.
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for idle shutdown")
	}
}

func TestServerWatchStreamsEvents(t *testing.T) {
	srv, _, ln, sockPath := testServer(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go srv.Serve(ctx, ln)

	watchConn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer watchConn.Close()

	if err := ipc.WriteJSON(watchConn, ipc.TagRequest, &ipc.Request{Op: ipc.OpWatch}); err != nil {
		t.Fatalf("send watch request: %v", err)
	}

	// Give the server a moment to subscribe before generating events.
	time.Sleep(50 * time.Millisecond)

	roundTrip(t, sockPath, ipc.OpSubmit, action.Request{
		Type:             action.TypeDirCreate,
		Resource:         "observed",
		Params:           action.DirCreateParams{Path: "observed"},
		SkipConfirmation: true,
	})

	got := make(chan events.Event, 1)
	go func() {
		var ev events.Event
		if err := ipc.ReadJSON(watchConn, ipc.TagEvent, &ev); err == nil {
			got <- ev
		}
	}()

	select {
	case ev := <-got:
		if ev.Type != events.ActionApproved {
			t.Errorf("event type = %s, want %s", ev.Type, events.ActionApproved)
		}
		if ev.Action == nil || ev.Action.Resource != "observed" {
			t.Errorf("event action = %+v", ev.Action)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event frame")
	}
}

func TestCleanStaleSocket(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "test.sock")

	// No socket — should be a no-op.
	if err := cleanStaleSocket(sockPath); err != nil {
		t.Fatalf("no socket: %v", err)
	}

	// Create a stale socket file (just a regular file, nobody listening).
	if err := os.WriteFile(sockPath, nil, 0600); err != nil {
		t.Fatalf("create fake socket: %v", err)
	}

	if err := cleanStaleSocket(sockPath); err != nil {
		t.Fatalf("stale socket: %v", err)
	}

	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Error("stale socket should have been removed")
	}
}

func TestCleanStaleSocketLiveDaemon(t *testing.T) {
	dir, err := os.MkdirTemp("", "warden-test-")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	sockPath := filepath.Join(dir, "s.sock")

	// Start a real listener so the socket is active.
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	err = cleanStaleSocket(sockPath)
	if err == nil {
		t.Fatal("expected error for live socket, got nil")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("error = %q, want to contain 'already running'", err.Error())
	}
}
