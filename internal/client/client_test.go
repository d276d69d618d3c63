package client

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/events"
	"github.com/warden-project/warden/internal/ipc"
)

// mockDaemon simulates the daemon on the server side of a net.Pipe: it
// reads one Request and writes back whatever the handler returns.
func mockDaemon(t *testing.T, conn net.Conn, handler func(req ipc.Request) ipc.Response) {
	t.Helper()
	defer conn.Close()

	var req ipc.Request
	if err := ipc.ReadJSON(conn, ipc.TagRequest, &req); err != nil {
		t.Errorf("mock: read request: %v", err)
		return
	}
	ipc.WriteJSON(conn, ipc.TagResponse, handler(req))
}

func okResponse(t *testing.T, v any) ipc.Response {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return ipc.Response{OK: true, Result: data}
}

func TestCallRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mockDaemon(t, serverConn, func(req ipc.Request) ipc.Response {
			if req.Op != ipc.OpSubmit {
				t.Errorf("op = %q, want %q", req.Op, ipc.OpSubmit)
			}
			var r action.Request
			if err := json.Unmarshal(req.Payload, &r); err != nil {
				t.Errorf("mock: decode payload: %v", err)
			}
			act := action.New(r)
			act.Status = action.StatusApproved
			return okResponse(t, act)
		})
	}()

	var act action.Action
	err := Call(clientConn, ipc.OpSubmit, action.Request{
		Type:     action.TypeFileRead,
		Resource: "readme.md",
		Params:   action.FileReadParams{Path: "readme.md"},
	}, &act)
	clientConn.Close()
	wg.Wait()

	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if act.Status != action.StatusApproved {
		t.Errorf("status = %s, want %s", act.Status, action.StatusApproved)
	}
	if act.Resource != "readme.md" {
		t.Errorf("resource = %q, want %q", act.Resource, "readme.md")
	}
}

func TestCallNilPayloadAndResult(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mockDaemon(t, serverConn, func(req ipc.Request) ipc.Response {
			if len(req.Payload) != 0 {
				t.Errorf("payload = %q, want empty", req.Payload)
			}
			return okResponse(t, map[string]int{"actions": 0})
		})
	}()

	err := Call(clientConn, ipc.OpStatus, nil, nil)
	clientConn.Close()
	wg.Wait()

	if err != nil {
		t.Fatalf("Call: %v", err)
	}
}

func TestCallErrorCrossesSocket(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mockDaemon(t, serverConn, func(req ipc.Request) ipc.Response {
			daemonErr := errclass.ErrActionNotFound.WithMessage("unknown action deadbeef")
			return ipc.Response{OK: false, Code: errclass.CodeOf(daemonErr), Error: daemonErr.Error()}
		})
	}()

	err := Call(clientConn, ipc.OpExecute, ipc.ExecutePayload{ID: "deadbeef"}, nil)
	clientConn.Close()
	wg.Wait()

	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, errclass.ErrActionNotFound) {
		t.Errorf("errors.Is(ErrActionNotFound) = false for %v", err)
	}
	// The message must not pick up a second code prefix on the way through.
	if got, want := err.Error(), "E_ACTION_NOT_FOUND: unknown action deadbeef"; got != want {
		t.Errorf("err = %q, want %q", got, want)
	}
}

func TestCallServerDisconnect(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	// Server closes immediately — no response.
	serverConn.Close()

	err := Call(clientConn, ipc.OpStatus, nil, nil)
	clientConn.Close()

	if err == nil {
		t.Error("expected error for server disconnect, got nil")
	}
}

func TestWatchStreamsUntilHangup(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer serverConn.Close()

		var req ipc.Request
		if err := ipc.ReadJSON(serverConn, ipc.TagRequest, &req); err != nil {
			t.Errorf("mock: read request: %v", err)
			return
		}
		if req.Op != ipc.OpWatch {
			t.Errorf("op = %q, want %q", req.Op, ipc.OpWatch)
			return
		}
		for i, typ := range []events.Type{events.ActionApproved, events.ActionStarted, events.ActionCompleted} {
			ev := events.Event{Seq: uint64(i + 1), Type: typ, Time: time.Now().UTC()}
			if err := ipc.WriteJSON(serverConn, ipc.TagEvent, ev); err != nil {
				t.Errorf("mock: write event: %v", err)
				return
			}
		}
	}()

	var got []events.Type
	err := Watch(clientConn, func(ev events.Event) error {
		got = append(got, ev.Type)
		return nil
	})
	clientConn.Close()
	wg.Wait()

	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	want := []events.Type{events.ActionApproved, events.ActionStarted, events.ActionCompleted}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestWatchCallbackStops(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer serverConn.Close()

		var req ipc.Request
		if err := ipc.ReadJSON(serverConn, ipc.TagRequest, &req); err != nil {
			return
		}
		// Keep writing until the client hangs up.
		for i := uint64(1); ; i++ {
			ev := events.Event{Seq: i, Type: events.ActionApproved, Time: time.Now().UTC()}
			if err := ipc.WriteJSON(serverConn, ipc.TagEvent, ev); err != nil {
				return
			}
		}
	}()

	stop := errors.New("seen enough")
	n := 0
	err := Watch(clientConn, func(ev events.Event) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	clientConn.Close()
	wg.Wait()

	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want %v", err, stop)
	}
	if n != 2 {
		t.Errorf("callback ran %d times, want 2", n)
	}
}

func TestConnectNoSocket(t *testing.T) {
	// Override XDG_RUNTIME_DIR to a temp dir with no socket.
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	_, err := Connect()
	if err == nil {
		t.Error("expected error connecting to nonexistent socket, got nil")
	}
}
