// Package daemon is the persistent warden process. It owns the single
// engine instance and serves CLI clients over a framed unix socket; when
// no client shows up for the idle timeout it exits, and the next client
// respawns it.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warden-project/warden/internal/action"
	"github.com/warden-project/warden/internal/autonomy"
	"github.com/warden-project/warden/internal/engine"
	"github.com/warden-project/warden/internal/errclass"
	"github.com/warden-project/warden/internal/executor"
	"github.com/warden-project/warden/internal/ipc"
)

// DefaultAuditTail bounds audit_recent responses when the client does not
// say how many entries it wants.
const DefaultAuditTail = 20

// Server is the persistent daemon process that accepts IPC connections
// and dispatches governance operations to the engine.
type Server struct {
	eng         *engine.Engine
	logger      *zap.Logger
	idleTimeout time.Duration

	mu        sync.Mutex
	idleTimer *time.Timer
	active    sync.WaitGroup
}

// New creates a daemon server over a running engine.
func New(eng *engine.Engine, logger *zap.Logger, idleTimeout time.Duration) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		eng:         eng,
		logger:      logger,
		idleTimeout: idleTimeout,
	}
}

// Run creates a listener at the standard socket path and calls Serve.
func (s *Server) Run(ctx context.Context) error {
	sockPath, err := ipc.SocketPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(sockPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	if err := cleanStaleSocket(sockPath); err != nil {
		return err
	}

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	if err := os.Chmod(sockPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	if err := writePidFile(); err != nil {
		ln.Close()
		return fmt.Errorf("write pid: %w", err)
	}

	defer func() {
		os.Remove(sockPath)
		if pidPath, err := ipc.PidPath(); err == nil {
			os.Remove(pidPath)
		}
	}()

	s.logger.Info("daemon listening",
		zap.String("socket", sockPath),
		zap.Duration("idle_timeout", s.idleTimeout))
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or the idle timer
// fires. The listener is closed on return. This method is exported for
// testability — tests pass a listener on a temp socket.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	// Idle timer cancels idleCtx when no connections arrive for idleTimeout.
	idleCtx, idleCancel := context.WithCancel(ctx)
	defer idleCancel()

	s.mu.Lock()
	s.idleTimer = time.AfterFunc(s.idleTimeout, idleCancel)
	s.mu.Unlock()

	// Close the listener when the context is done (idle or parent cancel).
	go func() {
		<-idleCtx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Check if this is a clean shutdown.
			select {
			case <-idleCtx.Done():
				s.active.Wait()
				s.logger.Info("daemon shut down")
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		s.resetIdle()

		s.active.Add(1)
		go func() {
			defer s.active.Done()
			defer conn.Close()
			defer s.resetIdle()
			s.handleConnection(idleCtx, conn)
		}()
	}
}

func (s *Server) resetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}
}

// handleConnection serves one exchange: a request frame in, a response
// frame out. The watch op instead streams event frames until the client
// hangs up.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	var req ipc.Request
	if err := ipc.ReadJSON(conn, ipc.TagRequest, &req); err != nil {
		s.respondErr(conn, errclass.ErrInvalidParams.WithMessagef("read request: %v", err))
		return
	}

	if req.Op == ipc.OpWatch {
		s.watch(ctx, conn)
		return
	}

	start := time.Now()
	result, err := s.Dispatch(ctx, req)
	if err != nil {
		s.logger.Debug("op failed",
			zap.String("op", req.Op),
			zap.String("code", errclass.CodeOf(err)),
			zap.Error(err))
		s.respondErr(conn, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.respondErr(conn, errclass.ErrExecution.WithMessagef("encode result: %v", err))
		return
	}
	s.logger.Debug("op served",
		zap.String("op", req.Op),
		zap.Duration("took", time.Since(start)))
	ipc.WriteJSON(conn, ipc.TagResponse, ipc.Response{OK: true, Result: data})
}

// Dispatch executes one operation against the engine. Socket connections
// route through it; the CLI calls it directly in standalone mode.
func (s *Server) Dispatch(ctx context.Context, req ipc.Request) (any, error) {
	switch req.Op {
	case ipc.OpSubmit:
		var r action.Request
		if err := decode(req.Payload, &r); err != nil {
			return nil, err
		}
		return s.eng.Submit(ctx, r)

	case ipc.OpExecute:
		var p ipc.ExecutePayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.eng.Execute(ctx, p.ID)

	case ipc.OpGet:
		var p ipc.GetPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.eng.Get(p.ID)

	case ipc.OpList:
		var p ipc.ListPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		f := executor.Filter{Type: p.Type, Actor: p.Actor, Limit: p.Limit}
		if p.Status != "" {
			st, err := action.ParseStatus(p.Status)
			if err != nil {
				return nil, errclass.ErrInvalidParams.WithMessagef("list: %v", err)
			}
			f.Status = st
		}
		return s.eng.List(f), nil

	case ipc.OpStatus:
		return s.eng.Status(), nil

	case ipc.OpTrust:
		return s.eng.Trust(), nil

	case ipc.OpSetTrust:
		var p ipc.SetTrustPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.eng.SetTrust(p.Score, p.Actor)

	case ipc.OpWheel:
		var p ipc.WheelPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.eng.TakeTheWheel(ctx, p.Proposals, autonomy.Options{
			Actor:   p.Actor,
			Confirm: p.Confirm,
		})

	case ipc.OpAuditRecent:
		var p ipc.AuditRecentPayload
		if err := decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if p.N <= 0 {
			p.N = DefaultAuditTail
		}
		if p.Offset > 0 {
			return s.eng.AuditPage(p.Offset, p.N), nil
		}
		return s.eng.AuditRecent(p.N), nil

	case ipc.OpAuditVerify:
		if err := s.eng.VerifyAudit(); err != nil {
			return nil, err
		}
		return ipc.VerifyResult{Verified: true, Path: s.eng.AuditPath()}, nil

	default:
		return nil, errclass.ErrInvalidParams.WithMessagef("unknown operation %q", req.Op)
	}
}

// watch streams engine events to the client. Only delivered events reset
// the idle timer, so a dormant observer does not keep the daemon alive.
func (s *Server) watch(ctx context.Context, conn net.Conn) {
	ch := s.eng.Subscribe()
	defer s.eng.Unsubscribe(ch)

	// The client sends nothing after the request frame; a returning read
	// means the connection is gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		io.Copy(io.Discard, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gone:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := ipc.WriteJSON(conn, ipc.TagEvent, ev); err != nil {
				return
			}
			s.resetIdle()
		}
	}
}

func (s *Server) respondErr(conn net.Conn, err error) {
	ipc.WriteJSON(conn, ipc.TagResponse, ipc.Response{
		OK:    false,
		Code:  errclass.CodeOf(err),
		Error: err.Error(),
	})
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errclass.ErrInvalidParams.WithMessage("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errclass.ErrInvalidParams.WithMessagef("decode payload: %v", err)
	}
	return nil
}
