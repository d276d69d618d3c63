// Package ipc defines the framed unix-socket protocol between the warden
// CLI and the daemon. Every exchange is one request frame answered by one
// response frame, except watch, which streams event frames until the client
// hangs up.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/warden-project/warden/internal/autonomy"
)

// Frame tags identify the type of each IPC message.
// Client-to-server tags are in the 0x01-0x0F range.
// Server-to-client tags are in the 0x10-0x1F range.
const (
	TagRequest byte = 0x01 // C→S: JSON-encoded Request

	TagResponse byte = 0x10 // S→C: JSON-encoded Response
	TagEvent    byte = 0x11 // S→C: JSON-encoded events.Event (watch only)
)

// Operation names accepted by the daemon.
const (
	OpSubmit      = "submit"
	OpExecute     = "execute"
	OpGet         = "get"
	OpList        = "list"
	OpStatus      = "status"
	OpTrust       = "trust"
	OpSetTrust    = "set_trust"
	OpWheel       = "take_the_wheel"
	OpAuditRecent = "audit_recent"
	OpAuditVerify = "audit_verify"
	OpWatch       = "watch"
)

// Request is the single frame a client sends to open an exchange. The
// payload shape depends on the operation; submit carries an action.Request
// directly.
type Request struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers one request. Result holds the operation-specific value
// when OK; Code carries the stable error class otherwise.
type Response struct {
	OK     bool            `json:"ok"`
	Code   string          `json:"code,omitempty"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ExecutePayload names the action to execute (and thereby confirm).
type ExecutePayload struct {
	ID string `json:"id"`
}

// GetPayload names the action to fetch.
type GetPayload struct {
	ID string `json:"id"`
}

// ListPayload filters the action listing.
type ListPayload struct {
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
	Actor  string `json:"actor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SetTrustPayload carries an administrative trust override.
type SetTrustPayload struct {
	Score float64 `json:"score"`
	Actor string  `json:"actor,omitempty"`
}

// WheelPayload carries an autonomous batch.
type WheelPayload struct {
	Proposals []autonomy.Proposal `json:"proposals"`
	Actor     string              `json:"actor,omitempty"`
	Confirm   bool                `json:"confirm,omitempty"`
}

// AuditRecentPayload bounds an audit page. Offset skips the newest entries,
// for paging backwards through the ring.
type AuditRecentPayload struct {
	N      int `json:"n,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// VerifyResult reports an audit chain verification.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Path     string `json:"path"`
}

// WriteFrame writes a tagged frame: [tag:1][len:4 big-endian][payload:len].
func WriteFrame(w io.Writer, tag byte, payload []byte) error {
	var header [5]byte
	header[0] = tag
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one tagged frame, returning the tag and payload.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	tag := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return tag, payload, nil
}

// WriteJSON writes a tagged frame with a JSON-encoded payload.
func WriteJSON(w io.Writer, tag byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return WriteFrame(w, tag, data)
}

// ReadJSON reads one frame, checks its tag, and decodes the payload into v.
func ReadJSON(r io.Reader, wantTag byte, v any) error {
	tag, payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if tag != wantTag {
		return fmt.Errorf("expected frame 0x%02x, got 0x%02x", wantTag, tag)
	}
	return json.Unmarshal(payload, v)
}
