package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warden-project/warden/internal/errclass"
)

// Params is the closed union of per-type parameter schemas. Every concrete
// schema validates itself; malformed payloads are rejected at the boundary
// before an action record is even created.
type Params interface {
	Validate() error
	isParams()
}

type FileReadParams struct {
	Path string `json:"path"`
}

func (FileReadParams) isParams() {}

func (p FileReadParams) Validate() error {
	return requirePath(p.Path)
}

type FileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

func (FileWriteParams) isParams() {}

func (p FileWriteParams) Validate() error {
	return requirePath(p.Path)
}

type FileDeleteParams struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive,omitempty"`
}

func (FileDeleteParams) isParams() {}

func (p FileDeleteParams) Validate() error {
	return requirePath(p.Path)
}

type FileMoveParams struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

func (FileMoveParams) isParams() {}

func (p FileMoveParams) Validate() error {
	if err := requirePath(p.Source); err != nil {
		return err
	}
	return requirePath(p.Dest)
}

type DirCreateParams struct {
	Path string `json:"path"`
}

func (DirCreateParams) isParams() {}

func (p DirCreateParams) Validate() error {
	return requirePath(p.Path)
}

type DirListParams struct {
	Path string `json:"path"`
}

func (DirListParams) isParams() {}

func (p DirListParams) Validate() error {
	return requirePath(p.Path)
}

type CommandParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func (CommandParams) isParams() {}

func (p CommandParams) Validate() error {
	if strings.TrimSpace(p.Command) == "" {
		return errclass.ErrInvalidParams.WithMessage("command must not be empty")
	}
	return nil
}

type CommParams struct {
	Endpoint string `json:"endpoint"`
	Payload  string `json:"payload,omitempty"`
}

func (CommParams) isParams() {}

func (p CommParams) Validate() error {
	if !strings.HasPrefix(p.Endpoint, "http://") && !strings.HasPrefix(p.Endpoint, "https://") {
		return errclass.ErrInvalidParams.WithMessagef("endpoint %q is not an http(s) URL", p.Endpoint)
	}
	return nil
}

func requirePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errclass.ErrInvalidParams.WithMessage("path must not be empty")
	}
	return nil
}

// UnmarshalParams decodes a raw JSON payload into the schema for the given
// action type. Unknown types decode to nil; the permission pipeline rejects
// them before parameters matter.
func UnmarshalParams(actionType string, data []byte) (Params, error) {
	decode := func(v Params) (Params, error) {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return nil, errclass.ErrInvalidParams.WithMessagef("%s params: %v", actionType, err)
		}
		return deref(v), nil
	}
	switch actionType {
	case TypeFileRead:
		return decode(&FileReadParams{})
	case TypeFileWrite:
		return decode(&FileWriteParams{})
	case TypeFileDelete:
		return decode(&FileDeleteParams{})
	case TypeFileMove:
		return decode(&FileMoveParams{})
	case TypeDirCreate:
		return decode(&DirCreateParams{})
	case TypeDirList:
		return decode(&DirListParams{})
	case TypeSystemCommand:
		return decode(&CommandParams{})
	case TypeExternalComm:
		return decode(&CommParams{})
	}
	return nil, nil
}

// deref flattens the pointer handed to json.Decode back to a value so Params
// comparisons and copies behave like plain data.
func deref(v Params) Params {
	switch p := v.(type) {
	case *FileReadParams:
		return *p
	case *FileWriteParams:
		return *p
	case *FileDeleteParams:
		return *p
	case *FileMoveParams:
		return *p
	case *DirCreateParams:
		return *p
	case *DirListParams:
		return *p
	case *CommandParams:
		return *p
	case *CommParams:
		return *p
	}
	return v
}

// DecodeParams validates and types a loosely structured payload, as arriving
// from YAML proposals or MCP tool arguments.
func DecodeParams(actionType string, raw map[string]any) (Params, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errclass.ErrInvalidParams.WithMessagef("%s params: %v", actionType, err)
	}
	p, err := UnmarshalParams(actionType, data)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalJSON rehydrates the typed Params union from the wire form.
func (a *Action) UnmarshalJSON(data []byte) error {
	type alias Action
	aux := struct {
		Params json.RawMessage `json:"params,omitempty"`
		*alias
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Params) > 0 && string(aux.Params) != "null" {
		p, err := UnmarshalParams(a.Type, aux.Params)
		if err != nil {
			return err
		}
		a.Params = p
	}
	return nil
}

// UnmarshalJSON rehydrates the typed Params union from the wire form.
func (r *Request) UnmarshalJSON(data []byte) error {
	type alias Request
	aux := struct {
		Params json.RawMessage `json:"params,omitempty"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Params) > 0 && string(aux.Params) != "null" {
		p, err := UnmarshalParams(r.Type, aux.Params)
		if err != nil {
			return err
		}
		r.Params = p
	}
	return nil
}

// String renders a compact one-line description for logs and CLI output.
func (a *Action) String() string {
	return fmt.Sprintf("%s %s %s [%s]", shortID(a.ID), a.Type, a.Resource, a.Status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
