package handler

import "net/http"

// RegisterAll adds every built-in handler to the registry. File handlers
// are confined to the workspace; the comm handler uses the given client
// (nil means http.DefaultClient).
func RegisterAll(r *Registry, ws Workspace, client *http.Client) {
	if client == nil {
		client = http.DefaultClient
	}
	r.Register(&FileRead{ws: ws})
	r.Register(&FileWrite{ws: ws})
	r.Register(&FileDelete{ws: ws})
	r.Register(&FileMove{ws: ws})
	r.Register(&DirCreate{ws: ws})
	r.Register(&DirList{ws: ws})
	r.Register(&Command{ws: ws})
	r.Register(&Comm{client: client})
}
