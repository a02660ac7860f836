// Package ipc implements the local request/response channel between client
// processes and the daemon: newline-delimited JSON over a Unix socket. A
// connection carries many sequential exchanges; responses on one connection
// come back in request order.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/yaogent/ymux/internal/mcperr"
)

// Request operations.
const (
	OpExecuteTool           = "execute_tool"
	OpListServers           = "list_servers"
	OpListTools             = "list_tools"
	OpListResources         = "list_resources"
	OpListResourceTemplates = "list_resource_templates"
	OpStatus                = "status"
	OpShutdown              = "shutdown"
)

// Request is one client request to the daemon.
type Request struct {
	ID     string          `json:"id,omitempty"`     // caller-chosen, echoed in the response
	Op     string          `json:"op"`               // one of the Op* constants
	Server string          `json:"server,omitempty"` // target server name
	Tool   string          `json:"tool,omitempty"`   // target tool name
	Args   json.RawMessage `json:"args,omitempty"`   // tool arguments
}

// Response is the daemon's answer to one Request.
type Response struct {
	ID     string          `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"` // mcperr code when OK is false
}

// ResultResponse builds a success response carrying v as JSON.
func ResultResponse(id string, v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorResponse(id, fmt.Errorf("encoding result: %w", err))
	}
	return &Response{ID: id, OK: true, Result: data}
}

// ErrorResponse builds a failure response carrying err's taxonomy code.
func ErrorResponse(id string, err error) *Response {
	return &Response{
		ID:    id,
		Error: err.Error(),
		Code:  string(mcperr.CodeOf(err)),
	}
}

// Decode unmarshals the result payload into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Result, v); err != nil {
		return mcperr.Wrap(mcperr.CodeTransport, err, "decoding response payload")
	}
	return nil
}

// Err rebuilds the classified error carried by a failure response.
// Returns nil for a success response.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	return mcperr.FromWire(r.Code, r.Error)
}
