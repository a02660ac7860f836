package daemon

import (
	"context"
	"encoding/json"
	"os"

	"github.com/yaogent/ymux/internal/ipc"
	"github.com/yaogent/ymux/internal/mcperr"
	"github.com/yaogent/ymux/internal/registry"
)

// StatusInfo is the payload of a status response.
type StatusInfo struct {
	PID     int                        `json:"pid"`
	Socket  string                     `json:"socket"`
	Log     string                     `json:"log,omitempty"`
	Servers map[string]registry.Status `json:"servers"`
}

// dispatch routes one IPC request. Same-server requests serialize inside
// the registry; requests for different servers run fully in parallel.
func (d *Daemon) dispatch(ctx context.Context, req *ipc.Request) *ipc.Response {
	switch req.Op {
	case ipc.OpExecuteTool:
		return d.executeTool(ctx, req)

	case ipc.OpListServers:
		return ipc.ResultResponse(req.ID, d.reg.Servers())

	case ipc.OpListTools:
		tools, err := d.reg.ListTools(ctx, req.Server)
		if err != nil {
			return ipc.ErrorResponse(req.ID, err)
		}
		return ipc.ResultResponse(req.ID, tools)

	case ipc.OpListResources:
		resources, err := d.reg.ListResources(ctx, req.Server)
		if err != nil {
			return ipc.ErrorResponse(req.ID, err)
		}
		return ipc.ResultResponse(req.ID, resources)

	case ipc.OpListResourceTemplates:
		templates, err := d.reg.ListResourceTemplates(ctx, req.Server)
		if err != nil {
			return ipc.ErrorResponse(req.ID, err)
		}
		return ipc.ResultResponse(req.ID, templates)

	case ipc.OpStatus:
		return ipc.ResultResponse(req.ID, StatusInfo{
			PID:     os.Getpid(),
			Socket:  d.opts.SocketPath,
			Log:     d.opts.LogPath,
			Servers: d.reg.States(),
		})

	case ipc.OpShutdown:
		d.requestShutdown()
		return ipc.ResultResponse(req.ID, "shutting down")

	default:
		return ipc.ErrorResponse(req.ID, mcperr.New(mcperr.CodeInternal, "unknown operation: %s", req.Op))
	}
}

func (d *Daemon) executeTool(ctx context.Context, req *ipc.Request) *ipc.Response {
	var args map[string]any
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return ipc.ErrorResponse(req.ID, mcperr.Wrap(mcperr.CodeInternal, err, "invalid tool arguments"))
		}
	}

	result, err := d.reg.CallTool(ctx, req.Server, req.Tool, args)
	if err != nil {
		return ipc.ErrorResponse(req.ID, err)
	}
	return ipc.ResultResponse(req.ID, result)
}
