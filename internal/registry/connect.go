package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/httpheaders"
)

const protocolVersion = "2025-11-25"

// Dialer opens the transport for one server and completes the protocol
// handshake. Swapped out in tests.
type Dialer func(ctx context.Context, cfg config.ServerConfig) (*Session, error)

// dial connects to a server over its configured transport.
func dial(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
	switch {
	case cfg.IsStdio():
		return dialStdio(ctx, cfg)
	case cfg.IsHTTP():
		return dialHTTP(ctx, cfg)
	default:
		return nil, fmt.Errorf("no command or url configured")
	}
}

func dialStdio(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
	if err := checkCommand(cfg.Command); err != nil {
		return nil, err
	}

	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	c, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("creating stdio client: %w", err)
	}

	if err := initialize(ctx, c); err != nil {
		c.Close()
		return nil, err
	}
	return newClientSession(c), nil
}

// checkCommand resolves a stdio server command up front so a missing
// binary reads as a config problem, not a cryptic spawn failure.
func checkCommand(command string) error {
	if strings.ContainsRune(command, os.PathSeparator) {
		if _, err := os.Stat(command); err != nil {
			return fmt.Errorf("command %q not found: %w", command, err)
		}
		return nil
	}
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("command %q not found in PATH: %w", command, err)
	}
	return nil
}

func dialHTTP(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
	headers := httpheaders.Merge(cfg.Headers)
	if cfg.Token != "" {
		headers = httpheaders.Set(headers, "Authorization", "Bearer "+cfg.Token)
	}

	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	c, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}

	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("starting HTTP client: %w", err)
	}

	if err := initialize(ctx, c); err != nil {
		c.Close()
		return nil, err
	}
	return newClientSession(c), nil
}

func initialize(ctx context.Context, c *mcpclient.Client) error {
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "ymux",
				Version: "0.1.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	return nil
}

func newClientSession(c *mcpclient.Client) *Session {
	return &Session{
		ListTools: func(ctx context.Context) ([]ToolInfo, error) {
			result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
			if err != nil {
				return nil, err
			}
			infos := make([]ToolInfo, len(result.Tools))
			for i, t := range result.Tools {
				infos[i] = ToolInfo{
					Name:        t.Name,
					Description: t.Description,
					InputSchema: marshalInputSchema(t),
				}
			}
			return infos, nil
		},
		ListResources: func(ctx context.Context) ([]ResourceInfo, error) {
			result, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
			if err != nil {
				return nil, err
			}
			infos := make([]ResourceInfo, len(result.Resources))
			for i, r := range result.Resources {
				infos[i] = ResourceInfo{
					URI:         r.URI,
					Name:        r.Name,
					Description: r.Description,
					MIMEType:    r.MIMEType,
				}
			}
			return infos, nil
		},
		ListResourceTemplates: func(ctx context.Context) ([]TemplateInfo, error) {
			result, err := c.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
			if err != nil {
				return nil, err
			}
			infos := make([]TemplateInfo, len(result.ResourceTemplates))
			for i, rt := range result.ResourceTemplates {
				infos[i] = TemplateInfo{
					URITemplate: rt.URITemplate.Raw(),
					Name:        rt.Name,
					Description: rt.Description,
					MIMEType:    rt.MIMEType,
				}
			}
			return infos, nil
		},
		CallTool: func(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
			result, err := c.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      name,
					Arguments: args,
				},
			})
			if err != nil {
				return nil, err
			}
			return renderToolResult(result), nil
		},
		Close: func() error {
			return c.Close()
		},
	}
}

func marshalInputSchema(t mcp.Tool) []byte {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	b, err := jsonMarshal(t.InputSchema)
	if err != nil {
		return nil
	}
	return b
}
