package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/voiced/internal/config"
	"github.com/fyrsmithlabs/voiced/internal/version"
)

// MCPDialer connects to tool providers over the Model Context Protocol,
// either by spawning a stdio subprocess or over streamable HTTP.
type MCPDialer struct{}

// NewMCPDialer creates the default provider dialer.
func NewMCPDialer() *MCPDialer {
	return &MCPDialer{}
}

// Dial establishes a session with the provider described by its config.
func (d *MCPDialer) Dial(ctx context.Context, provider config.ProviderConfig) (Session, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "voiced",
		Version: version.Version,
	}, nil)

	var transport mcpsdk.Transport
	switch provider.Transport {
	case config.TransportStdio:
		cmd := exec.CommandContext(ctx, provider.Command, provider.Args...)
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case config.TransportHTTP:
		transport = &mcpsdk.StreamableClientTransport{Endpoint: provider.Endpoint}
	default:
		return nil, fmt.Errorf("provider %s: unsupported transport %q", provider.ID, provider.Transport)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect provider %s: %w", provider.ID, err)
	}
	return &mcpSession{session: session}, nil
}

// mcpSession adapts an MCP client session to the registry's Session.
type mcpSession struct {
	session *mcpsdk.ClientSession
}

func (s *mcpSession) ListTools(ctx context.Context) ([]Capability, error) {
	res, err := s.session.ListTools(ctx, &mcpsdk.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	caps := make([]Capability, 0, len(res.Tools))
	for _, tool := range res.Tools {
		var schema json.RawMessage
		if tool.InputSchema != nil {
			if raw, err := json.Marshal(tool.InputSchema); err == nil {
				schema = raw
			}
		}
		caps = append(caps, Capability{
			Operation:   tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return caps, nil
}

func (s *mcpSession) CallTool(ctx context.Context, operation string, args json.RawMessage) (string, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
	}
	res, err := s.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      operation,
		Arguments: arguments,
	})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", operation, err)
	}
	text := flattenContent(res.Content)
	if res.IsError {
		return "", fmt.Errorf("call %s: %s", operation, text)
	}
	return text, nil
}

func (s *mcpSession) Close() error {
	return s.session.Close()
}

// flattenContent joins the textual parts of a tool result.
func flattenContent(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
