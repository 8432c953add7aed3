// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package mcpproxy forwards tool invocations to external Model Context
// Protocol servers (spec.md §1 Non-goals: "the MCP server proxy" is a
// separate collaborator; this package implements only the
// /v1/mcp/servers/… contract cortexd exposes over it). Tool vocabulary
// (server, tool name, arguments, structured result) follows the shape the
// Model Context Protocol's Go SDK (github.com/modelcontextprotocol/go-sdk,
// pulled in by Aman-CERP-amanmcp) uses on its server side; cortexd speaks
// to configured MCP servers as plain JSON-RPC-over-HTTP peers rather than
// importing the SDK's client machinery directly, since a proxy only needs
// to relay opaque tool calls, not host tools itself.
package mcpproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cortexlabs/cortexd/internal/apierr"
)

// ServerConfig describes one registered MCP server.
type ServerConfig struct {
	Name    string
	BaseURL string
}

// ToolCallRequest is a JSON-RPC-shaped tool invocation forwarded verbatim
// to the target server's /call endpoint.
type ToolCallRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResult is the server's response envelope.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error"`
}

// ContentBlock is one piece of tool output (text, for now; the SDK's
// richer content-block union isn't needed by a pass-through proxy).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Proxy holds the set of registered MCP servers cortexd can forward to.
type Proxy struct {
	mu      sync.RWMutex
	servers map[string]ServerConfig
	http    *http.Client
}

// New returns an empty Proxy.
func New() *Proxy {
	return &Proxy{
		servers: make(map[string]ServerConfig),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Register adds or replaces a server's configuration.
func (p *Proxy) Register(cfg ServerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[cfg.Name] = cfg
}

// Unregister removes a server's configuration.
func (p *Proxy) Unregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.servers, name)
}

// ListServers returns every registered server name, for GET /v1/mcp/servers.
func (p *Proxy) ListServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	return names
}

// ListTools asks a registered server to list its available tools. The
// server is expected to respond to GET /tools with a JSON array of tool
// names; a transport failure here is a ToolError, not a generic 500, so
// the client can retry against a different server without losing the rest
// of its session.
func (p *Proxy) ListTools(ctx context.Context, serverName string) ([]string, error) {
	cfg, err := p.lookup(serverName)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+"/tools", nil)
	if err != nil {
		return nil, apierr.Tool(serverName, "failed to build tools request", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, apierr.Tool(serverName, "mcp server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.Tool(serverName, fmt.Sprintf("mcp server returned status %d", resp.StatusCode), nil)
	}

	var tools []string
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, apierr.Tool(serverName, "failed to decode tools list", err)
	}
	return tools, nil
}

// CallTool forwards a tool invocation to serverName and returns its result.
// Per spec.md §7, a tool-invocation failure rides inside the 200 response
// envelope (ToolError) rather than surfacing as an HTTP 500.
func (p *Proxy) CallTool(ctx context.Context, serverName string, call ToolCallRequest) (ToolCallResult, error) {
	cfg, err := p.lookup(serverName)
	if err != nil {
		return ToolCallResult{}, err
	}
	if call.Tool == "" {
		return ToolCallResult{}, apierr.BadRequest("tool must not be empty")
	}

	body, err := json.Marshal(call)
	if err != nil {
		return ToolCallResult{}, apierr.Tool(serverName, "failed to marshal tool call", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return ToolCallResult{}, apierr.Tool(serverName, "failed to build tool call request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return ToolCallResult{}, apierr.Tool(serverName, "mcp server unreachable", err)
	}
	defer resp.Body.Close()

	var result ToolCallResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ToolCallResult{}, apierr.Tool(serverName, "failed to decode tool result", err)
	}
	return result, nil
}

func (p *Proxy) lookup(serverName string) (ServerConfig, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.servers[serverName]
	if !ok {
		return ServerConfig{}, apierr.NotFound(fmt.Sprintf("mcp server %q is not registered", serverName))
	}
	return cfg, nil
}
