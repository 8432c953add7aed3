// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package mcpproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/cortexlabs/cortexd/internal/apierr"
)

func TestRegisterAndListServers(t *testing.T) {
	p := New()
	p.Register(ServerConfig{Name: "filesystem", BaseURL: "http://localhost:9001"})
	p.Register(ServerConfig{Name: "git", BaseURL: "http://localhost:9002"})

	names := p.ListServers()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "filesystem" || names[1] != "git" {
		t.Fatalf("unexpected server list: %v", names)
	}

	p.Unregister("git")
	names = p.ListServers()
	if len(names) != 1 || names[0] != "filesystem" {
		t.Fatalf("expected only filesystem after unregister, got %v", names)
	}
}

func TestCallTool_UnknownServerIsNotFound(t *testing.T) {
	p := New()
	_, err := p.CallTool(context.Background(), "missing", ToolCallRequest{Tool: "search"})
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Type != apierr.TypeNotFound {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestCallTool_ForwardsAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call ToolCallRequest
		_ = json.NewDecoder(r.Body).Decode(&call)
		if call.Tool != "search" {
			t.Fatalf("expected tool search, got %q", call.Tool)
		}
		_ = json.NewEncoder(w).Encode(ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: "found 3 matches"}},
		})
	}))
	defer srv.Close()

	p := New()
	p.Register(ServerConfig{Name: "filesystem", BaseURL: srv.URL})

	result, err := p.CallTool(context.Background(), "filesystem", ToolCallRequest{Tool: "search"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "found 3 matches" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCallTool_UnreachableServerIsToolError(t *testing.T) {
	p := New()
	p.Register(ServerConfig{Name: "filesystem", BaseURL: "http://127.0.0.1:1"})

	_, err := p.CallTool(context.Background(), "filesystem", ToolCallRequest{Tool: "search"})
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Type != apierr.TypeTool {
		t.Fatalf("expected Tool error, got %v", err)
	}
}

func TestCallTool_RejectsEmptyToolName(t *testing.T) {
	p := New()
	p.Register(ServerConfig{Name: "filesystem", BaseURL: "http://localhost:9001"})
	_, err := p.CallTool(context.Background(), "filesystem", ToolCallRequest{})
	if err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

func TestListTools_ReturnsServerToolNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"search", "read_file"})
	}))
	defer srv.Close()

	p := New()
	p.Register(ServerConfig{Name: "filesystem", BaseURL: srv.URL})

	tools, err := p.ListTools(context.Background(), "filesystem")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %v", tools)
	}
}
