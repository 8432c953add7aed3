// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package diffapply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexlabs/cortexd/internal/apierr"
)

func TestApplyDiff_ForwardsRequestAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("server failed to decode request: %v", err)
		}
		if req.FilePath != "a.go" {
			t.Fatalf("expected file_path a.go, got %q", req.FilePath)
		}
		_ = json.NewEncoder(w).Encode(Result{FilePath: "a.go", Applied: true, NewContent: "patched"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ApplyDiff(context.Background(), Request{
		FilePath: "a.go", OriginalContent: "old", DiffText: "@@ -1 +1 @@\n-old\n+patched",
	})
	if err != nil {
		t.Fatalf("ApplyDiff failed: %v", err)
	}
	if !result.Applied || result.NewContent != "patched" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestApplyDiff_NonOKStatusIsRemoteServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ApplyDiff(context.Background(), Request{FilePath: "a.go", DiffText: "diff"})
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*apierr.Error)
	if !ok || apiErr.Type != apierr.TypeRemoteService {
		t.Fatalf("expected RemoteService error, got %v", err)
	}
}

func TestApplyDiff_RejectsEmptyFields(t *testing.T) {
	c := New("http://unused")
	if _, err := c.ApplyDiff(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty request")
	}
	if _, err := c.ApplyDiff(context.Background(), Request{FilePath: "a.go"}); err == nil {
		t.Fatal("expected error for missing diff_text")
	}
}
