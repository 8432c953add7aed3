// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package urlcontent

import (
	"testing"

	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/metastore"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	meta, err := metastore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("metastore.Open failed: %v", err)
	}
	t.Cleanup(func() { meta.Close() })
	return New(meta)
}

func TestSaveURL_ThenReadURLsReturnsMatchingHash(t *testing.T) {
	s := newTestStore(t)
	content := domain.URLContent{
		URL: "https://example.com/doc", DisplayName: "Doc",
		Markdown: "# Doc body", ContentHash: "hash1", BackendID: "backend-1",
	}
	if err := s.SaveURL(content); err != nil {
		t.Fatalf("SaveURL failed: %v", err)
	}

	results, err := s.ReadURLs([]string{"https://example.com/doc"})
	if err != nil {
		t.Fatalf("ReadURLs failed: %v", err)
	}
	if len(results) != 1 || results[0].ContentHash != "hash1" {
		t.Fatalf("expected matching content hash, got %+v", results)
	}
}

func TestReadURLs_SkipsUnknownURLs(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveURL(domain.URLContent{URL: "https://a.com", DisplayName: "A"})

	results, err := s.ReadURLs([]string{"https://a.com", "https://never-saved.com"})
	if err != nil {
		t.Fatalf("ReadURLs failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the known url, got %+v", results)
	}
}

func TestSearchURL_MatchesDisplayNameAndBody(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveURL(domain.URLContent{URL: "https://a.com", DisplayName: "Auth Guide", Markdown: "unrelated"})
	_ = s.SaveURL(domain.URLContent{URL: "https://b.com", DisplayName: "Other", Markdown: "discusses auth tokens"})
	_ = s.SaveURL(domain.URLContent{URL: "https://c.com", DisplayName: "Nothing", Markdown: "unrelated"})

	matches, err := s.SearchURL("auth")
	if err != nil {
		t.Fatalf("SearchURL failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
}

func TestListSavedURLs_OmitsMarkdownBody(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveURL(domain.URLContent{URL: "https://a.com", DisplayName: "A", Markdown: "full body"})

	all, err := s.ListSavedURLs()
	if err != nil {
		t.Fatalf("ListSavedURLs failed: %v", err)
	}
	if len(all) != 1 || all[0].Markdown != "" {
		t.Fatalf("expected markdown omitted from listing, got %+v", all)
	}
}

func TestDeleteSavedURL_RemovesEntry(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveURL(domain.URLContent{URL: "https://a.com", DisplayName: "A"})

	if err := s.DeleteSavedURL("https://a.com"); err != nil {
		t.Fatalf("DeleteSavedURL failed: %v", err)
	}
	results, err := s.ReadURLs([]string{"https://a.com"})
	if err != nil {
		t.Fatalf("ReadURLs failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after delete, got %+v", results)
	}
}

func TestSaveURL_RejectsEmptyURL(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveURL(domain.URLContent{DisplayName: "no url"}); err == nil {
		t.Fatal("expected error for empty url")
	}
}
