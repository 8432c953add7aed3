// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package urlcontent is the durable side of the URL content store
// (/v1/{read_urls,saved_url,search_url,saved_url/list,saved_url/delete}).
// The actual scraping and HTML->markdown conversion happen in an external
// collaborator (spec.md §1 Non-goals); this package only persists and
// serves what that collaborator hands it, plus the conditional-fetch cache
// validators (ETag, Last-Modified) needed to avoid re-scraping unchanged
// pages. Grounded on the teacher's database CRUD-over-sqlite idiom,
// generalized onto internal/metastore's url_contents table.
package urlcontent

import (
	"fmt"
	"strings"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/domain"
	"github.com/cortexlabs/cortexd/internal/metastore"
)

// Store brokers URLContent records on top of the metastore.
type Store struct {
	meta *metastore.Store
}

// New returns a Store backed by meta.
func New(meta *metastore.Store) *Store {
	return &Store{meta: meta}
}

// SaveURL persists or refreshes a fetched page. Called by the external
// scraper once it has rendered markdown and computed a content hash; this
// package never fetches a URL itself.
func (s *Store) SaveURL(content domain.URLContent) error {
	if content.URL == "" {
		return apierr.BadRequest("url must not be empty")
	}
	err := s.meta.UpsertURLContent(
		content.URL, content.DisplayName, content.Markdown,
		content.ContentHash, content.ETag, content.LastModified, content.BackendID,
	)
	if err != nil {
		return apierr.Internal(fmt.Errorf("urlcontent: save: %w", err))
	}
	return nil
}

// ReadURLs returns the cached content for each requested URL, in the same
// order, skipping URLs that have never been saved.
func (s *Store) ReadURLs(urls []string) ([]domain.URLContent, error) {
	out := make([]domain.URLContent, 0, len(urls))
	for _, u := range urls {
		row, err := s.meta.GetURLContent(u)
		if err != nil {
			return nil, apierr.Internal(fmt.Errorf("urlcontent: read %s: %w", u, err))
		}
		if row == nil {
			continue
		}
		out = append(out, fromRow(*row))
	}
	return out, nil
}

// SearchURL keyword-matches against display name and markdown body for
// every saved URL. A plain substring scan, not a full-text index: the
// number of saved URLs in a single developer's working set is small enough
// that bleve would be overkill here (unlike internal/manifest's symbol
// index, which must scale with a whole repository's chunk count).
func (s *Store) SearchURL(keyword string) ([]domain.URLContent, error) {
	rows, err := s.meta.ListURLContents()
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("urlcontent: search: %w", err))
	}
	needle := strings.ToLower(keyword)
	var matches []domain.URLContent
	for _, row := range rows {
		if strings.Contains(strings.ToLower(row.DisplayName), needle) ||
			strings.Contains(strings.ToLower(row.Markdown), needle) {
			matches = append(matches, fromRow(row))
		}
	}
	return matches, nil
}

// ListSavedURLs returns every saved URL's metadata (no markdown body, to
// keep the listing response light).
func (s *Store) ListSavedURLs() ([]domain.URLContent, error) {
	rows, err := s.meta.ListURLContents()
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("urlcontent: list: %w", err))
	}
	out := make([]domain.URLContent, 0, len(rows))
	for _, row := range rows {
		content := fromRow(row)
		content.Markdown = ""
		out = append(out, content)
	}
	return out, nil
}

// DeleteSavedURL removes a saved URL, a no-op if it was never saved.
func (s *Store) DeleteSavedURL(url string) error {
	if err := s.meta.DeleteURLContent(url); err != nil {
		return apierr.Internal(fmt.Errorf("urlcontent: delete: %w", err))
	}
	return nil
}

func fromRow(row metastore.URLContentRow) domain.URLContent {
	return domain.URLContent{
		URL:          row.URL,
		DisplayName:  row.DisplayName,
		Markdown:     row.Markdown,
		ContentHash:  row.ContentHash,
		ETag:         row.ETag,
		LastModified: row.LastModified,
		LastIndexed:  row.LastIndexed,
		BackendID:    row.BackendID,
	}
}
