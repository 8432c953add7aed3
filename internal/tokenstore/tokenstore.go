// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package tokenstore is the credential broker behind /v1/auth/*. It holds
// one bearer token per upstream provider (embedding API, re-ranker, MCP
// server) so a transparent token refresh (spec.md §7 AuthError handling)
// has somewhere durable to write the replacement. Grounded on the teacher's
// internal/server/auth_handler.go token-check idiom, generalized from a
// single multi-tenant API-key table to a small per-provider table in
// internal/metastore since cortexd has no tenant concept.
package tokenstore

import (
	"fmt"

	"github.com/cortexlabs/cortexd/internal/apierr"
	"github.com/cortexlabs/cortexd/internal/metastore"
)

// Store brokers provider credentials on top of the metastore.
type Store struct {
	meta *metastore.Store
}

// New returns a Store backed by meta.
func New(meta *metastore.Store) *Store {
	return &Store{meta: meta}
}

// StoreToken persists token under provider. An empty provider or token is a
// client error, not a server one.
func (s *Store) StoreToken(provider, token string) error {
	if provider == "" {
		return apierr.BadRequest("provider must not be empty")
	}
	if token == "" {
		return apierr.BadRequest("token must not be empty")
	}
	if err := s.meta.StoreCredential(provider, token); err != nil {
		return apierr.Internal(fmt.Errorf("tokenstore: store: %w", err))
	}
	return nil
}

// LoadToken returns the token for provider, or apierr.AuthExpired if none
// has ever been stored — the caller (the retrieval/embedding client) is
// expected to treat a missing token the same as an expired one.
func (s *Store) LoadToken(provider string) (string, error) {
	if provider == "" {
		return "", apierr.BadRequest("provider must not be empty")
	}
	token, err := s.meta.LoadCredential(provider)
	if err != nil {
		return "", apierr.Internal(fmt.Errorf("tokenstore: load: %w", err))
	}
	if token == "" {
		return "", apierr.AuthExpired(fmt.Sprintf("no token stored for provider %q", provider))
	}
	return token, nil
}

// DeleteToken removes a stored token, a no-op if none exists.
func (s *Store) DeleteToken(provider string) error {
	if provider == "" {
		return apierr.BadRequest("provider must not be empty")
	}
	if err := s.meta.DeleteCredential(provider); err != nil {
		return apierr.Internal(fmt.Errorf("tokenstore: delete: %w", err))
	}
	return nil
}
