// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package store implements the Chunk Store: durable, queryable persistence
// for Chunk content plus embeddings, and for URLContent records, wrapping an
// embedded Qdrant instance. Grounded on the teacher's
// internal/vectordb/vectordb.go (collection bootstrap, payload marshaling,
// search/upsert/delete), generalized from one fixed collection to a
// schema-versioned pair of collections (chunks, url_contents) with a
// liveness heartbeat and reconnect guard adapted from
// internal/drone/heartbeat/monitor.go.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cortexlabs/cortexd/internal/domain"
)

const (
	schemaVersion        = 1
	chunksCollection     = "chunks"
	urlContentCollection = "url_contents"
	schemaMetaCollection = "schema_meta"
)

// schemaVersionPointID is the fixed point the schema_meta collection holds
// its version marker under, seeded the same deterministic way PointID seeds
// chunk ids.
var schemaVersionPointID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("schema_meta:version")).String()

// schemaMismatchError implements the SchemaMismatch() string duck-type
// apierr.Classify recognizes, so a recreated store surfaces as a distinct
// error type instead of a generic 500.
type schemaMismatchError struct {
	stored, want int
}

func (e schemaMismatchError) Error() string {
	return fmt.Sprintf("store: schema version %d on disk, expected %d; collections recreated", e.stored, e.want)
}
func (e schemaMismatchError) SchemaMismatch() string { return e.Error() }

// integrityError implements the IntegrityError() string duck-type
// apierr.Classify recognizes: a chunk's deterministic point id already
// holds different content, a true hash collision rather than a re-index of
// the same content (spec.md §4.1).
type integrityError struct {
	chunkHash string
}

func (e integrityError) Error() string {
	return fmt.Sprintf("store: chunk hash %s collides with differently-keyed existing content", e.chunkHash)
}
func (e integrityError) IntegrityError() string { return e.Error() }

// Match is one vector-search or keyword-search hit.
type Match struct {
	ChunkHash string
	Score     float32
	FilePath  string
	FileHash  string
	Text      string
	StartLine int
	EndLine   int
	Metadata  map[string]string
}

// Status is the Chunk Store's liveness state, mirroring the teacher's
// heartbeat monitor's "up"/"down"/"unknown" status strings.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

// ErrUnavailable is returned by any operation attempted while the heartbeat
// is red for longer than the grace window (spec.md §4.1 StoreUnavailable).
var ErrUnavailable = errors.New("store: unavailable")

// PointID returns the deterministic UUIDv5 point id for a chunk, seeded on
// its content hash so re-indexing identical content always upserts the same
// point (spec.md §8's idempotence invariant). Grounded on the teacher's
// internal/server/ingest_handler.go UUID-seeding idiom, generalized from
// file-path+index to chunk-hash so the identity follows the content, not
// the chunk's position.
func PointID(chunkHash string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("chunk:"+chunkHash)).String()
}

// Store is the Chunk Store. Dial establishes the gRPC connection and starts
// the heartbeat; all operations return ErrUnavailable while the heartbeat is
// red past the grace window.
type Store struct {
	addr string

	mu         sync.RWMutex
	conn       *grpc.ClientConn
	collSvc    qdrant.CollectionsClient
	pointsSvc  qdrant.PointsClient

	status        atomic.Value // Status
	firstRedAt    atomic.Value // time.Time
	reconnecting  atomic.Bool  // collapses concurrent reconnect attempts
	heartbeatStop chan struct{}
	graceWindow   time.Duration
}

// Dial connects to the embedded store at addr and ensures schema.
func Dial(ctx context.Context, addr string) (*Store, error) {
	s := &Store{addr: addr, graceWindow: 10 * time.Second}
	s.status.Store(StatusUnknown)
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		var mismatch *schemaMismatchError
		if !errors.As(err, &mismatch) {
			return nil, err
		}
		log.Printf("store: %v", err) // self-healed: collections were recreated, safe to proceed
	}
	s.heartbeatStop = make(chan struct{})
	go s.heartbeatLoop()
	return s, nil
}

func (s *Store) connect(ctx context.Context) error {
	conn, err := grpc.NewClient(s.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("store: dial %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.collSvc = qdrant.NewCollectionsClient(conn)
	s.pointsSvc = qdrant.NewPointsClient(conn)
	s.mu.Unlock()
	s.status.Store(StatusUp)
	return nil
}

// EnsureSchema is idempotent: it creates the chunks and url_contents
// collections if missing, and checks the stored schema version in
// schema_meta against schemaVersion. A mismatch drops and recreates all
// three collections (spec.md §4.1: "if the on-disk schema version differs
// from the expected version, drop and recreate... URL contents can be
// refilled") and returns a schemaMismatchError so the caller can log that a
// refill is needed; the store is left fully usable either way.
func (s *Store) EnsureSchema(ctx context.Context) error {
	mismatch, err := s.ensureSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if mismatch != nil {
		if err := s.recreateCollections(ctx); err != nil {
			return err
		}
		return mismatch
	}
	if err := s.ensureCollection(ctx, chunksCollection, defaultDimension); err != nil {
		return err
	}
	return s.ensureCollection(ctx, urlContentCollection, defaultDimension)
}

// ensureSchemaVersion creates the schema_meta collection and its version
// marker point on a fresh store, or reads the stored version and reports a
// mismatch (without yet recreating anything) on an existing one.
func (s *Store) ensureSchemaVersion(ctx context.Context) (*schemaMismatchError, error) {
	if err := s.ensureCollection(ctx, schemaMetaCollection, 1); err != nil {
		return nil, err
	}

	s.mu.RLock()
	pointsSvc := s.pointsSvc
	s.mu.RUnlock()

	res, err := pointsSvc.Get(ctx, &qdrant.GetPoints{
		CollectionName: schemaMetaCollection,
		Ids:            []*qdrant.PointId{{PointIdOptions: &qdrant.PointId_Uuid{Uuid: schemaVersionPointID}}},
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("store: get schema version: %w", err)
	}
	if len(res.Result) == 0 {
		return nil, s.writeSchemaVersion(ctx, pointsSvc)
	}

	stored := 0
	if v, ok := res.Result[0].Payload["version"]; ok {
		stored = int(v.GetIntegerValue())
	}
	if stored == schemaVersion {
		return nil, nil
	}
	return &schemaMismatchError{stored: stored, want: schemaVersion}, nil
}

func (s *Store) writeSchemaVersion(ctx context.Context, pointsSvc qdrant.PointsClient) error {
	point := &qdrant.PointStruct{
		Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: schemaVersionPointID}},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: []float32{0}}},
		},
		Payload: map[string]*qdrant.Value{"version": intVal(schemaVersion)},
	}
	_, err := pointsSvc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: schemaMetaCollection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("store: write schema version: %w", err)
	}
	return nil
}

// recreateCollections drops and rebuilds chunks, url_contents, and the
// schema_meta version marker, used when ensureSchemaVersion reports a
// mismatch.
func (s *Store) recreateCollections(ctx context.Context) error {
	s.mu.RLock()
	collSvc := s.collSvc
	pointsSvc := s.pointsSvc
	s.mu.RUnlock()

	for _, name := range []string{chunksCollection, urlContentCollection} {
		if _, err := collSvc.Delete(ctx, &qdrant.DeleteCollection{CollectionName: name}); err != nil {
			return fmt.Errorf("store: drop collection %s: %w", name, err)
		}
		if err := s.ensureCollection(ctx, name, defaultDimension); err != nil {
			return err
		}
	}
	if err := s.writeSchemaVersion(ctx, pointsSvc); err != nil {
		return err
	}
	log.Printf("store: schema mismatch, recreated chunks and url_contents collections")
	return nil
}

const defaultDimension = 1536

func (s *Store) ensureCollection(ctx context.Context, name string, dim int) error {
	s.mu.RLock()
	collSvc := s.collSvc
	s.mu.RUnlock()

	collections, err := collSvc.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("store: list collections: %w", err)
	}
	for _, c := range collections.Collections {
		if c.Name == name {
			return nil
		}
	}
	_, err = collSvc.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("store: create collection %s: %w", name, err)
	}
	log.Printf("store: created collection %s (dim=%d)", name, dim)
	return nil
}

// UpsertChunk stores or updates a chunk's vector and metadata, keyed by its
// deterministic point id (PointID). Failure semantics: transient connection
// loss surfaces as ErrUnavailable once the heartbeat has noticed; capacity
// failures are returned verbatim (fatal, per spec.md §4.1).
func (s *Store) UpsertChunk(ctx context.Context, rec domain.VectorRecord) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	if len(rec.Vector) == 0 {
		return errors.New("store: vector cannot be empty")
	}

	s.mu.RLock()
	pointsSvc := s.pointsSvc
	s.mu.RUnlock()

	existing, err := pointsSvc.Get(ctx, &qdrant.GetPoints{
		CollectionName: chunksCollection,
		Ids:            []*qdrant.PointId{{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(rec.ChunkHash)}}},
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return fmt.Errorf("store: check existing chunk %s: %w", rec.ChunkHash, err)
	}
	if len(existing.Result) > 0 {
		if stored := existing.Result[0].Payload["content"].GetStringValue(); stored != rec.Text {
			return integrityError{chunkHash: rec.ChunkHash}
		}
	}

	payload := map[string]*qdrant.Value{
		"chunk_hash": strVal(rec.ChunkHash),
		"file_path":  strVal(rec.FilePath),
		"file_hash":  strVal(rec.FileHash),
		"content":    strVal(rec.Text),
		"start_line": intVal(rec.StartLine),
		"end_line":   intVal(rec.EndLine),
	}
	if meta, err := json.Marshal(rec.Metadata); err == nil {
		payload["metadata"] = strVal(string(meta))
	}

	point := &qdrant.PointStruct{
		Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(rec.ChunkHash)}},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: rec.Vector}},
		},
		Payload: payload,
	}

	if _, err := pointsSvc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: chunksCollection,
		Points:         []*qdrant.PointStruct{point},
	}); err != nil {
		return fmt.Errorf("store: upsert chunk %s: %w", rec.ChunkHash, err)
	}
	return nil
}

// Search performs cosine nearest-neighbor search over the chunks
// collection, returning up to topK matches.
func (s *Store) Search(ctx context.Context, queryVector []float32, topK int) ([]Match, error) {
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	if len(queryVector) == 0 {
		return nil, errors.New("store: query vector cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	pointsSvc := s.pointsSvc
	s.mu.RUnlock()

	result, err := pointsSvc.Search(ctx, &qdrant.SearchPoints{
		CollectionName: chunksCollection,
		Vector:         queryVector,
		Limit:          uint64(topK),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	matches := make([]Match, 0, len(result.Result))
	for _, sp := range result.Result {
		matches = append(matches, matchFromPayload(sp.Score, sp.Payload))
	}
	return matches, nil
}

// matchFromPayload decodes a Qdrant point's payload into a Match, pulling
// out the integer line-span fields separately from the string metadata bag.
func matchFromPayload(score float32, payload map[string]*qdrant.Value) Match {
	m := Match{Score: score, Metadata: map[string]string{}}
	for k, v := range payload {
		if sv := v.GetStringValue(); sv != "" {
			m.Metadata[k] = sv
		}
	}
	m.ChunkHash = m.Metadata["chunk_hash"]
	m.FilePath = m.Metadata["file_path"]
	m.FileHash = m.Metadata["file_hash"]
	m.Text = m.Metadata["content"]
	if v, ok := payload["start_line"]; ok {
		m.StartLine = int(v.GetIntegerValue())
	}
	if v, ok := payload["end_line"]; ok {
		m.EndLine = int(v.GetIntegerValue())
	}
	return m
}

// DeleteByChunkHash removes a chunk record, used during full sync GC of
// chunks whose file hash is no longer live in any manifest.
func (s *Store) DeleteByChunkHash(ctx context.Context, chunkHash string) error {
	if err := s.checkAvailable(); err != nil {
		return err
	}
	s.mu.RLock()
	pointsSvc := s.pointsSvc
	s.mu.RUnlock()

	pointID := &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(chunkHash)}}
	_, err := pointsSvc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: chunksCollection,
		Points:         &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{pointID}}}},
	})
	if err != nil {
		return fmt.Errorf("store: delete chunk %s: %w", chunkHash, err)
	}
	return nil
}

// Exists reports whether a chunk hash is already durable (used by the
// embedding pipeline's idempotent-upsert skip).
func (s *Store) Exists(ctx context.Context, chunkHash string) (bool, error) {
	if err := s.checkAvailable(); err != nil {
		return false, err
	}
	s.mu.RLock()
	pointsSvc := s.pointsSvc
	s.mu.RUnlock()

	res, err := pointsSvc.Get(ctx, &qdrant.GetPoints{
		CollectionName: chunksCollection,
		Ids:            []*qdrant.PointId{{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(chunkHash)}}},
	})
	if err != nil {
		return false, fmt.Errorf("store: get chunk %s: %w", chunkHash, err)
	}
	return len(res.Result) > 0, nil
}

func (s *Store) checkAvailable() error {
	status := s.status.Load().(Status)
	if status == StatusUp {
		return nil
	}
	if redAt, ok := s.firstRedAt.Load().(time.Time); ok {
		if time.Since(redAt) > s.graceWindow {
			return ErrUnavailable
		}
		return nil // within grace window, let the caller try anyway
	}
	return nil
}

// Status returns the current liveness status.
func (s *Store) Status() Status {
	return s.status.Load().(Status)
}

// heartbeatLoop probes readiness on a fixed 3-second ticker (config's
// HeartbeatIntervalMS is not read here); on failure it closes and reconstructs clients, collapsing
// concurrent reconnect attempts into one via reconnecting. Grounded on
// internal/drone/heartbeat/monitor.go's ticker+failure-threshold shape,
// adapted to probe the store's own collection-list RPC instead of an HTTP
// health endpoint, and with the OS notification (beeep) dropped — cortexd
// is headless, so a failed heartbeat is logged, never surfaced as a popup.
func (s *Store) heartbeatLoop() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.heartbeatStop:
			return
		case <-ticker.C:
			s.probe()
		}
	}
}

func (s *Store) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.mu.RLock()
	collSvc := s.collSvc
	s.mu.RUnlock()

	_, err := collSvc.List(ctx, &qdrant.ListCollectionsRequest{})
	if err == nil {
		s.status.Store(StatusUp)
		s.firstRedAt.Store(time.Time{})
		return
	}

	if _, ok := s.firstRedAt.Load().(time.Time); !ok || s.firstRedAt.Load().(time.Time).IsZero() {
		s.firstRedAt.Store(time.Now())
	}
	s.status.Store(StatusDown)
	log.Printf("store: heartbeat probe failed: %v", err)
	s.reconnect()
}

// reconnect is idempotent and safe under races: two concurrent reconnect
// attempts collapse to one via reconnecting (an atomic guard), matching
// spec.md §4.1's "local guard" requirement.
func (s *Store) reconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return // another goroutine is already reconnecting
	}
	defer s.reconnecting.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		log.Printf("store: reconnect failed: %v", err)
		return
	}
	log.Printf("store: reconnected to %s", s.addr)
}

// Close tears down the heartbeat and the underlying connection. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	stop := s.heartbeatStop
	s.heartbeatStop = nil
	conn := s.conn
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func strVal(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func intVal(i int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(i)}}
}
