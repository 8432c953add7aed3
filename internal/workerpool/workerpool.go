// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
// Package workerpool is a bounded, process-level task pool for CPU-bound
// chunking (spec.md §4.2: "batched chunking runs in a process-level worker
// pool to avoid blocking the event loop; the pool size is a configured
// constant, default 1, tunable"). Grounded on the teacher's
// internal/worker.StartWorkers goroutine-pool pattern (N goroutines,
// context-cancellable, WaitGroup-joined), generalized from a Redis-job
// consumer to a generic in-process task submitter. Deliberately does not
// use the errgroup+semaphore idiom the other pack repos (Aman-CERP-amanmcp,
// kluzzebass-gastrolog) reach for: errgroup.WithContext cancels every
// sibling task the instant one returns an error, which would violate
// spec.md §4.3's "PermanentEmbeddingError (surfaced per batch; other
// batches proceed)". A plain WaitGroup plus a mutex-guarded first-error
// keeps task failures independent instead.
package workerpool

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs submitted tasks with at most size concurrently in flight. A Pool
// is owned by the long-running request that creates it (spec.md §4.5: the
// worker pool is "constructed per long-running request, not global, to
// simplify cancellation") and is closed on request exit via Wait.
type Pool struct {
	size int
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
	ctx  context.Context // gates new submissions only; never reaches a running task

	mu       sync.Mutex
	firstErr error
}

// New constructs a pool bound to ctx with the given concurrency size. A size
// <= 0 is treated as 1, matching the spec's default.
func New(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size, sem: semaphore.NewWeighted(int64(size)), ctx: ctx}
}

// Submit schedules fn to run as soon as a slot is free. Submit itself blocks
// until a slot is acquired or the pool's context is cancelled, so a
// cancelled request stops admitting new batches; fn's error (if any) is
// recorded for Wait but never cancels a sibling task. fn receives a context
// derived from ctx with context.WithoutCancel so that once a batch is
// running, neither the pool context's later cancellation nor a sibling
// task's failure can interrupt it — spec.md §5: "in-flight batches are
// awaited once, not interrupted".
func (p *Pool) Submit(fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	taskCtx := context.WithoutCancel(p.ctx)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		if err := fn(taskCtx); err != nil {
			log.Printf("workerpool: task failed: %v", err)
			p.mu.Lock()
			if p.firstErr == nil {
				p.firstErr = err
			}
			p.mu.Unlock()
		}
	}()
	return nil
}

// Wait blocks until every submitted task has completed, returning the first
// error encountered (if any). Mirrors the teacher's StartWorkers returning
// once its WaitGroup drains.
func (p *Pool) Wait() error {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// Size returns the pool's configured concurrency.
func (p *Pool) Size() int { return p.size }
