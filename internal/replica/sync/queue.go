package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
)

// SubmitFunc sends one operation to the remote store.
type SubmitFunc func(ctx context.Context, op schema.Operation) (schema.Result, error)

// Outcome is what happened to one drained operation.
type Outcome struct {
	Result schema.Result
	Err    error
	Class  schema.Class

	// Requeued is set when the operation went back into the queue.
	Requeued bool

	// Dropped is set when the operation left the queue unconfirmed.
	Dropped bool
}

// Queue holds operations waiting for remote confirmation, in enqueue order.
//
// DrainAll swaps the queue out before submitting: operations enqueued
// during a drain land in a fresh list, and failed operations are merged
// back behind them. An operation sharing an entity key with a carried-over
// operation stays behind it, so an update never overtakes its create.
type Queue struct {
	mu       sync.Mutex
	ops      []schema.Operation
	inflight []schema.Operation
	draining bool

	maxAttempts int
	snaps       *store.Snapshots
	logger      *log.Logger
}

// NewQueue creates an empty queue persisted through snaps (nil keeps it in
// memory). maxAttempts bounds retryable failures per operation; 0 means
// unbounded.
func NewQueue(snaps *store.Snapshots, maxAttempts int, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{
		maxAttempts: maxAttempts,
		snaps:       snaps,
		logger:      logger,
	}
}

// Load replaces the queue with the persisted operations.
func (q *Queue) Load(ctx context.Context) error {
	if q.snaps == nil {
		return nil
	}
	ops, err := q.snaps.LoadQueue(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = ops
	return nil
}

// Enqueue appends op. A persistence failure is returned after op has been
// queued in memory.
func (q *Queue) Enqueue(ctx context.Context, op schema.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	return q.saveLocked(ctx)
}

// Len returns the number of unconfirmed operations, including those of a
// drain in progress.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops) + len(q.inflight)
}

// Pending returns a copy of the unconfirmed operations in submission order.
func (q *Queue) Pending() []schema.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *Queue) pendingLocked() []schema.Operation {
	return mergeRetried(q.ops, q.inflight)
}

func (q *Queue) saveLocked(ctx context.Context) error {
	if q.snaps == nil {
		return nil
	}
	if err := q.snaps.SaveQueue(context.WithoutCancel(ctx), q.pendingLocked()); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}
	return nil
}

// DrainAll returns a sequence submitting every queued operation in order
// and yielding each with its outcome. The queue is swapped out when
// iteration starts; the sequence is single-use and yields nothing when
// another drain is running.
//
// Submission stops at the first network failure, at an expired session,
// when ctx ends or when the consumer stops iterating. Operations not yet
// submitted return to the queue with their attempt counts unchanged.
// Once an operation is carried over, later operations on the same entity
// are carried behind it without being submitted or yielded.
func (q *Queue) DrainAll(ctx context.Context, submit SubmitFunc) iter.Seq2[schema.Operation, Outcome] {
	var used bool
	return func(yield func(schema.Operation, Outcome) bool) {
		if used {
			return
		}
		used = true

		batch, ok := q.begin()
		if !ok {
			return
		}

		var carried []schema.Operation
		held := make(map[string]bool)
		carry := func(op schema.Operation) {
			carried = append(carried, op)
			if k := op.EntityKey(); k != "" {
				held[k] = true
			}
		}

		i := 0
		defer func() { q.finish(ctx, carried, batch[i:]) }()

		for i < len(batch) {
			if ctx.Err() != nil {
				return
			}

			op := batch[i]
			if k := op.EntityKey(); k != "" && held[k] {
				i++
				carried = append(carried, op)
				q.progress(ctx, carried, batch[i:])
				continue
			}

			res, err := submit(ctx, op)
			i++

			out := Outcome{Result: res, Err: err, Class: schema.Classify(err)}
			switch out.Class {
			case schema.ClassRetryable:
				op.Attempts++
				if q.maxAttempts > 0 && op.Attempts >= q.maxAttempts {
					out.Dropped = true
					out.Err = fmt.Errorf("%w after %d attempts: %w", schema.ErrRetriesExhausted, op.Attempts, err)
				} else {
					out.Requeued = true
					carry(op)
				}
			case schema.ClassAuth:
				out.Requeued = true
				carry(op)
			case schema.ClassRejected:
				out.Dropped = true
			}

			q.progress(ctx, carried, batch[i:])

			if !yield(op, out) {
				return
			}
			if out.Class == schema.ClassAuth || errors.Is(err, schema.ErrNetworkUnavailable) {
				return
			}
		}
	}
}

// begin swaps the queue out for a drain.
func (q *Queue) begin() ([]schema.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining || len(q.ops) == 0 {
		return nil, false
	}
	batch := q.ops
	q.ops = nil
	q.inflight = batch
	q.draining = true
	return batch, true
}

// progress persists the queue as it stands mid-drain.
func (q *Queue) progress(ctx context.Context, carried, rest []schema.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inflight = concat(carried, rest)
	if err := q.saveLocked(ctx); err != nil {
		q.logger.Printf("Warning: %v", err)
	}
}

// finish merges carried-over operations back behind the fresh ones.
func (q *Queue) finish(ctx context.Context, carried, rest []schema.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = mergeRetried(q.ops, concat(carried, rest))
	q.inflight = nil
	q.draining = false
	if err := q.saveLocked(ctx); err != nil {
		q.logger.Printf("Warning: %v", err)
	}
}

// mergeRetried places carried after fresh, except that fresh operations
// touching an entity that a carried operation touches go after carried.
func mergeRetried(fresh, carried []schema.Operation) []schema.Operation {
	if len(carried) == 0 {
		return concat(fresh, nil)
	}

	held := make(map[string]bool, len(carried))
	for _, op := range carried {
		if k := op.EntityKey(); k != "" {
			held[k] = true
		}
	}

	var before, after []schema.Operation
	for _, op := range fresh {
		if k := op.EntityKey(); k != "" && held[k] {
			after = append(after, op)
		} else {
			before = append(before, op)
		}
	}

	out := make([]schema.Operation, 0, len(fresh)+len(carried))
	out = append(out, before...)
	out = append(out, carried...)
	return append(out, after...)
}

func concat(a, b []schema.Operation) []schema.Operation {
	if len(a)+len(b) == 0 {
		return nil
	}
	out := make([]schema.Operation, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
