package sync

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
)

var testLogger = log.New(io.Discard, "", 0)

type fakeTime struct {
	mu sync.Mutex
	ms int64
}

func newFakeTime(ms int64) *fakeTime {
	return &fakeTime{ms: ms}
}

func (f *fakeTime) now() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.UnixMilli(f.ms), nil
}

func (f *fakeTime) set(ms int64) {
	f.mu.Lock()
	f.ms = ms
	f.mu.Unlock()
}

// fakeRemote serves a fixed snapshot and scripted submit results.
type fakeRemote struct {
	mu         sync.Mutex
	snap       schema.Snapshot
	fetchErr   error
	fetches    int
	inFlight   int
	maxFlight  int
	submitErrs []error
	submitted  []schema.Operation

	// When gate is set, Fetch signals started and waits for gate.
	gate    chan struct{}
	started chan struct{}
}

func (r *fakeRemote) setSnapshot(s schema.Snapshot) {
	r.mu.Lock()
	r.snap = s
	r.mu.Unlock()
}

func (r *fakeRemote) hold() {
	r.mu.Lock()
	r.gate = make(chan struct{})
	r.started = make(chan struct{}, 8)
	r.mu.Unlock()
}

func (r *fakeRemote) release() {
	r.mu.Lock()
	gate := r.gate
	r.gate = nil
	r.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (r *fakeRemote) waitStarted() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	<-started
}

func (r *fakeRemote) Fetch(ctx context.Context, resource string) (schema.Snapshot, error) {
	r.mu.Lock()
	r.fetches++
	r.inFlight++
	if r.inFlight > r.maxFlight {
		r.maxFlight = r.inFlight
	}
	gate, started := r.gate, r.started
	r.mu.Unlock()

	if gate != nil {
		started <- struct{}{}
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--
	if r.fetchErr != nil {
		return schema.Snapshot{}, r.fetchErr
	}
	return r.snap.Clone(), nil
}

func (r *fakeRemote) Submit(ctx context.Context, op schema.Operation) (schema.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.submitted = append(r.submitted, op)
	if len(r.submitErrs) > 0 {
		err := r.submitErrs[0]
		r.submitErrs = r.submitErrs[1:]
		if err != nil {
			return schema.Result{}, err
		}
	}
	return schema.Result{Status: 201, Record: op.Payload}, nil
}

func (r *fakeRemote) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func (r *fakeRemote) submittedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.submitted))
	for i, op := range r.submitted {
		ids[i] = op.ID
	}
	return ids
}
