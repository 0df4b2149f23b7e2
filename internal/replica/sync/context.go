package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nikolaj20/erp-phonetech/internal/replica/bus"
	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
)

// Remote is the authoritative store as seen by a SyncContext.
type Remote interface {
	Fetch(ctx context.Context, resource string) (schema.Snapshot, error)
	Submit(ctx context.Context, op schema.Operation) (schema.Result, error)
}

// Hooks are called from the goroutine that caused the event, after the
// context's locks are released.
type Hooks struct {
	// OnChange receives every snapshot the context accepts.
	OnChange func(schema.Snapshot)

	// OnRejected receives operations dropped without confirmation.
	OnRejected func(schema.Operation, error)

	// OnSessionExpired is called once when the remote refuses the credentials.
	OnSessionExpired func()
}

// Config holds configuration for a SyncContext.
type Config struct {
	// Collection namespaces the store keys (e.g. "inventory")
	Collection string

	// Resource is the remote path of the collection (e.g. "/inventory")
	Resource string

	// PullInterval is how often the remote is pulled (default: 30s)
	PullInterval time.Duration

	// InitialDelay postpones the first pull after Run (default: 1s)
	InitialDelay time.Duration

	// StaleAfter is how old the last pull must be for a visibility event
	// to trigger a new one (default: 15s)
	StaleAfter time.Duration

	// MaxAttempts bounds retryable failures per operation (default: 5)
	MaxAttempts int

	// Retry spaces push retries (default: DefaultBackoff)
	Retry *Backoff

	// Clock issues version markers; share one between the contexts of a
	// process (default: a new system clock)
	Clock *Clock

	// Policy reconciles candidates (default: LastWriterWins)
	Policy Policy

	// Hooks notify the hosting application
	Hooks Hooks

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for collection.
func DefaultConfig(collection, resource string) *Config {
	return &Config{
		Collection:   collection,
		Resource:     resource,
		PullInterval: 30 * time.Second,
		InitialDelay: 1 * time.Second,
		StaleAfter:   15 * time.Second,
		MaxAttempts:  5,
		Retry:        DefaultBackoff(),
		Logger:       log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Mutation is a local change that must reach the remote store.
type Mutation struct {
	Action schema.Action

	// Record is applied to the local snapshot immediately. It may be empty
	// for domain actions that change nothing locally.
	Record schema.Record

	// Resource overrides the submission path. Creates default to the
	// collection resource, updates to <resource>/<record id>.
	Resource string

	// Method overrides the action's default method.
	Method string

	// Payload overrides the submitted body (default: Record.Data).
	Payload json.RawMessage
}

// SyncContext is one execution context's replica of a collection.
//
// Construct one per collection and context, call Start to load the local
// state, then Run to keep it in sync until Stop.
type SyncContext struct {
	id     string
	config *Config
	snaps  *store.Snapshots
	bus    bus.Bus
	remote Remote
	clock  *Clock
	policy Policy
	queue  *Queue
	logger *log.Logger

	// commitMu serializes decide-then-save sequences.
	commitMu sync.Mutex

	mu           sync.Mutex
	snap         schema.Snapshot
	lastApplied  schema.Marker
	lastPull     time.Time
	lastErr      error
	degraded     bool
	expired      bool
	retryAttempt int
	retryTimer   *time.Timer
	cancelRun    context.CancelFunc
	unsubscribe  func()

	started      atomic.Bool
	alive        atomic.Bool
	syncing      atomic.Bool
	pushing      atomic.Bool
	pushAgain    atomic.Bool
	retryPending atomic.Bool

	kick    chan struct{}
	visible chan struct{}
	events  chan schema.ChangeEvent
	runWG   sync.WaitGroup
}

// New creates a SyncContext over the given capabilities. b may be nil when
// no sibling contexts exist.
func New(s store.Store, b bus.Bus, remote Remote, config *Config) (*SyncContext, error) {
	if s == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("collection cannot be empty")
	}
	if !strings.HasPrefix(config.Resource, "/") {
		return nil, fmt.Errorf("resource must be an absolute path (got %q)", config.Resource)
	}

	cfg := *config
	defaults := DefaultConfig(cfg.Collection, cfg.Resource)
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = defaults.PullInterval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaults.InitialDelay
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Retry == nil {
		cfg.Retry = defaults.Retry
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock(nil)
	}
	if cfg.Policy == nil {
		cfg.Policy = LastWriterWins
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "["+cfg.Collection+"] ", log.LstdFlags)
	}

	snaps := store.NewSnapshots(s, cfg.Collection)
	return &SyncContext{
		id:      uuid.NewString(),
		config:  &cfg,
		snaps:   snaps,
		bus:     b,
		remote:  remote,
		clock:   cfg.Clock,
		policy:  cfg.Policy,
		queue:   NewQueue(snaps, cfg.MaxAttempts, cfg.Logger),
		logger:  cfg.Logger,
		kick:    make(chan struct{}, 1),
		visible: make(chan struct{}, 1),
		events:  make(chan schema.ChangeEvent, 16),
	}, nil
}

// ID returns the context's unique identifier.
func (s *SyncContext) ID() string {
	return s.id
}

// Collection returns the collection name.
func (s *SyncContext) Collection() string {
	return s.config.Collection
}

// Start loads the persisted snapshot and pending queue, subscribes to the
// bus and reports the snapshot through OnChange, so there is something to
// show before the first pull. Storage failures degrade the context to
// memory-only. Bus events are buffered until Run.
func (s *SyncContext) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("sync context %s already started", s.id)
	}
	s.alive.Store(true)

	snap, ok, err := s.snaps.Load(ctx)
	if err != nil {
		s.degrade(err)
	} else if ok {
		s.mu.Lock()
		s.snap = snap.Sorted()
		s.lastApplied = snap.Version
		s.mu.Unlock()
		s.clock.Observe(snap.Version)
	}

	if err := s.queue.Load(ctx); err != nil {
		s.degrade(err)
	}

	if s.bus != nil {
		unsubscribe := s.bus.Subscribe(s.onEvent)
		s.mu.Lock()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
	}

	cur := s.Snapshot()
	s.logger.Printf("Loaded %d records at version %s (%d pending)", cur.Len(), cur.Version, s.queue.Len())
	s.notifyChange(cur)
	return nil
}

// Run drives the context: an initial pull after InitialDelay, periodic
// pulls, push drains with retry backoff, storage-change and bus-event
// checks and visibility refreshes.
//
// It blocks until ctx is cancelled or Stop is called.
func (s *SyncContext) Run(ctx context.Context) error {
	if !s.started.Load() {
		return fmt.Errorf("sync context %s not started", s.id)
	}
	if !s.alive.Load() {
		return schema.ErrStopped
	}

	s.runWG.Add(1)
	defer s.runWG.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	versions, err := s.snaps.WatchVersion(gctx)
	if err != nil {
		s.logger.Printf("Warning: storage watch unavailable: %v", err)
	} else {
		g.Go(func() error {
			s.watchStorage(gctx, versions)
			return nil
		})
	}

	// Catch up with writes made before the watch was in place.
	if _, err := s.adoptFromStore(ctx); err != nil {
		s.logger.Printf("Warning: failed to read stored snapshot: %v", err)
	}

	g.Go(func() error {
		s.loop(gctx)
		return nil
	})

	if s.queue.Len() > 0 {
		s.kickPush()
	}

	s.logger.Printf("Sync context %s running (pull every %v)", s.id, s.config.PullInterval)
	return g.Wait()
}

func (s *SyncContext) loop(ctx context.Context) {
	initial := time.NewTimer(s.config.InitialDelay)
	defer initial.Stop()
	ticker := time.NewTicker(s.config.PullInterval)
	defer ticker.Stop()

	// In-flight calls outlive Stop; their results are discarded.
	detached := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case <-initial.C:
			s.goPull(detached, "initial")

		case <-ticker.C:
			s.goPull(detached, "timer")
			if s.queue.Len() > 0 && !s.retryPending.Load() {
				s.kickPush()
			}

		case <-s.kick:
			go func() {
				if err := s.Push(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Printf("Push failed: %v", err)
				}
			}()

		case <-s.visible:
			go func() {
				if err := s.Refresh(detached); err != nil {
					s.logPullError("visibility", err)
				}
			}()

		case e := <-s.events:
			s.handleEvent(ctx, e)
		}
	}
}

// goPull starts a pull unless one is in flight, in which case the trigger
// is dropped.
func (s *SyncContext) goPull(ctx context.Context, trigger string) {
	if s.syncing.Load() || s.isExpired() {
		return
	}
	go func() {
		if err := s.Pull(ctx); err != nil {
			s.logPullError(trigger, err)
		}
	}()
}

func (s *SyncContext) logPullError(trigger string, err error) {
	switch {
	case errors.Is(err, schema.ErrPullInFlight), errors.Is(err, schema.ErrStopped):
	case errors.Is(err, schema.ErrAuthExpired):
	default:
		s.logger.Printf("Pull (%s) failed: %v", trigger, err)
	}
}

func (s *SyncContext) watchStorage(ctx context.Context, versions <-chan schema.Marker) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-versions:
			if !ok {
				return
			}
			if !v.After(s.LastApplied()) {
				continue
			}
			if _, err := s.adoptFromStore(ctx); err != nil {
				s.logger.Printf("Warning: failed to read stored snapshot: %v", err)
			}
		}
	}
}

// onEvent is the bus handler; it only forwards to the loop.
func (s *SyncContext) onEvent(e schema.ChangeEvent) {
	select {
	case s.events <- e:
	default:
		s.logger.Println("Warning: event channel full, dropping change event")
	}
}

// handleEvent treats a sibling's event as a hint: the store is re-read,
// and a sync event carrying a full snapshot is applied when the store
// does not have it.
func (s *SyncContext) handleEvent(ctx context.Context, e schema.ChangeEvent) {
	if !e.Version.After(s.LastApplied()) {
		return
	}
	if _, err := s.adoptFromStore(ctx); err != nil {
		s.logger.Printf("Warning: failed to read stored snapshot: %v", err)
	}
	if !e.Version.After(s.LastApplied()) || e.Action != schema.EventSync {
		return
	}

	var snap schema.Snapshot
	if err := json.Unmarshal(e.Data, &snap); err != nil || snap.Version != e.Version {
		return
	}
	if _, err := s.commit(ctx, snap, false); err != nil {
		s.logger.Printf("Warning: failed to apply broadcast snapshot: %v", err)
	}
}

// Pull fetches the collection and reconciles it with the local snapshot.
// It returns schema.ErrPullInFlight when another pull is running.
func (s *SyncContext) Pull(ctx context.Context) error {
	if !s.alive.Load() {
		return schema.ErrStopped
	}
	if s.isExpired() {
		return schema.ErrAuthExpired
	}
	if !s.syncing.CompareAndSwap(false, true) {
		return schema.ErrPullInFlight
	}
	defer s.syncing.Store(false)

	// A response without a server version is as new as the request.
	dispatched := s.clock.Next(s.LastApplied())

	candidate, err := s.remote.Fetch(ctx, s.config.Resource)

	s.mu.Lock()
	s.lastPull = time.Now()
	s.mu.Unlock()

	if !s.alive.Load() {
		return schema.ErrStopped
	}
	if err != nil {
		if errors.Is(err, schema.ErrAuthExpired) {
			s.expire(err)
		} else {
			s.setError(err)
		}
		return fmt.Errorf("pull %s: %w", s.config.Resource, err)
	}

	if candidate.Version.IsZero() {
		candidate.Version = dispatched
	} else {
		s.clock.Observe(candidate.Version)
	}

	d, err := s.commit(ctx, candidate, true)
	if err != nil {
		return err
	}
	s.setError(nil)
	s.logger.Printf("Pulled %d records at version %s: %s", candidate.Len(), candidate.Version, d.Reason)
	return nil
}

// Refresh is the out-of-band check run when the context becomes visible:
// a newer stored snapshot is adopted without a network call, otherwise the
// remote is pulled if the last pull is older than StaleAfter.
func (s *SyncContext) Refresh(ctx context.Context) error {
	adopted, err := s.adoptFromStore(ctx)
	if err != nil {
		s.logger.Printf("Warning: failed to read stored snapshot: %v", err)
	}
	if adopted {
		return nil
	}

	s.mu.Lock()
	last := s.lastPull
	s.mu.Unlock()
	if !last.IsZero() && time.Since(last) < s.config.StaleAfter {
		return nil
	}
	return s.Pull(ctx)
}

// VisibilityChanged reports that the hosting context was hidden or shown.
// Becoming visible schedules a Refresh on the Run loop.
func (s *SyncContext) VisibilityChanged(visible bool) {
	if !visible {
		return
	}
	select {
	case s.visible <- struct{}{}:
	default:
	}
}

// Mutate applies m locally, persists and announces the new snapshot, and
// queues the remote submission. It returns the queued operation.
func (s *SyncContext) Mutate(ctx context.Context, m Mutation) (schema.Operation, error) {
	if !s.alive.Load() {
		return schema.Operation{}, schema.ErrStopped
	}
	if !m.Action.Valid() {
		return schema.Operation{}, fmt.Errorf("unknown action %q", m.Action)
	}

	op, err := s.operationFor(m)
	if err != nil {
		return schema.Operation{}, err
	}
	if err := op.Validate(); err != nil {
		return schema.Operation{}, err
	}

	if m.Record.ID != "" {
		if err := m.Record.Validate(); err != nil {
			return schema.Operation{}, err
		}
		s.applyLocal(ctx, m)
	}

	if err := s.queue.Enqueue(ctx, op); err != nil {
		if !errors.Is(err, schema.ErrStorageUnavailable) {
			return schema.Operation{}, err
		}
		s.degrade(err)
	}

	s.kickPush()
	return op, nil
}

func (s *SyncContext) operationFor(m Mutation) (schema.Operation, error) {
	resource := m.Resource
	if resource == "" {
		switch m.Action {
		case schema.ActionCreate:
			resource = s.config.Resource
		case schema.ActionUpdate:
			if m.Record.ID == "" {
				return schema.Operation{}, fmt.Errorf("update requires a record id")
			}
			resource = strings.TrimRight(s.config.Resource, "/") + "/" + url.PathEscape(m.Record.ID)
		default:
			return schema.Operation{}, fmt.Errorf("%s requires a resource", m.Action)
		}
	}

	method := m.Method
	if method == "" {
		method = m.Action.DefaultMethod()
	}
	payload := m.Payload
	if len(payload) == 0 {
		payload = m.Record.Data
	}

	return schema.Operation{
		ID:         uuid.NewString(),
		Action:     m.Action,
		Resource:   resource,
		Method:     method,
		Key:        m.Record.ID,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// applyLocal stamps and commits the optimistic local change.
func (s *SyncContext) applyLocal(ctx context.Context, m Mutation) {
	var announce *schema.ChangeEvent
	var changed *schema.Snapshot

	s.commitMu.Lock()
	defer func() {
		s.commitMu.Unlock()
		if announce != nil {
			s.publish(ctx, *announce)
		}
		if changed != nil {
			s.notifyChange(*changed)
		}
	}()

	// Build on the latest committed snapshot, never on a stale local copy.
	if adopted, _ := s.adoptLocked(ctx); adopted != nil {
		changed = adopted
	}

	floor := s.LastApplied()
	if stored, err := s.snaps.Version(ctx); err == nil {
		floor = schema.MaxMarker(floor, stored)
	}
	version := s.clock.Next(floor)

	s.mu.Lock()
	next := s.snap.Upsert(m.Record)
	next.Version = version
	s.snap = next
	s.lastApplied = version
	snap := next.Clone()
	s.mu.Unlock()

	s.save(ctx, snap)

	e := schema.NewChangeEvent(string(m.Action), version, m.Record.Data)
	announce = &e
	changed = &snap
}

// commit reconciles candidate with the local snapshot and, on Accept,
// saves it and optionally broadcasts a sync event.
func (s *SyncContext) commit(ctx context.Context, candidate schema.Snapshot, broadcast bool) (Decision, error) {
	var announce *schema.ChangeEvent
	var changed *schema.Snapshot

	s.commitMu.Lock()
	defer func() {
		s.commitMu.Unlock()
		if announce != nil {
			s.publish(ctx, *announce)
		}
		if changed != nil {
			s.notifyChange(*changed)
		}
	}()

	if !s.alive.Load() {
		return Decision{}, schema.ErrStopped
	}

	// Another context may have committed something newer.
	if adopted, _ := s.adoptLocked(ctx); adopted != nil {
		changed = adopted
	}

	s.mu.Lock()
	d := s.policy(s.snap, candidate)
	if !d.Accept {
		s.mu.Unlock()
		return d, nil
	}
	next := candidate.Sorted()
	s.snap = next
	if next.Version.After(s.lastApplied) {
		s.lastApplied = next.Version
	}
	snap := next.Clone()
	s.mu.Unlock()

	s.save(ctx, snap)
	changed = &snap

	if broadcast {
		data, err := json.Marshal(snap)
		if err == nil {
			e := schema.NewChangeEvent(schema.EventSync, snap.Version, data)
			announce = &e
		}
	}
	return d, nil
}

// adoptFromStore replaces the local snapshot with the stored one when the
// stored version is newer. No network call is made.
func (s *SyncContext) adoptFromStore(ctx context.Context) (bool, error) {
	var changed *schema.Snapshot

	s.commitMu.Lock()
	defer func() {
		s.commitMu.Unlock()
		if changed != nil {
			s.notifyChange(*changed)
		}
	}()

	stored, err := s.snaps.Version(ctx)
	if err != nil {
		return false, err
	}
	if !stored.After(s.LastApplied()) {
		return false, nil
	}

	var advanced bool
	changed, advanced = s.adoptLocked(ctx)
	return advanced, nil
}

// adoptLocked loads a stored snapshot newer than lastApplied. advanced
// reports whether lastApplied moved; changed is the new snapshot when its
// content differed, identical content only advances the version. Callers
// hold commitMu.
func (s *SyncContext) adoptLocked(ctx context.Context) (changed *schema.Snapshot, advanced bool) {
	stored, ok, err := s.snaps.Load(ctx)
	if err != nil || !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !stored.Version.After(s.lastApplied) {
		return nil, false
	}
	s.clock.Observe(stored.Version)
	s.lastApplied = stored.Version

	if d := s.policy(s.snap, stored); !d.Accept {
		s.snap.Version = stored.Version
		return nil, true
	}
	s.snap = stored.Sorted()
	snap := s.snap.Clone()
	return &snap, true
}

// Push drains the pending queue. Retryable failures schedule a retry with
// backoff, rejected operations are reported through OnRejected and an
// expired session halts syncing.
func (s *SyncContext) Push(ctx context.Context) error {
	if !s.alive.Load() {
		return schema.ErrStopped
	}
	if s.isExpired() {
		return schema.ErrAuthExpired
	}
	if !s.pushing.CompareAndSwap(false, true) {
		s.pushAgain.Store(true)
		return nil
	}
	defer func() {
		s.pushing.Store(false)
		if s.pushAgain.Swap(false) && s.alive.Load() {
			s.kickPush()
		}
	}()

	// A started submission is allowed to finish after ctx ends.
	submit := func(c context.Context, op schema.Operation) (schema.Result, error) {
		return s.remote.Submit(context.WithoutCancel(c), op)
	}

	var retryErr, authErr error
	confirmed := 0
	for op, out := range s.queue.DrainAll(ctx, submit) {
		switch {
		case out.Class == schema.ClassNone:
			confirmed++
		case out.Class == schema.ClassAuth:
			authErr = out.Err
		case out.Dropped:
			s.logger.Printf("Operation %s (%s %s) dropped: %v", op.ID, op.Method, op.Resource, out.Err)
			s.notifyRejected(op, out.Err)
		default:
			if retryErr == nil {
				retryErr = out.Err
			}
		}
	}

	if confirmed > 0 {
		s.logger.Printf("Confirmed %d operations", confirmed)
	}

	switch {
	case authErr != nil:
		s.expire(authErr)
		return fmt.Errorf("push: %w", authErr)
	case retryErr != nil:
		s.setError(retryErr)
		s.scheduleRetry()
		return fmt.Errorf("push: %w", retryErr)
	default:
		s.mu.Lock()
		s.retryAttempt = 0
		s.mu.Unlock()
		return nil
	}
}

// scheduleRetry arms the retry timer for the next drain.
func (s *SyncContext) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive.Load() || s.expired {
		return
	}
	delay := s.config.Retry.NextDelay(s.retryAttempt)
	s.retryAttempt++

	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryPending.Store(true)
	s.retryTimer = time.AfterFunc(delay, func() {
		s.retryPending.Store(false)
		s.kickPush()
	})
	s.logger.Printf("Retrying push in %v (attempt %d)", delay.Round(time.Millisecond), s.retryAttempt)
}

func (s *SyncContext) kickPush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the local snapshot.
func (s *SyncContext) Snapshot() schema.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// LastApplied returns the highest version this context has accepted.
func (s *SyncContext) LastApplied() schema.Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}

// Pending returns the operations awaiting confirmation.
func (s *SyncContext) Pending() []schema.Operation {
	return s.queue.Pending()
}

// Status reports the context's current state.
func (s *SyncContext) Status() Status {
	st := Status{
		ID:         s.id,
		Collection: s.config.Collection,
		State:      s.state(),
		Pending:    s.queue.Len(),
		Stopped:    s.started.Load() && !s.alive.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.Version = s.lastApplied
	st.Records = s.snap.Len()
	st.LastPull = s.lastPull
	st.Degraded = s.degraded
	st.Expired = s.expired
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *SyncContext) state() State {
	switch {
	case s.syncing.Load():
		return StatePulling
	case s.pushing.Load():
		return StatePushing
	case s.retryPending.Load():
		return StateAwaitingRetry
	default:
		return StateIdle
	}
}

// Stop tears the context down: the schedule and retry timer are released
// and the bus subscription is closed. In-flight remote calls finish in the
// background and their results are discarded.
func (s *SyncContext) Stop() error {
	if !s.alive.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancelRun
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryPending.Store(false)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.runWG.Wait()

	s.logger.Printf("Sync context %s stopped", s.id)
	return nil
}

// expire ends the session: no more pulls or pushes until a new context is
// created with fresh credentials.
func (s *SyncContext) expire(err error) {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.lastErr = err
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryPending.Store(false)
	cancel := s.cancelRun
	s.mu.Unlock()

	s.logger.Printf("Session expired, sync halted: %v", err)
	if cancel != nil {
		cancel()
	}
	if h := s.config.Hooks.OnSessionExpired; h != nil {
		h()
	}
}

func (s *SyncContext) isExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

func (s *SyncContext) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// save persists snap. Failures degrade the context to memory-only.
func (s *SyncContext) save(ctx context.Context, snap schema.Snapshot) {
	if err := s.snaps.Save(context.WithoutCancel(ctx), snap); err != nil {
		s.degrade(err)
		return
	}

	s.mu.Lock()
	recovered := s.degraded
	s.degraded = false
	s.mu.Unlock()
	if recovered {
		s.logger.Println("Storage available again")
	}
}

func (s *SyncContext) degrade(err error) {
	s.mu.Lock()
	first := !s.degraded
	s.degraded = true
	s.mu.Unlock()
	if first {
		s.logger.Printf("Warning: storage unavailable, continuing in memory: %v", err)
	}
}

func (s *SyncContext) publish(ctx context.Context, e schema.ChangeEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Printf("Warning: failed to broadcast %s event: %v", e.Action, err)
	}
}

func (s *SyncContext) notifyChange(snap schema.Snapshot) {
	if h := s.config.Hooks.OnChange; h != nil {
		h(snap)
	}
}

func (s *SyncContext) notifyRejected(op schema.Operation, err error) {
	if h := s.config.Hooks.OnRejected; h != nil {
		h(op, err)
	}
}
