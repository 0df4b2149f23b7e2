package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikolaj20/erp-phonetech/internal/replica/schema"
	"github.com/nikolaj20/erp-phonetech/internal/replica/store"
)

func testOp(id, key string) schema.Operation {
	return schema.Operation{
		ID:       id,
		Action:   schema.ActionCreate,
		Resource: "/inventory",
		Method:   http.MethodPost,
		Key:      key,
		Payload:  json.RawMessage(`{}`),
	}
}

func ids(ops []schema.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}

// scripted returns a SubmitFunc failing with errs[op.ID] when set.
func scripted(errs map[string]error, calls *[]string) SubmitFunc {
	return func(ctx context.Context, op schema.Operation) (schema.Result, error) {
		*calls = append(*calls, op.ID)
		if err := errs[op.ID]; err != nil {
			return schema.Result{}, err
		}
		return schema.Result{Status: 200}, nil
	}
}

func TestQueue_DrainsInOrder(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, testOp(fmt.Sprintf("op-%d", i), "")))
	}

	var calls, yielded []string
	for op, out := range q.DrainAll(ctx, scripted(nil, &calls)) {
		assert.NoError(t, out.Err)
		assert.Equal(t, schema.ClassNone, out.Class)
		yielded = append(yielded, op.ID)
	}

	want := []string{"op-0", "op-1", "op-2", "op-3", "op-4"}
	assert.Equal(t, want, calls)
	assert.Equal(t, want, yielded)
	assert.Zero(t, q.Len())
}

func TestQueue_EnqueueValidates(t *testing.T) {
	q := NewQueue(nil, 5, testLogger)
	err := q.Enqueue(context.Background(), schema.Operation{ID: "bad"})
	assert.Error(t, err)
	assert.Zero(t, q.Len())
}

func TestQueue_SingleUse(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("a", "")))

	var calls []string
	seq := q.DrainAll(ctx, scripted(nil, &calls))
	for range seq {
	}
	require.NoError(t, q.Enqueue(ctx, testOp("b", "")))
	for range seq {
		t.Fatal("drained sequence must not restart")
	}
	assert.Equal(t, []string{"a"}, calls)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_RetryableFailureRequeued(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("a", "")))
	require.NoError(t, q.Enqueue(ctx, testOp("b", "")))

	var calls []string
	errs := map[string]error{"a": errors.New("timeout")}
	for op, out := range q.DrainAll(ctx, scripted(errs, &calls)) {
		if op.ID == "a" {
			assert.True(t, out.Requeued)
			assert.Equal(t, 1, op.Attempts)
		}
	}

	assert.Equal(t, []string{"a", "b"}, calls)
	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)

	// Next cycle resubmits without loss or duplication.
	calls = nil
	for range q.DrainAll(ctx, scripted(nil, &calls)) {
	}
	assert.Equal(t, []string{"a"}, calls)
	assert.Zero(t, q.Len())
}

func TestQueue_RetriedAfterFreshUnlessSameEntity(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("create-A", "A")))

	var calls []string
	submit := func(ctx context.Context, op schema.Operation) (schema.Result, error) {
		calls = append(calls, op.ID)
		// Mutations arriving mid-drain go to the fresh queue.
		require.NoError(t, q.Enqueue(ctx, testOp("update-A", "A")))
		require.NoError(t, q.Enqueue(ctx, testOp("create-B", "B")))
		return schema.Result{}, errors.New("flaky")
	}
	for range q.DrainAll(ctx, submit) {
	}

	assert.Equal(t, []string{"create-B", "create-A", "update-A"}, ids(q.Pending()))
}

func TestQueue_HoldsLaterOpsOnCarriedEntity(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)

	update := testOp("update-x", "x")
	update.Action = schema.ActionUpdate
	update.Resource = "/inventory/x"
	update.Method = http.MethodPut

	require.NoError(t, q.Enqueue(ctx, testOp("create-x", "x")))
	require.NoError(t, q.Enqueue(ctx, update))
	require.NoError(t, q.Enqueue(ctx, testOp("create-y", "y")))

	var calls, yielded []string
	errs := map[string]error{"create-x": fmt.Errorf("submit: %w", schema.ErrMalformedResponse)}
	for op, out := range q.DrainAll(ctx, scripted(errs, &calls)) {
		yielded = append(yielded, op.ID)
		if op.ID == "create-x" {
			assert.True(t, out.Requeued)
		}
	}

	assert.Equal(t, []string{"create-x", "create-y"}, calls, "update must not go out before its create")
	assert.Equal(t, []string{"create-x", "create-y"}, yielded)

	pending := q.Pending()
	require.Equal(t, []string{"create-x", "update-x"}, ids(pending))
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, 0, pending[1].Attempts)

	// Once the create succeeds the update follows in the same drain.
	calls = nil
	for range q.DrainAll(ctx, scripted(nil, &calls)) {
	}
	assert.Equal(t, []string{"create-x", "update-x"}, calls)
	assert.Zero(t, q.Len())
}

func TestQueue_NetworkFailureStopsDrain(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, testOp(id, "")))
	}

	var calls []string
	errs := map[string]error{"a": fmt.Errorf("dial: %w", schema.ErrNetworkUnavailable)}
	for range q.DrainAll(ctx, scripted(errs, &calls)) {
	}

	assert.Equal(t, []string{"a"}, calls)
	pending := q.Pending()
	assert.Equal(t, []string{"a", "b", "c"}, ids(pending))
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, 0, pending[1].Attempts)
	assert.Equal(t, 0, pending[2].Attempts)
}

func TestQueue_RejectedDropped(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("a", "")))
	require.NoError(t, q.Enqueue(ctx, testOp("b", "")))

	var calls []string
	errs := map[string]error{"a": &schema.RejectedError{Status: 422, Message: "invalid"}}
	var dropped []string
	for op, out := range q.DrainAll(ctx, scripted(errs, &calls)) {
		if out.Dropped {
			dropped = append(dropped, op.ID)
			assert.ErrorIs(t, out.Err, schema.ErrOperationRejected)
		}
	}

	assert.Equal(t, []string{"a"}, dropped)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Zero(t, q.Len())
}

func TestQueue_MaxAttempts(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 2, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("a", "")))

	var calls []string
	errs := map[string]error{"a": errors.New("boom")}

	for range q.DrainAll(ctx, scripted(errs, &calls)) {
	}
	require.Equal(t, 1, q.Len())

	var last Outcome
	for _, out := range q.DrainAll(ctx, scripted(errs, &calls)) {
		last = out
	}
	assert.True(t, last.Dropped)
	assert.ErrorIs(t, last.Err, schema.ErrRetriesExhausted)
	assert.Zero(t, q.Len())
}

func TestQueue_AuthHaltsAndKeeps(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("a", "")))
	require.NoError(t, q.Enqueue(ctx, testOp("b", "")))

	var calls []string
	errs := map[string]error{"a": schema.ErrAuthExpired}
	for range q.DrainAll(ctx, scripted(errs, &calls)) {
	}

	assert.Equal(t, []string{"a"}, calls)
	pending := q.Pending()
	assert.Equal(t, []string{"a", "b"}, ids(pending))
	assert.Equal(t, 0, pending[0].Attempts)
}

func TestQueue_ConsumerBreak(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, 5, testLogger)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, testOp(id, "")))
	}

	var calls []string
	for range q.DrainAll(ctx, scripted(nil, &calls)) {
		break
	}
	assert.Equal(t, []string{"a"}, calls)
	assert.Equal(t, []string{"b", "c"}, ids(q.Pending()))
}

func TestQueue_CancelledContext(t *testing.T) {
	q := NewQueue(nil, 5, testLogger)
	require.NoError(t, q.Enqueue(context.Background(), testOp("a", "")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []string
	for range q.DrainAll(ctx, scripted(nil, &calls)) {
	}
	assert.Empty(t, calls)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_Durable(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	snaps := store.NewSnapshots(st, "inventory")

	q := NewQueue(snaps, 5, testLogger)
	require.NoError(t, q.Enqueue(ctx, testOp("a", "A")))
	require.NoError(t, q.Enqueue(ctx, testOp("b", "B")))

	// Mid-drain the in-flight operation is still persisted.
	submit := func(ctx context.Context, op schema.Operation) (schema.Result, error) {
		persisted, err := snaps.LoadQueue(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids(persisted), op.ID)
		if op.ID == "b" {
			return schema.Result{}, errors.New("later")
		}
		return schema.Result{Status: 200}, nil
	}
	for range q.DrainAll(ctx, submit) {
	}

	restored := NewQueue(snaps, 5, testLogger)
	require.NoError(t, restored.Load(ctx))
	pending := restored.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestQueue_PersistFailure(t *testing.T) {
	st := store.NewMemoryStore()
	st.SetPutError(errors.New("quota exceeded"))
	q := NewQueue(store.NewSnapshots(st, "inventory"), 5, testLogger)

	err := q.Enqueue(context.Background(), testOp("a", ""))
	assert.ErrorIs(t, err, schema.ErrStorageUnavailable)
	assert.Equal(t, 1, q.Len())
}

func TestMergeRetried(t *testing.T) {
	fresh := []schema.Operation{testOp("f1", "X"), testOp("f2", ""), testOp("f3", "Y")}
	carried := []schema.Operation{testOp("r1", "X"), testOp("r2", "")}

	assert.Equal(t, []string{"f2", "f3", "r1", "r2", "f1"}, ids(mergeRetried(fresh, carried)))
	assert.Equal(t, []string{"f1", "f2", "f3"}, ids(mergeRetried(fresh, nil)))
	assert.Equal(t, []string{"r1", "r2"}, ids(mergeRetried(nil, carried)))
}
