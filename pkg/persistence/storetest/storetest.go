// Package storetest holds the conformance suite both Store implementations
// must pass. The PostgreSQL and in-memory stores run the same assertions so
// a behavioural drift between them shows up as a test failure, not a
// production surprise.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/persistence"
)

// Factory builds a fresh, empty store for one subtest.
type Factory func(t *testing.T) persistence.Store

// IncrementCounter is a PatchFunc that bumps the "n" field of a JSON body.
// Exposed so store-specific stress tests can reuse it.
func IncrementCounter(d persistence.Document) (persistence.Document, error) {
	var body map[string]int
	if err := json.Unmarshal(d.Body, &body); err != nil {
		return d, err
	}
	body["n"]++
	raw, err := json.Marshal(body)
	if err != nil {
		return d, err
	}
	d.Body = raw
	return d, nil
}

// Run executes the full conformance suite against the factory's stores.
func Run(t *testing.T, newStore Factory) {
	t.Run("PutGetRoundTrip", func(t *testing.T) { testPutGetRoundTrip(t, newStore(t)) })
	t.Run("PutDuplicate", func(t *testing.T) { testPutDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PartitionIsolation", func(t *testing.T) { testPartitionIsolation(t, newStore(t)) })
	t.Run("ListFilterOrderLimit", func(t *testing.T) { testListFilterOrderLimit(t, newStore(t)) })
	t.Run("PatchBumpsRev", func(t *testing.T) { testPatchBumpsRev(t, newStore(t)) })
	t.Run("IdentityPatchIsNoOp", func(t *testing.T) { testIdentityPatchIsNoOp(t, newStore(t)) })
	t.Run("ConcurrentPatchesAllLand", func(t *testing.T) { testConcurrentPatchesAllLand(t, newStore(t)) })
	t.Run("ConflictExhaustion", func(t *testing.T) { testConflictExhaustion(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("UnknownSchemaVersionRejected", func(t *testing.T) { testUnknownSchemaVersion(t, newStore(t)) })
	t.Run("InvalidKeysRejected", func(t *testing.T) { testInvalidKeys(t, newStore(t)) })
}

func doc(kind persistence.Kind, id, partition string, body any) persistence.Document {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return persistence.Document{
		Kind:          kind,
		ID:            id,
		PartitionKey:  partition,
		SchemaVersion: persistence.CurrentSchemaVersion,
		Body:          raw,
	}
}

func testPutGetRoundTrip(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	put, err := store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]string{"user_request": "hello"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), put.Rev)
	assert.False(t, put.CreatedAt.IsZero())

	got, err := store.Get(ctx, persistence.KindPlans, "plan-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "plan-1", got.ID)
	assert.Equal(t, "sess-1", got.PartitionKey)
	assert.JSONEq(t, `{"user_request":"hello"}`, string(got.Body))
	assert.Equal(t, persistence.CurrentSchemaVersion, got.SchemaVersion)
}

func testPutDuplicate(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 1}))
	require.NoError(t, err)

	_, err = store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 2}))
	require.ErrorIs(t, err, persistence.ErrAlreadyExists)
}

func testGetMissing(t *testing.T, store persistence.Store) {
	_, err := store.Get(context.Background(), persistence.KindPlans, "nope", "sess-1")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testPartitionIsolation(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindDatasets, "ds-1", "sess-a", map[string]string{"file": "a.csv"}))
	require.NoError(t, err)
	_, err = store.Put(ctx, doc(persistence.KindDatasets, "ds-1", "sess-b", map[string]string{"file": "b.csv"}))
	require.NoError(t, err, "same id in another partition must not collide")

	_, err = store.Get(ctx, persistence.KindDatasets, "ds-1", "sess-c")
	require.ErrorIs(t, err, persistence.ErrNotFound)

	fromA, err := store.List(ctx, persistence.KindDatasets, "sess-a", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, fromA, 1)
	assert.JSONEq(t, `{"file":"a.csv"}`, string(fromA[0].Body))
}

func testListFilterOrderLimit(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d := doc(persistence.KindPlans, fmt.Sprintf("plan-%d", i), "sess-1", map[string]int{"n": i})
		if i%2 == 0 {
			d.Status = "running"
		} else {
			d.Status = "completed"
		}
		_, err := store.Put(ctx, d)
		require.NoError(t, err)
	}

	all, err := store.List(ctx, persistence.KindPlans, "sess-1", persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.Before(all[i-1].CreatedAt), "ascending created_at order")
	}

	running, err := store.List(ctx, persistence.KindPlans, "sess-1", persistence.ListOptions{Statuses: []string{"running"}})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	limited, err := store.List(ctx, persistence.KindPlans, "sess-1", persistence.ListOptions{Limit: 2, Descending: true})
	require.NoError(t, err)
	require.Len(t, limited, 2)

	everywhere, err := store.ListAll(ctx, persistence.KindPlans, persistence.ListOptions{Statuses: []string{"running", "completed"}})
	require.NoError(t, err)
	assert.Len(t, everywhere, 5)
}

func testPatchBumpsRev(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 0}))
	require.NoError(t, err)

	patched, err := store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(d persistence.Document) (persistence.Document, error) {
		d.Body = []byte(`{"n":1}`)
		d.Status = "running"
		return d, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), patched.Rev)
	assert.Equal(t, "running", patched.Status)

	got, err := store.Get(ctx, persistence.KindPlans, "plan-1", "sess-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(got.Body))
	assert.Equal(t, int64(2), got.Rev)
}

func testIdentityPatchIsNoOp(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 0}))
	require.NoError(t, err)

	before, err := store.Get(ctx, persistence.KindPlans, "plan-1", "sess-1")
	require.NoError(t, err)

	after, err := store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(d persistence.Document) (persistence.Document, error) {
		return d, nil
	})
	require.NoError(t, err)
	assert.Equal(t, before.Rev, after.Rev, "identity patch must not bump rev")
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func testConcurrentPatchesAllLand(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 0}))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", IncrementCounter)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, persistence.KindPlans, "plan-1", "sess-1")
	require.NoError(t, err)
	var body map[string]int
	require.NoError(t, json.Unmarshal(got.Body, &body))
	assert.Equal(t, writers, body["n"], "every increment must survive the races")
	assert.Equal(t, int64(writers+1), got.Rev)
}

func testConflictExhaustion(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 0}))
	require.NoError(t, err)

	// An impure patch that advances the revision out from under itself on
	// every attempt can never win and must exhaust the retry budget.
	attempts := 0
	_, err = store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(d persistence.Document) (persistence.Document, error) {
		attempts++
		_, patchErr := store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(inner persistence.Document) (persistence.Document, error) {
			inner.Body = []byte(fmt.Sprintf(`{"n":%d}`, attempts))
			return inner, nil
		})
		if patchErr != nil {
			return d, patchErr
		}
		d.Body = []byte(`{"n":-1}`)
		return d, nil
	})
	require.ErrorIs(t, err, persistence.ErrConflict)
	assert.Equal(t, persistence.DefaultConflictRetries, attempts)
}

func testDelete(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Put(ctx, doc(persistence.KindDatasets, "ds-1", "sess-1", map[string]string{"file": "a.csv"}))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, persistence.KindDatasets, "ds-1", "sess-1"))
	_, err = store.Get(ctx, persistence.KindDatasets, "ds-1", "sess-1")
	require.ErrorIs(t, err, persistence.ErrNotFound)

	err = store.Delete(ctx, persistence.KindDatasets, "ds-1", "sess-1")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func testUnknownSchemaVersion(t *testing.T, store persistence.Store) {
	d := doc(persistence.KindPlans, "plan-1", "sess-1", map[string]int{"n": 0})
	d.SchemaVersion = persistence.CurrentSchemaVersion + 1

	_, err := store.Put(context.Background(), d)
	require.ErrorIs(t, err, persistence.ErrFatal)
}

func testInvalidKeys(t *testing.T, store persistence.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "bogus", "id", "part")
	require.ErrorIs(t, err, persistence.ErrFatal)

	_, err = store.Get(ctx, persistence.KindPlans, "", "part")
	require.ErrorIs(t, err, persistence.ErrFatal)

	_, err = store.Get(ctx, persistence.KindPlans, "id", "")
	require.ErrorIs(t, err, persistence.ErrFatal)

	_, err = store.List(ctx, persistence.KindPlans, "", persistence.ListOptions{})
	require.ErrorIs(t, err, persistence.ErrFatal)
}
