package persistence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planor-ai/planor/pkg/persistence"
	"github.com/planor-ai/planor/pkg/persistence/storetest"
)

func TestMemStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.Store {
		return persistence.NewMemStore()
	})
}

func TestMemStoreConflictRetryOverride(t *testing.T) {
	store := persistence.NewMemStore(persistence.WithConflictRetries(2))
	ctx := context.Background()

	_, err := store.Put(ctx, persistence.Document{
		Kind:          persistence.KindPlans,
		ID:            "plan-1",
		PartitionKey:  "sess-1",
		SchemaVersion: persistence.CurrentSchemaVersion,
		Body:          []byte(`{"n":0}`),
	})
	require.NoError(t, err)

	attempts := 0
	_, err = store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(d persistence.Document) (persistence.Document, error) {
		attempts++
		// Move the revision out from under the outer patch every attempt.
		_, innerErr := store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(inner persistence.Document) (persistence.Document, error) {
			inner.Body = append(inner.Body, ' ')
			return inner, nil
		})
		if innerErr != nil {
			return d, innerErr
		}
		d.Body = []byte(`{"n":1}`)
		return d, nil
	})
	require.ErrorIs(t, err, persistence.ErrConflict)
	assert.Equal(t, 2, attempts)
}

func TestMemStorePatchErrorPropagates(t *testing.T) {
	store := persistence.NewMemStore()
	ctx := context.Background()

	_, err := store.Put(ctx, persistence.Document{
		Kind:          persistence.KindPlans,
		ID:            "plan-1",
		PartitionKey:  "sess-1",
		SchemaVersion: persistence.CurrentSchemaVersion,
		Body:          []byte(`{}`),
	})
	require.NoError(t, err)

	_, err = store.Patch(ctx, persistence.KindPlans, "plan-1", "sess-1", func(d persistence.Document) (persistence.Document, error) {
		return d, assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	// A failed patch leaves the document untouched.
	got, err := store.Get(ctx, persistence.KindPlans, "plan-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Rev)
}
