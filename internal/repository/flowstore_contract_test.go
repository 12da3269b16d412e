package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"dataplane-signaling/backend/pkg/models"
)

var epoch = time.UnixMilli(1_700_000_000_000)

const (
	testLeaseDuration = 30 * time.Second
	testGracePeriod   = 5 * time.Second
)

func testLeaseConfig(clk *clocktesting.FakeClock) LeaseConfig {
	return LeaseConfig{Duration: testLeaseDuration, GracePeriod: testGracePeriod, Clock: clk}
}

func newTestFlow(id string, state models.DataFlowState, updatedAt int64) *models.DataFlow {
	return &models.DataFlow{
		ID:    id,
		State: state,
		Source: &models.DataAddress{
			ID:         "src-" + id,
			Type:       "HttpData",
			Properties: map[string]any{"baseUrl": "https://provider.example/data"},
		},
		TransferType:    models.TransferType{DestinationType: "HttpData", FlowType: models.FlowTypePull},
		RuntimeID:       "runtime-1",
		ParticipantID:   "participant-a",
		AssetID:         "asset-1",
		AgreementID:     "agreement-1",
		IsConsumer:      true,
		CallbackAddress: "https://control.example/callback",
		Properties:      map[string]string{"tier": "gold"},
		ResourceDefinitions: []models.ProvisionResource{
			{ID: "res-1", Type: "bucket", Properties: map[string]string{"name": "b1"}},
		},
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}

// createFlow writes flow through a committed transaction owned by "seed".
func createFlow(t *testing.T, store FlowStore, flow *models.DataFlow) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx, "seed")
	require.NoError(t, err)
	_, err = tx.FindByIDAndLease(ctx, flow.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, tx.Upsert(ctx, flow, true))
}

// runFlowStoreContract checks the behaviour every FlowStore implementation
// must share. newStore returns a fresh, empty store driven by clk.
func runFlowStoreContract(t *testing.T, newStore func(t *testing.T, clk *clocktesting.FakeClock) FlowStore) {
	ctx := context.Background()

	t.Run("create under lease and read back", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		flow := newTestFlow(uuid.NewString(), models.StatePreparing, epoch.UnixMilli())

		tx, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = tx.FindByIDAndLease(ctx, flow.ID)
		require.ErrorIs(t, err, ErrNotFound)

		lease, err := store.Leases().Get(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, "owner-a", lease.LeasedBy)

		require.NoError(t, tx.Upsert(ctx, flow, true))

		got, err := store.FindByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, flow, got)

		_, err = store.Leases().Get(ctx, flow.ID)
		assert.ErrorIs(t, err, ErrNotFound, "commit releases the lease")
	})

	t.Run("find by id on missing flow", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		_, err := store.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("second owner is rejected while lease is live", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		flow := newTestFlow(uuid.NewString(), models.StateStarted, epoch.UnixMilli())
		createFlow(t, store, flow)

		txA, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = txA.FindByIDAndLease(ctx, flow.ID)
		require.NoError(t, err)

		txB, err := store.Begin(ctx, "owner-b")
		require.NoError(t, err)
		_, err = txB.FindByIDAndLease(ctx, flow.ID)
		var conflict *LeaseConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, flow.ID, conflict.EntityID)
		assert.Equal(t, "owner-a", conflict.LeasedBy)

		require.NoError(t, txA.Rollback(ctx))
		require.NoError(t, txB.Rollback(ctx))

		txC, err := store.Begin(ctx, "owner-b")
		require.NoError(t, err)
		got, err := txC.FindByIDAndLease(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateStarted, got.State)
		require.NoError(t, txC.Rollback(ctx))
	})

	t.Run("same owner re-enters its lease", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		flow := newTestFlow(uuid.NewString(), models.StateStarted, epoch.UnixMilli())
		createFlow(t, store, flow)

		tx, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = tx.FindByIDAndLease(ctx, flow.ID)
		require.NoError(t, err)
		_, err = tx.FindByIDAndLease(ctx, flow.ID)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(ctx))
	})

	t.Run("rollback discards staged writes and leases", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		flow := newTestFlow(uuid.NewString(), models.StatePreparing, epoch.UnixMilli())

		tx, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = tx.FindByIDAndLease(ctx, flow.ID)
		require.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, tx.Upsert(ctx, flow, false))
		require.NoError(t, tx.Rollback(ctx))

		_, err = store.FindByID(ctx, flow.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Leases().Get(ctx, flow.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("staged writes land together on commit", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		first := newTestFlow(uuid.NewString(), models.StatePreparing, epoch.UnixMilli())
		second := newTestFlow(uuid.NewString(), models.StateStarting, epoch.UnixMilli())

		tx, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = tx.FindByIDAndLease(ctx, first.ID)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = tx.FindByIDAndLease(ctx, second.ID)
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, tx.Upsert(ctx, first, false))
		_, err = store.FindByID(ctx, first.ID)
		assert.ErrorIs(t, err, ErrNotFound, "staged write is not visible before commit")

		require.NoError(t, tx.Upsert(ctx, second, true))
		for _, id := range []string{first.ID, second.ID} {
			_, err := store.FindByID(ctx, id)
			assert.NoError(t, err)
			_, err = store.Leases().Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
		}
	})

	t.Run("upsert requires the lease", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		tx, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		err = tx.Upsert(ctx, newTestFlow("not-leased", models.StateStarted, epoch.UnixMilli()), true)
		assert.Error(t, err)
		require.NoError(t, tx.Rollback(ctx))
	})

	t.Run("finished transaction", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		flow := newTestFlow(uuid.NewString(), models.StatePreparing, epoch.UnixMilli())

		tx, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = tx.FindByIDAndLease(ctx, flow.ID)
		require.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, tx.Upsert(ctx, flow, true))

		assert.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
		assert.ErrorIs(t, tx.Upsert(ctx, flow, true), ErrTxDone)
		_, err = tx.FindByIDAndLease(ctx, flow.ID)
		assert.ErrorIs(t, err, ErrTxDone)

		got, err := store.FindByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatePreparing, got.State)
	})

	t.Run("expired lease is taken over and the old owner loses its commit", func(t *testing.T) {
		clk := clocktesting.NewFakeClock(epoch)
		store := newStore(t, clk)
		flow := newTestFlow(uuid.NewString(), models.StateStarted, epoch.UnixMilli())
		createFlow(t, store, flow)

		txA, err := store.Begin(ctx, "owner-a")
		require.NoError(t, err)
		_, err = txA.FindByIDAndLease(ctx, flow.ID)
		require.NoError(t, err)

		// Still inside the grace window.
		clk.Step(testLeaseDuration + testGracePeriod - time.Millisecond)
		txB, err := store.Begin(ctx, "owner-b")
		require.NoError(t, err)
		_, err = txB.FindByIDAndLease(ctx, flow.ID)
		var conflict *LeaseConflictError
		require.ErrorAs(t, err, &conflict)

		clk.Step(time.Millisecond)
		_, err = txB.FindByIDAndLease(ctx, flow.ID)
		require.NoError(t, err)

		stale := flow.Clone()
		stale.State = models.StateSuspended
		err = txA.Upsert(ctx, stale, true)
		require.ErrorIs(t, err, ErrLeaseLost)
		require.NoError(t, txA.Rollback(ctx))

		lease, err := store.Leases().Get(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, "owner-b", lease.LeasedBy, "rollback keeps the new owner's lease")

		got, err := store.FindByID(ctx, flow.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StateStarted, got.State)
		require.NoError(t, txB.Rollback(ctx))
	})

	t.Run("lease manager", func(t *testing.T) {
		clk := clocktesting.NewFakeClock(epoch)
		leases := newStore(t, clk).Leases()

		lease, err := leases.Acquire(ctx, "entity-1", "owner-a", 0)
		require.NoError(t, err)
		assert.Equal(t, testLeaseDuration.Milliseconds(), lease.LeaseDurationMillis)
		assert.Equal(t, epoch.UnixMilli(), lease.LeasedAt)

		clk.Step(10 * time.Second)
		refreshed, err := leases.Acquire(ctx, "entity-1", "owner-a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, clk.Now().UnixMilli(), refreshed.LeasedAt)
		assert.Equal(t, time.Minute.Milliseconds(), refreshed.LeaseDurationMillis)

		_, err = leases.Acquire(ctx, "entity-1", "owner-b", 0)
		var conflict *LeaseConflictError
		require.ErrorAs(t, err, &conflict)

		require.NoError(t, leases.Release(ctx, "entity-1"))
		require.NoError(t, leases.Release(ctx, "entity-1"), "release is idempotent")
		_, err = leases.Get(ctx, "entity-1")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = leases.Acquire(ctx, "entity-1", "owner-b", 0)
		assert.NoError(t, err)
	})

	t.Run("list by state", func(t *testing.T) {
		store := newStore(t, clocktesting.NewFakeClock(epoch))
		base := epoch.UnixMilli()
		createFlow(t, store, newTestFlow("c", models.StateStarted, base+30))
		createFlow(t, store, newTestFlow("a", models.StateStarted, base+10))
		createFlow(t, store, newTestFlow("b", models.StateSuspended, base+20))
		createFlow(t, store, newTestFlow("d", models.StateCompleted, base))

		flows, err := store.ListByState(ctx, []models.DataFlowState{models.StateStarted, models.StateSuspended}, 0)
		require.NoError(t, err)
		ids := make([]string, 0, len(flows))
		for _, f := range flows {
			ids = append(ids, f.ID)
		}
		assert.Equal(t, []string{"a", "b", "c"}, ids)

		limited, err := store.ListByState(ctx, []models.DataFlowState{models.StateStarted, models.StateSuspended}, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := store.ListByState(ctx, []models.DataFlowState{models.StateTerminated}, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
