package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"dataplane-signaling/backend/pkg/models"
)

// DefaultLeaseDuration is used when LeaseConfig.Duration is zero.
const DefaultLeaseDuration = 60 * time.Second

var (
	// ErrNotFound is returned when no data flow (or lease) exists for an id.
	ErrNotFound = errors.New("not found")
	// ErrLeaseLost is returned by a committing upsert whose lease was taken
	// over by another owner after it expired.
	ErrLeaseLost = errors.New("lease lost")
	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("transaction already committed or rolled back")
)

// LeaseConflictError reports that a live lease on EntityID belongs to someone else.
type LeaseConflictError struct {
	EntityID string
	LeasedBy string
}

func (e *LeaseConflictError) Error() string {
	return fmt.Sprintf("entity %s is already leased by %s", e.EntityID, e.LeasedBy)
}

// LeaseConfig controls lease timing for a store.
type LeaseConfig struct {
	Duration time.Duration
	// GracePeriod extends every lease's live window to tolerate clock skew.
	GracePeriod time.Duration
	Clock       clock.PassiveClock
}

func (c LeaseConfig) withDefaults() LeaseConfig {
	if c.Duration <= 0 {
		c.Duration = DefaultLeaseDuration
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

// LeaseManager grants and revokes single-owner leases per entity id.
type LeaseManager interface {
	// Acquire takes the lease if nobody holds a live one, or refreshes it if
	// owner already holds it. Otherwise it returns a *LeaseConflictError.
	Acquire(ctx context.Context, entityID, owner string, duration time.Duration) (*models.Lease, error)
	// Release removes the lease. Releasing a missing lease is not an error.
	Release(ctx context.Context, entityID string) error
	// Get returns the stored lease, live or not, or ErrNotFound.
	Get(ctx context.Context, entityID string) (*models.Lease, error)
}

// FlowStore persists data flows. All mutation goes through a FlowTx.
type FlowStore interface {
	// FindByID returns a snapshot of the flow without leasing it, or ErrNotFound.
	FindByID(ctx context.Context, id string) (*models.DataFlow, error)
	// ListByState returns up to limit flows in any of the given states,
	// least recently updated first.
	ListByState(ctx context.Context, states []models.DataFlowState, limit int) ([]*models.DataFlow, error)
	// Begin opens a transaction whose leases are held by owner.
	Begin(ctx context.Context, owner string) (FlowTx, error)
	// Leases exposes the store's lease manager.
	Leases() LeaseManager
	// Close releases the store's resources.
	Close() error
}

// FlowTx is the transaction boundary for one signaling operation.
type FlowTx interface {
	// FindByIDAndLease leases id and reads the flow in one atomic step. A
	// *LeaseConflictError means another owner holds the lease. ErrNotFound
	// means no flow exists yet; the lease is still held so the caller can
	// create the flow under it.
	FindByIDAndLease(ctx context.Context, id string) (*models.DataFlow, error)
	// Upsert inserts or replaces the flow by id. With commit=false the write is
	// staged; with commit=true every staged write and this one are persisted
	// and the transaction's leases are released atomically.
	Upsert(ctx context.Context, flow *models.DataFlow, commit bool) error
	// Rollback discards staged writes and releases the transaction's leases.
	// It is a no-op after a successful commit.
	Rollback(ctx context.Context) error
}
