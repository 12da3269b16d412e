package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dataplane-signaling/backend/pkg/models"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLeaseManager stores leases in the leases table.
type PostgresLeaseManager struct {
	db  pgxQuerier
	cfg LeaseConfig
}

// NewPostgresLeaseManager creates a lease manager over the pool.
func NewPostgresLeaseManager(db *pgxpool.Pool, cfg LeaseConfig) *PostgresLeaseManager {
	return &PostgresLeaseManager{db: db, cfg: cfg.withDefaults()}
}

func (m *PostgresLeaseManager) Acquire(ctx context.Context, entityID, owner string, duration time.Duration) (*models.Lease, error) {
	if duration <= 0 {
		duration = m.cfg.Duration
	}
	now := m.cfg.Clock.Now()

	var lease models.Lease
	err := m.db.QueryRow(ctx, acquireLeaseSQL,
		entityID, owner, now.UnixMilli(), duration.Milliseconds(), m.cfg.GracePeriod.Milliseconds(),
	).Scan(&lease.EntityID, &lease.LeasedBy, &lease.LeasedAt, &lease.LeaseDurationMillis)
	if errors.Is(err, pgx.ErrNoRows) {
		conflict := &LeaseConflictError{EntityID: entityID}
		if current, getErr := m.Get(ctx, entityID); getErr == nil {
			conflict.LeasedBy = current.LeasedBy
		}
		return nil, conflict
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", entityID, err)
	}
	return &lease, nil
}

func (m *PostgresLeaseManager) Release(ctx context.Context, entityID string) error {
	if _, err := m.db.Exec(ctx, deleteLeaseSQL, entityID); err != nil {
		return fmt.Errorf("release lease %s: %w", entityID, err)
	}
	return nil
}

func (m *PostgresLeaseManager) Get(ctx context.Context, entityID string) (*models.Lease, error) {
	var lease models.Lease
	err := m.db.QueryRow(ctx, selectLeaseSQL, entityID).
		Scan(&lease.EntityID, &lease.LeasedBy, &lease.LeasedAt, &lease.LeaseDurationMillis)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lease %s: %w", entityID, err)
	}
	return &lease, nil
}

// PostgresFlowStore is a PostgreSQL implementation of the FlowStore interface.
type PostgresFlowStore struct {
	db     *pgxpool.Pool
	cfg    LeaseConfig
	leases *PostgresLeaseManager
}

// NewPostgresFlowStore creates a new PostgresFlowStore.
func NewPostgresFlowStore(db *pgxpool.Pool, cfg LeaseConfig) *PostgresFlowStore {
	cfg = cfg.withDefaults()
	return &PostgresFlowStore{db: db, cfg: cfg, leases: NewPostgresLeaseManager(db, cfg)}
}

// Migrate creates the dataflows and leases tables if they do not exist.
func (s *PostgresFlowStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresFlowStore) FindByID(ctx context.Context, id string) (*models.DataFlow, error) {
	return findPostgresFlow(ctx, s.db, id)
}

func (s *PostgresFlowStore) ListByState(ctx context.Context, states []models.DataFlowState, limit int) ([]*models.DataFlow, error) {
	if len(states) == 0 {
		return []*models.DataFlow{}, nil
	}
	query, args := listByStateSQL(states, limit)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list data flows: %w", err)
	}
	defer rows.Close()

	flows := make([]*models.DataFlow, 0)
	for rows.Next() {
		var rec flowRecord
		if err := rows.Scan(rec.scanTargets()...); err != nil {
			return nil, err
		}
		f, err := rec.toFlow()
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *PostgresFlowStore) Begin(_ context.Context, owner string) (FlowTx, error) {
	if owner == "" {
		return nil, fmt.Errorf("transaction owner is required")
	}
	return &postgresTx{store: s, txState: newTxState(owner)}, nil
}

func (s *PostgresFlowStore) Leases() LeaseManager {
	return s.leases
}

func (s *PostgresFlowStore) Close() error {
	s.db.Close()
	return nil
}

func findPostgresFlow(ctx context.Context, db pgxQuerier, id string) (*models.DataFlow, error) {
	var rec flowRecord
	err := db.QueryRow(ctx, selectFlowSQL, id).Scan(rec.scanTargets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data flow %s: %w", id, err)
	}
	return rec.toFlow()
}

// postgresTx holds no database transaction between calls. Each lease is
// committed as soon as it is acquired and the staged writes go out in a single
// database transaction on commit.
type postgresTx struct {
	store *PostgresFlowStore
	txState
}

func (t *postgresTx) FindByIDAndLease(ctx context.Context, id string) (*models.DataFlow, error) {
	if t.done {
		return nil, ErrTxDone
	}
	var flow *models.DataFlow
	err := pgx.BeginFunc(ctx, t.store.db, func(tx pgx.Tx) error {
		leases := &PostgresLeaseManager{db: tx, cfg: t.store.cfg}
		if _, err := leases.Acquire(ctx, id, t.owner, t.store.cfg.Duration); err != nil {
			return err
		}
		f, err := findPostgresFlow(ctx, tx, id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		flow = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.track(id)
	if flow == nil {
		return nil, ErrNotFound
	}
	return flow, nil
}

func (t *postgresTx) Upsert(ctx context.Context, flow *models.DataFlow, commit bool) error {
	if err := t.stage(flow); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	err := pgx.BeginFunc(ctx, t.store.db, func(tx pgx.Tx) error {
		for _, id := range t.leased {
			tag, err := tx.Exec(ctx, deleteOwnedLeaseSQL, id, t.owner)
			if err != nil {
				return fmt.Errorf("release lease %s: %w", id, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", ErrLeaseLost, id)
			}
		}
		for _, f := range t.pending() {
			rec, err := toRecord(f)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, upsertFlowSQL, rec.values()...); err != nil {
				return fmt.Errorf("upsert data flow %s: %w", f.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.finish()
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	var errs []error
	for _, id := range t.leased {
		if _, err := t.store.db.Exec(ctx, deleteOwnedLeaseSQL, id, t.owner); err != nil {
			errs = append(errs, fmt.Errorf("release lease %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
