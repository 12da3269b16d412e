package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dataplane-signaling/backend/pkg/models"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens (or creates) the database file at path and applies the
// pragmas the store relies on. Use ":memory:" only in tests.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return db, nil
}

// SQLLeaseManager stores leases through database/sql. It is used by the
// SQLite store.
type SQLLeaseManager struct {
	db  sqlQuerier
	cfg LeaseConfig
}

// NewSQLLeaseManager creates a lease manager over db.
func NewSQLLeaseManager(db *sql.DB, cfg LeaseConfig) *SQLLeaseManager {
	return &SQLLeaseManager{db: db, cfg: cfg.withDefaults()}
}

func (m *SQLLeaseManager) Acquire(ctx context.Context, entityID, owner string, duration time.Duration) (*models.Lease, error) {
	if duration <= 0 {
		duration = m.cfg.Duration
	}
	now := m.cfg.Clock.Now()

	var lease models.Lease
	err := m.db.QueryRowContext(ctx, rebind(acquireLeaseSQL),
		entityID, owner, now.UnixMilli(), duration.Milliseconds(), m.cfg.GracePeriod.Milliseconds(),
	).Scan(&lease.EntityID, &lease.LeasedBy, &lease.LeasedAt, &lease.LeaseDurationMillis)
	if errors.Is(err, sql.ErrNoRows) {
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

func (m *SQLLeaseManager) Release(ctx context.Context, entityID string) error {
	if _, err := m.db.ExecContext(ctx, rebind(deleteLeaseSQL), entityID); err != nil {
		return fmt.Errorf("release lease %s: %w", entityID, err)
	}
	return nil
}

func (m *SQLLeaseManager) Get(ctx context.Context, entityID string) (*models.Lease, error) {
	var lease models.Lease
	err := m.db.QueryRowContext(ctx, rebind(selectLeaseSQL), entityID).
		Scan(&lease.EntityID, &lease.LeasedBy, &lease.LeasedAt, &lease.LeaseDurationMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lease %s: %w", entityID, err)
	}
	return &lease, nil
}

// SQLiteFlowStore is a FlowStore backed by a single SQLite file.
type SQLiteFlowStore struct {
	db     *sql.DB
	cfg    LeaseConfig
	leases *SQLLeaseManager
}

// NewSQLiteFlowStore creates a store over an already opened database.
func NewSQLiteFlowStore(db *sql.DB, cfg LeaseConfig) *SQLiteFlowStore {
	cfg = cfg.withDefaults()
	return &SQLiteFlowStore{db: db, cfg: cfg, leases: NewSQLLeaseManager(db, cfg)}
}

// Migrate creates the dataflows and leases tables if they do not exist.
func (s *SQLiteFlowStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteFlowStore) FindByID(ctx context.Context, id string) (*models.DataFlow, error) {
	return findSQLFlow(ctx, s.db, id)
}

func (s *SQLiteFlowStore) ListByState(ctx context.Context, states []models.DataFlowState, limit int) ([]*models.DataFlow, error) {
	if len(states) == 0 {
		return []*models.DataFlow{}, nil
	}
	query, args := listByStateSQL(states, limit)
	rows, err := s.db.QueryContext(ctx, rebind(query), args...)
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

func (s *SQLiteFlowStore) Begin(_ context.Context, owner string) (FlowTx, error) {
	if owner == "" {
		return nil, fmt.Errorf("transaction owner is required")
	}
	return &sqlTx{store: s, txState: newTxState(owner)}, nil
}

func (s *SQLiteFlowStore) Leases() LeaseManager {
	return s.leases
}

func (s *SQLiteFlowStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func findSQLFlow(ctx context.Context, db sqlQuerier, id string) (*models.DataFlow, error) {
	var rec flowRecord
	err := db.QueryRowContext(ctx, rebind(selectFlowSQL), id).Scan(rec.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data flow %s: %w", id, err)
	}
	return rec.toFlow()
}

// withSQLTx runs fn in a database transaction, committing on success.
func withSQLTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	store *SQLiteFlowStore
	txState
}

func (t *sqlTx) FindByIDAndLease(ctx context.Context, id string) (*models.DataFlow, error) {
	if t.done {
		return nil, ErrTxDone
	}
	var flow *models.DataFlow
	err := withSQLTx(ctx, t.store.db, func(tx *sql.Tx) error {
		leases := &SQLLeaseManager{db: tx, cfg: t.store.cfg}
		if _, err := leases.Acquire(ctx, id, t.owner, t.store.cfg.Duration); err != nil {
			return err
		}
		f, err := findSQLFlow(ctx, tx, id)
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

func (t *sqlTx) Upsert(ctx context.Context, flow *models.DataFlow, commit bool) error {
	if err := t.stage(flow); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	err := withSQLTx(ctx, t.store.db, func(tx *sql.Tx) error {
		for _, id := range t.leased {
			res, err := tx.ExecContext(ctx, rebind(deleteOwnedLeaseSQL), id, t.owner)
			if err != nil {
				return fmt.Errorf("release lease %s: %w", id, err)
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return fmt.Errorf("%w: %s", ErrLeaseLost, id)
			}
		}
		for _, f := range t.pending() {
			rec, err := toRecord(f)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, rebind(upsertFlowSQL), rec.values()...); err != nil {
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

func (t *sqlTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	var errs []error
	for _, id := range t.leased {
		if _, err := t.store.db.ExecContext(ctx, rebind(deleteOwnedLeaseSQL), id, t.owner); err != nil {
			errs = append(errs, fmt.Errorf("release lease %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
