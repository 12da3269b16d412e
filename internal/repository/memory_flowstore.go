package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"dataplane-signaling/backend/pkg/models"
)

// MemoryLeaseManager keeps leases in a map guarded by a mutex.
type MemoryLeaseManager struct {
	mu     sync.Mutex
	leases map[string]models.Lease
	cfg    LeaseConfig
}

// NewMemoryLeaseManager creates an empty lease manager.
func NewMemoryLeaseManager(cfg LeaseConfig) *MemoryLeaseManager {
	return &MemoryLeaseManager{
		leases: make(map[string]models.Lease),
		cfg:    cfg.withDefaults(),
	}
}

func (m *MemoryLeaseManager) Acquire(_ context.Context, entityID, owner string, duration time.Duration) (*models.Lease, error) {
	if duration <= 0 {
		duration = m.cfg.Duration
	}
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.leases[entityID]; ok && current.LeasedBy != owner && current.IsLive(now, m.cfg.GracePeriod) {
		return nil, &LeaseConflictError{EntityID: entityID, LeasedBy: current.LeasedBy}
	}
	lease := models.NewLease(entityID, owner, now, duration)
	m.leases[entityID] = lease
	return &lease, nil
}

func (m *MemoryLeaseManager) Release(_ context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, entityID)
	return nil
}

func (m *MemoryLeaseManager) Get(_ context.Context, entityID string) (*models.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lease, ok := m.leases[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	return &lease, nil
}

// releaseOwnedLocked deletes the lease only if owner still holds it and reports
// whether it did. Callers must hold m.mu.
func (m *MemoryLeaseManager) releaseOwnedLocked(entityID, owner string) bool {
	current, ok := m.leases[entityID]
	if !ok || current.LeasedBy != owner {
		return false
	}
	delete(m.leases, entityID)
	return true
}

// MemoryFlowStore is a process-local FlowStore used for development and tests.
type MemoryFlowStore struct {
	mu     sync.RWMutex
	flows  map[string]*models.DataFlow
	leases *MemoryLeaseManager
	cfg    LeaseConfig
}

// NewMemoryFlowStore creates an empty in-memory store.
func NewMemoryFlowStore(cfg LeaseConfig) *MemoryFlowStore {
	cfg = cfg.withDefaults()
	return &MemoryFlowStore{
		flows:  make(map[string]*models.DataFlow),
		leases: NewMemoryLeaseManager(cfg),
		cfg:    cfg,
	}
}

func (s *MemoryFlowStore) FindByID(_ context.Context, id string) (*models.DataFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryFlowStore) ListByState(_ context.Context, states []models.DataFlowState, limit int) ([]*models.DataFlow, error) {
	s.mu.RLock()
	out := make([]*models.DataFlow, 0)
	for _, f := range s.flows {
		if slices.Contains(states, f.State) {
			out = append(out, f.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.DataFlow) int {
		return cmp.Or(cmp.Compare(a.UpdatedAt, b.UpdatedAt), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryFlowStore) Begin(_ context.Context, owner string) (FlowTx, error) {
	if owner == "" {
		return nil, fmt.Errorf("transaction owner is required")
	}
	return &memoryTx{store: s, txState: newTxState(owner)}, nil
}

func (s *MemoryFlowStore) Leases() LeaseManager {
	return s.leases
}

func (s *MemoryFlowStore) Close() error {
	return nil
}

type memoryTx struct {
	store *MemoryFlowStore
	txState
}

func (t *memoryTx) FindByIDAndLease(ctx context.Context, id string) (*models.DataFlow, error) {
	if t.done {
		return nil, ErrTxDone
	}
	// The flow lock is held across both steps so no commit can slip in between.
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	if _, err := t.store.leases.Acquire(ctx, id, t.owner, t.store.cfg.Duration); err != nil {
		return nil, err
	}
	t.track(id)

	f, ok := t.store.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (t *memoryTx) Upsert(_ context.Context, flow *models.DataFlow, commit bool) error {
	if err := t.stage(flow); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.leases.mu.Lock()
	defer t.store.leases.mu.Unlock()

	for _, id := range t.leased {
		current, ok := t.store.leases.leases[id]
		if !ok || current.LeasedBy != t.owner {
			return fmt.Errorf("%w: %s", ErrLeaseLost, id)
		}
	}
	for _, f := range t.pending() {
		t.store.flows[f.ID] = f
	}
	for _, id := range t.leased {
		t.store.leases.releaseOwnedLocked(id, t.owner)
	}
	t.finish()
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.store.leases.mu.Lock()
	for _, id := range t.leased {
		t.store.leases.releaseOwnedLocked(id, t.owner)
	}
	t.store.leases.mu.Unlock()
	t.finish()
	return nil
}
