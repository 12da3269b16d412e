package repository

import (
	"fmt"
	"slices"

	"dataplane-signaling/backend/pkg/models"
)

// txState is the bookkeeping every FlowTx implementation shares: which ids it
// leased and which writes are staged until commit.
type txState struct {
	owner  string
	leased []string
	staged map[string]*models.DataFlow
	order  []string
	done   bool
}

func newTxState(owner string) txState {
	return txState{owner: owner, staged: make(map[string]*models.DataFlow)}
}

func (s *txState) track(id string) {
	if !slices.Contains(s.leased, id) {
		s.leased = append(s.leased, id)
	}
}

// stage buffers a copy of flow. Only flows leased by this transaction may be written.
func (s *txState) stage(flow *models.DataFlow) error {
	if s.done {
		return ErrTxDone
	}
	if flow == nil || flow.ID == "" {
		return fmt.Errorf("cannot upsert a data flow without id")
	}
	if !slices.Contains(s.leased, flow.ID) {
		return fmt.Errorf("data flow %s is not leased by %s", flow.ID, s.owner)
	}
	if _, ok := s.staged[flow.ID]; !ok {
		s.order = append(s.order, flow.ID)
	}
	s.staged[flow.ID] = flow.Clone()
	return nil
}

func (s *txState) pending() []*models.DataFlow {
	out := make([]*models.DataFlow, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.staged[id])
	}
	return out
}

func (s *txState) finish() {
	s.done = true
	s.staged = nil
	s.order = nil
}
