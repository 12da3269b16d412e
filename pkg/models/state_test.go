package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataFlowState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from DataFlowState
		to   DataFlowState
		want bool
	}{
		{StateUninitialized, StatePrepared, true},
		{StatePreparing, StatePreparing, true},
		{StatePrepared, StateStarted, true},
		{StateStarting, StateStarted, true},
		{StateStarted, StateSuspended, true},
		{StateStarted, StateCompleted, true},
		{StateSuspended, StateStarted, true},
		{StateSuspended, StateTerminated, true},
		{StateSuspended, StateCompleted, false},
		{StatePrepared, StatePreparing, false},
		{StateStarted, StateUninitialized, false},
		{StateStarted, StatePrepared, false},
		{StateCompleted, StateTerminated, false},
		{StateTerminated, StateStarted, false},
		{StateTerminated, StateTerminated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestDataFlowState_NeverReturnsToUninitialized(t *testing.T) {
	for _, from := range AllStates {
		assert.False(t, from.CanTransitionTo(StateUninitialized), "from %s", from)
	}
}

func TestDataFlowState_Terminal(t *testing.T) {
	for _, s := range AllStates {
		want := s == StateCompleted || s == StateTerminated
		assert.Equal(t, want, s.IsTerminal(), "state %s", s)
	}
}

func TestParseDataFlowState(t *testing.T) {
	s, err := ParseDataFlowState(" started ")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, s)

	_, err = ParseDataFlowState("PROVISIONED")
	assert.Error(t, err)

	var decoded struct {
		State DataFlowState `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"state":"Suspended"}`), &decoded))
	assert.Equal(t, StateSuspended, decoded.State)
	assert.Error(t, json.Unmarshal([]byte(`{"state":"bogus"}`), &decoded))
}

func TestDataFlow_TransitionTo(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	flow := &DataFlow{ID: "f1", State: StateStarted}

	require.NoError(t, flow.TransitionTo(StateCompleted, now))
	assert.Equal(t, StateCompleted, flow.State)
	assert.Equal(t, now.UnixMilli(), flow.UpdatedAt)

	err := flow.TransitionTo(StateTerminated, now)
	assert.Error(t, err)
	assert.Equal(t, StateCompleted, flow.State)
}
