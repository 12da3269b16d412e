package models

import (
	"fmt"
	"strings"
)

// DataFlowState is the lifecycle phase of a data flow.
type DataFlowState string

const (
	StateUninitialized DataFlowState = "UNINITIALIZED"
	StatePreparing     DataFlowState = "PREPARING"
	StatePrepared      DataFlowState = "PREPARED"
	StateStarting      DataFlowState = "STARTING"
	StateStarted       DataFlowState = "STARTED"
	StateSuspended     DataFlowState = "SUSPENDED"
	StateCompleted     DataFlowState = "COMPLETED"
	StateTerminated    DataFlowState = "TERMINATED"
)

// AllStates lists every lifecycle state in lifecycle order.
var AllStates = []DataFlowState{
	StateUninitialized,
	StatePreparing,
	StatePrepared,
	StateStarting,
	StateStarted,
	StateSuspended,
	StateCompleted,
	StateTerminated,
}

// successors is the monotonic transition graph. A state may always be
// re-entered (e.g. a repeated prepare that is still preparing), except the
// terminal ones, which have no successors at all.
var successors = map[DataFlowState][]DataFlowState{
	StateUninitialized: {StatePreparing, StatePrepared, StateStarting, StateStarted, StateTerminated},
	StatePreparing:     {StatePreparing, StatePrepared, StateStarting, StateStarted, StateTerminated},
	StatePrepared:      {StatePrepared, StateStarting, StateStarted, StateTerminated},
	StateStarting:      {StateStarting, StateStarted, StateTerminated},
	StateStarted:       {StateStarted, StateSuspended, StateCompleted, StateTerminated},
	StateSuspended:     {StateSuspended, StateStarted, StateTerminated},
	StateCompleted:     nil,
	StateTerminated:    nil,
}

// ParseDataFlowState parses a state name case-insensitively.
func ParseDataFlowState(s string) (DataFlowState, error) {
	st := DataFlowState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown data flow state %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known states.
func (s DataFlowState) Valid() bool {
	_, ok := successors[s]
	return ok
}

// IsTerminal reports whether no transition may leave s.
func (s DataFlowState) IsTerminal() bool {
	return s == StateCompleted || s == StateTerminated
}

// CanTransitionTo reports whether the graph allows moving from s to next.
func (s DataFlowState) CanTransitionTo(next DataFlowState) bool {
	for _, candidate := range successors[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s DataFlowState) String() string {
	return string(s)
}

// UnmarshalText accepts any casing of a known state name.
func (s *DataFlowState) UnmarshalText(text []byte) error {
	parsed, err := ParseDataFlowState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
