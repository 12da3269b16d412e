package services

import (
	"slices"

	"dataplane-signaling/backend/pkg/models"
	"dataplane-signaling/backend/pkg/status"
)

const (
	opPrepare   = "prepare"
	opStart     = "start"
	opStartByID = "start_by_id"
	opSuspend   = "suspend"
	opTerminate = "terminate"
	opComplete  = "complete"
)

var (
	// prepareStates are both the states an existing flow may be re-prepared
	// from and the states a prepare hook may leave it in.
	prepareStates = []models.DataFlowState{models.StatePreparing, models.StatePrepared}
	startTargets  = []models.DataFlowState{models.StateStarting, models.StateStarted}
	startByIDFrom = []models.DataFlowState{models.StateStarting, models.StatePrepared, models.StateUninitialized}
)

// checkHookResult validates what a prepare or start hook handed back against
// the flow it was given.
func checkHookResult(op string, before, after *models.DataFlow, allowed []models.DataFlowState) error {
	if after == nil {
		return status.NewInternal("%s callback returned no data flow for %s", op, before.ID)
	}
	if field := before.ImmutableFieldChanged(after); field != "" {
		return status.NewInternal("%s callback changed immutable field %s of data flow %s", op, field, before.ID)
	}
	if !slices.Contains(allowed, after.State) || !before.State.CanTransitionTo(after.State) {
		return status.NewConflict("%s callback left data flow %s in %s, expected one of %v", op, before.ID, after.State, allowed)
	}
	return nil
}

// checkHookMutation guards hooks that only report success or failure.
func checkHookMutation(op string, before, after *models.DataFlow) error {
	if field := before.ImmutableFieldChanged(after); field != "" {
		return status.NewInternal("%s callback changed immutable field %s of data flow %s", op, field, before.ID)
	}
	return nil
}
