package services

import (
	"context"

	"dataplane-signaling/backend/pkg/models"
)

// Callbacks are the hooks the embedding application plugs into the signaling
// lifecycle. Each hook receives a working copy of the flow and runs at most
// once per command. A returned error is handed back to the caller unchanged,
// so hooks should return a *status.Failure to control the reason.
type Callbacks interface {
	// ValidateStart inspects a start message before any store access.
	ValidateStart(ctx context.Context, msg *models.StartMessage) error
	// OnPrepare returns the flow to persist, in PREPARING or PREPARED.
	OnPrepare(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error)
	// OnStart returns the flow to persist, in STARTING or STARTED.
	OnStart(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error)
	OnSuspend(ctx context.Context, flow *models.DataFlow) error
	OnTerminate(ctx context.Context, flow *models.DataFlow) error
	OnComplete(ctx context.Context, flow *models.DataFlow) error
}

// DefaultCallbacks prepares and starts synchronously and accepts everything
// else. Embed it to override only some hooks.
type DefaultCallbacks struct{}

var _ Callbacks = DefaultCallbacks{}

func (DefaultCallbacks) ValidateStart(context.Context, *models.StartMessage) error { return nil }

func (DefaultCallbacks) OnPrepare(_ context.Context, flow *models.DataFlow) (*models.DataFlow, error) {
	flow.State = models.StatePrepared
	return flow, nil
}

func (DefaultCallbacks) OnStart(_ context.Context, flow *models.DataFlow) (*models.DataFlow, error) {
	flow.State = models.StateStarted
	return flow, nil
}

func (DefaultCallbacks) OnSuspend(context.Context, *models.DataFlow) error   { return nil }
func (DefaultCallbacks) OnTerminate(context.Context, *models.DataFlow) error { return nil }
func (DefaultCallbacks) OnComplete(context.Context, *models.DataFlow) error  { return nil }

// CallbackFuncs adapts plain functions to Callbacks. Nil fields fall back to
// DefaultCallbacks.
type CallbackFuncs struct {
	ValidateStartFunc func(ctx context.Context, msg *models.StartMessage) error
	PrepareFunc       func(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error)
	StartFunc         func(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error)
	SuspendFunc       func(ctx context.Context, flow *models.DataFlow) error
	TerminateFunc     func(ctx context.Context, flow *models.DataFlow) error
	CompleteFunc      func(ctx context.Context, flow *models.DataFlow) error
}

var _ Callbacks = CallbackFuncs{}

func (c CallbackFuncs) ValidateStart(ctx context.Context, msg *models.StartMessage) error {
	if c.ValidateStartFunc == nil {
		return DefaultCallbacks{}.ValidateStart(ctx, msg)
	}
	return c.ValidateStartFunc(ctx, msg)
}

func (c CallbackFuncs) OnPrepare(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error) {
	if c.PrepareFunc == nil {
		return DefaultCallbacks{}.OnPrepare(ctx, flow)
	}
	return c.PrepareFunc(ctx, flow)
}

func (c CallbackFuncs) OnStart(ctx context.Context, flow *models.DataFlow) (*models.DataFlow, error) {
	if c.StartFunc == nil {
		return DefaultCallbacks{}.OnStart(ctx, flow)
	}
	return c.StartFunc(ctx, flow)
}

func (c CallbackFuncs) OnSuspend(ctx context.Context, flow *models.DataFlow) error {
	if c.SuspendFunc == nil {
		return nil
	}
	return c.SuspendFunc(ctx, flow)
}

func (c CallbackFuncs) OnTerminate(ctx context.Context, flow *models.DataFlow) error {
	if c.TerminateFunc == nil {
		return nil
	}
	return c.TerminateFunc(ctx, flow)
}

func (c CallbackFuncs) OnComplete(ctx context.Context, flow *models.DataFlow) error {
	if c.CompleteFunc == nil {
		return nil
	}
	return c.CompleteFunc(ctx, flow)
}
