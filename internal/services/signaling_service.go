package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"dataplane-signaling/backend/internal/logging"
	"dataplane-signaling/backend/internal/repository"
	"dataplane-signaling/backend/pkg/models"
	"dataplane-signaling/backend/pkg/status"
)

// TransitionObserver is told about every committed state change. Observers
// run after the commit; their errors are logged and never undo it.
type TransitionObserver interface {
	OnTransition(ctx context.Context, t models.Transition, flow *models.DataFlow) error
}

// TransitionObserverFunc adapts a function to TransitionObserver.
type TransitionObserverFunc func(ctx context.Context, t models.Transition, flow *models.DataFlow) error

func (f TransitionObserverFunc) OnTransition(ctx context.Context, t models.Transition, flow *models.DataFlow) error {
	return f(ctx, t, flow)
}

// SignalingService is the transaction boundary for every data flow command.
// Each mutating command leases the flow, runs its callback on a working copy,
// validates the result and commits the write and the lease release together.
type SignalingService struct {
	store     repository.FlowStore
	callbacks Callbacks
	observers []TransitionObserver
	clock     clock.PassiveClock
	runtimeID string
	owner     string
	logger    *logging.Logger

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *signalingMetrics
	tracer         trace.Tracer
}

// Option configures a SignalingService.
type Option func(*SignalingService)

// WithCallbacks installs the application's lifecycle hooks.
func WithCallbacks(cb Callbacks) Option {
	return func(s *SignalingService) { s.callbacks = cb }
}

// WithObservers appends transition observers.
func WithObservers(observers ...TransitionObserver) Option {
	return func(s *SignalingService) { s.observers = append(s.observers, observers...) }
}

func WithClock(c clock.PassiveClock) Option {
	return func(s *SignalingService) { s.clock = c }
}

// WithRuntimeID sets the id stamped on created flows and used in lease owner tokens.
func WithRuntimeID(id string) Option {
	return func(s *SignalingService) { s.runtimeID = id }
}

// WithLeaseOwner pins the lease owner token. By default every command leases
// under its own token, so commands in the same process exclude each other.
func WithLeaseOwner(owner string) Option {
	return func(s *SignalingService) { s.owner = owner }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *SignalingService) { s.logger = l }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *SignalingService) { s.meterProvider = mp }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *SignalingService) { s.tracerProvider = tp }
}

// NewSignalingService creates a new SignalingService.
func NewSignalingService(store repository.FlowStore, opts ...Option) (*SignalingService, error) {
	s := &SignalingService{
		store:     store,
		callbacks: DefaultCallbacks{},
		clock:     clock.RealClock{},
		runtimeID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}

	m, err := newSignalingMetrics(s.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	s.metrics = m
	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	return s, nil
}

// RuntimeID returns the id of this data plane runtime.
func (s *SignalingService) RuntimeID() string {
	return s.runtimeID
}

// Prepare creates the flow on first contact or re-runs the prepare hook on a
// flow that is still PREPARING or PREPARED. Callers tell asynchronous
// preparation (PREPARING) from synchronous (PREPARED) by the returned state.
func (s *SignalingService) Prepare(ctx context.Context, msg *models.PrepareMessage) (*models.DataFlow, error) {
	if msg == nil {
		return nil, status.NewBadRequest("prepare message is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, status.NewBadRequest("invalid prepare message: %v", err)
	}

	return s.execute(ctx, opPrepare, msg.ProcessID, func(ctx context.Context, current *models.DataFlow) (*models.DataFlow, string, error) {
		before := current
		if before == nil {
			before = s.newFlow(msg.ProcessID, msg.ParticipantID, msg.AssetID, msg.AgreementID, msg.CallbackAddress,
				msg.SourceDataAddress, msg.DestinationDataAddress, msg.TransferType, msg.Properties, true)
		} else if !slices.Contains(prepareStates, before.State) {
			return nil, "", status.NewConflict("a data flow with id %s already exists in state %s", before.ID, before.State)
		}

		after, err := s.callbacks.OnPrepare(ctx, before.Clone())
		if err != nil {
			return nil, "", status.FromError(err)
		}
		if err := checkHookResult(opPrepare, before, after, prepareStates); err != nil {
			return nil, "", err
		}
		return after, "", nil
	})
}

// Start creates a new flow, usually on the provider side. The id must be unused.
func (s *SignalingService) Start(ctx context.Context, msg *models.StartMessage) (*models.DataFlow, error) {
	if msg == nil {
		return nil, status.NewBadRequest("start message is required")
	}

	return s.instrument(ctx, opStart, msg.ProcessID, func(ctx context.Context) (*models.DataFlow, error) {
		if err := msg.Validate(); err != nil {
			return nil, status.NewBadRequest("invalid start message: %v", err)
		}
		if err := s.callbacks.ValidateStart(ctx, msg); err != nil {
			f := status.FromError(err)
			s.logger.Info("start message rejected", "op", opStart, "dataflow_id", msg.ProcessID,
				"reason", f.Reason.String(), "message", f.Message)
			return nil, f
		}
		return s.transact(ctx, opStart, msg.ProcessID, s.startFlow(msg))
	})
}

func (s *SignalingService) startFlow(msg *models.StartMessage) mutation {
	return func(ctx context.Context, current *models.DataFlow) (*models.DataFlow, string, error) {
		if current != nil {
			return nil, "", status.NewConflict("a data flow with id %s already exists", current.ID)
		}
		before := s.newFlow(msg.ProcessID, msg.ParticipantID, msg.AssetID, msg.AgreementID, msg.CallbackAddress,
			msg.SourceDataAddress, msg.DestinationDataAddress, msg.TransferType, msg.Properties, false)

		after, err := s.callbacks.OnStart(ctx, before.Clone())
		if err != nil {
			return nil, "", status.FromError(err)
		}
		if err := checkHookResult(opStart, before, after, startTargets); err != nil {
			return nil, "", err
		}
		return after, "", nil
	}
}

// StartByID starts a consumer-side flow that already exists. A flow that is
// already STARTED is returned unchanged.
func (s *SignalingService) StartByID(ctx context.Context, id string, msg *models.StartByIDMessage) (*models.DataFlow, error) {
	return s.execute(ctx, opStartByID, id, func(ctx context.Context, current *models.DataFlow) (*models.DataFlow, string, error) {
		if current == nil {
			return nil, "", status.NewNotFound("data flow %s not found", id)
		}
		if current.State == models.StateStarted {
			return nil, "", nil
		}
		if !current.IsConsumer {
			return nil, "", status.NewConflict("data flow %s is not a consumer flow and cannot be started by id", id)
		}
		if !slices.Contains(startByIDFrom, current.State) {
			return nil, "", status.NewConflict("data flow %s is %s and cannot be started", id, current.State)
		}

		working := current.Clone()
		if msg != nil && msg.SourceDataAddress != nil {
			working.Source = msg.SourceDataAddress.Clone()
		}
		after, err := s.callbacks.OnStart(ctx, working)
		if err != nil {
			return nil, "", status.FromError(err)
		}
		if err := checkHookResult(opStartByID, current, after, startTargets); err != nil {
			return nil, "", err
		}
		return after, "", nil
	})
}

// Suspend pauses a STARTED flow. Suspending a SUSPENDED flow is a no-op.
func (s *SignalingService) Suspend(ctx context.Context, id, reason string) error {
	_, err := s.execute(ctx, opSuspend, id, func(ctx context.Context, current *models.DataFlow) (*models.DataFlow, string, error) {
		if current == nil {
			return nil, "", status.NewNotFound("data flow %s not found", id)
		}
		if current.State == models.StateSuspended {
			return nil, "", nil
		}

		working := current.Clone()
		if err := s.callbacks.OnSuspend(ctx, working); err != nil {
			return nil, "", status.FromError(err)
		}
		if err := checkHookMutation(opSuspend, current, working); err != nil {
			return nil, "", err
		}
		if working.State != models.StateStarted {
			return nil, "", status.NewBadRequest("data flow %s is %s, not %s, cannot suspend", id, working.State, models.StateStarted)
		}
		working.ErrorDetail = reason
		if err := working.TransitionTo(models.StateSuspended, s.clock.Now()); err != nil {
			return nil, "", status.NewConflict("%v", err)
		}
		return working, reason, nil
	})
	return err
}

// Terminate aborts a flow. Terminating a TERMINATED flow is a no-op; a
// COMPLETED flow cannot be terminated.
func (s *SignalingService) Terminate(ctx context.Context, id, reason string) error {
	_, err := s.execute(ctx, opTerminate, id, func(ctx context.Context, current *models.DataFlow) (*models.DataFlow, string, error) {
		if current == nil {
			return nil, "", status.NewNotFound("data flow %s not found", id)
		}
		if current.State == models.StateTerminated {
			return nil, "", nil
		}
		if current.State.IsTerminal() {
			return nil, "", status.NewConflict("data flow %s is %s and cannot be terminated", id, current.State)
		}

		working := current.Clone()
		if err := s.callbacks.OnTerminate(ctx, working); err != nil {
			return nil, "", status.FromError(err)
		}
		if err := checkHookMutation(opTerminate, current, working); err != nil {
			return nil, "", err
		}
		working.ErrorDetail = reason
		if err := working.TransitionTo(models.StateTerminated, s.clock.Now()); err != nil {
			return nil, "", status.NewConflict("%v", err)
		}
		return working, reason, nil
	})
	return err
}

// Complete finishes a STARTED flow.
func (s *SignalingService) Complete(ctx context.Context, id string) error {
	_, err := s.execute(ctx, opComplete, id, func(ctx context.Context, current *models.DataFlow) (*models.DataFlow, string, error) {
		if current == nil {
			return nil, "", status.NewNotFound("data flow %s not found", id)
		}
		if current.State != models.StateStarted {
			return nil, "", status.NewConflict("data flow %s is %s, not %s, cannot complete", id, current.State, models.StateStarted)
		}

		working := current.Clone()
		if err := s.callbacks.OnComplete(ctx, working); err != nil {
			return nil, "", status.FromError(err)
		}
		if err := checkHookMutation(opComplete, current, working); err != nil {
			return nil, "", err
		}
		if err := working.TransitionTo(models.StateCompleted, s.clock.Now()); err != nil {
			return nil, "", status.NewConflict("%v", err)
		}
		return working, "", nil
	})
	return err
}

// GetTransferState returns the flow's current state without leasing it.
func (s *SignalingService) GetTransferState(ctx context.Context, id string) (models.DataFlowState, error) {
	flow, err := s.GetDataFlow(ctx, id)
	if err != nil {
		return "", err
	}
	return flow.State, nil
}

// GetDataFlow returns a snapshot of the flow without leasing it.
func (s *SignalingService) GetDataFlow(ctx context.Context, id string) (*models.DataFlow, error) {
	flow, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, status.NewNotFound("data flow %s not found", id)
	}
	if err != nil {
		return nil, status.FromError(err)
	}
	return flow, nil
}

// ListByState returns up to limit flows in the given states, least recently
// updated first.
func (s *SignalingService) ListByState(ctx context.Context, states []models.DataFlowState, limit int) ([]*models.DataFlow, error) {
	for _, st := range states {
		if !st.Valid() {
			return nil, status.NewBadRequest("unknown data flow state %q", st)
		}
	}
	flows, err := s.store.ListByState(ctx, states, limit)
	if err != nil {
		return nil, status.FromError(err)
	}
	return flows, nil
}

// mutation is the body of one command, run while the lease is held. current
// is nil when no flow with the id exists. Returning a nil flow and nil error
// means the command is a no-op and nothing is written.
type mutation func(ctx context.Context, current *models.DataFlow) (next *models.DataFlow, reason string, err error)

func (s *SignalingService) execute(ctx context.Context, op, id string, fn mutation) (*models.DataFlow, error) {
	return s.instrument(ctx, op, id, func(ctx context.Context) (*models.DataFlow, error) {
		return s.transact(ctx, op, id, fn)
	})
}

// instrument runs fn inside the span and metrics of one signaling command.
func (s *SignalingService) instrument(ctx context.Context, op, id string, fn func(ctx context.Context) (*models.DataFlow, error)) (result *models.DataFlow, err error) {
	ctx, span := s.tracer.Start(ctx, "signaling."+op, trace.WithAttributes(attribute.String("dataflow.id", id)))
	started := s.clock.Now()
	defer func() {
		s.metrics.record(ctx, op, s.clock.Since(started), err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return fn(ctx)
}

func (s *SignalingService) transact(ctx context.Context, op, id string, fn mutation) (*models.DataFlow, error) {
	if id == "" {
		return nil, status.NewBadRequest("data flow id is required")
	}
	log := s.logger.With("op", op, "dataflow_id", id)
	log.Debug("handling signaling command")

	tx, err := s.store.Begin(ctx, s.leaseOwner())
	if err != nil {
		return nil, status.NewInternal("failed to begin transaction: %v", err)
	}
	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Error("failed to roll back", "error", rbErr)
		}
	}()

	current, err := tx.FindByIDAndLease(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, s.storeFailure(ctx, log, op, err)
	}

	next, reason, err := fn(ctx, current)
	if err != nil {
		f := status.FromError(err)
		log.Info("signaling command rejected", "reason", f.Reason.String(), "message", f.Message)
		return nil, f
	}
	if next == nil {
		log.Debug("no state change", "state", current.State)
		return current, nil
	}

	next.UpdatedAt = s.clock.Now().UnixMilli()
	if err := tx.Upsert(ctx, next, true); err != nil {
		return nil, s.storeFailure(ctx, log, op, err)
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("dataflow.state", string(next.State)))

	from := models.StateUninitialized
	if current != nil {
		from = current.State
	}
	if from != next.State {
		s.notify(ctx, log, models.Transition{
			DataFlowID:    next.ID,
			ParticipantID: next.ParticipantID,
			From:          from,
			To:            next.State,
			Reason:        reason,
			At:            next.UpdatedAt,
		}, next)
	}
	return next, nil
}

func (s *SignalingService) storeFailure(ctx context.Context, log *logging.Logger, op string, err error) error {
	var conflict *repository.LeaseConflictError
	switch {
	case errors.As(err, &conflict):
		s.metrics.leaseConflict(ctx, op)
		log.Info("lease conflict", "leased_by", conflict.LeasedBy)
		return status.NewConflict("%v", conflict)
	case errors.Is(err, repository.ErrLeaseLost):
		s.metrics.leaseConflict(ctx, op)
		log.Info("lease lost before commit", "error", err)
		return status.NewConflict("%v", err)
	default:
		log.Error("store failure", "error", err)
		return status.FromError(err)
	}
}

func (s *SignalingService) notify(ctx context.Context, log *logging.Logger, t models.Transition, flow *models.DataFlow) {
	for _, o := range s.observers {
		if err := o.OnTransition(ctx, t, flow.Clone()); err != nil {
			log.Error("transition observer failed", "from", t.From, "state", t.To, "error", err)
		}
	}
}

func (s *SignalingService) leaseOwner() string {
	if s.owner != "" {
		return s.owner
	}
	return s.runtimeID + "/" + uuid.NewString()
}

func (s *SignalingService) newFlow(id, participantID, assetID, agreementID, callbackAddress string,
	source, destination *models.DataAddress, transferType models.TransferType, properties map[string]string, consumer bool,
) *models.DataFlow {
	now := s.clock.Now().UnixMilli()
	return &models.DataFlow{
		ID:              id,
		State:           models.StateUninitialized,
		Source:          source.Clone(),
		Destination:     destination.Clone(),
		TransferType:    transferType,
		RuntimeID:       s.runtimeID,
		ParticipantID:   participantID,
		AssetID:         assetID,
		AgreementID:     agreementID,
		IsConsumer:      consumer,
		CallbackAddress: callbackAddress,
		Properties:      maps.Clone(properties),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
