// Package api contains the HTTP transport of the data plane signaling service
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"dataplane-signaling/backend/internal/auth"
	"dataplane-signaling/backend/internal/logging"
	"dataplane-signaling/backend/internal/services"
	"dataplane-signaling/backend/pkg/models"
	"dataplane-signaling/backend/pkg/status"
)

// Server holds the dependencies for the signaling API.
type Server struct {
	svc         *services.SignalingService
	dataplaneID string
	logger      *logging.Logger
}

// NewServer creates a new Server. dataplaneID is reported in every
// DataFlowResponse.
func NewServer(svc *services.SignalingService, dataplaneID string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{svc: svc, dataplaneID: dataplaneID, logger: logger}
}

// RegisterRoutes mounts the data flow routes on g, which is expected to sit at
// /api/v1 behind the authentication middleware.
func (s *Server) RegisterRoutes(g *echo.Group) {
	flows := g.Group("/:participantContextId/dataflows")
	flows.POST("/prepare", s.Prepare)
	flows.POST("/start", s.Start)
	flows.GET("/:id", s.GetStatus)
	flows.POST("/:id/start", s.StartByID)
	flows.POST("/:id/suspend", s.Suspend)
	flows.POST("/:id/terminate", s.Terminate)
	flows.POST("/:id/complete", s.Complete)
}

// Prepare handles POST /:participantContextId/dataflows/prepare.
func (s *Server) Prepare(c echo.Context) error {
	participant := c.Param("participantContextId")
	if err := authorize(c, participant, auth.ScopeSignal); err != nil {
		return err
	}
	var msg models.PrepareMessage
	if err := c.Bind(&msg); err != nil {
		return err
	}
	if err := s.checkNewFlow(c.Request().Context(), participant, &msg.ParticipantID, msg.ProcessID); err != nil {
		return err
	}

	flow, err := s.svc.Prepare(c.Request().Context(), &msg)
	if err != nil {
		return err
	}
	return s.respond(c, participant, flow, flow.Destination, models.StatePreparing, models.StatePrepared)
}

// Start handles POST /:participantContextId/dataflows/start.
func (s *Server) Start(c echo.Context) error {
	participant := c.Param("participantContextId")
	if err := authorize(c, participant, auth.ScopeSignal); err != nil {
		return err
	}
	var msg models.StartMessage
	if err := c.Bind(&msg); err != nil {
		return err
	}
	if err := s.checkNewFlow(c.Request().Context(), participant, &msg.ParticipantID, msg.ProcessID); err != nil {
		return err
	}

	flow, err := s.svc.Start(c.Request().Context(), &msg)
	if err != nil {
		return err
	}
	return s.respond(c, participant, flow, flow.Source, models.StateStarting, models.StateStarted)
}

// StartByID handles POST /:participantContextId/dataflows/:id/start.
func (s *Server) StartByID(c echo.Context) error {
	participant, id := c.Param("participantContextId"), c.Param("id")
	if err := s.authorizeFlow(c, participant, id, auth.ScopeSignal); err != nil {
		return err
	}
	var msg models.StartByIDMessage
	if err := c.Bind(&msg); err != nil {
		return err
	}

	flow, err := s.svc.StartByID(c.Request().Context(), id, &msg)
	if err != nil {
		return err
	}
	return s.respond(c, participant, flow, flow.Source, models.StateStarting, models.StateStarted)
}

// Suspend handles POST /:participantContextId/dataflows/:id/suspend.
func (s *Server) Suspend(c echo.Context) error {
	participant, id := c.Param("participantContextId"), c.Param("id")
	if err := s.authorizeFlow(c, participant, id, auth.ScopeSignal); err != nil {
		return err
	}
	var msg models.SuspendMessage
	if err := c.Bind(&msg); err != nil {
		return err
	}
	if err := s.svc.Suspend(c.Request().Context(), id, msg.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// Terminate handles POST /:participantContextId/dataflows/:id/terminate.
func (s *Server) Terminate(c echo.Context) error {
	participant, id := c.Param("participantContextId"), c.Param("id")
	if err := s.authorizeFlow(c, participant, id, auth.ScopeSignal); err != nil {
		return err
	}
	var msg models.TerminateMessage
	if err := c.Bind(&msg); err != nil {
		return err
	}
	if err := s.svc.Terminate(c.Request().Context(), id, msg.Reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// Complete handles POST /:participantContextId/dataflows/:id/complete.
func (s *Server) Complete(c echo.Context) error {
	participant, id := c.Param("participantContextId"), c.Param("id")
	if err := s.authorizeFlow(c, participant, id, auth.ScopeSignal); err != nil {
		return err
	}
	if err := s.svc.Complete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusOK)
}

// GetStatus handles GET /:participantContextId/dataflows/:id.
func (s *Server) GetStatus(c echo.Context) error {
	participant, id := c.Param("participantContextId"), c.Param("id")
	if err := s.authorizeFlow(c, participant, id, auth.ScopeRead, auth.ScopeSignal); err != nil {
		return err
	}
	state, err := s.svc.GetTransferState(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.StatusResponse{DataFlowID: id, State: state})
}

// respond maps the resulting state onto 202 (still in progress) or 200 (done).
func (s *Server) respond(c echo.Context, participant string, flow *models.DataFlow, addr *models.DataAddress,
	pending, done models.DataFlowState) error {
	resp := models.DataFlowResponse{DataplaneID: s.dataplaneID, DataAddress: addr, State: flow.State}
	switch flow.State {
	case pending:
		c.Response().Header().Set(echo.HeaderLocation, fmt.Sprintf("/api/v1/%s/dataflows/%s", participant, flow.ID))
		return c.JSON(http.StatusAccepted, resp)
	case done:
		return c.JSON(http.StatusOK, resp)
	default:
		return status.NewBadRequest("data flow state %s is not expected", flow.State)
	}
}

// authorize checks the caller acts for participant and holds one of scopes.
func authorize(c echo.Context, participant string, scopes ...string) error {
	p, ok := auth.PrincipalFrom(c.Request().Context())
	if !ok {
		return status.New(status.Unauthorized, "no authenticated caller")
	}
	if p.ParticipantID != participant {
		return status.Errorf(status.Forbidden, "caller %s may not act for participant %s", p.ParticipantID, participant)
	}
	if !p.HasAnyScope(scopes...) {
		return status.Errorf(status.Forbidden, "missing scope %s", scopes[0])
	}
	return nil
}

// authorizeFlow additionally requires the flow to belong to participant.
func (s *Server) authorizeFlow(c echo.Context, participant, id string, scopes ...string) error {
	if err := authorize(c, participant, scopes...); err != nil {
		return err
	}
	flow, err := s.svc.GetDataFlow(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if flow.ParticipantID != participant {
		return status.Errorf(status.Forbidden, "data flow %s does not belong to participant %s", id, participant)
	}
	return nil
}

// checkNewFlow fills the message participant from the path, rejects a
// different one and refuses to touch another participant's existing flow.
func (s *Server) checkNewFlow(ctx context.Context, participant string, msgParticipant *string, id string) error {
	if *msgParticipant == "" {
		*msgParticipant = participant
	}
	if *msgParticipant != participant {
		return status.Errorf(status.Forbidden, "message participant %s does not match %s", *msgParticipant, participant)
	}
	if id == "" {
		return nil
	}
	existing, err := s.svc.GetDataFlow(ctx, id)
	if status.Is(err, status.NotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ParticipantID != participant {
		return status.Errorf(status.Forbidden, "data flow %s does not belong to participant %s", id, participant)
	}
	return nil
}
