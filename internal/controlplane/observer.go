package controlplane

import (
	"context"

	"dataplane-signaling/backend/pkg/models"
)

// Observer forwards committed transitions to the control plane. A flow's own
// callback address takes precedence over the client's base URL.
type Observer struct {
	client *Client
}

// NewObserver creates an Observer that notifies through client.
func NewObserver(client *Client) *Observer {
	return &Observer{client: client}
}

func (o *Observer) OnTransition(ctx context.Context, t models.Transition, flow *models.DataFlow) error {
	client := o.client
	if flow.CallbackAddress != "" {
		client = client.WithBaseURL(flow.CallbackAddress)
	}

	switch {
	case t.From == models.StatePreparing && t.To == models.StatePrepared:
		return client.NotifyPrepared(ctx, t.DataFlowID, flow.Destination)
	case t.From == models.StateStarting && t.To == models.StateStarted:
		return client.NotifyStarted(ctx, t.DataFlowID, flow.Source)
	case t.To == models.StateCompleted:
		return client.NotifyCompleted(ctx, t.DataFlowID)
	case t.To == models.StateTerminated:
		reason := t.Reason
		if reason == "" {
			reason = "data flow terminated"
		}
		return client.NotifyErrored(ctx, t.DataFlowID, reason)
	}
	return nil
}
