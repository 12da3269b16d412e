// Package events publishes committed data flow transitions to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"dataplane-signaling/backend/pkg/models"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "dataplane.dataflows"

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url, clientName string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return conn, nil
}

// NATSPublisher publishes every transition as JSON on "<prefix>.<dataFlowId>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher creates a publisher on an open connection.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject transitions of dataFlowID are published on.
func (p *NATSPublisher) Subject(dataFlowID string) string {
	// Subject tokens cannot contain dots or whitespace.
	token := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(dataFlowID)
	return p.prefix + "." + token
}

func (p *NATSPublisher) OnTransition(_ context.Context, t models.Transition, _ *models.DataFlow) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}
	msg := nats.NewMsg(p.Subject(t.DataFlowID))
	msg.Data = data
	// Lets a JetStream stream on the subject drop duplicates.
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s:%s:%d", t.DataFlowID, t.To, t.At))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish transition of %s: %w", t.DataFlowID, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
