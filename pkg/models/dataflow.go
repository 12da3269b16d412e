// Package models defines the domain models for the data plane signaling service
package models

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FlowType is the negotiated transfer direction.
type FlowType string

const (
	FlowTypePush FlowType = "PUSH"
	FlowTypePull FlowType = "PULL"
)

// Valid reports whether t is push or pull.
func (t FlowType) Valid() bool {
	return t == FlowTypePush || t == FlowTypePull
}

// UnmarshalText accepts "push"/"Push"/"PUSH".
func (t *FlowType) UnmarshalText(text []byte) error {
	ft := FlowType(strings.ToUpper(strings.TrimSpace(string(text))))
	if !ft.Valid() {
		return fmt.Errorf("unknown flow type %q", string(text))
	}
	*t = ft
	return nil
}

// TransferType is the transfer mode negotiated for a flow. Immutable after creation.
type TransferType struct {
	DestinationType string   `json:"destinationType"`
	FlowType        FlowType `json:"flowType"`
	ResponseChannel string   `json:"responseChannel,omitempty"`
}

// Validate checks that the transfer type is complete.
func (t TransferType) Validate() error {
	if strings.TrimSpace(t.DestinationType) == "" {
		return errors.New("transferType.destinationType is required")
	}
	if !t.FlowType.Valid() {
		return fmt.Errorf("transferType.flowType %q must be PUSH or PULL", t.FlowType)
	}
	return nil
}

// DataAddress is an opaque, addressable endpoint: a type tag plus a property bag.
type DataAddress struct {
	ID         string         `json:"@id,omitempty"`
	Type       string         `json:"@type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// NewDataAddress creates an address of the given type with a generated id.
func NewDataAddress(addressType string, properties map[string]any) *DataAddress {
	return &DataAddress{
		ID:         uuid.NewString(),
		Type:       addressType,
		Properties: properties,
	}
}

// Clone returns a copy whose property map can be mutated independently.
func (a *DataAddress) Clone() *DataAddress {
	if a == nil {
		return nil
	}
	out := *a
	out.Properties = maps.Clone(a.Properties)
	return &out
}

// ProvisionResource describes one resource provisioned while preparing a flow.
type ProvisionResource struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties,omitempty"`
}

// DataFlow is the aggregate root of one tracked transfer.
type DataFlow struct {
	ID                  string              `json:"id"`
	State               DataFlowState       `json:"state"`
	Source              *DataAddress        `json:"source,omitempty"`
	Destination         *DataAddress        `json:"destination,omitempty"`
	TransferType        TransferType        `json:"transferType"`
	RuntimeID           string              `json:"runtimeId"`
	ParticipantID       string              `json:"participantId"`
	AssetID             string              `json:"assetId"`
	AgreementID         string              `json:"agreementId"`
	IsConsumer          bool                `json:"isConsumer"`
	CallbackAddress     string              `json:"callbackAddress,omitempty"`
	Properties          map[string]string   `json:"properties,omitempty"`
	ResourceDefinitions []ProvisionResource `json:"resourceDefinitions,omitempty"`
	ErrorDetail         string              `json:"errorDetail,omitempty"`

	// Epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Clone returns a deep copy, so callbacks can mutate a working copy without
// touching the snapshot the store handed out.
func (f *DataFlow) Clone() *DataFlow {
	if f == nil {
		return nil
	}
	out := *f
	out.Source = f.Source.Clone()
	out.Destination = f.Destination.Clone()
	out.Properties = maps.Clone(f.Properties)
	if f.ResourceDefinitions != nil {
		out.ResourceDefinitions = make([]ProvisionResource, len(f.ResourceDefinitions))
		for i, r := range f.ResourceDefinitions {
			r.Properties = maps.Clone(r.Properties)
			out.ResourceDefinitions[i] = r
		}
	}
	return &out
}

// AddResourceDefinitions appends provisioned resources. Terminal flows are frozen.
func (f *DataFlow) AddResourceDefinitions(resources ...ProvisionResource) error {
	if f.State.IsTerminal() {
		return fmt.Errorf("data flow %s is %s, resources are frozen", f.ID, f.State)
	}
	f.ResourceDefinitions = append(f.ResourceDefinitions, resources...)
	return nil
}

// TransitionTo moves the flow to next if the state graph allows it.
func (f *DataFlow) TransitionTo(next DataFlowState, now time.Time) error {
	if !f.State.CanTransitionTo(next) {
		return fmt.Errorf("data flow %s cannot move from %s to %s", f.ID, f.State, next)
	}
	f.State = next
	f.UpdatedAt = now.UnixMilli()
	return nil
}

// ImmutableFieldChanged returns the name of the first identity field that
// differs between f and other, or "" when they agree.
func (f *DataFlow) ImmutableFieldChanged(other *DataFlow) string {
	switch {
	case f.ID != other.ID:
		return "id"
	case f.RuntimeID != other.RuntimeID:
		return "runtimeId"
	case f.ParticipantID != other.ParticipantID:
		return "participantId"
	case f.AssetID != other.AssetID:
		return "assetId"
	case f.AgreementID != other.AgreementID:
		return "agreementId"
	case f.TransferType != other.TransferType:
		return "transferType"
	case f.IsConsumer != other.IsConsumer:
		return "isConsumer"
	case f.CreatedAt != other.CreatedAt:
		return "createdAt"
	}
	return ""
}

// Transition describes one committed state change.
type Transition struct {
	DataFlowID    string        `json:"dataFlowId"`
	ParticipantID string        `json:"participantId"`
	From          DataFlowState `json:"from"`
	To            DataFlowState `json:"to"`
	Reason        string        `json:"reason,omitempty"`
	At            int64         `json:"at"`
}
