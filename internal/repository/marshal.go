package repository

import (
	"encoding/json"
	"fmt"

	"dataplane-signaling/backend/pkg/models"
)

// flowRecord is the column-level representation of a DataFlow shared by the
// SQL stores. Nested values are stored as JSON documents.
type flowRecord struct {
	ID                  string
	State               string
	Source              []byte
	Destination         []byte
	TransferType        []byte
	RuntimeID           string
	ParticipantID       string
	AssetID             string
	AgreementID         string
	IsConsumer          bool
	CallbackAddress     string
	Properties          []byte
	ResourceDefinitions []byte
	ErrorDetail         string
	CreatedAt           int64
	UpdatedAt           int64
}

func toRecord(f *models.DataFlow) (flowRecord, error) {
	rec := flowRecord{
		ID:              f.ID,
		State:           string(f.State),
		RuntimeID:       f.RuntimeID,
		ParticipantID:   f.ParticipantID,
		AssetID:         f.AssetID,
		AgreementID:     f.AgreementID,
		IsConsumer:      f.IsConsumer,
		CallbackAddress: f.CallbackAddress,
		ErrorDetail:     f.ErrorDetail,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}

	var err error
	if f.Source != nil {
		if rec.Source, err = json.Marshal(f.Source); err != nil {
			return rec, fmt.Errorf("marshal source: %w", err)
		}
	}
	if f.Destination != nil {
		if rec.Destination, err = json.Marshal(f.Destination); err != nil {
			return rec, fmt.Errorf("marshal destination: %w", err)
		}
	}
	if rec.TransferType, err = json.Marshal(f.TransferType); err != nil {
		return rec, fmt.Errorf("marshal transfer type: %w", err)
	}
	if f.Properties != nil {
		if rec.Properties, err = json.Marshal(f.Properties); err != nil {
			return rec, fmt.Errorf("marshal properties: %w", err)
		}
	}
	if f.ResourceDefinitions != nil {
		if rec.ResourceDefinitions, err = json.Marshal(f.ResourceDefinitions); err != nil {
			return rec, fmt.Errorf("marshal resource definitions: %w", err)
		}
	}
	return rec, nil
}

func (r *flowRecord) toFlow() (*models.DataFlow, error) {
	state, err := models.ParseDataFlowState(r.State)
	if err != nil {
		return nil, fmt.Errorf("data flow %s: %w", r.ID, err)
	}
	f := &models.DataFlow{
		ID:              r.ID,
		State:           state,
		RuntimeID:       r.RuntimeID,
		ParticipantID:   r.ParticipantID,
		AssetID:         r.AssetID,
		AgreementID:     r.AgreementID,
		IsConsumer:      r.IsConsumer,
		CallbackAddress: r.CallbackAddress,
		ErrorDetail:     r.ErrorDetail,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	fields := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"source", r.Source, &f.Source},
		{"destination", r.Destination, &f.Destination},
		{"transfer type", r.TransferType, &f.TransferType},
		{"properties", r.Properties, &f.Properties},
		{"resource definitions", r.ResourceDefinitions, &f.ResourceDefinitions},
	}
	for _, field := range fields {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("data flow %s: unmarshal %s: %w", r.ID, field.name, err)
		}
	}
	return f, nil
}

// values returns the record in flowColumns order.
func (r *flowRecord) values() []any {
	return []any{
		r.ID, r.State, r.Source, r.Destination, r.TransferType,
		r.RuntimeID, r.ParticipantID, r.AssetID, r.AgreementID, r.IsConsumer,
		r.CallbackAddress, r.Properties, r.ResourceDefinitions, r.ErrorDetail,
		r.CreatedAt, r.UpdatedAt,
	}
}

// scanTargets returns pointers in flowColumns order.
func (r *flowRecord) scanTargets() []any {
	return []any{
		&r.ID, &r.State, &r.Source, &r.Destination, &r.TransferType,
		&r.RuntimeID, &r.ParticipantID, &r.AssetID, &r.AgreementID, &r.IsConsumer,
		&r.CallbackAddress, &r.Properties, &r.ResourceDefinitions, &r.ErrorDetail,
		&r.CreatedAt, &r.UpdatedAt,
	}
}
