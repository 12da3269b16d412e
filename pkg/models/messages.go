package models

import (
	"errors"
	"strings"
)

// PrepareMessage asks the data plane to prepare a flow, typically on the consumer side.
type PrepareMessage struct {
	ProcessID              string            `json:"processId"`
	AssetID                string            `json:"datasetId"`
	ParticipantID          string            `json:"participantId"`
	AgreementID            string            `json:"agreementId"`
	SourceDataAddress      *DataAddress      `json:"sourceDataAddress,omitempty"`
	DestinationDataAddress *DataAddress      `json:"destinationDataAddress,omitempty"`
	CallbackAddress        string            `json:"callbackAddress,omitempty"`
	TransferType           TransferType      `json:"transferType"`
	Properties             map[string]string `json:"properties,omitempty"`
}

// Validate checks the fields every prepare needs.
func (m *PrepareMessage) Validate() error {
	return validateFlowMessage(m.ProcessID, m.ParticipantID, m.TransferType)
}

// StartMessage asks the data plane to start a new flow, typically on the provider side.
type StartMessage struct {
	ProcessID              string            `json:"processId"`
	AssetID                string            `json:"datasetId"`
	ParticipantID          string            `json:"participantId"`
	AgreementID            string            `json:"agreementId"`
	SourceDataAddress      *DataAddress      `json:"sourceDataAddress,omitempty"`
	DestinationDataAddress *DataAddress      `json:"destinationDataAddress,omitempty"`
	CallbackAddress        string            `json:"callbackAddress,omitempty"`
	TransferType           TransferType      `json:"transferType"`
	Properties             map[string]string `json:"properties,omitempty"`
}

// Validate checks the fields every start needs.
func (m *StartMessage) Validate() error {
	return validateFlowMessage(m.ProcessID, m.ParticipantID, m.TransferType)
}

// StartByIDMessage starts a flow that already exists.
type StartByIDMessage struct {
	SourceDataAddress *DataAddress `json:"sourceDataAddress,omitempty"`
}

// SuspendMessage pauses a flow.
type SuspendMessage struct {
	Reason string `json:"reason,omitempty"`
}

// TerminateMessage aborts a flow.
type TerminateMessage struct {
	Reason string `json:"reason,omitempty"`
}

// DataFlowResponse is returned for prepare/start and sent with control plane notifications.
type DataFlowResponse struct {
	DataplaneID string        `json:"dataplaneId"`
	DataAddress *DataAddress  `json:"dataAddress,omitempty"`
	State       DataFlowState `json:"state"`
	Error       string        `json:"error,omitempty"`
}

// StatusResponse answers a state query.
type StatusResponse struct {
	DataFlowID string        `json:"dataFlowId"`
	State      DataFlowState `json:"state"`
}

func validateFlowMessage(processID, participantID string, transferType TransferType) error {
	var errs []error
	if strings.TrimSpace(processID) == "" {
		errs = append(errs, errors.New("processId is required"))
	}
	if strings.TrimSpace(participantID) == "" {
		errs = append(errs, errors.New("participantId is required"))
	}
	if err := transferType.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
