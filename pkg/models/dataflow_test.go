package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFlow() *DataFlow {
	return &DataFlow{
		ID:            "flow-1",
		State:         StatePrepared,
		Source:        NewDataAddress("HttpData", map[string]any{"url": "http://example.com"}),
		TransferType:  TransferType{DestinationType: "HttpData", FlowType: FlowTypePull},
		RuntimeID:     "runtime-1",
		ParticipantID: "participant-1",
		AssetID:       "asset-1",
		AgreementID:   "agreement-1",
		Properties:    map[string]string{"k": "v"},
		ResourceDefinitions: []ProvisionResource{
			{ID: "r1", Type: "token", Properties: map[string]string{"scope": "read"}},
		},
		CreatedAt: 1,
	}
}

func TestDataFlow_CloneIsDeep(t *testing.T) {
	orig := sampleFlow()
	clone := orig.Clone()

	clone.Source.Properties["url"] = "http://changed"
	clone.Properties["k"] = "changed"
	clone.ResourceDefinitions[0].Properties["scope"] = "write"
	clone.ResourceDefinitions = append(clone.ResourceDefinitions, ProvisionResource{ID: "r2"})

	assert.Equal(t, "http://example.com", orig.Source.Properties["url"])
	assert.Equal(t, "v", orig.Properties["k"])
	assert.Equal(t, "read", orig.ResourceDefinitions[0].Properties["scope"])
	assert.Len(t, orig.ResourceDefinitions, 1)
	assert.Nil(t, (*DataFlow)(nil).Clone())
}

func TestDataFlow_ImmutableFieldChanged(t *testing.T) {
	orig := sampleFlow()

	same := orig.Clone()
	same.State = StateStarted
	same.Destination = NewDataAddress("S3", nil)
	assert.Empty(t, orig.ImmutableFieldChanged(same))

	changed := orig.Clone()
	changed.AgreementID = "other"
	assert.Equal(t, "agreementId", orig.ImmutableFieldChanged(changed))

	changed = orig.Clone()
	changed.TransferType.FlowType = FlowTypePush
	assert.Equal(t, "transferType", orig.ImmutableFieldChanged(changed))
}

func TestDataFlow_AddResourceDefinitions(t *testing.T) {
	flow := sampleFlow()
	require.NoError(t, flow.AddResourceDefinitions(ProvisionResource{ID: "r2"}))
	assert.Len(t, flow.ResourceDefinitions, 2)

	flow.State = StateTerminated
	assert.Error(t, flow.AddResourceDefinitions(ProvisionResource{ID: "r3"}))
	assert.Len(t, flow.ResourceDefinitions, 2)
}

func TestDataFlow_JSONShape(t *testing.T) {
	data, err := json.Marshal(sampleFlow())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "PREPARED", raw["state"])
	assert.Equal(t, "HttpData", raw["source"].(map[string]any)["@type"])
	assert.Equal(t, "PULL", raw["transferType"].(map[string]any)["flowType"])
}

func TestLease_IsLive(t *testing.T) {
	start := time.UnixMilli(1_000_000)
	lease := NewLease("flow-1", "owner-a", start, time.Second)

	assert.True(t, lease.IsLive(start.Add(999*time.Millisecond), 0))
	assert.False(t, lease.IsLive(start.Add(time.Second), 0))
	assert.True(t, lease.IsLive(start.Add(time.Second), 500*time.Millisecond))
	assert.False(t, lease.IsLive(start.Add(1500*time.Millisecond), 500*time.Millisecond))
}

func TestMessages_Validate(t *testing.T) {
	valid := &PrepareMessage{
		ProcessID:     "p1",
		ParticipantID: "participant-1",
		TransferType:  TransferType{DestinationType: "HttpData", FlowType: FlowTypePush},
	}
	assert.NoError(t, valid.Validate())

	invalid := &StartMessage{TransferType: TransferType{FlowType: "SIDEWAYS"}}
	err := invalid.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processId is required")
	assert.Contains(t, err.Error(), "participantId is required")
	assert.Contains(t, err.Error(), "destinationType is required")

	badFlowType := TransferType{DestinationType: "S3", FlowType: "SIDEWAYS"}
	assert.ErrorContains(t, badFlowType.Validate(), "PUSH or PULL")
}

func TestFlowType_UnmarshalText(t *testing.T) {
	var tt TransferType
	require.NoError(t, json.Unmarshal([]byte(`{"destinationType":"S3","flowType":"Push"}`), &tt))
	assert.Equal(t, FlowTypePush, tt.FlowType)
	assert.Error(t, json.Unmarshal([]byte(`{"destinationType":"S3","flowType":"up"}`), &tt))
}

func TestDataPlaneInstance_Validate(t *testing.T) {
	valid := DataPlaneInstance{
		ID:                   "dp-1",
		AllowedSourceTypes:   []string{"HttpData"},
		AllowedTransferTypes: []string{"HttpData-PUSH"},
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(d *DataPlaneInstance)
		want   string
	}{
		{"missing id", func(d *DataPlaneInstance) { d.ID = "" }, "id is required"},
		{"no source types", func(d *DataPlaneInstance) { d.AllowedSourceTypes = nil }, "allowed source type"},
		{"no transfer types", func(d *DataPlaneInstance) { d.AllowedTransferTypes = []string{} }, "allowed transfer type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
