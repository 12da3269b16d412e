package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"dataplane-signaling/backend/pkg/models"
	"dataplane-signaling/backend/pkg/status"
)

const edcNamespace = "https://w3id.org/edc/v0.0.1/ns/"

// dataPlaneDTO is the JSON-LD form of a DataPlaneInstance.
type dataPlaneDTO struct {
	Context              map[string]string `json:"@context"`
	Type                 string            `json:"@type"`
	ID                   string            `json:"@id"`
	AllowedSourceTypes   []string          `json:"https://w3id.org/edc/v0.0.1/ns/allowedSourceTypes"`
	AllowedTransferTypes []string          `json:"https://w3id.org/edc/v0.0.1/ns/allowedTransferTypes"`
	LastActive           int64             `json:"https://w3id.org/edc/v0.0.1/ns/lastActive"`
	Properties           map[string]any    `json:"https://w3id.org/edc/v0.0.1/ns/properties,omitempty"`
	URL                  string            `json:"https://w3id.org/edc/v0.0.1/ns/url,omitempty"`
}

func newDataPlaneDTO(d *models.DataPlaneInstance) dataPlaneDTO {
	return dataPlaneDTO{
		Context:              map[string]string{"edc": edcNamespace},
		Type:                 edcNamespace + "DataPlaneInstance",
		ID:                   d.ID,
		AllowedSourceTypes:   d.AllowedSourceTypes,
		AllowedTransferTypes: d.AllowedTransferTypes,
		LastActive:           d.LastActive,
		Properties:           d.Properties,
		URL:                  d.URL,
	}
}

// RegisterDataPlane announces the data plane instance to the control API.
func (c *Client) RegisterDataPlane(ctx context.Context, instance *models.DataPlaneInstance) (*models.IDResponse, error) {
	if instance == nil {
		return nil, status.NewBadRequest("data plane instance is required")
	}
	if err := instance.Validate(); err != nil {
		return nil, status.NewBadRequest("invalid data plane instance: %v", err)
	}
	if c.controlAPIURL == "" {
		return nil, status.NewInternal("no control API address configured")
	}

	var resp models.IDResponse
	if err := c.do(ctx, http.MethodPost, c.controlAPIURL+"/v1/dataplanes", newDataPlaneDTO(instance), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnregisterDataPlane marks the instance as unavailable without removing it.
func (c *Client) UnregisterDataPlane(ctx context.Context, dataplaneID string) error {
	endpoint, err := c.dataPlaneURL(dataplaneID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, endpoint+"/unregister", nil, nil)
}

// DeleteDataPlane removes the instance from the control plane's registry.
func (c *Client) DeleteDataPlane(ctx context.Context, dataplaneID string) error {
	endpoint, err := c.dataPlaneURL(dataplaneID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) dataPlaneURL(dataplaneID string) (string, error) {
	if dataplaneID == "" {
		return "", status.NewBadRequest("data plane id is required")
	}
	if c.controlAPIURL == "" {
		return "", status.NewInternal("no control API address configured")
	}
	return fmt.Sprintf("%s/v1/dataplanes/%s", c.controlAPIURL, url.PathEscape(dataplaneID)), nil
}
