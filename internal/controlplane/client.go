// Package controlplane notifies the control plane about data flow progress and
// manages this data plane's registration with it.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"dataplane-signaling/backend/pkg/models"
	"dataplane-signaling/backend/pkg/status"
)

// Config configures the control plane client.
type Config struct {
	BaseURL     string
	DataplaneID string
	Timeout     time.Duration

	// ControlAPIURL is the base of the registration API. Defaults to BaseURL.
	ControlAPIURL string

	// When TokenURL is set, requests carry an OAuth2 client-credentials token.
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Client is an HTTP client for the control plane's data flow signaling endpoints.
type Client struct {
	baseURL       string
	controlAPIURL string
	dataplaneID   string
	http          *http.Client
}

// NewClient creates a new Client. The context is used for token requests.
func NewClient(ctx context.Context, cfg Config) *Client {
	hc := &http.Client{}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(ctx)
	}
	if cfg.Timeout > 0 {
		hc.Timeout = cfg.Timeout
	}
	c := NewClientWithHTTP(cfg.BaseURL, cfg.DataplaneID, hc)
	if cfg.ControlAPIURL != "" {
		c = c.WithControlAPIURL(cfg.ControlAPIURL)
	}
	return c
}

// NewClientWithHTTP creates a Client that sends requests through hc.
func NewClientWithHTTP(baseURL, dataplaneID string, hc *http.Client) *Client {
	base := strings.TrimRight(baseURL, "/")
	return &Client{baseURL: base, controlAPIURL: base, dataplaneID: dataplaneID, http: hc}
}

// WithBaseURL returns a copy of the client that talks to another control plane.
func (c *Client) WithBaseURL(baseURL string) *Client {
	out := *c
	out.baseURL = strings.TrimRight(baseURL, "/")
	return &out
}

// WithControlAPIURL returns a copy of the client that registers against another
// control API.
func (c *Client) WithControlAPIURL(controlAPIURL string) *Client {
	out := *c
	out.controlAPIURL = strings.TrimRight(controlAPIURL, "/")
	return &out
}

// NotifyPrepared tells the control plane that preparation finished.
func (c *Client) NotifyPrepared(ctx context.Context, dataFlowID string, address *models.DataAddress) error {
	return c.send(ctx, dataFlowID, "prepared", models.DataFlowResponse{
		DataplaneID: c.dataplaneID,
		DataAddress: address,
		State:       models.StatePrepared,
	})
}

// NotifyStarted tells the control plane that the transfer is running.
func (c *Client) NotifyStarted(ctx context.Context, dataFlowID string, address *models.DataAddress) error {
	return c.send(ctx, dataFlowID, "started", models.DataFlowResponse{
		DataplaneID: c.dataplaneID,
		DataAddress: address,
		State:       models.StateStarted,
	})
}

// NotifyCompleted tells the control plane that the transfer finished.
func (c *Client) NotifyCompleted(ctx context.Context, dataFlowID string) error {
	return c.send(ctx, dataFlowID, "completed", struct{}{})
}

// NotifyErrored reports a failed transfer.
func (c *Client) NotifyErrored(ctx context.Context, dataFlowID, reason string) error {
	return c.send(ctx, dataFlowID, "errored", map[string]string{"reason": reason})
}

func (c *Client) send(ctx context.Context, dataFlowID, event string, body any) error {
	if c.baseURL == "" {
		return status.NewInternal("no control plane address for data flow %s", dataFlowID)
	}
	endpoint := fmt.Sprintf("%s/transfers/%s/dataflow/%s", c.baseURL, url.PathEscape(dataFlowID), event)
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// do sends one request. A nil body sends no payload; a non-nil out receives
// the decoded response.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload io.Reader
	if body != nil {
		requestBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = bytes.NewReader(requestBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return status.Errorf(status.ServiceUnavailable, "control plane request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return status.New(status.ReasonFromHTTPStatus(resp.StatusCode), string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
