// Package aggregatorclient negotiates the external-integrations MCP
// endpoint for a tenant (spec.md §4.2 source 2: "an aggregated
// external-integrations server ... negotiated once per Conversation via an
// external brokerage call"). Grounded on
// internal/integrations/picoclaw/{gateway.go,heartbeat.go}'s HTTP
// negotiation-and-heartbeat shape, trimmed to the one-shot negotiate call
// mcppool.Pool needs (the re-list loop itself lives in mcppool).
package aggregatorclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// Client negotiates a tenant's aggregated MCP endpoint over HTTP. A nil
// *Client is never constructed; an empty serviceURL means the caller
// should not wire a Client at all (mcppool.Pool.Build already tolerates a
// nil AggregatorClient).
type Client struct {
	serviceURL     string
	reListInterval time.Duration
	httpClient     *http.Client
}

// New builds a Client that negotiates against serviceURL, stamping every
// returned spec with reListInterval so mcppool.Pool.Build schedules the
// periodic re-list/reconnect loop spec §4.2 requires.
func New(serviceURL string, reListInterval time.Duration) *Client {
	return &Client{
		serviceURL:     serviceURL,
		reListInterval: reListInterval,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
	}
}

type negotiateResponse struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// Negotiate asks the aggregator service for tenantID's current
// external-integrations MCP endpoint. A 204 or an empty URL in the
// response means the tenant has no integrations enabled, reported as
// (nil, nil) per the AggregatorClient contract.
func (c *Client) Negotiate(ctx context.Context, tenantID string) (*models.MCPServerSpec, error) {
	endpoint := c.serviceURL + "?tenantId=" + url.QueryEscape(tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("aggregatorclient: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregatorclient: negotiate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregatorclient: negotiate returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("aggregatorclient: read body: %w", err)
	}

	var payload negotiateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("aggregatorclient: unmarshal response: %w", err)
	}
	if payload.URL == "" {
		return nil, nil
	}

	return &models.MCPServerSpec{
		Source:         models.MCPSourceExternal,
		URL:            payload.URL,
		Headers:        payload.Headers,
		ReListInterval: c.reListInterval,
	}, nil
}
