// Package catalogclient fetches the per-tenant managed-gateway daily request
// limit from an external config service, refreshing on an interval and
// falling back to a hard-coded default when the service is unset or
// unreachable (spec.md §4.8, §6). Grounded on the teacher's
// internal/catalog.Catalog refresh-on-interval HTTP+cache shape, repurposed
// from model pricing data to a tenant-keyed limit blob.
package catalogclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultRefreshInterval = 15 * time.Minute

// Client is a thread-safe, auto-refreshing view of per-tenant daily limits.
type Client struct {
	mu     sync.RWMutex
	limits map[string]int

	serviceURL    string
	defaultLimit  int
	httpClient    *http.Client
	stopCh        chan struct{}
	running       bool
}

// New creates a client that will fetch from serviceURL (if non-empty) and
// otherwise always returns defaultLimit.
func New(serviceURL string, defaultLimit int) *Client {
	return &Client{
		limits:       make(map[string]int),
		serviceURL:   serviceURL,
		defaultLimit: defaultLimit,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		stopCh:       make(chan struct{}),
	}
}

// Start fetches once synchronously (best-effort) and begins a background
// refresh loop. No-op if serviceURL is empty.
func (c *Client) Start(ctx context.Context) {
	if c.serviceURL == "" || c.running {
		return
	}
	c.running = true

	if err := c.refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("catalogclient: initial fetch failed, using default limit")
	}

	go func() {
		ticker := time.NewTicker(defaultRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.refresh(ctx); err != nil {
					log.Warn().Err(err).Msg("catalogclient: refresh failed")
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background refresh loop.
func (c *Client) Stop() {
	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

// DailyLimit returns the daily request limit for tenantID, falling back to
// the client's default when the tenant has no explicit entry or the
// service was never reachable. Satisfies contracts.CatalogClient.
func (c *Client) DailyLimit(ctx context.Context, tenantID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit, ok := c.limits[tenantID]; ok {
		return limit, nil
	}
	return c.defaultLimit, nil
}

func (c *Client) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serviceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch daily limits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var payload map[string]int
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("unmarshal daily limits: %w", err)
	}

	c.mu.Lock()
	c.limits = payload
	c.mu.Unlock()

	log.Info().Int("tenants", len(payload)).Msg("catalogclient: refreshed daily limits")
	return nil
}
