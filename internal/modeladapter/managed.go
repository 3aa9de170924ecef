package modeladapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/cenkalti/backoff/v4"
)

// ManagedDriver proxies to one of the registry's other drivers, chosen by
// the config's Managed.Upstream, and retries the connect step with
// exponential backoff over the standard set of retryable HTTP statuses:
// 408, 409, 429, and 5xx (spec §4.1). Only the initial Stream() call is
// retried; once bytes start flowing on the returned channel, a failure
// surfaces as a ModelEventError like any other driver.
type ManagedDriver struct {
	registry *Registry
}

func NewManagedDriver(registry *Registry) *ManagedDriver {
	return &ManagedDriver{registry: registry}
}

func (d *ManagedDriver) Kind() models.ProviderKind { return models.ProviderManaged }

func (d *ManagedDriver) Stream(ctx context.Context, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error) {
	if cfg.Managed == nil {
		return nil, models.NewAPIError(models.ErrProviderConfig, "managed: missing upstream configuration")
	}

	upstreamKind, err := upstreamProviderKind(cfg.Managed.Upstream)
	if err != nil {
		return nil, err
	}
	upstream, ok := d.registry.Lookup(upstreamKind)
	if !ok {
		return nil, models.NewAPIError(models.ErrProviderConfig, fmt.Sprintf("managed: no driver for upstream %q", upstreamKind))
	}

	upstreamCfg := cfg
	upstreamCfg.BaseURL = cfg.Managed.GatewayURL
	upstreamCfg.APIKey = cfg.Managed.GatewayAuth

	var channel <-chan models.ModelEvent
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	err = backoff.Retry(func() error {
		ch, streamErr := upstream.Stream(ctx, upstreamCfg, in)
		if streamErr != nil {
			if isRetryableStatus(streamErr) {
				return streamErr
			}
			return backoff.Permanent(streamErr)
		}
		channel = ch
		return nil
	}, backoff.WithMaxRetries(policy, 3))

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, fmt.Errorf("managed: %w", err)
	}
	return channel, nil
}

func upstreamProviderKind(upstream models.ManagedUpstream) (models.ProviderKind, error) {
	switch upstream {
	case models.ManagedUpstreamAnthropic:
		return models.ProviderAnthropic, nil
	case models.ManagedUpstreamOpenAI:
		return models.ProviderOpenAI, nil
	case models.ManagedUpstreamOpenRouter:
		return models.ProviderOpenRouter, nil
	case models.ManagedUpstreamAzure:
		return models.ProviderAzure, nil
	default:
		return "", models.NewAPIError(models.ErrProviderConfig, fmt.Sprintf("managed: unknown upstream %q", upstream))
	}
}

func isRetryableStatus(err error) bool {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return isRetryableCode(apiErr.StatusCode)
	}
	return false
}

func isRetryableCode(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code < 600
	}
}
