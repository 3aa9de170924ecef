// Package contracts defines the interfaces that sit at the seams of the
// agent runtime: HTTP authentication and the credential shape handlers and
// middleware share without depending on any one provider implementation.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// Identity represents an authenticated caller of the HTTP API.
type Identity struct {
	// Subject is the unique identifier for the caller (API key hash, etc).
	Subject string `json:"subject"`

	// Provider identifies which AuthProvider authenticated this identity,
	// e.g. "apikey".
	Provider string `json:"provider"`

	// TenantID is the tenant scope extracted from the credential, used to
	// key rate limiting and session storage (spec §3 Config.TenantID).
	// Empty means "use the default tenant from the request header".
	TenantID string `json:"tenantId,omitempty"`

	DisplayName string            `json:"displayName,omitempty"`
	Claims      map[string]string `json:"claims,omitempty"`
	ExpiresAt   time.Time         `json:"expiresAt,omitempty"`
}

// AuthProvider authenticates one HTTP request.
//
//   - (*Identity, nil) → authenticated, stop walking the chain
//   - (nil, nil)       → this provider doesn't apply, try the next one
//   - (nil, error)     → authentication was attempted and failed, reject
type AuthProvider interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	Enabled() bool
}

// AuthProviderChain tries providers in registration order until one
// returns an Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
