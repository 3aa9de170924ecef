// Package modeladapter implements the Model Adapter (spec §4.1): a
// uniform façade over the ten provider families, yielding a finite
// streamed sequence of models.ModelEvent and translating between the
// internal message form and each provider's native request shape.
package modeladapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
)

// StreamInput bundles what a Driver needs to start one model stream call:
// the pruned (compacted) message list and the merged tool catalog.
type StreamInput struct {
	Model    string
	Messages []models.Message
	Tools    []models.ToolDefinition
}

// Driver builds a provider client from a Config snapshot and turns one
// turn's worth of conversation into a channel of ModelEvent, terminated
// by a finish or error event (spec §4.1).
type Driver interface {
	Kind() models.ProviderKind
	Stream(ctx context.Context, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error)
}

// StreamingProviderDriver is implemented by every Driver in this package;
// kept as a named interface (mirroring the router's optional-capability
// pattern) so a future driver could expose additional capabilities behind
// type assertions without changing the Registry's shape.
type StreamingProviderDriver interface {
	Driver
}

// Registry holds one Driver per ProviderKind. Built once at process
// startup and read concurrently by every conversation's reasoning loop.
type Registry struct {
	mu      sync.RWMutex
	drivers map[models.ProviderKind]Driver
}

// NewRegistry creates a registry with the built-in OSS-equivalent drivers
// registered: anthropic, openai, openai-compatible, ollama, lmstudio,
// azure, openrouter, google, bedrock, and managed (which wraps one of the
// others by upstream kind).
func NewRegistry() *Registry {
	r := &Registry{drivers: make(map[models.ProviderKind]Driver)}

	anthropicDriver := NewAnthropicDriver()
	openaiDriver := NewOpenAICompatibleDriver(models.ProviderOpenAI, "https://api.openai.com/v1")
	azureDriver := NewOpenAICompatibleDriver(models.ProviderAzure, "")
	openrouterDriver := NewOpenAICompatibleDriver(models.ProviderOpenRouter, "https://openrouter.ai/api/v1")
	ollamaDriver := NewOpenAICompatibleDriver(models.ProviderOllama, "http://localhost:11434/v1")
	lmstudioDriver := NewOpenAICompatibleDriver(models.ProviderLMStudio, "http://localhost:1234/v1")
	compatDriver := NewOpenAICompatibleDriver(models.ProviderOpenAICompatible, "")
	googleDriver := NewGoogleDriver()
	bedrockDriver := NewBedrockDriver()

	r.Register(anthropicDriver)
	r.Register(openaiDriver)
	r.Register(azureDriver)
	r.Register(openrouterDriver)
	r.Register(ollamaDriver)
	r.Register(lmstudioDriver)
	r.Register(compatDriver)
	r.Register(googleDriver)
	r.Register(bedrockDriver)
	r.Register(NewManagedDriver(r))

	return r
}

// Register adds or replaces the driver for its Kind().
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Kind()] = d
}

// Lookup returns the driver registered for kind, if any.
func (r *Registry) Lookup(kind models.ProviderKind) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[kind]
	return d, ok
}

// Stream resolves the driver for cfg's kind (read off conversation Config
// by the caller) and starts a stream, or returns a ProviderConfigError if
// no driver is registered for the kind.
func (r *Registry) Stream(ctx context.Context, kind models.ProviderKind, cfg models.ProviderConfig, in StreamInput) (<-chan models.ModelEvent, error) {
	driver, ok := r.Lookup(kind)
	if !ok {
		return nil, models.NewAPIError(models.ErrProviderConfig, fmt.Sprintf("unknown provider %q", kind))
	}
	return driver.Stream(ctx, cfg, in)
}
