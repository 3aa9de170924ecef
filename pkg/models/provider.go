package models

// ProviderKind is the tagged union of supported LLM providers (spec §9).
type ProviderKind string

const (
	ProviderAnthropic      ProviderKind = "anthropic"
	ProviderOpenAI         ProviderKind = "openai"
	ProviderGoogle         ProviderKind = "google"
	ProviderOpenRouter     ProviderKind = "openrouter"
	ProviderAzure          ProviderKind = "azure"
	ProviderOllama         ProviderKind = "ollama"
	ProviderLMStudio       ProviderKind = "lmstudio"
	ProviderBedrock        ProviderKind = "bedrock"
	ProviderManaged        ProviderKind = "managed"
	ProviderOpenAICompatible ProviderKind = "openai-compatible"
)

// ManagedUpstream names the real provider a Managed-gateway config proxies to.
type ManagedUpstream string

const (
	ManagedUpstreamAnthropic  ManagedUpstream = "anthropic"
	ManagedUpstreamOpenAI     ManagedUpstream = "openai"
	ManagedUpstreamOpenRouter ManagedUpstream = "openrouter"
	ManagedUpstreamAzure      ManagedUpstream = "azure"
)

// ProviderConfig carries the credential requirements for whichever
// ProviderKind a Config.Provider names. Only the fields relevant to that
// kind are populated; this mirrors the "match on creation" design called
// out in spec §9 rather than one class per provider.
type ProviderConfig struct {
	// APIKey is used by Anthropic, OpenAI, Google, OpenRouter, Azure,
	// LM Studio (optional), and as the managed-gateway's own credential.
	APIKey string `json:"apiKey,omitempty"`

	// BaseURL overrides the default endpoint: required for Azure and
	// OpenAI-compatible, optional for Ollama and LM Studio (which default
	// to their usual localhost ports) and for OpenAI and OpenRouter.
	BaseURL string `json:"baseUrl,omitempty"`

	// AzureDeployment and AzureAPIVersion are Azure-specific.
	AzureDeployment string `json:"azureDeployment,omitempty"`
	AzureAPIVersion string `json:"azureApiVersion,omitempty"`

	// AWSRegion, AWSAccessKeyID, AWSSecretAccessKey, AWSSessionToken are
	// Bedrock-specific. Empty credential fields mean "use the default AWS
	// credential chain" (instance role, shared config, env vars).
	AWSRegion          string `json:"awsRegion,omitempty"`
	AWSAccessKeyID     string `json:"awsAccessKeyId,omitempty"`
	AWSSecretAccessKey string `json:"awsSecretAccessKey,omitempty"`
	AWSSessionToken    string `json:"awsSessionToken,omitempty"`

	// Managed carries the managed-gateway's upstream selection; only
	// meaningful when Provider == ProviderManaged.
	Managed *ManagedConfig `json:"managed,omitempty"`
}

// ManagedConfig configures the managed-gateway provider (spec §9, §4.1).
type ManagedConfig struct {
	Upstream    ManagedUpstream `json:"upstream"`
	GatewayURL  string          `json:"gatewayUrl"`
	GatewayAuth string          `json:"gatewayAuth"`
}

// Redacted returns a copy of the config with every credential field
// blanked, safe to pass to a logger. Spec §4.1: "Credentials flow through
// only; they are never logged."
func (c ProviderConfig) Redacted() ProviderConfig {
	r := c
	if r.APIKey != "" {
		r.APIKey = "<redacted>"
	}
	if r.AzureAPIVersion != "" {
		// api version isn't secret, keep it
	}
	r.AWSAccessKeyID = redactedIfSet(r.AWSAccessKeyID)
	r.AWSSecretAccessKey = redactedIfSet(r.AWSSecretAccessKey)
	r.AWSSessionToken = redactedIfSet(r.AWSSessionToken)
	if r.Managed != nil {
		m := *r.Managed
		m.GatewayAuth = redactedIfSet(m.GatewayAuth)
		r.Managed = &m
	}
	return r
}

func redactedIfSet(s string) string {
	if s == "" {
		return s
	}
	return "<redacted>"
}

// TokenUsage accumulates usage counters across one or more model calls
// (spec §4.1 finish{usage}; §9 cost tracking supplement).
type TokenUsage struct {
	InputTokens    int     `json:"inputTokens"`
	OutputTokens   int     `json:"outputTokens"`
	TotalTokens    int     `json:"totalTokens"`
	ThinkingTokens int     `json:"thinkingTokens,omitempty"`
	EstimatedCost  float64 `json:"estimatedCost,omitempty"`
}

// Add accumulates other into u in place and returns u for chaining.
func (u *TokenUsage) Add(other TokenUsage) *TokenUsage {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.ThinkingTokens += other.ThinkingTokens
	u.EstimatedCost += other.EstimatedCost
	return u
}
