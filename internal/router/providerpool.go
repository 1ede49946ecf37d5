package router

import (
	"fmt"
	"sync"
)

// Credentials holds the connection details for one provider, grounded on
// the teacher's ai.AIConfig (Provider/APIKey/BaseURL/Region plus AWS-style
// triple) generalized into a registry keyed by provider name instead of a
// single-provider struct.
type Credentials struct {
	APIKey          string `json:"apiKey,omitempty"`
	BaseURL         string `json:"baseUrl,omitempty"`
	Region          string `json:"region,omitempty"`
	AccessKeyID     string `json:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// Redacted returns a copy with secrets blanked, safe to serve over the API.
func (c Credentials) Redacted() Credentials {
	r := c
	if r.APIKey != "" {
		r.APIKey = "****"
	}
	if r.SecretAccessKey != "" {
		r.SecretAccessKey = "****"
	}
	if r.SessionToken != "" {
		r.SessionToken = "****"
	}
	return r
}

// Option mutates Credentials at construction time, mirroring the teacher's
// functional-options pattern (WithProvider/WithAPIKey/WithBaseURL/...).
type Option func(*Credentials)

// WithAPIKey sets the provider's API key.
func WithAPIKey(key string) Option { return func(c *Credentials) { c.APIKey = key } }

// WithBaseURL overrides the provider's default endpoint.
func WithBaseURL(url string) Option { return func(c *Credentials) { c.BaseURL = url } }

// WithRegion sets a cloud region (Bedrock-style providers).
func WithRegion(region string) Option { return func(c *Credentials) { c.Region = region } }

// WithAWSCredentials sets the AWS-style credential triple.
func WithAWSCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *Credentials) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
		c.SessionToken = sessionToken
	}
}

// NewCredentials applies opts over a zero-value Credentials.
func NewCredentials(opts ...Option) Credentials {
	var c Credentials
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// ProviderPool is a concurrency-safe registry of provider credentials, used
// to build the llmConfig payload handed to the chat client for a resolved
// Decision.
type ProviderPool struct {
	mu          sync.RWMutex
	credentials map[string]Credentials
}

// NewProviderPool builds an empty pool.
func NewProviderPool() *ProviderPool {
	return &ProviderPool{credentials: map[string]Credentials{}}
}

// Register stores (or replaces) credentials for provider.
func (p *ProviderPool) Register(provider string, creds Credentials) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credentials[provider] = creds
}

// Get returns the credentials for provider, if registered.
func (p *ProviderPool) Get(provider string) (Credentials, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.credentials[provider]
	return c, ok
}

// Available reports whether provider has registered credentials.
func (p *ProviderPool) Available(provider string) bool {
	_, ok := p.Get(provider)
	return ok
}

// BuildLLMConfig assembles the map attached to a task's outbound chat
// request, merging the resolved Decision with the provider's registered
// credentials. Returns an error if the decision's provider has no
// registered credentials, the no_available_provider case spec.md names.
func (p *ProviderPool) BuildLLMConfig(d Decision) (map[string]interface{}, error) {
	if d.Provider == "" {
		return nil, fmt.Errorf("no provider resolved for tool %q", d.ToolName)
	}
	creds, ok := p.Get(d.Provider)
	if !ok {
		return nil, fmt.Errorf("no credentials registered for provider %q", d.Provider)
	}
	cfg := map[string]interface{}{
		"provider": d.Provider,
		"model":    d.Model,
	}
	if creds.APIKey != "" {
		cfg["apiKey"] = creds.APIKey
	}
	if creds.BaseURL != "" {
		cfg["baseUrl"] = creds.BaseURL
	}
	if creds.Region != "" {
		cfg["region"] = creds.Region
	}
	if creds.AccessKeyID != "" {
		cfg["accessKeyId"] = creds.AccessKeyID
		cfg["secretAccessKey"] = creds.SecretAccessKey
		if creds.SessionToken != "" {
			cfg["sessionToken"] = creds.SessionToken
		}
	}
	return cfg, nil
}
