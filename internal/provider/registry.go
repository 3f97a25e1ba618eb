package provider

import (
	"fmt"
	"strings"
	"sync"
)

// Factory constructs a Client from credentials.
type Factory func(name string, creds Credentials, timeout float64) (Client, error)

// Descriptor describes a registrable provider: its constructor, which
// credential field it requires, and whether it accepts a base-URL
// override.
type Descriptor struct {
	New             Factory
	CredentialField string
	AllowsBaseURL   bool
}

// Registry is a name→factory map behind a lock, mirroring the teacher's
// "pluggable backend by name" shape (internal/dispatch.Backend) and the
// mutex-guarded map style of ConcurrencyController.
type Registry struct {
	mu         sync.RWMutex
	descriptor map[string]Descriptor
}

// NewRegistry returns a registry pre-populated with the three required
// built-in providers.
func NewRegistry() *Registry {
	r := &Registry{descriptor: make(map[string]Descriptor)}
	r.Register("openai", Descriptor{New: newOpenAIClient, CredentialField: "api_key", AllowsBaseURL: true})
	r.Register("claude", Descriptor{New: newClaudeClient, CredentialField: "api_key", AllowsBaseURL: true})
	r.Register("qwen", Descriptor{New: newQwenClient, CredentialField: "api_key", AllowsBaseURL: true})
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces a descriptor under a case-insensitive name.
func (r *Registry) Register(name string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptor[normalize(name)] = d
}

// Build constructs a client for the given provider name. A name not
// present in the registry is treated as OpenAI-compatible, per contract.
func (r *Registry) Build(name string, creds Credentials, timeoutSeconds float64) (Client, error) {
	r.mu.RLock()
	d, ok := r.descriptor[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		d = Descriptor{New: newOpenAIClient, CredentialField: "api_key", AllowsBaseURL: true}
	}
	if strings.TrimSpace(creds.APIKey) == "" || isPlaceholder(creds.APIKey) {
		return nil, fmt.Errorf("provider %q: missing or placeholder %s", name, d.CredentialField)
	}
	return d.New(normalize(name), creds, timeoutSeconds)
}

func isPlaceholder(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	switch lower {
	case "", "changeme", "todo", "your-api-key", "xxx":
		return true
	}
	return strings.HasPrefix(lower, "sk-placeholder")
}
