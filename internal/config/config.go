// Package config defines the environment-input shape the engine's
// composition root wires into persistence, the provider registry, and the
// cost ledger. Parsing the TOML file (or environment variables) into this
// struct is an outer-layer concern; this package only owns the types.
package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from TOML/JSON strings like
// "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ProviderCredentials holds the per-provider secrets and overrides an
// outer layer loads from the environment.
type ProviderCredentials struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url,omitempty"`
	Model   string `toml:"model,omitempty"`
}

// EmbeddingConfig configures the optional embeddings backend; zero value
// means "use the offline hashed-shingle fallback."
type EmbeddingConfig struct {
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
	Model   string `toml:"model,omitempty"`
}

// EngineConfig is the full set of environment inputs enumerated in spec
// §6: default provider, per-provider credentials, daily budget, database
// path, and embedding credentials.
type EngineConfig struct {
	DefaultProvider string                         `toml:"default_provider"`
	Providers       map[string]ProviderCredentials `toml:"providers"`

	DailyBudgetUSD float64 `toml:"daily_budget_usd"`

	DatabasePath      string `toml:"database_path"`
	RewriteHistoryDir string `toml:"rewrite_history_dir"`
	CostLedgerPath    string `toml:"cost_ledger_path"`

	Embedding EmbeddingConfig `toml:"embedding"`

	RequestTimeout Duration `toml:"request_timeout"`
}

// DefaultRequestTimeout is the per-client request timeout (spec §5) used
// when EngineConfig.RequestTimeout is zero.
const DefaultRequestTimeout = 60 * time.Second

// Timeout returns the configured request timeout, or the default.
func (c EngineConfig) Timeout() time.Duration {
	if c.RequestTimeout.Duration <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout.Duration
}
