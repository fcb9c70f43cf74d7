// Package config loads the host's root configuration file, rye.toml, with
// github.com/BurntSushi/toml (SPEC_FULL.md AMBIENT STACK "Configuration").
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/resolver"
)

// Config is the parsed shape of rye.toml.
type Config struct {
	Roots    RootsConfig    `toml:"roots"`
	Budget   BudgetConfig   `toml:"budget"`
	Model    ModelConfig    `toml:"model"`
	Harness  HarnessConfig  `toml:"harness"`
	Cache    CacheConfig    `toml:"cache"`
}

// RootsConfig names the project/user tier roots and the system bundles.
type RootsConfig struct {
	Project string   `toml:"project"`
	User    string   `toml:"user"`
	Bundles []Bundle `toml:"bundles"`
}

// Bundle mirrors resolver.Bundle's on-disk configuration shape.
type Bundle struct {
	Name  string   `toml:"name"`
	Root  string   `toml:"root"`
	Owns  []string `toml:"owns"`
}

// BudgetConfig sets default per-thread spend limits (spec §3.6).
type BudgetConfig struct {
	DefaultMaxSpend int64 `toml:"default_max_spend"`
}

// ModelConfig names which provider backs the harness's model calls and the
// credential/reference material for it. Credential values themselves are
// never stored in rye.toml — only environment-variable names referencing
// them (spec's "model provider credentials references").
type ModelConfig struct {
	Provider         string `toml:"provider"` // "anthropic" | "openai" | "bedrock"
	Model            string `toml:"model"`
	APIKeyEnv        string `toml:"api_key_env"`
	MaxTokens        int    `toml:"max_tokens"`
	ContextWindow    int    `toml:"context_window"`
	BedrockRegionEnv string `toml:"bedrock_region_env"`
}

// HarnessConfig controls the per-turn loop (spec §4.6/§4.7).
type HarnessConfig struct {
	HandoffThreshold    float64       `toml:"handoff_threshold"`     // default 0.9
	ResumeCeilingTokens int           `toml:"resume_ceiling_tokens"` // default 16000
	MaxTurns            int           `toml:"max_turns"`
	MaxDuration         time.Duration `toml:"max_duration"`
	CheckpointEvery     int           `toml:"checkpoint_every_turns"`
}

// CacheConfig configures the resolver's search cache (spec §4.2).
type CacheConfig struct {
	Backend  string        `toml:"backend"` // "memory" | "redis" | "" (disabled)
	RedisURL string        `toml:"redis_url"`
	TTL      time.Duration `toml:"ttl"`
}

// Default returns the built-in defaults applied when rye.toml omits a field.
func Default() Config {
	return Config{
		Budget: BudgetConfig{DefaultMaxSpend: 1000},
		Harness: HarnessConfig{
			HandoffThreshold:    0.9,
			ResumeCeilingTokens: 16000,
			MaxTurns:            200,
			MaxDuration:         30 * time.Minute,
			CheckpointEvery:     5,
		},
		Cache: CacheConfig{Backend: "memory", TTL: 5 * time.Minute},
	}
}

// Load reads and parses path, layering it over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, hosterr.Wrap(hosterr.ValidationError, err, "loading config %s", path)
	}
	if cfg.Harness.HandoffThreshold <= 0 {
		cfg.Harness.HandoffThreshold = 0.9
	}
	if cfg.Harness.ResumeCeilingTokens <= 0 {
		cfg.Harness.ResumeCeilingTokens = 16000
	}
	return cfg, nil
}

// ResolverLayout builds a resolver.Layout from the configured roots.
func (c Config) ResolverLayout() resolver.Layout {
	layout := resolver.Layout{ProjectRoot: c.Roots.Project, UserRoot: c.Roots.User}
	for _, b := range c.Roots.Bundles {
		layout.SystemBundles = append(layout.SystemBundles, resolver.Bundle{Name: b.Name, Root: b.Root, Categories: b.Owns})
	}
	return layout
}
