// Package config defines castellan's on-disk configuration: the store
// backend (local SQLite vs service Postgres), the gate automation profile,
// and per-gate overrides layered on gatefsm.DefaultRegistry.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relaygate/castellan/internal/gatefsm"
)

// AutomationProfile names one of the canned approval-automation presets.
// The value is loaded and kept in Config only: no gate logic reads it, so
// under every profile a gate is approved only by an explicit ApproveGate
// call carrying an approval response.
type AutomationProfile string

const (
	// ProfileManual names the preset where every gate takes a human
	// approval response.
	ProfileManual AutomationProfile = "manual"
	// ProfileAuto names the auto-approval preset; no gate is approved
	// automatically under it.
	ProfileAuto AutomationProfile = "auto"
	// ProfileStrict names the strict preset; it adds no proof
	// re-verification before approval.
	ProfileStrict AutomationProfile = "strict"
)

// StoreConfig selects and configures the Truth Store's backend.
type StoreConfig struct {
	// Mode is "local" (embedded SQLite, file-backed) or "service"
	// (Postgres, for a multi-process deployment).
	Mode string `yaml:"mode"`
	// DSN is the SQLite file path for local mode, or the Postgres
	// connection string for service mode.
	DSN string `yaml:"dsn"`
}

// GateOverride adjusts one gate's canned Config entry.
type GateOverride struct {
	PassingCriteria string `yaml:"passing_criteria,omitempty"`
	RequiresProof   *bool  `yaml:"requires_proof,omitempty"`
}

// ToolServerConfig configures the JSON-RPC tool-catalog listener.
type ToolServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the root of castellan's configuration file.
type Config struct {
	Store             StoreConfig             `yaml:"store"`
	AutomationProfile AutomationProfile       `yaml:"automation_profile"`
	AllowGateSkip     bool                    `yaml:"allow_gate_skip"`
	GateOverrides     map[string]GateOverride `yaml:"gate_overrides,omitempty"`
	ToolServer        ToolServerConfig        `yaml:"tool_server"`
	DocumentsDir      string                  `yaml:"documents_dir"`
}

// Default returns the configuration castellan runs with when no config
// file is found: a local SQLite store under .castellan/castellan.db, the
// manual automation profile, and the tool server disabled.
func Default() Config {
	return Config{
		Store:             StoreConfig{Mode: "local", DSN: ".castellan/castellan.db"},
		AutomationProfile: ProfileManual,
		DocumentsDir:      ".castellan/docs",
		ToolServer:        ToolServerConfig{Enabled: false, Addr: "127.0.0.1:8711"},
	}
}

// Load reads and parses a YAML config file at path, applying its values
// over Default(). A missing file is not an error; Default() is returned
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// GateRegistry builds a gatefsm.Config registry from gatefsm.DefaultRegistry
// with this config's per-gate overrides applied.
func (c Config) GateRegistry() map[gatefsm.GateType]gatefsm.Config {
	out := make(map[gatefsm.GateType]gatefsm.Config, len(gatefsm.DefaultRegistry))
	for gate, cfg := range gatefsm.DefaultRegistry {
		out[gate] = cfg
	}
	for gateName, override := range c.GateOverrides {
		gate := gatefsm.GateType(gateName)
		cfg, ok := out[gate]
		if !ok {
			continue
		}
		if override.PassingCriteria != "" {
			cfg.PassingCriteria = override.PassingCriteria
		}
		if override.RequiresProof != nil {
			cfg.RequiresProof = *override.RequiresProof
		}
		out[gate] = cfg
	}
	return out
}
