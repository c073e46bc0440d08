package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relaygate/castellan/internal/gatefsm"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Mode != "local" || cfg.AutomationProfile != ProfileManual {
		t.Fatalf("expected default config, got %+v", cfg)
	}
}

func TestLoadParsesYAMLOverDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "store:\n  mode: service\n  dsn: postgres://localhost/castellan\nautomation_profile: auto\nallow_gate_skip: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Mode != "service" || cfg.Store.DSN != "postgres://localhost/castellan" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.AutomationProfile != ProfileAuto || !cfg.AllowGateSkip {
		t.Fatalf("unexpected automation config: %+v", cfg)
	}
	if cfg.DocumentsDir != ".castellan/docs" {
		t.Fatalf("expected default documents dir to survive partial override, got %q", cfg.DocumentsDir)
	}
}

func TestGateRegistryAppliesOverrides(t *testing.T) {
	cfg := Default()
	requiresProof := true
	cfg.GateOverrides = map[string]GateOverride{
		"G2": {PassingCriteria: "Custom PRD bar", RequiresProof: &requiresProof},
	}

	registry := cfg.GateRegistry()
	g2 := registry[gatefsm.G2]
	if g2.PassingCriteria != "Custom PRD bar" || !g2.RequiresProof {
		t.Fatalf("expected override applied to G2, got %+v", g2)
	}

	g3 := registry[gatefsm.G3]
	if g3 != gatefsm.DefaultRegistry[gatefsm.G3] {
		t.Fatalf("expected untouched gate to remain default, got %+v", g3)
	}
}
