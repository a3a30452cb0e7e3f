package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	WarehouseID string `env:"AGENTGATE_TEST_WAREHOUSE_ID" envDefault:"wh-default"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.WarehouseID != "wh-default" {
		t.Fatalf("expected default warehouse id, got %q", cfg.WarehouseID)
	}
}

func TestParseEnvOverride(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("AGENTGATE_TEST_WAREHOUSE_ID", "wh-7")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.WarehouseID != "wh-7" {
		t.Fatalf("expected wh-7, got %q", cfg.WarehouseID)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg struct {
		Port int `env:"AGENTGATE_TEST_PORT"`
	}
	t.Setenv("AGENTGATE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
