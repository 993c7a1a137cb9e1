package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("unexpected default http addr %q", cfg.HTTPAddr)
	}
	if cfg.Engine.StabilityFeeBps != 500 {
		t.Errorf("unexpected default fee %d", cfg.Engine.StabilityFeeBps)
	}
	if !cfg.Engine.AutoClose {
		t.Errorf("auto close should default on")
	}
	if cfg.Liquidation.CloseFactorBps != 5000 {
		t.Errorf("unexpected close factor %d", cfg.Liquidation.CloseFactorBps)
	}
}

func TestTOMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdp.toml")
	body := `
http_addr = ":9999"
price_max_age_seconds = 60

[engine]
stability_fee_bps = 250
auto_close = false

[yield]
chain = "Ethereum"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("http addr not overridden: %q", cfg.HTTPAddr)
	}
	if cfg.PriceMaxAgeSeconds != 60 {
		t.Errorf("price max age not overridden: %d", cfg.PriceMaxAgeSeconds)
	}
	if cfg.Engine.StabilityFeeBps != 250 || cfg.Engine.AutoClose {
		t.Errorf("engine section not overridden: %+v", cfg.Engine)
	}
	if cfg.Yield.Chain != "Ethereum" {
		t.Errorf("yield chain not overridden: %q", cfg.Yield.Chain)
	}
	// Untouched keys keep their defaults.
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("nats url should keep default: %q", cfg.NATSURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdp.toml")
	if err := os.WriteFile(path, []byte(`http_addr = ":9999"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("NYX_HTTP_ADDR", ":7777")
	t.Setenv("NYX_STABILITY_FEE_BPS", "100")
	t.Setenv("NYX_EMERGENCY_SHUTDOWN", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7777" {
		t.Errorf("env must beat file: %q", cfg.HTTPAddr)
	}
	if cfg.Engine.StabilityFeeBps != 100 {
		t.Errorf("fee env override missing: %d", cfg.Engine.StabilityFeeBps)
	}
	if !cfg.Engine.EmergencyShutdown {
		t.Errorf("emergency shutdown env override missing")
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("NYX_STABILITY_FEE_BPS", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.StabilityFeeBps != 500 {
		t.Errorf("malformed env must fall back to default, got %d", cfg.Engine.StabilityFeeBps)
	}
}
