package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file written: %v", err)
	}
	if cfg.Params.StartingStars != 7 {
		t.Fatalf("expected starting stars 7, got %d", cfg.Params.StartingStars)
	}
	if cfg.Params.Tiers.Tier1MinVouches != 1 {
		t.Fatalf("expected tier1 min vouches 1, got %d", cfg.Params.Tiers.Tier1MinVouches)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if _, err := Load(path); err != nil {
		t.Fatalf("create defaults: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Params != DefaultParams() {
		t.Fatalf("reloaded params differ from defaults: %+v", cfg.Params)
	}
}

func TestValidateRequiresWebhookSecret(t *testing.T) {
	cfg := &Config{RPCAddress: "127.0.0.1:8545", WebhookURL: "https://hooks.example.com/ledger", Params: DefaultParams()}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for webhook URL without secret")
	}
	cfg.WebhookSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero optimal utilization", func(p *Params) { p.OptimalUtilization = 0 }},
		{"optimal above one", func(p *Params) { p.OptimalUtilization = RateScale + 1 }},
		{"base above max", func(p *Params) { p.BaseRate = p.MaxRate + 1 }},
		{"reserve factor above 100", func(p *Params) { p.ReserveFactorPercent = 101 }},
		{"zero exposure cap", func(p *Params) { p.ExposureCap = 0 }},
		{"discount cap above 100", func(p *Params) { p.MaxDiscountPercent = 101 }},
		{"zero scaling factor", func(p *Params) { p.Tiers.ScalingFactor = 0 }},
		{"inverted breakpoints", func(p *Params) { p.Tiers.Tier2MaxScaled = p.Tiers.Tier1MaxScaled }},
		{"zero tier vouches", func(p *Params) { p.Tiers.Tier3MinVouches = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := DefaultParams()
			tc.mutate(&params)
			if err := params.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
