package config

import (
	"fmt"
	"strings"
)

// Validate rejects parameter sets that would make the ledger arithmetic
// meaningless. It is called on every load before the node starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.WebhookURL) != "" && strings.TrimSpace(c.WebhookSecret) == "" {
		return fmt.Errorf("config: WebhookSecret required when WebhookURL is set")
	}
	return c.Params.Validate()
}

// Validate checks the protocol parameter set in isolation.
func (p Params) Validate() error {
	if p.OptimalUtilization == 0 || p.OptimalUtilization > RateScale {
		return fmt.Errorf("config: OptimalUtilization must be in (0, 1], got %d", p.OptimalUtilization)
	}
	if p.MaxRate == 0 {
		return fmt.Errorf("config: MaxRate must be positive")
	}
	if p.BaseRate > p.MaxRate {
		return fmt.Errorf("config: BaseRate %d exceeds MaxRate %d", p.BaseRate, p.MaxRate)
	}
	if p.ReserveFactorPercent > 100 {
		return fmt.Errorf("config: ReserveFactorPercent must be at most 100, got %d", p.ReserveFactorPercent)
	}
	if p.ExposureCap == 0 || p.ExposureCap > RateScale {
		return fmt.Errorf("config: ExposureCap must be in (0, 1], got %d", p.ExposureCap)
	}
	if p.MaxDiscountPercent > 100 {
		return fmt.Errorf("config: MaxDiscountPercent must be at most 100, got %d", p.MaxDiscountPercent)
	}
	if p.CooldownPeriod < 0 {
		return fmt.Errorf("config: CooldownPeriod must not be negative")
	}
	if p.DefaultLoanTerm <= 0 {
		return fmt.Errorf("config: DefaultLoanTerm must be positive")
	}
	if p.DefaultGrace < 0 {
		return fmt.Errorf("config: DefaultGrace must not be negative")
	}
	return p.Tiers.Validate()
}

// Validate checks the tier table for ordering and completeness.
func (t TierTable) Validate() error {
	if t.ScalingFactor == 0 {
		return fmt.Errorf("config: tier ScalingFactor must be positive")
	}
	if t.Tier1MaxScaled == 0 || t.Tier2MaxScaled <= t.Tier1MaxScaled {
		return fmt.Errorf("config: tier breakpoints must satisfy 0 < tier1 < tier2")
	}
	if t.Tier1MinVouches <= 0 || t.Tier2MinVouches <= 0 || t.Tier3MinVouches <= 0 {
		return fmt.Errorf("config: every tier needs at least one required voucher")
	}
	return nil
}
