package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// RateScale is the fixed-point denominator applied to every rate-like
// parameter. A 10% base rate is stored as 100_000_000.
const RateScale = 1_000_000_000

// Config bundles the node settings with the protocol parameter set.
type Config struct {
	DataDir      string `toml:"DataDir"`
	RPCAddress   string `toml:"RPCAddress"`
	AdminAddress string `toml:"AdminAddress"`
	AdminToken   string `toml:"AdminToken"`

	// RPCRateLimitPerMinute throttles each client IP on the RPC endpoint.
	RPCRateLimitPerMinute float64 `toml:"RPCRateLimitPerMinute"`
	RPCRateLimitBurst     int     `toml:"RPCRateLimitBurst"`

	// WebhookURL, when set, receives every ledger event as a signed HTTP
	// POST. WebhookSecret keys the HMAC signature.
	WebhookURL    string `toml:"WebhookURL"`
	WebhookSecret string `toml:"WebhookSecret"`

	Params Params `toml:"params"`
}

// Params is the externally-owned parameter set read by all four ledger
// modules. The modules never mutate it; administrative updates arrive by
// rewriting the configuration and restarting, or through the admin RPC
// surface where exposed.
type Params struct {
	// BaseRate is the minimum borrow rate at zero utilization, RateScale
	// fixed point.
	BaseRate uint64 `toml:"BaseRate"`
	// OptimalUtilization marks the kink of the two-slope curve, RateScale
	// fixed point (0.8 => 800_000_000).
	OptimalUtilization uint64 `toml:"OptimalUtilization"`
	Slope1             uint64 `toml:"Slope1"`
	Slope2             uint64 `toml:"Slope2"`
	// MaxRate caps every computed rate, RateScale fixed point.
	MaxRate uint64 `toml:"MaxRate"`
	// ReserveFactorPercent is the share of repayment interest routed to the
	// pool reserve instead of depositor yield.
	ReserveFactorPercent uint64 `toml:"ReserveFactorPercent"`
	// ExposureCap bounds a single voucher's cumulative staked capital as a
	// fraction of total liquidity, RateScale fixed point (5% => 50_000_000).
	ExposureCap uint64 `toml:"ExposureCap"`

	// Boost is the star bonus returned to a voucher when their vouch
	// resolves successfully.
	Boost uint64 `toml:"Boost"`
	// MinStarsToVouch gates vouching eligibility.
	MinStarsToVouch uint64 `toml:"MinStarsToVouch"`
	// StartingStars is granted to an account on first interaction.
	StartingStars uint64 `toml:"StartingStars"`
	// CooldownPeriod blocks star accrual until the account has existed for
	// this many seconds.
	CooldownPeriod int64 `toml:"CooldownPeriod"`

	// DefaultLoanTerm is the loan duration in seconds applied when a request
	// does not supply one.
	DefaultLoanTerm int64 `toml:"DefaultLoanTerm"`
	// DefaultGrace extends the overdue predicate beyond the loan term, in
	// seconds. Zero unless configured otherwise.
	DefaultGrace int64 `toml:"DefaultGrace"`

	Tiers TierTable `toml:"tiers"`

	// DiscountPerStarPercent shaves this percentage off the borrower's rate
	// per star held, capped at MaxDiscountPercent.
	DiscountPerStarPercent uint64 `toml:"DiscountPerStarPercent"`
	MaxDiscountPercent     uint64 `toml:"MaxDiscountPercent"`
}

// TierTable configures the loan-size brackets and their requirements. Amounts
// are compared after dividing by ScalingFactor so the breakpoints stay
// readable regardless of ledger decimals. Breakpoints are exclusive upper
// bounds: a scaled principal of exactly Tier1MaxScaled lands in tier 2.
type TierTable struct {
	ScalingFactor  uint64 `toml:"ScalingFactor"`
	Tier1MaxScaled uint64 `toml:"Tier1MaxScaled"`
	Tier2MaxScaled uint64 `toml:"Tier2MaxScaled"`

	Tier1MinStars   uint64 `toml:"Tier1MinStars"`
	Tier1MinVouches int    `toml:"Tier1MinVouches"`
	Tier2MinStars   uint64 `toml:"Tier2MinStars"`
	Tier2MinVouches int    `toml:"Tier2MinVouches"`
	Tier3MinStars   uint64 `toml:"Tier3MinStars"`
	Tier3MinVouches int    `toml:"Tier3MinVouches"`
}

// DefaultParams returns the parameter set applied when no configuration file
// exists yet.
func DefaultParams() Params {
	return Params{
		BaseRate:             10 * RateScale / 100, // 10%
		OptimalUtilization:   80 * RateScale / 100, // 80%
		Slope1:               4 * RateScale / 100,  // +4% pre-optimal
		Slope2:               75 * RateScale / 100, // +75% post-optimal
		MaxRate:              100 * RateScale / 100,
		ReserveFactorPercent: 20,
		ExposureCap:          5 * RateScale / 100, // 5% of total liquidity

		Boost:           2,
		MinStarsToVouch: 50,
		StartingStars:   7,
		CooldownPeriod:  60,

		DefaultLoanTerm: 30 * 24 * 60 * 60, // 30 days
		DefaultGrace:    0,

		Tiers: TierTable{
			ScalingFactor:   1,
			Tier1MaxScaled:  1000,
			Tier2MaxScaled:  10000,
			Tier1MinStars:   5,
			Tier1MinVouches: 1,
			Tier2MinStars:   20,
			Tier2MinVouches: 2,
			Tier3MinStars:   50,
			Tier3MinVouches: 3,
		},

		DiscountPerStarPercent: 1,
		MaxDiscountPercent:     50,
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./kleolend-data"
	}
	if c.RPCAddress == "" {
		c.RPCAddress = "127.0.0.1:8545"
	}
	if c.RPCRateLimitPerMinute <= 0 {
		c.RPCRateLimitPerMinute = 600
	}
	if c.RPCRateLimitBurst <= 0 {
		c.RPCRateLimitBurst = 30
	}
	zero := Params{}
	if c.Params == zero {
		c.Params = DefaultParams()
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write defaults: %w", err)
	}
	return cfg, nil
}
