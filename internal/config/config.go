// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Stage is one take-profit checkpoint: when price reaches Multiplier times the
// entry price, SellFraction of the remaining amount is sold.
type Stage struct {
	Multiplier   float64 `mapstructure:"multiplier"`
	SellFraction float64 `mapstructure:"sell_fraction"`
}

type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	WebSocketURL string   `mapstructure:"websocket_url"`
	// ListingURL is the HTTP pool listing endpoint used for discovery when
	// no WebSocket endpoint is configured.
	ListingURL  string `mapstructure:"listing_url"`
	RouterURL   string `mapstructure:"router_url"`
	PriceAPIURL string `mapstructure:"price_api_url"`
	PostgresURL string `mapstructure:"postgres_url"`
	WalletKey   string `mapstructure:"wallet_key"`
	ProgramID   string `mapstructure:"program_id"`

	// QuoteMint is the leg we trade against; QuoteMints additionally lists
	// quote-like mints that must never be treated as trade targets.
	QuoteMint  string   `mapstructure:"quote_mint"`
	QuoteMints []string `mapstructure:"quote_mints"`

	BuyAmountUSD     float64       `mapstructure:"buy_amount_usd"`
	Stages           []Stage       `mapstructure:"stages"`
	StopLossFraction float64       `mapstructure:"stop_loss_fraction"`
	PositionTimeout  time.Duration `mapstructure:"position_timeout"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	SlippageBps      int           `mapstructure:"slippage_bps"`

	CandidatesPerTick int           `mapstructure:"candidates_per_tick"`
	CandidateDelay    time.Duration `mapstructure:"candidate_delay"`

	TopHolders       int     `mapstructure:"top_holders"`
	ConcentrationPct float64 `mapstructure:"concentration_pct"`
	MaxDecimals      uint8   `mapstructure:"max_decimals"`

	LogFile      string `mapstructure:"log_file"`
	DebugLogging bool   `mapstructure:"debug_logging"`
}

const (
	DefaultMonitorInterval   = 10 * time.Second
	DefaultPollInterval      = 3 * time.Second
	DefaultPositionTimeout   = 30 * time.Minute
	DefaultStopLossFraction  = 0.3
	DefaultSlippageBps       = 300
	DefaultCandidatesPerTick = 3
	DefaultCandidateDelay    = 500 * time.Millisecond
	DefaultTopHolders        = 5
	DefaultConcentrationPct  = 50.0
	DefaultMaxDecimals       = 12

	// WSOL mint, the default quote leg.
	DefaultQuoteMint = "So11111111111111111111111111111111111111112"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor_interval":    DefaultMonitorInterval,
		"poll_interval":       DefaultPollInterval,
		"position_timeout":    DefaultPositionTimeout,
		"stop_loss_fraction":  DefaultStopLossFraction,
		"slippage_bps":        DefaultSlippageBps,
		"candidates_per_tick": DefaultCandidatesPerTick,
		"candidate_delay":     DefaultCandidateDelay,
		"top_holders":         DefaultTopHolders,
		"concentration_pct":   DefaultConcentrationPct,
		"max_decimals":        DefaultMaxDecimals,
		"quote_mint":          DefaultQuoteMint,
		"log_file":            "sniper.log",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	if len(cfg.Stages) == 0 {
		// Staged policy by default; a flat single-shot exit is just a
		// one-element stage list selling everything at the target.
		cfg.Stages = []Stage{
			{Multiplier: 2.0, SellFraction: 0.25},
			{Multiplier: 3.0, SellFraction: 0.5},
		}
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.WalletKey == "" {
		return errors.New("missing wallet_key in configuration")
	}
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.WebSocketURL == "" && cfg.ListingURL == "" {
		return errors.New("either websocket_url or listing_url must be set")
	}
	if cfg.WebSocketURL != "" {
		if err := validateURL(cfg.WebSocketURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
		// Without a program id the log subscription would mention
		// nothing and silently never match.
		if cfg.ProgramID == "" {
			return errors.New("program_id is required for websocket discovery")
		}
	}
	if cfg.ListingURL != "" {
		if err := validateURL(cfg.ListingURL, "http"); err != nil {
			return errors.New("invalid listing URL protocol")
		}
	}
	if cfg.RouterURL == "" {
		return errors.New("missing router_url in configuration")
	}
	if cfg.PriceAPIURL == "" {
		return errors.New("missing price_api_url in configuration")
	}
	return validateTradingParams(cfg)
}

func validateTradingParams(cfg *Config) error {
	if cfg.BuyAmountUSD <= 0 {
		return errors.New("invalid buy_amount_usd")
	}
	if cfg.StopLossFraction <= 0 || cfg.StopLossFraction >= 1 {
		return errors.New("stop_loss_fraction must be in (0, 1)")
	}
	if cfg.PositionTimeout <= 0 {
		return errors.New("invalid position_timeout")
	}
	if cfg.MonitorInterval <= 0 {
		return errors.New("invalid monitor_interval")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("invalid poll_interval")
	}
	if cfg.CandidatesPerTick <= 0 {
		return errors.New("invalid candidates_per_tick")
	}
	if cfg.TopHolders <= 0 {
		return errors.New("invalid top_holders")
	}
	if cfg.ConcentrationPct <= 0 || cfg.ConcentrationPct > 100 {
		return errors.New("concentration_pct must be in (0, 100]")
	}
	prev := 0.0
	for i, st := range cfg.Stages {
		if st.Multiplier <= 1 {
			return fmt.Errorf("stage %d: multiplier must be > 1", i)
		}
		if st.Multiplier <= prev {
			return fmt.Errorf("stage %d: multipliers must be strictly increasing", i)
		}
		if st.SellFraction <= 0 || st.SellFraction > 1 {
			return fmt.Errorf("stage %d: sell_fraction must be in (0, 1]", i)
		}
		prev = st.Multiplier
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("PUMP_SNIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("WALLET_KEY"); envKey != "" {
		cfg.WalletKey = envKey
	}
	if envDSN := v.GetString("POSTGRES_URL"); envDSN != "" {
		cfg.PostgresURL = envDSN
	}

	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		var cleanRPCs []string
		for _, rpc := range strings.Split(envRPCList, ",") {
			if clean := strings.TrimSpace(rpc); clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
}

// QuoteMintSet returns the set of quote-like mints, always including the
// configured quote leg itself.
func (c *Config) QuoteMintSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.QuoteMints)+1)
	set[c.QuoteMint] = struct{}{}
	for _, m := range c.QuoteMints {
		set[m] = struct{}{}
	}
	return set
}
