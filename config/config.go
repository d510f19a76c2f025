package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/mirrormaker/internal/domain"
	"github.com/alejandrodnm/mirrormaker/internal/engine"
)

// Config is the full bot configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Risk     RiskConfig     `yaml:"risk"`
	OddsAPI  OddsAPIConfig  `yaml:"odds_api"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Telegram TelegramConfig `yaml:"telegram"`
	Log      LogConfig      `yaml:"log"`
}

// EngineConfig controls the replication loops.
type EngineConfig struct {
	PollIntervalSeconds       int     `yaml:"poll_interval_seconds"`
	ReconcileIntervalSeconds  int     `yaml:"reconcile_interval_seconds"`
	OddsChangeThreshold       int     `yaml:"odds_change_threshold"` // absolute american-odds points
	CommissionRate            float64 `yaml:"commission_rate"`
	BaseStake                 float64 `yaml:"base_stake"`
	PositionMultiplier        float64 `yaml:"position_multiplier"`
	FillWaitPeriodSeconds     int     `yaml:"fill_wait_period_seconds"`
	MinTimeBeforeStartMinutes int     `yaml:"min_time_before_start_minutes"`
	MaxEventsTracked          int     `yaml:"max_events_tracked"`
	EventsLookaheadHours      int     `yaml:"events_lookahead_hours"`
	Workers                   int     `yaml:"workers"`
	DryRun                    bool    `yaml:"dry_run"`
}

// RiskConfig holds the multi-level exposure ceilings.
type RiskConfig struct {
	MinBetSize          float64 `yaml:"min_bet_size"`
	MaxBetSize          float64 `yaml:"max_bet_size"`
	MaxExposurePerEvent float64 `yaml:"max_exposure_per_event"`
	MaxExposureTotal    float64 `yaml:"max_exposure_total"`
	MaxPlusPosition     float64 `yaml:"max_plus_position"`
}

// OddsAPIConfig selects the reference price source.
type OddsAPIConfig struct {
	Base      string   `yaml:"base"`
	APIKey    string   `yaml:"api_key"` // usually via ODDS_API_KEY
	Sport     string   `yaml:"sport"`
	Bookmaker string   `yaml:"bookmaker"`
	Markets   []string `yaml:"markets"` // moneyline | spread | total
}

// ExchangeConfig holds the exchange API credentials.
type ExchangeConfig struct {
	Base      string `yaml:"base"`
	AccessKey string `yaml:"access_key"` // usually via PROPHETX_ACCESS_KEY
	SecretKey string `yaml:"secret_key"` // usually via PROPHETX_SECRET_KEY
}

// ServerConfig controls the control-plane HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig controls where wager state is persisted.
type StorageConfig struct {
	// DSN is a SQLite file path, a postgres:// URL, or "none".
	DSN string `yaml:"dsn"`
}

// TelegramConfig enables the Telegram notifier when a token is present.
type TelegramConfig struct {
	Token  string `yaml:"token"` // usually via TELEGRAM_TOKEN
	ChatID int64  `yaml:"chat_id"`
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file, the .env file if present, and env overrides.
// Env values win over YAML for the keys they cover. Validation failures are
// fatal at startup by design.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Snapshot converts the static configuration into the engine's runtime
// snapshot.
func (c *Config) Snapshot() engine.Snapshot {
	markets := make([]domain.MarketType, 0, len(c.OddsAPI.Markets))
	for _, m := range c.OddsAPI.Markets {
		markets = append(markets, domain.MarketType(m))
	}
	return engine.Snapshot{
		Sport:               c.OddsAPI.Sport,
		Markets:             markets,
		Bookmaker:           c.OddsAPI.Bookmaker,
		OddsChangeThreshold: c.Engine.OddsChangeThreshold,
		CommissionRate:      c.Engine.CommissionRate,
		BaseStake:           c.Engine.BaseStake,
		PositionMultiplier:  c.Engine.PositionMultiplier,
		MinBetSize:          c.Risk.MinBetSize,
		MaxBetSize:          c.Risk.MaxBetSize,
		MaxExposurePerEvent: c.Risk.MaxExposurePerEvent,
		MaxExposureTotal:    c.Risk.MaxExposureTotal,
		MaxPlusPosition:     c.Risk.MaxPlusPosition,
		MinTimeBeforeStart:  time.Duration(c.Engine.MinTimeBeforeStartMinutes) * time.Minute,
		FillWaitPeriod:      time.Duration(c.Engine.FillWaitPeriodSeconds) * time.Second,
		PollInterval:        time.Duration(c.Engine.PollIntervalSeconds) * time.Second,
		ReconcileInterval:   time.Duration(c.Engine.ReconcileIntervalSeconds) * time.Second,
		MaxEventsTracked:    c.Engine.MaxEventsTracked,
		EventsLookahead:     time.Duration(c.Engine.EventsLookaheadHours) * time.Hour,
		Workers:             c.Engine.Workers,
	}
}

// Validate rejects inconsistent threshold combinations.
func (c *Config) Validate() error {
	if c.Risk.MinBetSize <= 0 {
		return fmt.Errorf("risk.min_bet_size must be positive, got %.2f", c.Risk.MinBetSize)
	}
	if c.Risk.MinBetSize > c.Risk.MaxBetSize {
		return fmt.Errorf("risk.min_bet_size %.2f exceeds risk.max_bet_size %.2f",
			c.Risk.MinBetSize, c.Risk.MaxBetSize)
	}
	if c.Risk.MaxExposurePerEvent > c.Risk.MaxExposureTotal {
		return fmt.Errorf("risk.max_exposure_per_event %.2f exceeds risk.max_exposure_total %.2f",
			c.Risk.MaxExposurePerEvent, c.Risk.MaxExposureTotal)
	}
	if c.Engine.CommissionRate < 0 || c.Engine.CommissionRate >= 1 {
		return fmt.Errorf("engine.commission_rate must be in [0, 1), got %.3f", c.Engine.CommissionRate)
	}
	if c.Engine.BaseStake < c.Risk.MinBetSize {
		return fmt.Errorf("engine.base_stake %.2f is below risk.min_bet_size %.2f",
			c.Engine.BaseStake, c.Risk.MinBetSize)
	}
	if c.Engine.PositionMultiplier < 1 {
		return fmt.Errorf("engine.position_multiplier must be at least 1, got %.2f",
			c.Engine.PositionMultiplier)
	}
	if c.Engine.OddsChangeThreshold < 1 {
		return fmt.Errorf("engine.odds_change_threshold must be at least 1, got %d",
			c.Engine.OddsChangeThreshold)
	}
	for _, m := range c.OddsAPI.Markets {
		switch domain.MarketType(m) {
		case domain.MarketMoneyline, domain.MarketSpread, domain.MarketTotal:
		default:
			return fmt.Errorf("odds_api.markets: unknown market %q", m)
		}
	}
	return nil
}

// Credentialed reports whether both exchange keys are present. A live run
// without them must abort before the first placement attempt.
func (c *Config) Credentialed() bool {
	return c.Exchange.AccessKey != "" && c.Exchange.SecretKey != ""
}

// applyEnvOverrides pulls credentials and log settings from the environment.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ODDS_API_KEY"); v != "" {
		cfg.OddsAPI.APIKey = v
	}
	if v := os.Getenv("PROPHETX_ACCESS_KEY"); v != "" {
		cfg.Exchange.AccessKey = v
	}
	if v := os.Getenv("PROPHETX_SECRET_KEY"); v != "" {
		cfg.Exchange.SecretKey = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills in sensible values for anything the YAML left out.
func setDefaults(cfg *Config) {
	if cfg.Engine.PollIntervalSeconds <= 0 {
		cfg.Engine.PollIntervalSeconds = 30
	}
	if cfg.Engine.ReconcileIntervalSeconds <= 0 {
		cfg.Engine.ReconcileIntervalSeconds = 60
	}
	if cfg.Engine.OddsChangeThreshold <= 0 {
		cfg.Engine.OddsChangeThreshold = 5
	}
	if cfg.Engine.CommissionRate == 0 {
		cfg.Engine.CommissionRate = 0.03
	}
	if cfg.Engine.BaseStake <= 0 {
		cfg.Engine.BaseStake = 100
	}
	if cfg.Engine.PositionMultiplier <= 0 {
		cfg.Engine.PositionMultiplier = 5
	}
	if cfg.Engine.FillWaitPeriodSeconds <= 0 {
		cfg.Engine.FillWaitPeriodSeconds = 300
	}
	if cfg.Engine.MinTimeBeforeStartMinutes <= 0 {
		cfg.Engine.MinTimeBeforeStartMinutes = 10
	}
	if cfg.Engine.EventsLookaheadHours <= 0 {
		cfg.Engine.EventsLookaheadHours = 24
	}
	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Risk.MinBetSize <= 0 {
		cfg.Risk.MinBetSize = 1
	}
	if cfg.Risk.MaxBetSize <= 0 {
		cfg.Risk.MaxBetSize = 500
	}
	if cfg.Risk.MaxExposurePerEvent <= 0 {
		cfg.Risk.MaxExposurePerEvent = 2000
	}
	if cfg.Risk.MaxExposureTotal <= 0 {
		cfg.Risk.MaxExposureTotal = 10000
	}
	if cfg.Risk.MaxPlusPosition <= 0 {
		cfg.Risk.MaxPlusPosition = 1000
	}
	if cfg.OddsAPI.Sport == "" {
		cfg.OddsAPI.Sport = "baseball_mlb"
	}
	if cfg.OddsAPI.Bookmaker == "" {
		cfg.OddsAPI.Bookmaker = "pinnacle"
	}
	if len(cfg.OddsAPI.Markets) == 0 {
		cfg.OddsAPI.Markets = []string{"moneyline", "spread", "total"}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "mirrormaker.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
