package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"b3quant/internal/domain"
)

// DefaultPath is used when neither -config nor B3QUANT_CONFIG is given.
const DefaultPath = "config/b3quant.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for b3quant.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Logging  Logging        `yaml:"logging"`
	Data     Data           `yaml:"data"`
	Brapi    Brapi          `yaml:"brapi"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Retry    Retry          `yaml:"retry"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
	Metrics  Metrics        `yaml:"metrics"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"` // empty disables run history
	ResultsDir string `yaml:"results_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Data selects where backtests read bars from.
type Data struct {
	Source string `yaml:"source"` // store, brapi or alpaca
	Market string `yaml:"market"`
}

// Brapi holds the brapi.dev quote API settings.
type Brapi struct {
	BaseURL         string `yaml:"base_url"`
	Token           string `yaml:"token"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Retry configures retries of data source requests.
type Retry struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
}

// GatherConfig controls the daily bar gatherer.
type GatherConfig struct {
	Source     string   `yaml:"source"` // brapi or alpaca
	Symbols    []string `yaml:"symbols"`
	StartDate  string   `yaml:"start_date"`
	MaxWorkers int      `yaml:"max_workers"`
}

// IndicatorConfig sets the indicator windows.
type IndicatorConfig struct {
	RSIPeriod   int `yaml:"rsi_period"`
	ShortWindow int `yaml:"short_window"`
	LongWindow  int `yaml:"long_window"`
	MACDFast    int `yaml:"macd_fast"`
	MACDSlow    int `yaml:"macd_slow"`
	MACDSignal  int `yaml:"macd_signal"`
}

// ScenarioConfig is one backtest parameter set.
type ScenarioConfig struct {
	Name           string  `yaml:"name"`
	InitialBalance float64 `yaml:"initial_balance"`
	RiskFraction   float64 `yaml:"risk_fraction"`
}

// BacktestConfig defines the batch, strategy and risk parameters.
type BacktestConfig struct {
	Tickers       []string         `yaml:"tickers"`
	StartDate     string           `yaml:"start_date"`
	EndDate       string           `yaml:"end_date"`
	LookbackDays  int              `yaml:"lookback_days"`
	Strategy      string           `yaml:"strategy"`
	Indicators    IndicatorConfig  `yaml:"indicators"`
	RSIOversold   float64          `yaml:"rsi_oversold"`
	RSIOverbought float64          `yaml:"rsi_overbought"`
	StopLossPct   float64          `yaml:"stop_loss_pct"`
	TakeProfitPct float64          `yaml:"take_profit_pct"`
	RiskFreeRate  float64          `yaml:"risk_free_rate"`
	LotSize       int              `yaml:"lot_size"`
	MinBars       int              `yaml:"min_bars"`
	Workers       int              `yaml:"workers"`
	Scenarios     []ScenarioConfig `yaml:"scenarios"`
}

// Metrics configures the Prometheus textfile export.
type Metrics struct {
	TextfilePath string `yaml:"textfile_path"` // empty disables the export
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used for every field the YAML file
// leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			ResultsDir: "results",
		},
		Logging: Logging{Level: "info", Format: "text"},
		Data:    Data{Source: "brapi", Market: string(domain.MarketBR)},
		Brapi: Brapi{
			BaseURL:         "https://brapi.dev",
			RateLimitPerMin: 60,
		},
		Alpaca: Alpaca{
			DataURL:         "https://data.alpaca.markets",
			Feed:            "iex",
			RateLimitPerMin: 200,
		},
		Retry: Retry{Attempts: 3, BaseDelay: 2 * time.Second},
		Gather: GatherConfig{
			Source:     "brapi",
			StartDate:  "2020-01-01",
			MaxWorkers: 4,
		},
		Backtest: BacktestConfig{
			LookbackDays: 180,
			Strategy:     "rsi-ma",
			Indicators: IndicatorConfig{
				RSIPeriod:   14,
				ShortWindow: 10,
				LongWindow:  20,
				MACDFast:    12,
				MACDSlow:    26,
				MACDSignal:  9,
			},
			RSIOversold:   40,
			RSIOverbought: 60,
			StopLossPct:   0.05,
			TakeProfitPct: 0.10,
			RiskFreeRate:  0.02,
			MinBars:       20,
			Workers:       4,
			Scenarios: []ScenarioConfig{
				{Name: "Conservative", InitialBalance: 1000, RiskFraction: 0.01},
				{Name: "Moderate", InitialBalance: 1000, RiskFraction: 0.02},
				{Name: "Aggressive", InitialBalance: 1000, RiskFraction: 0.05},
			},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default, then applies environment variable overrides. An empty path
// loads the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath returns flagPath if set, then B3QUANT_CONFIG, then
// DefaultPath when that file exists. An empty result means defaults only.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if v := os.Getenv("B3QUANT_CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("RESULTS_DIR"); v != "" {
		cfg.Storage.ResultsDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("DATA_SOURCE"); v != "" {
		cfg.Data.Source = v
	}

	// BRAPI_TOKEN wins over the older BRAPI_API_KEY name.
	if v := os.Getenv("BRAPI_API_KEY"); v != "" {
		cfg.Brapi.Token = v
	}
	if v := os.Getenv("BRAPI_TOKEN"); v != "" {
		cfg.Brapi.Token = v
	}
	if v := os.Getenv("BRAPI_BASE_URL"); v != "" {
		cfg.Brapi.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	// Standard Alpaca env vars, the names the SDK reads itself.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.TextfilePath = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports the first unusable setting, wrapped in
// domain.ErrInvalidParameter.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("config: "+format+": %w", append(args, domain.ErrInvalidParameter)...)
	}

	switch c.Data.Source {
	case "store", "brapi", "alpaca":
	default:
		return invalid("unknown data.source %q", c.Data.Source)
	}
	switch c.Gather.Source {
	case "brapi", "alpaca":
	default:
		return invalid("unknown gather.source %q", c.Gather.Source)
	}
	if _, err := domain.ParseMarket(c.Data.Market); err != nil {
		return invalid("data.market %q", c.Data.Market)
	}

	b := c.Backtest
	if b.StopLossPct <= 0 || b.StopLossPct >= 1 {
		return invalid("stop_loss_pct %v must be in (0, 1)", b.StopLossPct)
	}
	if b.TakeProfitPct <= 0 {
		return invalid("take_profit_pct %v must be positive", b.TakeProfitPct)
	}
	if b.RSIOversold >= b.RSIOverbought {
		return invalid("rsi_oversold %v must be below rsi_overbought %v", b.RSIOversold, b.RSIOverbought)
	}
	if b.LotSize < 0 {
		return invalid("lot_size %d must not be negative", b.LotSize)
	}
	if b.LookbackDays < 0 {
		return invalid("lookback_days %d must not be negative", b.LookbackDays)
	}
	if len(b.Scenarios) == 0 {
		return invalid("no backtest scenarios")
	}
	if _, _, err := b.Range(time.Now()); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// Range parses the backtest dates. An empty end date is now's date; an
// empty start date is LookbackDays before the end, or open when
// LookbackDays is 0.
func (b BacktestConfig) Range(now time.Time) (start, end time.Time, err error) {
	end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if b.EndDate != "" {
		if end, err = ParseDate(b.EndDate); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	switch {
	case b.StartDate != "":
		if start, err = ParseDate(b.StartDate); err != nil {
			return time.Time{}, time.Time{}, err
		}
	case b.LookbackDays > 0:
		start = end.AddDate(0, 0, -b.LookbackDays)
	}
	if !start.IsZero() && start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is after end date %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return start, end, nil
}

// ParseDate parses a YYYY-MM-DD date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}
