package gather

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"b3quant/internal/config"
	"b3quant/internal/domain"
	"b3quant/internal/store"
	"b3quant/internal/util"
)

// OpenSource builds the named bar source from cfg. Remote sources are
// wrapped with the configured rate limit and retry policy; "store" reads
// the local parquet history from bars.
func OpenSource(name string, cfg *config.Config, bars store.BarStore, log *slog.Logger) (BarSource, error) {
	market, err := domain.ParseMarket(cfg.Data.Market)
	if err != nil {
		return nil, err
	}

	switch name {
	case "store":
		return NewStoreSource(bars, market), nil
	case "brapi":
		src := NewBrapiSource(cfg.Brapi.BaseURL, cfg.Brapi.Token, &http.Client{Timeout: 30 * time.Second})
		return NewRetryingSource(src, util.NewRateLimiter(cfg.Brapi.RateLimitPerMin),
			cfg.Retry.Attempts, cfg.Retry.BaseDelay, log), nil
	case "alpaca":
		if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
			return nil, fmt.Errorf("alpaca source needs APCA_API_KEY_ID and APCA_API_SECRET_KEY: %w", domain.ErrInvalidParameter)
		}
		src := NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
		return NewRetryingSource(src, util.NewRateLimiter(cfg.Alpaca.RateLimitPerMin),
			cfg.Retry.Attempts, cfg.Retry.BaseDelay, log), nil
	default:
		return nil, fmt.Errorf("unknown data source %q: %w", name, domain.ErrInvalidParameter)
	}
}
