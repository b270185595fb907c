package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "chartseer/internal/errors"
	"chartseer/internal/models"
	"chartseer/pkg/utils"
)

// HTTPConfig configures the HTTP candle provider.
type HTTPConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey  string `mapstructure:"api_key"`
	// Timeout bounds a single request.
	Timeout           time.Duration     `mapstructure:"timeout" default:"10s"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" default:"2" validate:"gt=0"`
	Burst             int               `mapstructure:"burst" default:"4" validate:"min=1"`
	Retry             utils.RetryConfig `mapstructure:"retry"`
}

// DefaultHTTPConfig returns the default provider settings for baseURL.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:           baseURL,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
		Retry:             utils.DefaultRetryConfig(),
	}
}

// candleResponse is the provider payload:
//
//	{"symbol": "AAPL", "interval": "1d", "candles": [{"timestamp": "...", "open": 1, ...}]}
type candleResponse struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Candles  []models.Candle `json:"candles"`
	Error    string          `json:"error,omitempty"`
}

// HTTPSource fetches candles from a JSON HTTP endpoint with client-side rate
// limiting and retries on transient failures.
type HTTPSource struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewHTTPSource creates an HTTP source.
func NewHTTPSource(cfg HTTPConfig, logger zerolog.Logger) *HTTPSource {
	def := DefaultHTTPConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	cfg.Retry.Retryable = utils.RetryOn(apperrors.ErrRateLimited, apperrors.ErrConnectionFailed, apperrors.ErrTimeout)

	return &HTTPSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

// Name implements Fetcher.
func (s *HTTPSource) Name() string {
	return "http"
}

// FetchSeries implements Fetcher.
func (s *HTTPSource) FetchSeries(ctx context.Context, symbol, period string, interval models.Timeframe) (models.Series, error) {
	if s.cfg.BaseURL == "" {
		return models.Series{}, fmt.Errorf("http source has no base url: %w", apperrors.ErrDataUnavailable)
	}

	resp, err := utils.RetryWithResult(ctx, s.cfg.Retry, func(ctx context.Context) (*candleResponse, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return s.get(ctx, symbol, period, interval)
	})
	if err != nil {
		return models.Series{}, err
	}

	series, skipped, err := buildSeries(symbol, interval, resp.Candles)
	if err != nil {
		return models.Series{}, err
	}
	if skipped > 0 {
		s.logger.Warn().Str("symbol", symbol).Int("skipped", skipped).Msg("Provider returned malformed candles")
	}
	return series, nil
}

func (s *HTTPSource) get(ctx context.Context, symbol, period string, interval models.Timeframe) (*candleResponse, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	if period != "" {
		q.Set("period", period)
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/candles?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrConnectionFailed)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewProviderError(s.Name(), httpResp.StatusCode, apperrors.ErrRateLimited)
	case httpResp.StatusCode == http.StatusNotFound:
		return nil, apperrors.NewProviderError(s.Name(), httpResp.StatusCode,
			fmt.Errorf("%s: %w", symbol, apperrors.ErrSymbolNotFound))
	case httpResp.StatusCode >= 500:
		return nil, apperrors.NewProviderError(s.Name(), httpResp.StatusCode, apperrors.ErrConnectionFailed)
	case httpResp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, apperrors.NewProviderError(s.Name(), httpResp.StatusCode,
			fmt.Errorf("%s: %w", strings.TrimSpace(string(body)), apperrors.ErrDataUnavailable))
	}

	var payload candleResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode candles: %v: %w", err, apperrors.ErrMalformedInput)
	}
	if payload.Error != "" {
		return nil, apperrors.NewProviderError(s.Name(), httpResp.StatusCode,
			fmt.Errorf("%s: %w", payload.Error, apperrors.ErrDataUnavailable))
	}
	return &payload, nil
}
