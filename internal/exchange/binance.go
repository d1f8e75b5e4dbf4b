package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-kline-mirror/internal/errors"
	"github.com/johnayoung/go-kline-mirror/internal/intervals"
	"github.com/johnayoung/go-kline-mirror/internal/models"
)

const (
	// Binance USDT-margined futures API base URL
	binanceFuturesBaseURL = "https://fapi.binance.com"

	// API endpoints
	exchangeInfoEndpoint = "/fapi/v1/exchangeInfo"
	klinesEndpoint       = "/fapi/v1/klines"
	pingEndpoint         = "/fapi/v1/ping"

	// Request configuration
	maxRowsPerPage        = 1500
	defaultRequestTimeout = 30 * time.Second

	// Retry configuration: linear backoff of baseDelay x attempt, with
	// maxRetries retries after the initial attempt.
	defaultMaxRetries  = 3
	defaultRetryDelay  = 2 * time.Second
	defaultPageDelay   = 100 * time.Millisecond
	healthCheckTimeout = 5 * time.Second

	// Catalog filters
	statusTrading = "TRADING"
	quoteUSDT     = "USDT"
)

// BinanceAdapter implements the Adapter interface against the Binance
// USDT-margined futures REST API.
type BinanceAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
	validate    *validator.Validate

	retryDelay time.Duration
	maxRetries uint64
	now        nowFunc
}

// BinanceOption configures a BinanceAdapter.
type BinanceOption func(*BinanceAdapter)

// WithBaseURL overrides the API base URL. Used by tests to point the
// adapter at a local fake.
func WithBaseURL(baseURL string) BinanceOption {
	return func(b *BinanceAdapter) { b.baseURL = baseURL }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) BinanceOption {
	return func(b *BinanceAdapter) { b.logger = logger }
}

// WithRetryDelay overrides the base retry delay.
func WithRetryDelay(d time.Duration) BinanceOption {
	return func(b *BinanceAdapter) { b.retryDelay = d }
}

// WithMaxRetries overrides the per-page retry count (retries after the
// initial attempt).
func WithMaxRetries(n int) BinanceOption {
	return func(b *BinanceAdapter) {
		if n >= 0 {
			b.maxRetries = uint64(n)
		}
	}
}

// WithTimeout overrides the HTTP request timeout.
func WithTimeout(d time.Duration) BinanceOption {
	return func(b *BinanceAdapter) {
		if d > 0 {
			b.httpClient.Timeout = d
		}
	}
}

// WithPageDelay overrides the fixed inter-page delay.
func WithPageDelay(d time.Duration) BinanceOption {
	return func(b *BinanceAdapter) {
		b.rateLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) BinanceOption {
	return func(b *BinanceAdapter) { b.now = now }
}

// NewBinanceAdapter creates an adapter with production defaults.
func NewBinanceAdapter(opts ...BinanceOption) *BinanceAdapter {
	b := &BinanceAdapter{
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Every(defaultPageDelay), 1),
		baseURL:     binanceFuturesBaseURL,
		logger:      slog.Default(),
		validate:    validator.New(),
		retryDelay:  defaultRetryDelay,
		maxRetries:  defaultMaxRetries,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Discover implements InstrumentCatalog. It returns actively trading
// USDT-quoted contracts in exchange listing order, each carrying its raw
// descriptor.
func (b *BinanceAdapter) Discover(ctx context.Context) ([]Instrument, error) {
	body, err := b.doRequest(ctx, b.baseURL+exchangeInfoEndpoint)
	if err != nil {
		return nil, apperrors.NewCatalogError(err)
	}

	var info struct {
		Symbols []json.RawMessage `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.NewCatalogError(fmt.Errorf("failed to parse exchange info: %w", err))
	}

	instruments := make([]Instrument, 0, len(info.Symbols))
	for _, raw := range info.Symbols {
		var inst Instrument
		if err := json.Unmarshal(raw, &inst); err != nil {
			b.logger.Warn("skipping malformed symbol descriptor", "error", err)
			continue
		}
		if err := b.validate.Struct(&inst); err != nil {
			b.logger.Warn("skipping invalid symbol descriptor", "symbol", inst.Symbol, "error", err)
			continue
		}
		if inst.Status != statusTrading || inst.QuoteAsset != quoteUSDT {
			continue
		}
		inst.Raw = raw
		instruments = append(instruments, inst)
	}

	b.logger.Debug("discovered instruments", "count", len(instruments))
	return instruments, nil
}

// EarliestTimestamp implements SeriesFetcher. It asks for the single
// oldest kline by querying from epoch zero with limit 1.
func (b *BinanceAdapter) EarliestTimestamp(ctx context.Context, symbol, timeframe string) (int64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("startTime", "0")
	params.Set("limit", "1")

	rows, err := b.fetchKlinesPage(ctx, params)
	if err != nil {
		return 0, apperrors.NewProbeError(symbol, timeframe, err)
	}
	if len(rows) == 0 {
		return 0, apperrors.NewProbeError(symbol, timeframe, fmt.Errorf("no klines available"))
	}
	return rows[0].OpenTime.UnixMilli(), nil
}

// FetchSeries implements SeriesFetcher. It pages forward from the start
// bound in spans of maxRowsPerPage intervals, retrying each page with
// linear backoff. Retry exhaustion ends the fetch early and returns the
// rows accumulated so far; only context cancellation and an unresolvable
// start bound surface as errors.
func (b *BinanceAdapter) FetchSeries(ctx context.Context, req FetchRequest) (models.Series, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	end := req.EndMS
	if end == 0 {
		end = b.now().UnixMilli()
	}
	start := req.StartMS
	if start == 0 {
		earliest, err := b.EarliestTimestamp(ctx, req.Symbol, req.Timeframe)
		if err != nil {
			return nil, err
		}
		start = earliest
	}

	intervalMS := intervals.DurationMS(req.Timeframe)
	pageSpan := intervalMS * maxRowsPerPage

	series := make(models.Series, 0, maxRowsPerPage)
	cursor := start
	for cursor < end {
		if err := b.rateLimiter.Wait(ctx); err != nil {
			return series, err
		}

		pageEnd := cursor + pageSpan
		if pageEnd > end {
			pageEnd = end
		}

		params := url.Values{}
		params.Set("symbol", req.Symbol)
		params.Set("interval", req.Timeframe)
		params.Set("startTime", strconv.FormatInt(cursor, 10))
		params.Set("endTime", strconv.FormatInt(pageEnd, 10))
		params.Set("limit", strconv.Itoa(maxRowsPerPage))

		rows, err := b.fetchKlinesPageWithRetry(ctx, params, req.Symbol, req.Timeframe)
		if err != nil {
			if ctx.Err() != nil {
				return series, ctx.Err()
			}
			b.logger.Warn("page retries exhausted, keeping partial series",
				"symbol", req.Symbol,
				"timeframe", req.Timeframe,
				"cursor", cursor,
				"rows_so_far", len(series),
				"error", err)
			return series, nil
		}
		if len(rows) == 0 {
			break
		}

		series = append(series, rows...)
		cursor = rows[len(rows)-1].OpenTime.UnixMilli() + 1
	}

	b.logger.Debug("fetched series",
		"symbol", req.Symbol,
		"timeframe", req.Timeframe,
		"rows", len(series))
	return series, nil
}

// HealthCheck implements HealthChecker via the ping endpoint.
func (b *BinanceAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if _, err := b.doRequest(healthCtx, b.baseURL+pingEndpoint); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// fetchKlinesPageWithRetry wraps a single page fetch in the linear retry
// policy. Each page gets a fresh attempt counter.
func (b *BinanceAdapter) fetchKlinesPageWithRetry(ctx context.Context, params url.Values, symbol, timeframe string) (models.Series, error) {
	var rows models.Series

	policy := backoff.WithContext(backoff.WithMaxRetries(newLinearBackOff(b.retryDelay), b.maxRetries), ctx)
	operation := func() error {
		page, err := b.fetchKlinesPage(ctx, params)
		if err != nil {
			if !apperrors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		rows = page
		return nil
	}
	notify := func(err error, wait time.Duration) {
		b.logger.Warn("page fetch failed, retrying",
			"symbol", symbol,
			"timeframe", timeframe,
			"wait", wait,
			"error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, apperrors.NewPageError(symbol, timeframe, err)
	}
	return rows, nil
}

// fetchKlinesPage performs one klines request and parses the row arrays.
func (b *BinanceAdapter) fetchKlinesPage(ctx context.Context, params url.Values) (models.Series, error) {
	body, err := b.doRequest(ctx, b.baseURL+klinesEndpoint+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	rows := make(models.Series, 0, len(raw))
	for _, row := range raw {
		k, err := models.ParseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("malformed kline row: %w", err)
		}
		rows = append(rows, *k)
	}
	return rows, nil
}

// doRequest performs one GET and returns the body, converting non-2xx
// statuses into HTTPError for retry classification.
func (b *BinanceAdapter) doRequest(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "go-kline-mirror/1.0")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperrors.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// linearBackOff waits delay x attempt between retries.
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func newLinearBackOff(delay time.Duration) *linearBackOff {
	return &linearBackOff{delay: delay}
}

// NextBackOff returns the next wait duration.
func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	return time.Duration(l.attempt) * l.delay
}

// Reset restarts the attempt counter.
func (l *linearBackOff) Reset() {
	l.attempt = 0
}
