// internal/dex/jupiter/client.go
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/dex"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

const (
	DefaultTokenURL = "https://api.jup.ag/tokens/v1/token"
	DefaultPriceURL = "https://api.jup.ag/price/v2"
	DefaultSwapURL  = "https://api.jup.ag/swap/v1"
)

// Config настраивает HTTP-клиент агрегатора.
type Config struct {
	TokenURL     string
	PriceURL     string
	SwapURL      string
	Timeout      time.Duration
	MetadataTTL  time.Duration
	MaxTries     uint
	RetryInitial time.Duration
}

func (c *Config) applyDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.PriceURL == "" {
		c.PriceURL = DefaultPriceURL
	}
	if c.SwapURL == "" {
		c.SwapURL = DefaultSwapURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 200 * time.Millisecond
	}
}

// StatusError - неуспешный HTTP-ответ агрегатора.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jupiter returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// Client реализует dex.TokenInfoProvider и dex.SwapBuilder поверх HTTP API Jupiter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	metadata   *metadataCache
	logger     *zap.Logger
}

var (
	_ dex.TokenInfoProvider = (*Client)(nil)
	_ dex.SwapBuilder       = (*Client)(nil)
)

// NewClient создает клиента агрегатора.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metadata:   newMetadataCache(cfg.MetadataTTL),
		logger:     logger.Named("jupiter"),
	}
}

type tokenResponse struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	DailyVolume *float64 `json:"daily_volume"`
	CreatedAt   string   `json:"created_at"`
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Price string `json:"price"`
	} `json:"data"`
}

// TokenInfo возвращает метаданные (из кэша, если свежие) и актуальные цены
// в USD и SOL.
func (c *Client) TokenInfo(ctx context.Context, address string) (*domain.TokenInfo, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", domain.ErrInvalidAddress)
	}

	meta, err := c.tokenMetadata(ctx, address)
	if err != nil {
		return nil, err
	}

	prices, err := c.Prices(ctx, address, domain.NativeMint)
	if err != nil {
		return nil, err
	}
	usd, ok := prices[address]
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", domain.ErrUnknownToken, address)
	}
	solUSD, ok := prices[domain.NativeMint]
	if !ok || solUSD <= 0 {
		return nil, fmt.Errorf("%w: no SOL reference price", domain.ErrPriceLookup)
	}

	return &domain.TokenInfo{
		Address:   address,
		Symbol:    meta.Symbol,
		Name:      meta.Name,
		Decimals:  meta.Decimals,
		PriceUSD:  usd,
		PriceSOL:  usd / solUSD,
		Volume24h: meta.Volume24h,
		CreatedAt: meta.CreatedAt,
	}, nil
}

func (c *Client) tokenMetadata(ctx context.Context, address string) (*tokenMetadata, error) {
	if meta, ok := c.metadata.get(address); ok {
		c.logger.Debug("token metadata retrieved from cache", zap.String("mint", address))
		return meta, nil
	}

	var resp *tokenResponse
	err := c.getJSON(ctx, c.cfg.TokenURL+"/"+url.PathEscape(address), &resp)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownToken, address)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: token %s: %v", domain.ErrPriceLookup, address, err)
	}
	if resp == nil || resp.Address == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownToken, address)
	}

	meta := &tokenMetadata{Symbol: resp.Symbol, Name: resp.Name, Decimals: resp.Decimals}
	if resp.DailyVolume != nil {
		meta.Volume24h = *resp.DailyVolume
	}
	if resp.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.CreatedAt); err == nil {
			meta.CreatedAt = t
		}
	}
	if meta.Symbol == "" || meta.Name == "" {
		knownToken(address, meta)
	}
	c.metadata.put(address, meta)

	c.logger.Debug("token metadata retrieved",
		zap.String("mint", address),
		zap.String("symbol", meta.Symbol),
		zap.Uint8("decimals", meta.Decimals))
	return meta, nil
}

// Prices возвращает цены в USD. Токены без цены в ответе отсутствуют.
func (c *Client) Prices(ctx context.Context, mints ...string) (map[string]float64, error) {
	ids := make([]string, 0, len(mints))
	seen := make(map[string]struct{}, len(mints))
	for _, m := range mints {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		ids = append(ids, m)
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	var resp priceResponse
	if err := c.getJSON(ctx, c.cfg.PriceURL+"?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("%w: prices: %v", domain.ErrPriceLookup, err)
	}

	prices := make(map[string]float64, len(resp.Data))
	for mint, entry := range resp.Data {
		if entry == nil || entry.Price == "" {
			continue
		}
		d, err := decimal.NewFromString(entry.Price)
		if err != nil {
			c.logger.Warn("Unparsable price", zap.String("mint", mint), zap.String("price", entry.Price))
			continue
		}
		prices[mint] = d.InexactFloat64()
	}
	return prices, nil
}

// BuildSwap запрашивает котировку и по ней неподписанную транзакцию.
func (c *Client) BuildSwap(ctx context.Context, req dex.SwapRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	raw, _ := req.RawAmount()

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(raw, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	var quote json.RawMessage
	if err := c.getJSON(ctx, c.cfg.SwapURL+"/quote?"+q.Encode(), &quote); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Code >= 400 && status.Code < 500 {
			return nil, fmt.Errorf("%w: %s", dex.ErrNoRoute, status.Body)
		}
		return nil, fmt.Errorf("quote: %w", err)
	}

	body := map[string]interface{}{
		"quoteResponse":           quote,
		"userPublicKey":           req.Owner.String(),
		"wrapAndUnwrapSol":        true,
		"dynamicComputeUnitLimit": true,
	}
	if req.PriorityFeeLamports > 0 {
		body["prioritizationFeeLamports"] = req.PriorityFeeLamports
	} else {
		body["prioritizationFeeLamports"] = "auto"
	}

	var swap struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := c.postJSON(ctx, c.cfg.SwapURL+"/swap", body, &swap); err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("%w: empty swap transaction", dex.ErrNoRoute)
	}

	tx, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	c.logger.Debug("Swap transaction built",
		zap.String("input", req.InputMint),
		zap.String("output", req.OutputMint),
		zap.Uint64("amount", raw))
	return tx, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, endpoint, payload, out)
}

// do выполняет запрос с повторами для сетевых ошибок, 429 и 5xx.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInitial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
			if statusErr.retryable() {
				return struct{}{}, statusErr
			}
			return struct{}{}, backoff.Permanent(statusErr)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.MaxTries))
	return err
}
