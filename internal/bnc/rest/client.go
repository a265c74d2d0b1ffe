// Package rest implements the signed Binance REST transport shared by the
// spot and USD-M futures endpoints. It is a pure read/write adapter: no call
// mutates local state beyond the cached clock offset and weight budget.
package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"bn-hedge-bot/internal/bnc"
	"bn-hedge-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	networkRetries  = 3
	networkBackoff  = 250 * time.Millisecond
	usedWeightLimit = 2048
)

type Client struct {
	spotBaseURL    string
	futuresBaseURL string
	apiKey         string
	secret         string
	recvWindowMS   int64
	http           *http.Client
	limiter        *rate.Limiter
	log            *zap.Logger

	offsetMS   atomic.Int64
	usedWeight atomic.Int64
	onResync   func()

	now func() time.Time
}

// New builds a client from config and credentials. The clock offset starts at
// the configured seed; call SyncClock before issuing signed requests so the
// offset reflects the exchange server clock rather than a guess.
func New(cfg config.RESTConfig, apiKey, secret string, log *zap.Logger) *Client {
	perSecond := rate.Limit(float64(cfg.WeightPerMinute) / 60.0)
	c := &Client{
		spotBaseURL:    strings.TrimRight(cfg.SpotBaseURL, "/"),
		futuresBaseURL: strings.TrimRight(cfg.FuturesBaseURL, "/"),
		apiKey:         strings.TrimSpace(apiKey),
		secret:         strings.TrimSpace(secret),
		recvWindowMS:   cfg.RecvWindowMS,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(perSecond, cfg.WeightPerMinute),
		log:     log,
		now:     time.Now,
	}
	c.offsetMS.Store(cfg.TimestampOffsetMS)
	return c
}

// SyncClock probes the futures time endpoint and caches the local-vs-server
// offset. Called once at startup and again whenever a request is rejected for
// clock skew.
func (c *Client) SyncClock(ctx context.Context) error {
	before := c.now().UnixMilli()
	body, err := c.GetFutures(ctx, "/fapi/v1/time", nil, 1)
	if err != nil {
		return fmt.Errorf("time sync probe: %w", err)
	}
	after := c.now().UnixMilli()
	var payload struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("time sync probe: %w", err)
	}
	if payload.ServerTime == 0 {
		return errors.New("time sync probe: empty serverTime")
	}
	local := before + (after-before)/2
	offset := payload.ServerTime - local
	c.offsetMS.Store(offset)
	if c.onResync != nil {
		c.onResync()
	}
	if c.log != nil {
		c.log.Info("clock offset synced", zap.Int64("offset_ms", offset))
	}
	return nil
}

func (c *Client) ClockOffsetMS() int64 {
	return c.offsetMS.Load()
}

// UsedWeight reports the last X-MBX-USED-WEIGHT-1M value seen.
func (c *Client) UsedWeight() int64 {
	return c.usedWeight.Load()
}

// SetResyncHook registers a callback invoked on every successful clock sync,
// including the skew-triggered ones. Set it before issuing requests; the hook
// is not guarded against concurrent registration.
func (c *Client) SetResyncHook(fn func()) {
	c.onResync = fn
}

func (c *Client) GetSpotSigned(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.spotBaseURL, path, params, true, weight)
}

func (c *Client) GetFuturesSigned(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.futuresBaseURL, path, params, true, weight)
}

func (c *Client) GetFutures(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	return c.do(ctx, http.MethodGet, c.futuresBaseURL, path, params, false, weight)
}

func (c *Client) PostFuturesSigned(ctx context.Context, path string, params url.Values, weight int) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.futuresBaseURL, path, params, true, weight)
}

func (c *Client) do(ctx context.Context, method, base, path string, params url.Values, signed bool, weight int) ([]byte, error) {
	if weight <= 0 {
		weight = 1
	}
	if err := c.limiter.WaitN(ctx, weight); err != nil {
		return nil, err
	}
	resynced := false
	backoff := networkBackoff
	for attempt := 0; ; attempt++ {
		body, err := c.doOnce(ctx, method, base, path, params, signed)
		if err == nil {
			return body, nil
		}
		if signed && errors.Is(err, bnc.ErrClockSkew) && !resynced {
			resynced = true
			if syncErr := c.SyncClock(ctx); syncErr != nil {
				return nil, syncErr
			}
			continue
		}
		if errors.Is(err, bnc.ErrNetwork) && attempt < networkRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil, err
	}
}

func (c *Client) doOnce(ctx context.Context, method, base, path string, params url.Values, signed bool) ([]byte, error) {
	query := cloneValues(params)
	if signed {
		if c.apiKey == "" || c.secret == "" {
			return nil, fmt.Errorf("api key and secret are required: %w", bnc.ErrAuth)
		}
		query.Set("timestamp", strconv.FormatInt(c.timestampMS(), 10))
		if c.recvWindowMS > 0 {
			query.Set("recvWindow", strconv.FormatInt(c.recvWindowMS, 10))
		}
	}
	encoded := query.Encode()
	if signed {
		encoded += "&signature=" + c.sign(encoded)
	}
	reqURL := base + path
	if encoded != "" {
		reqURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, bnc.ErrNetwork)
	}
	defer resp.Body.Close()
	c.recordUsedWeight(resp.Header)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v: %w", method, path, err, bnc.ErrNetwork)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if unmarshalErr := json.Unmarshal(body, &apiErr); unmarshalErr == nil && apiErr.Code != 0 {
		return nil, &bnc.APIError{Code: apiErr.Code, Msg: apiErr.Msg, HTTPStatus: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("http %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), bnc.ErrAuth)
	}
	return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// sign computes the HMAC-SHA256 signature over the encoded query string.
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) timestampMS() int64 {
	return c.now().UnixMilli() + c.offsetMS.Load()
}

func (c *Client) recordUsedWeight(header http.Header) {
	raw := header.Get("X-MBX-USED-WEIGHT-1M")
	if raw == "" {
		return
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || used < 0 || used > usedWeightLimit {
		return
	}
	c.usedWeight.Store(used)
}

func cloneValues(params url.Values) url.Values {
	out := url.Values{}
	for key, vals := range params {
		for _, val := range vals {
			out.Add(key, val)
		}
	}
	return out
}
