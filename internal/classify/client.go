// Package classify talks to the Baidu vehicle recognition API. Responses
// are decoded once into a Result so callers never inspect raw JSON.
package classify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/k3a/html2text"
	"github.com/patrickmn/go-cache"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/httpclient"
	"github.com/tphakala/carnet-go/internal/logger"
)

const (
	// QuotaMessage is the error text the service returns once a token's
	// daily allowance is spent.
	QuotaMessage = "Open api daily request limit reached"

	defaultTopNum       = 5
	defaultRetries      = 3
	defaultRetryBackoff = 500 * time.Millisecond
	defaultCacheTTL     = 24 * time.Hour
	maxResponseBytes    = 1 << 20
	maxErrorTextLen     = 200
)

// Service error codes that mean the token can no longer be used.
var quotaCodes = map[int64]string{
	17:  "daily request limit reached",
	19:  "total request limit reached",
	110: "access token invalid",
	111: "access token expired",
}

// Error codes worth another attempt with the same token.
var retryableCodes = map[int64]string{
	18: "qps request limit reached",
}

// Recorder receives one observation per Classify call.
type Recorder interface {
	ObserveClassify(kind string, cached bool, elapsed time.Duration)
}

// Config holds client parameters.
type Config struct {
	Endpoint     string
	TopNum       int
	Timeout      time.Duration
	RateLimit    float64 // requests per second, 0 disables limiting
	Retries      int     // total attempts per request
	RetryBackoff time.Duration
	CacheTTL     time.Duration
}

// ConfigFromSettings maps the baidu config section.
func ConfigFromSettings(s *conf.BaiduSettings) Config {
	return Config{
		Endpoint:     s.Endpoint,
		TopNum:       s.TopNum,
		Timeout:      s.Timeout,
		RateLimit:    s.RateLimit,
		Retries:      s.Retries,
		RetryBackoff: s.RetryBackoff,
		CacheTTL:     s.CacheTTL,
	}
}

// Client classifies images. Safe for concurrent use.
type Client struct {
	config   Config
	http     *httpclient.Client
	fs       afero.Fs
	cache    *cache.Cache
	limiter  *rate.Limiter
	recorder Recorder
	log      logger.Logger

	metrics struct {
		mu            sync.Mutex
		requests      int64
		attempts      int64
		cacheHits     int64
		byKind        map[Kind]int64
		totalDuration time.Duration
	}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithFs sets the filesystem images are read from.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New creates a client. Zero config values fall back to defaults.
func New(config Config, opts ...Option) (*Client, error) {
	if config.Endpoint == "" {
		config.Endpoint = conf.DefaultBaiduEndpoint
	}
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, errors.New(err).
			Component("classify").
			Category(errors.CategoryConfiguration).
			Context("endpoint", config.Endpoint).
			Build()
	}
	if config.TopNum <= 0 {
		config.TopNum = defaultTopNum
	}
	if config.Retries <= 0 {
		config.Retries = defaultRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaultCacheTTL
	}

	c := &Client{
		config: config,
		cache:  cache.New(config.CacheTTL, config.CacheTTL*2),
		log:    GetLogger(),
	}
	c.metrics.byKind = make(map[Kind]int64)
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.New(&httpclient.Config{DefaultTimeout: config.Timeout})
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if config.RateLimit > 0 {
		burst := max(int(config.RateLimit), 1)
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	c.log.Debug("classify client initialized",
		logger.String("endpoint", config.Endpoint),
		logger.Int("top_num", config.TopNum),
		logger.Int("retries", config.Retries),
		logger.Float64("rate_limit", config.RateLimit),
		logger.Duration("cache_ttl", config.CacheTTL))
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

// Classify recognizes the vehicle in the image at imagePath using token.
// Transport failures, 5xx and 429 responses are retried up to the
// configured attempt budget; quota responses are returned immediately.
func (c *Client) Classify(ctx context.Context, imagePath, token string) Result {
	start := time.Now()
	res := c.classify(ctx, imagePath, token)
	c.record(res, time.Since(start))
	return res
}

func (c *Client) classify(ctx context.Context, imagePath, token string) Result {
	data, err := afero.ReadFile(c.fs, imagePath)
	if err != nil {
		return Result{
			Kind: KindTransportError,
			Err: errors.New(err).
				Component("classify").
				Category(errors.CategoryFileIO).
				FileContext(imagePath, 0).
				Context("path", imagePath).
				Build(),
		}
	}

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if cached, found := c.cache.Get(key); found {
		if choices, ok := cached.([]Choice); ok {
			c.log.Debug("classify cache hit", logger.String("path", imagePath), logger.String("sha256", key))
			return Result{Kind: KindOK, Choices: choices, Cached: true}
		}
	}

	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(data))
	form.Set("top_num", strconv.Itoa(c.config.TopNum))
	endpoint := c.config.Endpoint + "?access_token=" + url.QueryEscape(token)

	res := c.doRequestWithRetry(ctx, endpoint, form, imagePath)
	if res.Kind == KindOK {
		c.cache.Set(key, res.Choices, cache.DefaultExpiration)
	}
	return res
}

// attemptError is a failed attempt and whether another one may help.
type attemptError struct {
	err       error
	retryable bool
}

func (c *Client) doRequestWithRetry(ctx context.Context, endpoint string, form url.Values, imagePath string) Result {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.config.Retries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return c.transportError(err, imagePath, attempt, time.Since(start))
			}
		}

		res, failure := c.doRequest(ctx, endpoint, form)
		res.Attempts = attempt + 1
		if failure == nil {
			return res
		}
		lastErr = failure.err
		if !failure.retryable {
			return Result{Kind: KindMalformedResponse, Err: lastErr, Attempts: attempt + 1}
		}
		if ctx.Err() != nil {
			return c.transportError(ctx.Err(), imagePath, attempt, time.Since(start))
		}

		if attempt < c.config.Retries-1 {
			delay := time.Duration(attempt+1) * c.config.RetryBackoff
			c.log.Warn("classify request failed, retrying",
				logger.String("path", imagePath),
				logger.Int("attempt", attempt+1),
				logger.Int("max_attempts", c.config.Retries),
				logger.Duration("delay", delay),
				logger.Error(lastErr))

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return c.transportError(ctx.Err(), imagePath, attempt, time.Since(start))
			}
		}
	}
	return c.transportError(lastErr, imagePath, c.config.Retries-1, time.Since(start))
}

func (c *Client) transportError(err error, imagePath string, attempt int, elapsed time.Duration) Result {
	return Result{
		Kind: KindTransportError,
		Err: errors.New(err).
			Component("classify").
			Category(errors.CategoryNetwork).
			NetworkContext(c.config.Endpoint, c.config.Timeout).
			Timing("classify_request", elapsed).
			Context("path", imagePath).
			Context("attempts", attempt+1).
			Build(),
		Attempts: attempt + 1,
	}
}

// doRequest performs one attempt. A nil attemptError means the returned
// Result is final, which includes quota exhaustion.
func (c *Client) doRequest(ctx context.Context, endpoint string, form url.Values) (Result, *attemptError) {
	c.metrics.mu.Lock()
	c.metrics.attempts++
	c.metrics.mu.Unlock()

	resp, err := c.http.PostForm(ctx, endpoint, form)
	if err != nil {
		return Result{}, &attemptError{err: err, retryable: true}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.Debug("failed to close response body", logger.Error(err))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, &attemptError{err: err, retryable: true}
	}

	status := resp.StatusCode
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return Result{}, &attemptError{
			err: errors.Newf("service returned %d: %s", status, errorText(resp, body)).
				Component("classify").
				Category(errors.CategoryHTTP).
				Context("status_code", status).
				Build(),
			retryable: true,
		}
	}

	res, failure := decodeResponse(body, isHTML(resp, body))
	if status >= http.StatusBadRequest && res.Kind != KindQuotaExhausted {
		return Result{}, &attemptError{
			err: errors.Newf("service returned %d: %s", status, errorText(resp, body)).
				Component("classify").
				Category(errors.CategoryHTTP).
				Context("status_code", status).
				Build(),
		}
	}
	return res, failure
}

// decodeResponse turns a response body into a Result.
func decodeResponse(body []byte, html bool) (Result, *attemptError) {
	if bytes.Contains(body, []byte(QuotaMessage)) {
		return Result{Kind: KindQuotaExhausted, Err: quotaError(QuotaMessage, 0)}, nil
	}

	obj, err := jason.NewObjectFromBytes(body)
	if err != nil {
		text := string(body)
		if html {
			text = html2text.HTML2Text(text)
		}
		return Result{}, malformed(fmt.Errorf("response is not JSON: %s: %w", truncate(text), err))
	}

	if code, err := obj.GetInt64("error_code"); err == nil && code != 0 {
		msg, _ := obj.GetString("error_msg")
		if reason, ok := quotaCodes[code]; ok {
			if msg == "" {
				msg = reason
			}
			return Result{Kind: KindQuotaExhausted, Err: quotaError(msg, code)}, nil
		}
		apiErr := errors.Newf("service error %d: %s", code, msg).
			Component("classify").
			Category(errors.CategoryHTTP).
			Context("error_code", code).
			Build()
		if _, ok := retryableCodes[code]; ok {
			return Result{}, &attemptError{err: apiErr, retryable: true}
		}
		return Result{}, &attemptError{err: apiErr}
	}

	entries, err := obj.GetObjectArray("result")
	if err != nil {
		return Result{}, malformed(fmt.Errorf("missing result array: %w", err))
	}
	if len(entries) == 0 {
		return Result{}, malformed(errors.NewStd("empty result array"))
	}

	choices := make([]Choice, 0, len(entries))
	for i, entry := range entries {
		choice, err := decodeChoice(entry)
		if err != nil {
			return Result{}, malformed(fmt.Errorf("result[%d]: %w", i, err))
		}
		choices = append(choices, choice)
	}
	return Result{Kind: KindOK, Choices: choices}, nil
}

func decodeChoice(entry *jason.Object) (Choice, error) {
	name, err := entry.GetString("name")
	if err != nil {
		return Choice{}, fmt.Errorf("name: %w", err)
	}

	scoreValue, err := entry.GetValue("score")
	if err != nil {
		return Choice{}, fmt.Errorf("score: %w", err)
	}
	score, err := scoreValue.Float64()
	if err != nil {
		s, serr := scoreValue.String()
		if serr != nil {
			return Choice{}, fmt.Errorf("score: %w", err)
		}
		if score, err = strconv.ParseFloat(s, 64); err != nil {
			return Choice{}, fmt.Errorf("score: %w", err)
		}
	}

	return Choice{Name: name, Score: score, Year: decodeYear(entry)}, nil
}

// decodeYear keeps integer years numeric and string years verbatim.
// A missing or null year is 0.
func decodeYear(entry *jason.Object) Year {
	v, err := entry.GetValue("year")
	if err != nil {
		return IntYear(0)
	}
	if n, err := v.Int64(); err == nil {
		return IntYear(n)
	}
	if s, err := v.String(); err == nil {
		return TextYear(s)
	}
	if f, err := v.Float64(); err == nil {
		return IntYear(int64(f))
	}
	return IntYear(0)
}

func quotaError(msg string, code int64) error {
	return errors.Newf("quota exhausted: %s", msg).
		Component("classify").
		Category(errors.CategoryLimit).
		Context("error_code", code).
		Build()
}

func malformed(err error) *attemptError {
	return &attemptError{
		err: errors.New(err).
			Component("classify").
			Category(errors.CategoryValidation).
			Build(),
	}
}

func isHTML(resp *http.Response, body []byte) bool {
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("<"))
}

func errorText(resp *http.Response, body []byte) string {
	text := string(body)
	if isHTML(resp, body) {
		text = html2text.HTML2Text(text)
	}
	return truncate(text)
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorTextLen {
		return s[:maxErrorTextLen] + "..."
	}
	return s
}

func (c *Client) record(res Result, elapsed time.Duration) {
	c.metrics.mu.Lock()
	c.metrics.requests++
	c.metrics.byKind[res.Kind]++
	c.metrics.totalDuration += elapsed
	if res.Cached {
		c.metrics.cacheHits++
	}
	c.metrics.mu.Unlock()

	if c.recorder != nil {
		c.recorder.ObserveClassify(res.Kind.String(), res.Cached, elapsed)
	}
}

// Metrics is a snapshot of client counters.
type Metrics struct {
	Requests      int64            `json:"requests"`
	Attempts      int64            `json:"attempts"`
	CacheHits     int64            `json:"cache_hits"`
	ByKind        map[string]int64 `json:"by_kind"`
	TotalDuration time.Duration    `json:"total_duration"`
	AvgDuration   time.Duration    `json:"avg_duration"`
}

// GetMetrics returns current client metrics.
func (c *Client) GetMetrics() Metrics {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()

	m := Metrics{
		Requests:      c.metrics.requests,
		Attempts:      c.metrics.attempts,
		CacheHits:     c.metrics.cacheHits,
		ByKind:        make(map[string]int64, len(c.metrics.byKind)),
		TotalDuration: c.metrics.totalDuration,
	}
	for k, n := range c.metrics.byKind {
		m.ByKind[k.String()] = n
	}
	if m.Requests > 0 {
		m.AvgDuration = m.TotalDuration / time.Duration(m.Requests)
	}
	return m
}

// ClearCache drops all cached classifications.
func (c *Client) ClearCache() {
	c.cache.Flush()
}
