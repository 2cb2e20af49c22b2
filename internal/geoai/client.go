// Package geoai talks to a generateContent-style language model endpoint
// for geocoding, routing, search suggestions, the assistant chat and
// points of interest. Every call goes through the retrier and, via the
// HTTP client it is given, through the resource cache.
package geoai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/cache/resourcecache"
	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
	"github.com/mohammed-shakir/geonav-cache/internal/retry"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
	DefaultMaxPOIs = 25

	apiKeyHeader = "x-goog-api-key"
)

// DefaultRegionHint biases ambiguous place names toward the region the
// application is used in.
const DefaultRegionHint = "Context: The user is likely in Zambia. Be aware of common local place names which may not be in English, such as 'Kulima Tower', 'Nakadoli Market', or 'Chisokone Market'. Prioritize Zambian locations if the query is ambiguous."

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	RegionHint string
	// RateLimit is the sustained calls per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	MaxPOIs   int
	Retry     retry.Config
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.RegionHint == "" {
		c.RegionHint = DefaultRegionHint
	}
	if c.MaxPOIs <= 0 {
		c.MaxPOIs = DefaultMaxPOIs
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = retry.DefaultConfig()
	}
	return c
}

// Result wraps a value with where it came from. Offline is set when the
// network was unreachable and the answer was served from the api tier.
type Result[T any] struct {
	Value   T    `json:"value"`
	Offline bool `json:"offline"`
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *limiter
	log     *slog.Logger
	retries map[string]*retry.Retrier
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a client. hc should route through the resource cache; a nil
// hc uses http.DefaultClient.
func New(cfg Config, hc *http.Client, opts ...Option) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		hc:      hc,
		limiter: newLimiter(cfg.RateLimit, cfg.Burst),
		log:     slog.Default(),
		retries: make(map[string]*retry.Retrier),
	}
	for _, o := range opts {
		o(c)
	}
	// fetch_pois is retried by the viewport coordinator that drives it
	for _, op := range []string{opGeocode, opDirections, opSuggest, opAssistant} {
		c.retries[op] = retry.New(cfg.Retry, retry.WithName(op), retry.WithLogger(c.log))
	}
	return c
}

const (
	opGeocode    = "geocode"
	opDirections = "directions"
	opSuggest    = "suggest"
	opAssistant  = "assistant"
	opPOIs       = "fetch_pois"
)

// wire types of the generateContent API

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema         `json:"responseSchema,omitempty"`
	ThinkingConfig   *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type reply struct {
	text    string
	offline bool
}

func (c *Client) endpoint() string {
	return c.cfg.BaseURL + "/v1beta/models/" + url.PathEscape(c.cfg.Model) + ":generateContent"
}

// generate sends one prompt and returns the model's text.
func (c *Client) generate(ctx context.Context, op string, req generateRequest) (reply, error) {
	if c.cfg.APIKey == "" {
		return reply{}, apperr.Configuration("AI API key is not set")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return reply{}, fmt.Errorf("encode %s request: %w", op, err)
	}
	r, ok := c.retries[op]
	if !ok {
		return c.call(ctx, op, body)
	}
	return retry.Do(ctx, r, func(ctx context.Context) (reply, error) {
		return c.call(ctx, op, body)
	})
}

func (c *Client) call(ctx context.Context, op string, body []byte) (reply, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return reply{}, fmt.Errorf("%w: rate limiter: %w", apperr.ErrCanceled, err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return reply{}, apperr.Configuration("build request: %v", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set(apiKeyHeader, c.cfg.APIKey)

	start := time.Now()
	res, err := c.hc.Do(hreq)
	observability.ObserveUpstreamLatency("geoai_"+op, time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, apperr.ErrTransport) {
			return reply{}, err
		}
		return reply{}, fmt.Errorf("%w: %w", apperr.ErrTransport, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return reply{}, apperr.Transport("read %s response: %v", op, err)
	}
	offline := res.Header.Get(resourcecache.HeaderServedOffline) == "true"

	switch {
	case res.StatusCode == http.StatusServiceUnavailable && offline:
		var ub resourcecache.UnavailableBody
		if err := json.Unmarshal(raw, &ub); err != nil || ub.Error == "" {
			ub.Error = resourcecache.OfflineMessage
		}
		return reply{}, &apperr.UnavailableError{Message: ub.Error}
	case res.StatusCode == http.StatusTooManyRequests:
		c.limiter.pause(retryAfter(res.Header.Get("Retry-After")))
		return reply{}, apperr.Transport("%s: quota exhausted (429)", op)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return reply{}, apperr.Configuration("%s: API key rejected (%d)", op, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return reply{}, apperr.Transport("%s: upstream status %d", op, res.StatusCode)
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return reply{}, apperr.Malformed("%s: decode envelope: %v", op, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return reply{}, apperr.Malformed("%s: no candidates in response", op)
	}
	var b strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return reply{text: strings.TrimSpace(b.String()), offline: offline}, nil
}

func retryAfter(h string) time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func prompt(text string) []content {
	return []content{{Role: "user", Parts: []part{{Text: text}}}}
}

func jsonConfig(s *schema) *generationConfig {
	return &generationConfig{ResponseMimeType: "application/json", ResponseSchema: s}
}

// decodeJSON parses the model text as JSON into v.
func decodeJSON(op, text string, v any) error {
	if text == "" {
		return apperr.Malformed("%s: empty response", op)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return apperr.Malformed("%s: %v", op, err)
	}
	return nil
}
