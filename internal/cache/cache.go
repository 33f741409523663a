// Package cache is the conditional HTTP layer between the UI-facing readers
// and the backend aggregation API. Every request carries the last accepted
// validator token (ETag) for its cache key; a 304 answers from the persisted
// payload without re-decoding, a 200 refreshes it. Persistence failures
// never fail a read: warm-path correctness wins over the cache write.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// defaultEvictFraction is the share of entries dropped, oldest first, when a
// persistence write hits the store's quota.
const defaultEvictFraction = 0.25

// StatusError carries a non-success upstream status. It is never swallowed
// into a default value.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cache: upstream status %d: %s", e.Status, e.Message)
}

// ErrConsistency marks a 304 with no cached payload even after the one
// unconditional retry. Fatal for that request.
var ErrConsistency = errors.New("cache: not modified but no cached payload")

// entry is the persisted cache record. FetchedAt orders eviction only; a
// payload is trusted solely because its validator token was accepted by the
// remote source.
type entry struct {
	ETag      string          `json:"etag"`
	Payload   json.RawMessage `json:"payload"`
	FetchedAt int64           `json:"fetched_at"`
}

// Options parameterise the conditional cache client.
type Options struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	EvictFraction float64
}

// Client performs conditional GETs against the aggregation API.
type Client struct {
	opts   Options
	store  Store
	http   *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewClient builds a conditional cache over store.
func NewClient(opts Options, store Store, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.EvictFraction <= 0 || opts.EvictFraction >= 1 {
		opts.EvictFraction = defaultEvictFraction
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:   opts,
		store:  store,
		http:   &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "http_cache").Logger(),
		now:    time.Now,
	}
}

// Key normalises endpoint and params into a canonical, order-independent
// cache key, so logically identical requests hit the same slot regardless of
// parameter construction order.
func Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[name]))
	}
	return b.String()
}

// Get fetches endpoint with params through the conditional cache and returns
// the decoded payload bytes. Cancellation of ctx aborts the network call.
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, error) {
	key := Key(endpoint, params)

	cached, ok := c.load(ctx, key)
	etag := ""
	if ok {
		etag = cached.ETag
	}

	payload, status, newTag, err := c.fetch(ctx, endpoint, params, etag)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		c.persist(ctx, key, entry{ETag: newTag, Payload: payload, FetchedAt: c.now().UnixNano()})
		return payload, nil

	case http.StatusNotModified:
		if ok && len(cached.Payload) > 0 {
			// Trusted: the source just confirmed this token. Refresh the
			// eviction timestamp, keep the payload as-is.
			c.persist(ctx, key, entry{ETag: cached.ETag, Payload: cached.Payload, FetchedAt: c.now().UnixNano()})
			return cached.Payload, nil
		}

		// Cold start: the validator survived but the payload did not. One
		// unconditional retry, hard-bounded, no recursion.
		payload, status, newTag, err = c.fetch(ctx, endpoint, params, "")
		if err != nil {
			return nil, err
		}
		if status == http.StatusOK {
			c.persist(ctx, key, entry{ETag: newTag, Payload: payload, FetchedAt: c.now().UnixNano()})
			return payload, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrConsistency, key)
	}

	// fetch only returns 200 and 304 without error.
	return nil, &StatusError{Status: status, Message: "unexpected status"}
}

// Invalidate drops the cache entry for a request, typically after a
// locally-initiated write made it stale.
func (c *Client) Invalidate(ctx context.Context, endpoint string, params map[string]string) error {
	return c.store.Remove(ctx, Key(endpoint, params))
}

// InvalidateEndpoint drops every cached page of an endpoint.
func (c *Client) InvalidateEndpoint(ctx context.Context, endpoint string) error {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key == endpoint || strings.HasPrefix(key, endpoint+"?") {
			if err := c.store.Remove(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, params map[string]string, etag string) (json.RawMessage, int, string, error) {
	query := url.Values{}
	for name, value := range params {
		query.Set(name, value)
	}

	target := c.opts.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("cache: fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, "", fmt.Errorf("cache: read %s: %w", endpoint, err)
		}
		return body, http.StatusOK, resp.Header.Get("ETag"), nil

	case http.StatusNotModified:
		return nil, http.StatusNotModified, "", nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = resp.Status
	}
	return nil, 0, "", &StatusError{Status: resp.StatusCode, Message: message}
}

func (c *Client) load(ctx context.Context, key string) (entry, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		}
		return entry{}, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, treating as miss")
		return entry{}, false
	}
	return e, true
}

// persist writes the entry, evicting the oldest quarter of entries and
// retrying exactly once if the store reports quota exhaustion. A second
// failure abandons the write for this key; the read already succeeded.
func (c *Client) persist(ctx context.Context, key string, e entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry marshal failed")
		return
	}

	err = c.store.Set(ctx, key, raw)
	if errors.Is(err, ErrQuotaExceeded) {
		c.evictOldest(ctx)
		err = c.store.Set(ctx, key, raw)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write abandoned")
	}
}

// evictOldest removes ceil(fraction) of entries ranked by embedded freshness
// timestamp, oldest first, at least one.
func (c *Client) evictOldest(ctx context.Context) {
	keys, err := c.store.Keys(ctx)
	if err != nil || len(keys) == 0 {
		return
	}

	type aged struct {
		key       string
		fetchedAt int64
	}
	entries := make([]aged, 0, len(keys))
	for _, key := range keys {
		e, ok := c.load(ctx, key)
		if !ok {
			// Unreadable entries evict first.
			entries = append(entries, aged{key: key, fetchedAt: math.MinInt64})
			continue
		}
		entries = append(entries, aged{key: key, fetchedAt: e.FetchedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].fetchedAt < entries[j].fetchedAt })

	n := int(math.Ceil(float64(len(entries)) * c.opts.EvictFraction))
	if n < 1 {
		n = 1
	}
	for _, victim := range entries[:n] {
		if err := c.store.Remove(ctx, victim.key); err != nil {
			c.logger.Warn().Err(err).Str("key", victim.key).Msg("eviction failed")
		}
	}
	c.logger.Info().Int("evicted", n).Int("total", len(entries)).Msg("evicted cache entries under quota pressure")
}
