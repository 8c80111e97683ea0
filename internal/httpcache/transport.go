// Package httpcache implements the transport-tier response cache that sits
// beneath every outbound geocoding call. It is provider-response-shaped:
// byte-identical requests are served from memory for as long as the
// provider's own cache-control semantics allow.
package httpcache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/placepin/placepin/internal/telemetry"
)

// CacheHeader marks responses served by this transport.
const (
	CacheHeader = "X-Placepin-Cache"
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
)

type entry struct {
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
	ttl      time.Duration
}

// Transport is a caching http.RoundTripper. Responses are stored keyed by
// the exact outbound request (method + URL) when their headers permit it;
// expired entries are never returned.
type Transport struct {
	base  http.RoundTripper
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]*entry

	cached  prometheus.Counter
	fetched prometheus.Counter
}

// Option configures a Transport.
type Option func(*Transport)

// WithClock injects a clock for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Transport) { t.clock = clock }
}

// WithCounters wires cached/fetched response counters.
func WithCounters(cached, fetched prometheus.Counter) Option {
	return func(t *Transport) {
		t.cached = cached
		t.fetched = fetched
	}
}

// New creates a caching transport around base. A nil base means
// http.DefaultTransport.
func New(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:    base,
		clock:   clockwork.NewRealClock(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Client returns an http.Client using this transport with the given timeout.
func (t *Transport) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base.RoundTrip(req)
	}

	key := req.Method + " " + req.URL.String()

	if resp := t.lookup(key, req); resp != nil {
		if t.cached != nil {
			t.cached.Inc()
		}
		return resp, nil
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.fetched != nil {
		t.fetched.Inc()
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.Header.Set(CacheHeader, CacheMiss)

	if ttl, ok := t.cacheableFor(resp); ok {
		t.store(key, resp, body, ttl)
	}
	return resp, nil
}

func (t *Transport) lookup(key string, req *http.Request) *http.Response {
	t.mu.RLock()
	e, exists := t.entries[key]
	t.mu.RUnlock()
	if !exists {
		return nil
	}

	if t.clock.Now().After(e.storedAt.Add(e.ttl)) {
		t.mu.Lock()
		// Re-check under the write lock; another reader may have replaced it.
		if cur, ok := t.entries[key]; ok && cur == e {
			delete(t.entries, key)
		}
		t.mu.Unlock()
		return nil
	}

	header := e.header.Clone()
	header.Set(CacheHeader, CacheHit)
	return &http.Response{
		StatusCode:    e.status,
		Status:        http.StatusText(e.status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}
}

func (t *Transport) store(key string, resp *http.Response, body []byte, ttl time.Duration) {
	header := resp.Header.Clone()
	header.Del(CacheHeader)

	t.mu.Lock()
	t.entries[key] = &entry{
		status:   resp.StatusCode,
		header:   header,
		body:     body,
		storedAt: t.clock.Now(),
		ttl:      ttl,
	}
	t.mu.Unlock()
}

// cacheableFor derives the storage TTL from the response's own headers.
// Responses marked no-store/no-cache/private, and responses without a
// freshness lifetime, are not cached.
func (t *Transport) cacheableFor(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	cc := strings.ToLower(resp.Header.Get("Cache-Control"))
	if strings.Contains(cc, "no-store") || strings.Contains(cc, "no-cache") || strings.Contains(cc, "private") {
		return 0, false
	}

	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if secs, ok := strings.CutPrefix(directive, "max-age="); ok {
			n, err := strconv.Atoi(secs)
			if err == nil && n > 0 {
				return time.Duration(n) * time.Second, true
			}
			return 0, false
		}
	}

	if expires := resp.Header.Get("Expires"); expires != "" {
		when, err := http.ParseTime(expires)
		if err == nil {
			if ttl := when.Sub(t.clock.Now()); ttl > 0 {
				return ttl, true
			}
		}
	}

	return 0, false
}

// FromCache reports whether a response was served by this transport's cache.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(CacheHeader) == CacheHit
}

// Sweep drops expired entries. Expiry is otherwise lazy on read.
func (t *Transport) Sweep() int {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	swept := 0
	for key, e := range t.entries {
		if now.After(e.storedAt.Add(e.ttl)) {
			delete(t.entries, key)
			swept++
		}
	}
	return swept
}

// StartSweeper periodically sweeps expired entries until ctx is done.
func (t *Transport) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := t.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if n := t.Sweep(); n > 0 {
					telemetry.LogFromContext(ctx).
						WithField("swept_entries", n).
						Debug("transport cache swept expired responses")
				}
			}
		}
	}()
}

// Len returns the number of stored responses.
func (t *Transport) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
