// Package prefs looks up per-user resolution preferences from the identity
// microservice. Preference lookup is an enhancement, not a hard dependency:
// every failure mode degrades to documented defaults.
package prefs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	apperrors "github.com/placepin/placepin/internal/errors"
	"github.com/placepin/placepin/internal/telemetry"
)

// MethodGetPreferences is the identity service's lookup RPC. The service
// speaks gRPC with the JSON codec; the request/response shapes below are the
// wire contract.
const MethodGetPreferences = "/placepin.prefs.v1.PreferencesService/GetPreferences"

const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)    { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                             { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Preferences is a user's stored resolution preferences.
type Preferences struct {
	Identity     int64
	ProviderMode string
	Locale       string
	RefreshedAt  time.Time
}

// Service is the preference lookup contract the pipeline depends on.
type Service interface {
	Get(ctx context.Context, identity int64) Preferences
}

// Static always returns fixed preferences. Used when no identity service is
// configured.
type Static struct {
	ProviderMode string
	Locale       string
}

// Get implements Service.
func (s Static) Get(_ context.Context, identity int64) Preferences {
	return Preferences{Identity: identity, ProviderMode: s.ProviderMode, Locale: s.Locale}
}

type getPreferencesRequest struct {
	Identity int64 `json:"identity"`
}

type getPreferencesResponse struct {
	ProviderMode string `json:"provider_mode"`
	Locale       string `json:"locale"`
}

// invoker abstracts *grpc.ClientConn for testing.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply interface{}, opts ...grpc.CallOption) error
}

type cached struct {
	prefs    Preferences
	cachedAt time.Time
}

// Options configures a Client.
type Options struct {
	CacheTTL            time.Duration
	Timeout             time.Duration
	DefaultProviderMode string
	DefaultLocale       string
	Clock               clockwork.Clock
}

// Client is a preference lookup client over one long-lived gRPC connection,
// fronted by a local TTL cache. Unknown identities are cached negatively so
// repeat lookups don't hammer the remote.
type Client struct {
	conn invoker

	mu    sync.RWMutex
	cache map[int64]cached

	ttl      time.Duration
	timeout  time.Duration
	defaults Preferences
	clock    clockwork.Clock
}

// Dial connects to the identity service and returns a Client. The connection
// is reused across calls, never re-established per request.
func Dial(addr string, opts Options) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection. Exposed for tests.
func NewClient(conn invoker, opts Options) *Client {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		conn:  conn,
		cache: make(map[int64]cached),
		ttl:   opts.CacheTTL,
		timeout: opts.Timeout,
		defaults: Preferences{
			ProviderMode: opts.DefaultProviderMode,
			Locale:       opts.DefaultLocale,
		},
		clock: clock,
	}
}

// Get returns the identity's preferences, from the local cache when fresh,
// otherwise via RPC. Any remote failure yields the defaults.
func (c *Client) Get(ctx context.Context, identity int64) Preferences {
	if prefs, ok := c.lookup(identity); ok {
		return prefs
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp getPreferencesResponse
	err := c.conn.Invoke(callCtx, MethodGetPreferences, &getPreferencesRequest{Identity: identity}, &resp)
	switch {
	case err == nil:
		prefs := Preferences{
			Identity:     identity,
			ProviderMode: resp.ProviderMode,
			Locale:       resp.Locale,
			RefreshedAt:  c.clock.Now(),
		}
		if prefs.ProviderMode == "" {
			prefs.ProviderMode = c.defaults.ProviderMode
		}
		if prefs.Locale == "" {
			prefs.Locale = c.defaults.Locale
		}
		c.store(identity, prefs)
		return prefs

	case status.Code(err) == codes.NotFound:
		// Unknown identity: cache the defaults so we don't re-ask until TTL.
		prefs := c.defaultsFor(identity)
		c.store(identity, prefs)
		return prefs

	default:
		telemetry.LogFromContext(ctx).
			WithField("service", "prefs").
			WithField("identity", identity).
			WithError(apperrors.NewPreferenceLookupError(err)).
			Debug("preference lookup failed, using defaults")
		return c.defaultsFor(identity)
	}
}

func (c *Client) defaultsFor(identity int64) Preferences {
	prefs := c.defaults
	prefs.Identity = identity
	prefs.RefreshedAt = c.clock.Now()
	return prefs
}

func (c *Client) lookup(identity int64) (Preferences, bool) {
	c.mu.RLock()
	entry, ok := c.cache[identity]
	c.mu.RUnlock()
	if !ok || c.clock.Now().Sub(entry.cachedAt) > c.ttl {
		return Preferences{}, false
	}
	return entry.prefs, true
}

func (c *Client) store(identity int64, prefs Preferences) {
	c.mu.Lock()
	c.cache[identity] = cached{prefs: prefs, cachedAt: c.clock.Now()}
	c.mu.Unlock()
}

// CleanUp evicts expired entries, bounding memory for inactive identities.
func (c *Client) CleanUp() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for identity, entry := range c.cache {
		if now.Sub(entry.cachedAt) > c.ttl {
			delete(c.cache, identity)
			evicted++
		}
	}
	return evicted
}

// StartSweeper evicts expired entries on the given interval until ctx is
// done, independent of whether anyone reads them.
func (c *Client) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := c.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if n := c.CleanUp(); n > 0 {
					telemetry.LogFromContext(ctx).
						WithField("service", "prefs").
						WithField("evicted_entries", n).
						Debug("preference cache swept expired entries")
				}
			}
		}
	}()
}

// CacheLen returns the number of locally cached identities.
func (c *Client) CacheLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
