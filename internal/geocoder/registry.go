package geocoder

import (
	"github.com/placepin/placepin/internal/location"
)

// Registry holds the configured providers and picks the right one for a
// classified query.
type Registry struct {
	echo        Provider
	search      map[string]Provider
	order       []string
	regional    map[string]Provider
	defaultMode string
	fallback    string
}

// NewRegistry wires the coordinate-echo provider and the search providers
// keyed by name. defaultMode picks the search provider when the user has no
// preference; fallback names the provider tried when the preferred one is
// unavailable.
func NewRegistry(echo Provider, defaultMode, fallback string, search ...Provider) *Registry {
	byName := make(map[string]Provider, len(search))
	order := make([]string, 0, len(search))
	for _, p := range search {
		if _, dup := byName[p.Name()]; !dup {
			order = append(order, p.Name())
		}
		byName[p.Name()] = p
	}
	return &Registry{
		echo:        echo,
		search:      byName,
		order:       order,
		regional:    make(map[string]Provider),
		defaultMode: defaultMode,
		fallback:    fallback,
	}
}

// WithRegional routes identities with the given locale to a provider when
// they express no explicit provider preference. Returns the registry for
// chaining.
func (r *Registry) WithRegional(locale string, p Provider) *Registry {
	r.regional[locale] = p
	if _, known := r.search[p.Name()]; !known {
		r.search[p.Name()] = p
		r.order = append(r.order, p.Name())
	}
	return r
}

// ForQuery returns the provider for the classified query: the echo provider
// for coordinates, otherwise the search provider matching the preferred
// mode, then the locale's regional provider, then the default mode. It never
// returns nil while at least one search provider is registered; an unknown
// default degrades to the first registered provider.
func (r *Registry) ForQuery(q location.ClassifiedQuery, preferredMode, locale string) Provider {
	if q.IsCoordinate() {
		return r.echo
	}
	if p, ok := r.search[preferredMode]; ok {
		return p
	}
	if p, ok := r.regional[locale]; ok {
		return p
	}
	if p, ok := r.search[r.defaultMode]; ok {
		return p
	}
	if len(r.order) > 0 {
		return r.search[r.order[0]]
	}
	return nil
}

// Fallback returns the configured fallback search provider, or nil when none
// is configured.
func (r *Registry) Fallback() Provider {
	return r.search[r.fallback]
}
