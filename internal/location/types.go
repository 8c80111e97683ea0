package location

import (
	"crypto/md5"
	"fmt"
)

// Query is a raw resolution request handed in by the transport layer.
// It is immutable once constructed.
type Query struct {
	Raw      string
	Identity int64
	Limit    int
}

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinate is within the WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// SearchText is a free-text place query. Original keeps the user's casing
// for the outbound provider call; Normalized is the cache-key form.
type SearchText struct {
	Original   string
	Normalized string
}

// ClassifiedQuery is the tagged result of query classification: exactly one
// of Coordinate or Search is set.
type ClassifiedQuery struct {
	Coordinate *Coordinate
	Search     *SearchText
}

// IsCoordinate reports whether the query was classified as raw coordinates.
func (q ClassifiedQuery) IsCoordinate() bool {
	return q.Coordinate != nil
}

// Fingerprint derives the application-cache key for this query under a given
// provider and search radius. Queries that normalize identically share a key;
// everything else misses.
func (q ClassifiedQuery) Fingerprint(provider string, radiusMeters int) string {
	var payload string
	if q.Coordinate != nil {
		payload = fmt.Sprintf("coord|%.6f|%.6f", q.Coordinate.Latitude, q.Coordinate.Longitude)
	} else {
		payload = "text|" + q.Search.Normalized
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%d|%s", provider, radiusMeters, payload)))
	return fmt.Sprintf("resolve:%x", sum)
}

// ResolvedLocation is a single resolution candidate. Value-comparable.
type ResolvedLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	Provider  string  `json:"provider"`
}

// ResolutionResult is an ordered set of candidates; insertion order is the
// provider-returned rank.
type ResolutionResult struct {
	Locations []ResolvedLocation `json:"locations"`
}

// Truncate caps the result at n locations, preserving rank. Non-positive n
// leaves the result untouched.
func (r ResolutionResult) Truncate(n int) ResolutionResult {
	if n <= 0 || len(r.Locations) <= n {
		return r
	}
	return ResolutionResult{Locations: r.Locations[:n]}
}

// Empty reports whether the resolution produced no candidates.
func (r ResolutionResult) Empty() bool {
	return len(r.Locations) == 0
}
