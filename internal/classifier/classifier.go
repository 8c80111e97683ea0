// Package classifier decides whether a raw query is a literal coordinate
// pair or free text bound for a search provider. Classification is pure and
// deterministic; cache keys depend on it.
package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/placepin/placepin/internal/location"
)

// Strict decimal-degree grammar: optionally signed latitude and longitude,
// comma- or whitespace-separated, each with an optional cardinal suffix.
var coordsPattern = regexp.MustCompile(
	`^\s*(-?\d{1,2}(?:\.\d+)?)\s*([NSns])?\s*(?:,\s*|\s+)(-?\d{1,3}(?:\.\d+)?)\s*([EWew])?\s*$`)

// Classify labels a raw query string. Strings matching the coordinate
// grammar with in-range values become Coordinate queries; everything else,
// including out-of-range coordinates, becomes SearchText.
func Classify(raw string) location.ClassifiedQuery {
	if m := coordsPattern.FindStringSubmatch(raw); m != nil {
		lat, latErr := strconv.ParseFloat(m[1], 64)
		lon, lonErr := strconv.ParseFloat(m[3], 64)
		if latErr == nil && lonErr == nil {
			lat = applyCardinal(lat, m[2], "S", "s")
			lon = applyCardinal(lon, m[4], "W", "w")
			coord := location.Coordinate{Latitude: lat, Longitude: lon}
			if coord.Valid() {
				return location.ClassifiedQuery{Coordinate: &coord}
			}
		}
	}

	original := collapseWhitespace(raw)
	return location.ClassifiedQuery{Search: &location.SearchText{
		Original:   original,
		Normalized: strings.ToLower(original),
	}}
}

// applyCardinal flips the sign for southern/western suffixes. A suffix on an
// already-signed value applies to its magnitude.
func applyCardinal(v float64, suffix string, negatives ...string) float64 {
	if suffix == "" {
		return v
	}
	for _, neg := range negatives {
		if suffix == neg {
			if v < 0 {
				return v
			}
			return -v
		}
	}
	if v < 0 {
		return -v
	}
	return v
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
