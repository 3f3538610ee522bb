package search

import (
	"fmt"
	"math"
	"strconv"

	"github.com/rubiojr/travelmate/pkg/models"
)

// keyPrecision is the number of decimals coordinates are rounded to when
// building a dedupe key.
const keyPrecision = 6

// locationKey identifies a result by name and rounded coordinates. Two
// different names at the same point are distinct.
func locationKey(l models.Location) string {
	lat := strconv.FormatFloat(roundTo(l.Latitude, keyPrecision), 'f', keyPrecision, 64)
	lon := strconv.FormatFloat(roundTo(l.Longitude, keyPrecision), 'f', keyPrecision, 64)
	name := l.DisplayName
	if name == "" {
		name = l.Name
	}
	return fmt.Sprintf("%s|%s|%s", name, lat, lon)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Dedupe drops repeated results, keeping the first occurrence. The input is
// not modified.
func Dedupe(in []models.Location) []models.Location {
	if len(in) <= 1 {
		return append([]models.Location(nil), in...)
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]models.Location, 0, len(in))
	for _, l := range in {
		k := locationKey(l)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out
}

// Merge concatenates result sets and dedupes them; earlier sets win.
func Merge(sets ...[]models.Location) []models.Location {
	total := 0
	for _, s := range sets {
		total += len(s)
	}
	all := make([]models.Location, 0, total)
	for _, s := range sets {
		all = append(all, s...)
	}
	return Dedupe(all)
}
