package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Marker is a totally ordered version value assigned when a Snapshot is
// committed locally. Markers are wall-clock milliseconds bumped by one unit
// whenever the clock would tie or regress. The zero Marker means "no version".
type Marker int64

// After reports whether m carries newer information than o.
// Equal markers are never newer.
func (m Marker) After(o Marker) bool {
	return m > o
}

// IsZero reports whether m is the unset marker.
func (m Marker) IsZero() bool {
	return m == 0
}

// String returns the decimal form stored under the version key.
func (m Marker) String() string {
	return strconv.FormatInt(int64(m), 10)
}

// ParseMarker parses the decimal form written by String.
func ParseMarker(s string) (Marker, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty version marker")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version marker %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid version marker %q: negative", s)
	}
	return Marker(v), nil
}

// MaxMarker returns the larger of the given markers.
func MaxMarker(ms ...Marker) Marker {
	var out Marker
	for _, m := range ms {
		if m > out {
			out = m
		}
	}
	return out
}
