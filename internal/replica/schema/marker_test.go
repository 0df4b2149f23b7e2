package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_RoundTripDecimal(t *testing.T) {
	m := Marker(1712345678901)
	assert.Equal(t, "1712345678901", m.String())

	parsed, err := ParseMarker(" 1712345678901\n")
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestParseMarker_Invalid(t *testing.T) {
	for _, s := range []string{"", "abc", "-5", "1.5"} {
		_, err := ParseMarker(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestMarker_After(t *testing.T) {
	assert.True(t, Marker(2000).After(1000))
	assert.False(t, Marker(1000).After(1000), "equal markers carry no newer information")
	assert.False(t, Marker(999).After(1000))
	assert.Equal(t, Marker(7), MaxMarker(3, 7, 5))
	assert.True(t, MaxMarker().IsZero())
}
