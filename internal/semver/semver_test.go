package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
}

func TestVersionRoundTrip(t *testing.T) {
	for _, v := range []Version{{0, 0, 0}, {1, 0, 0}, {2, 1, 3}, {10, 20, 30}} {
		parsed, err := ParseVersion(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Version{1, 0, 0}.Compare(Version{2, 0, 0}))
	assert.Equal(t, 1, Version{2, 1, 0}.Compare(Version{2, 0, 9}))
	assert.Equal(t, 0, Version{1, 2, 3}.Compare(Version{1, 2, 3}))
}

func TestParseRangeGrammar(t *testing.T) {
	cases := []struct {
		rng   string
		v     Version
		match bool
	}{
		{"*", Version{9, 9, 9}, true},
		{"latest", Version{0, 0, 1}, true},
		{"1.2.3", Version{1, 2, 3}, true},
		{"1.2.3", Version{1, 2, 4}, false},
		{"^1.2.3", Version{1, 9, 0}, true},
		{"^1.2.3", Version{2, 0, 0}, false},
		{"^1.2.3", Version{1, 2, 2}, false},
		{"~1.2.3", Version{1, 2, 9}, true},
		{"~1.2.3", Version{1, 3, 0}, false},
		{">=1.0.0", Version{1, 0, 0}, true},
		{">1.0.0", Version{1, 0, 0}, false},
		{"<=1.0.0", Version{1, 0, 0}, true},
		{"<1.0.0", Version{0, 9, 9}, true},
	}

	for _, c := range cases {
		rng, err := ParseRange(c.rng)
		require.NoError(t, err, c.rng)
		assert.Equal(t, c.match, rng.Satisfies(c.v), "range %q vs %s", c.rng, c.v)
	}
}

func TestParseRangeInvalid(t *testing.T) {
	_, err := ParseRange("not-a-range")
	assert.Error(t, err)
}
