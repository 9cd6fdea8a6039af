package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetPath(t *testing.T) {
	m := map[string]any{"total_usage": map[string]any{"total_tokens": 3.0}}

	v, ok := GetPath(m, "total_usage.total_tokens")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	_, ok = GetPath(m, "total_usage.missing")
	assert.False(t, ok)

	require.NoError(t, SetPath(m, "block_stats.block_count", 2))
	v, ok = GetPath(m, "block_stats.block_count")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSetPathThroughScalar(t *testing.T) {
	m := map[string]any{"favor_value": 1.0}
	err := SetPath(m, "favor_value.x", 2)
	assert.Error(t, err)
}

func TestToMapRoundTrip(t *testing.T) {
	type inner struct {
		A int    `json:"a"`
		B string `json:"b"`
	}
	m, err := ToMap(inner{A: 1, B: "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0, "b": "x"}, m)

	var back inner
	require.NoError(t, FromMap(m, &back))
	assert.Equal(t, inner{A: 1, B: "x"}, back)
}

func TestNumber(t *testing.T) {
	for _, v := range []any{1, int64(1), 1.0, true} {
		n, ok := Number(v)
		assert.True(t, ok)
		assert.Equal(t, 1.0, n)
	}
	_, ok := Number("1")
	assert.False(t, ok)
}
