package ckd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProteinuriaFromACR_Boundaries(t *testing.T) {
	tests := []struct {
		acr  float64
		want ProteinuriaLevel
	}{
		{0, A1},
		{10, A1},
		{29.999, A1},
		{30, A2},
		{150, A2},
		{300, A2},
		{300.001, A3},
		{2500, A3},
		{-1, A1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProteinuriaFromACR(tt.acr), "acr=%v", tt.acr)
	}
	assert.Equal(t, A3, ProteinuriaFromACR(math.NaN()))
}

func TestProteinuriaFromACR_Monotone(t *testing.T) {
	prev := ProteinuriaFromACR(0)
	for x := 0.0; x <= 1000; x += 0.1 {
		cur := ProteinuriaFromACR(x)
		require.True(t, cur.Valid())
		assert.GreaterOrEqual(t, cur, prev, "acr=%v", x)
		prev = cur
	}
}

func TestParseProteinuriaLevel(t *testing.T) {
	for _, l := range AllProteinuriaLevels() {
		got, err := ParseProteinuriaLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseProteinuriaLevel("A4")
	assert.Error(t, err)

	var l ProteinuriaLevel
	require.NoError(t, l.UnmarshalText([]byte("A2")))
	assert.Equal(t, A2, l)
	assert.Error(t, l.Scan(3.5))
}
