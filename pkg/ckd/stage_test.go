package ckd

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageFromEGFR_Boundaries(t *testing.T) {
	tests := []struct {
		egfr float64
		want Stage
	}{
		{120, Stage1},
		{90, Stage1},
		{89.999, Stage2},
		{60, Stage2},
		{59.999, Stage3A},
		{45, Stage3A},
		{44.999, Stage3B},
		{30, Stage3B},
		{29.999, Stage4},
		{15, Stage4},
		{14.999, Stage5},
		{0, Stage5},
		{-3, Stage5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StageFromEGFR(tt.egfr), "egfr=%v", tt.egfr)
	}
}

func TestStageFromEGFR_NaNIsStage5(t *testing.T) {
	assert.Equal(t, Stage5, StageFromEGFR(math.NaN()))
	assert.Equal(t, Stage1, StageFromEGFR(math.Inf(1)))
}

func TestStageFromEGFR_PartitionsNonNegativeLine(t *testing.T) {
	// Every sampled value lands in exactly one stage range and the stage
	// returned is the one whose range contains it.
	for x := 0.0; x <= 150; x += 0.01 {
		got := StageFromEGFR(x)
		require.True(t, got.Valid(), "egfr=%v", x)

		matches := 0
		for _, s := range AllStages() {
			lo, hi := s.EGFRRange()
			if x >= lo && x < hi {
				matches++
				assert.Equal(t, s, got, "egfr=%v", x)
			}
		}
		require.Equal(t, 1, matches, "egfr=%v falls in %d ranges", x, matches)
	}
}

func TestStageFromEGFR_MonotoneNonIncreasing(t *testing.T) {
	prev := StageFromEGFR(0)
	for x := 0.0; x <= 130; x += 0.05 {
		cur := StageFromEGFR(x)
		assert.False(t, cur.Worse(prev), "stage worsened from %s to %s at egfr=%v", prev, cur, x)
		prev = cur
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range AllStages() {
		got, err := ParseStage(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStage("Stage 3")
	assert.Error(t, err)
	_, err = ParseStage("")
	assert.Error(t, err)
}

func TestStage_ZeroValueInvalid(t *testing.T) {
	var s Stage
	assert.False(t, s.Valid())
	assert.Equal(t, "Stage(0)", s.String())
	_, err := s.MarshalText()
	assert.Error(t, err)
}

func TestStage_JSONUsesLabel(t *testing.T) {
	type wrapper struct {
		Stage Stage `json:"ckd_stage"`
	}
	data, err := json.Marshal(wrapper{Stage: Stage3B})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ckd_stage":"Stage 3B"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"ckd_stage":"Stage 4"}`), &w))
	assert.Equal(t, Stage4, w.Stage)

	assert.Error(t, json.Unmarshal([]byte(`{"ckd_stage":"Stage 6"}`), &w))
}

func TestStage_ScanAndValue(t *testing.T) {
	v, err := Stage3A.Value()
	require.NoError(t, err)
	assert.Equal(t, "Stage 3A", v)

	var s Stage
	require.NoError(t, s.Scan("Stage 5"))
	assert.Equal(t, Stage5, s)
	require.NoError(t, s.Scan([]byte("Stage 2")))
	assert.Equal(t, Stage2, s)
	require.NoError(t, s.Scan(nil))
	assert.False(t, s.Valid())
	assert.Error(t, s.Scan(42))
}
