package ckd

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMeasurement is returned by ValidateMeasurement for values no lab
// could have produced.
var ErrInvalidMeasurement = errors.New("invalid measurement")

// Classification bundles the three categories derived from one pair of
// measurements.
type Classification struct {
	EGFR             float64          `json:"egfr"`
	ACR              float64          `json:"acr"`
	Stage            Stage            `json:"ckd_stage"`
	ProteinuriaLevel ProteinuriaLevel `json:"proteinuria_level"`
	Risk             Risk             `json:"progression_risk"`
}

// Classify derives stage, proteinuria level and progression risk.
func Classify(egfr, acr float64) Classification {
	level := ProteinuriaFromACR(acr)
	return Classification{
		EGFR:             egfr,
		ACR:              acr,
		Stage:            StageFromEGFR(egfr),
		ProteinuriaLevel: level,
		Risk:             ProgressionRisk(egfr, level),
	}
}

// ValidateMeasurement rejects NaN, infinite and negative values. The
// classifiers accept anything; callers that take raw input run this first.
func ValidateMeasurement(name string, v float64) error {
	switch {
	case math.IsNaN(v):
		return fmt.Errorf("%s: %w: not a number", name, ErrInvalidMeasurement)
	case math.IsInf(v, 0):
		return fmt.Errorf("%s: %w: infinite", name, ErrInvalidMeasurement)
	case v < 0:
		return fmt.Errorf("%s: %w: negative value %g", name, ErrInvalidMeasurement, v)
	}
	return nil
}
