// Package ckd holds the chronic kidney disease classification rules: eGFR
// staging, albuminuria categories and the KDIGO progression-risk heat map.
// Everything here is a pure function of its inputs.
package ckd

import (
	"database/sql/driver"
	"fmt"
	"math"
)

// Stage is a CKD stage (G category). The zero value is not a valid stage.
type Stage uint8

const (
	Stage1 Stage = iota + 1
	Stage2
	Stage3A
	Stage3B
	Stage4
	Stage5
)

var stageLabels = [...]string{
	Stage1:  "Stage 1",
	Stage2:  "Stage 2",
	Stage3A: "Stage 3A",
	Stage3B: "Stage 3B",
	Stage4:  "Stage 4",
	Stage5:  "Stage 5",
}

// Lower eGFR bound (mL/min/1.73m²) of each stage, inclusive.
const (
	egfrStage1  = 90.0
	egfrStage2  = 60.0
	egfrStage3A = 45.0
	egfrStage3B = 30.0
	egfrStage4  = 15.0
)

// AllStages lists the stages from least to most severe.
func AllStages() []Stage {
	return []Stage{Stage1, Stage2, Stage3A, Stage3B, Stage4, Stage5}
}

// StageFromEGFR maps an eGFR value to its stage. Bands are checked top-down
// with inclusive lower bounds; anything below 15, including negative and NaN
// input, is Stage 5.
func StageFromEGFR(egfr float64) Stage {
	switch {
	case egfr >= egfrStage1:
		return Stage1
	case egfr >= egfrStage2:
		return Stage2
	case egfr >= egfrStage3A:
		return Stage3A
	case egfr >= egfrStage3B:
		return Stage3B
	case egfr >= egfrStage4:
		return Stage4
	default:
		return Stage5
	}
}

// ParseStage converts a label such as "Stage 3A" into a Stage.
func ParseStage(s string) (Stage, error) {
	for _, st := range AllStages() {
		if stageLabels[st] == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown ckd stage %q", s)
}

func (s Stage) Valid() bool {
	return s >= Stage1 && s <= Stage5
}

func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Stage(%d)", uint8(s))
	}
	return stageLabels[s]
}

// EGFRRange returns the [min, max) eGFR interval of the stage. Stage 1 has no
// upper bound and is reported with max = +Inf; Stage 5 starts at 0.
func (s Stage) EGFRRange() (min, max float64) {
	switch s {
	case Stage1:
		return egfrStage1, math.Inf(1)
	case Stage2:
		return egfrStage2, egfrStage1
	case Stage3A:
		return egfrStage3A, egfrStage2
	case Stage3B:
		return egfrStage3B, egfrStage3A
	case Stage4:
		return egfrStage4, egfrStage3B
	case Stage5:
		return 0, egfrStage4
	}
	return math.NaN(), math.NaN()
}

// Worse reports whether s is a more advanced stage than other.
func (s Stage) Worse(other Stage) bool {
	return s > other
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ckd stage %d", uint8(s))
	}
	return []byte(stageLabels[s]), nil
}

func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Value implements driver.Valuer so stages are stored by label.
func (s Stage) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ckd stage %d", uint8(s))
	}
	return stageLabels[s], nil
}

// Scan implements sql.Scanner.
func (s *Stage) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		*s = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into ckd.Stage", src)
}
