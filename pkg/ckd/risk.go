package ckd

import "fmt"

// Risk is the KDIGO progression-risk category.
type Risk uint8

const (
	RiskLow Risk = iota + 1
	RiskModerate
	RiskHigh
	RiskVeryHigh
)

var riskLabels = [...]string{
	RiskLow:      "Low",
	RiskModerate: "Moderate",
	RiskHigh:     "High",
	RiskVeryHigh: "Very High",
}

// riskTable is the KDIGO heat map indexed by stage, then proteinuria level.
var riskTable = [...][4]Risk{
	Stage1:  {A1: RiskLow, A2: RiskModerate, A3: RiskHigh},
	Stage2:  {A1: RiskLow, A2: RiskModerate, A3: RiskHigh},
	Stage3A: {A1: RiskModerate, A2: RiskHigh, A3: RiskVeryHigh},
	Stage3B: {A1: RiskHigh, A2: RiskVeryHigh, A3: RiskVeryHigh},
	Stage4:  {A1: RiskVeryHigh, A2: RiskVeryHigh, A3: RiskVeryHigh},
	Stage5:  {A1: RiskVeryHigh, A2: RiskVeryHigh, A3: RiskVeryHigh},
}

// AllRisks lists the risk categories from lowest to highest.
func AllRisks() []Risk {
	return []Risk{RiskLow, RiskModerate, RiskHigh, RiskVeryHigh}
}

// ProgressionRisk looks up the KDIGO risk for an eGFR value and a proteinuria
// level.
func ProgressionRisk(egfr float64, level ProteinuriaLevel) Risk {
	return RiskForStage(StageFromEGFR(egfr), level)
}

// RiskForStage reads the heat map by stage. An invalid level is read as A3
// and an invalid stage as Stage 5, so the result is always defined.
func RiskForStage(stage Stage, level ProteinuriaLevel) Risk {
	if !stage.Valid() {
		stage = Stage5
	}
	if !level.Valid() {
		level = A3
	}
	return riskTable[stage][level]
}

// ParseRisk converts a label such as "Very High" into a Risk.
func ParseRisk(s string) (Risk, error) {
	for _, r := range AllRisks() {
		if riskLabels[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown progression risk %q", s)
}

func (r Risk) Valid() bool {
	return r >= RiskLow && r <= RiskVeryHigh
}

func (r Risk) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Risk(%d)", uint8(r))
	}
	return riskLabels[r]
}

func (r Risk) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid progression risk %d", uint8(r))
	}
	return []byte(riskLabels[r]), nil
}

func (r *Risk) UnmarshalText(b []byte) error {
	v, err := ParseRisk(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Explanation returns the patient-report wording for the risk category.
func (r Risk) Explanation() string {
	switch r {
	case RiskLow:
		return "The patient has a low risk of CKD progression. Regular monitoring is recommended."
	case RiskModerate:
		return "The patient has a moderate risk of CKD progression. More frequent monitoring is advised."
	case RiskHigh:
		return "The patient has a high risk of CKD progression. Close monitoring and management is necessary."
	case RiskVeryHigh:
		return "The patient has a very high risk of CKD progression. Specialist referral and intensive management is required."
	}
	return ""
}
