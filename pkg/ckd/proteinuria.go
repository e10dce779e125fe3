package ckd

import (
	"database/sql/driver"
	"fmt"
)

// ProteinuriaLevel is the albuminuria category derived from the
// albumin-to-creatinine ratio. The zero value is not a valid level.
type ProteinuriaLevel uint8

const (
	A1 ProteinuriaLevel = iota + 1
	A2
	A3
)

var levelLabels = [...]string{
	A1: "A1",
	A2: "A2",
	A3: "A3",
}

// ACR bounds in mg/g. Both are inclusive to A2.
const (
	acrA2Min = 30.0
	acrA2Max = 300.0
)

// AllProteinuriaLevels lists the levels from lowest to highest.
func AllProteinuriaLevels() []ProteinuriaLevel {
	return []ProteinuriaLevel{A1, A2, A3}
}

// ProteinuriaFromACR maps an albumin-to-creatinine ratio (mg/g) to its level:
// below 30 is A1, 30 through 300 is A2, above 300 is A3. NaN lands in A3.
func ProteinuriaFromACR(acr float64) ProteinuriaLevel {
	switch {
	case acr < acrA2Min:
		return A1
	case acr <= acrA2Max:
		return A2
	default:
		return A3
	}
}

// ParseProteinuriaLevel converts "A1", "A2" or "A3" into a level.
func ParseProteinuriaLevel(s string) (ProteinuriaLevel, error) {
	for _, l := range AllProteinuriaLevels() {
		if levelLabels[l] == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown proteinuria level %q", s)
}

func (l ProteinuriaLevel) Valid() bool {
	return l >= A1 && l <= A3
}

func (l ProteinuriaLevel) String() string {
	if !l.Valid() {
		return fmt.Sprintf("ProteinuriaLevel(%d)", uint8(l))
	}
	return levelLabels[l]
}

func (l ProteinuriaLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid proteinuria level %d", uint8(l))
	}
	return []byte(levelLabels[l]), nil
}

func (l *ProteinuriaLevel) UnmarshalText(b []byte) error {
	lv, err := ParseProteinuriaLevel(string(b))
	if err != nil {
		return err
	}
	*l = lv
	return nil
}

// Value implements driver.Valuer.
func (l ProteinuriaLevel) Value() (driver.Value, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid proteinuria level %d", uint8(l))
	}
	return levelLabels[l], nil
}

// Scan implements sql.Scanner.
func (l *ProteinuriaLevel) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return l.UnmarshalText([]byte(v))
	case []byte:
		return l.UnmarshalText(v)
	case nil:
		*l = 0
		return nil
	}
	return fmt.Errorf("cannot scan %T into ckd.ProteinuriaLevel", src)
}
