package ckd

import "math"

// Simplified (IDMS-traceable) MDRD study equation:
//
//	eGFR = 175 × Scr^-1.154 × age^-0.203 × 0.742 [if female]
//
// No race coefficient is applied.
const (
	mdrdCoefficient  = 175.0
	mdrdCreatExp     = -1.154
	mdrdAgeExp       = -0.203
	mdrdFemaleFactor = 0.742
)

// EGFRFromCreatinine applies the MDRD equation to a serum creatinine value in
// mg/dL. Non-positive creatinine or age yields NaN. The result is rounded to
// two decimals.
func EGFRFromCreatinine(creatinine, age float64, female bool) float64 {
	if !(creatinine > 0) || !(age > 0) {
		return math.NaN()
	}
	egfr := mdrdCoefficient * math.Pow(creatinine, mdrdCreatExp) * math.Pow(age, mdrdAgeExp)
	if female {
		egfr *= mdrdFemaleFactor
	}
	return round2(egfr)
}

// EstimateCreatinine inverts the sex-neutral MDRD equation to give a serum
// creatinine (mg/dL) for the given eGFR, then scales it by 0.742 for female
// patients. The female case is therefore not an exact inverse of
// EGFRFromCreatinine. It is an approximation meant for fixture and demo data,
// not for diagnosis. Non-positive eGFR or age yields NaN.
func EstimateCreatinine(egfr, age float64, female bool) float64 {
	if !(egfr > 0) || !(age > 0) {
		return math.NaN()
	}
	k := mdrdCoefficient * math.Pow(age, mdrdAgeExp)
	scr := math.Pow(k/egfr, -1/mdrdCreatExp)
	if female {
		scr *= mdrdFemaleFactor
	}
	return round2(scr)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
