package ckd

import (
	"math"
	"math/rand/v2"
)

// Sampling ranges in tenths, so generated values carry one decimal like a lab
// report. Upper bounds are exclusive unless noted.
var egfrTenths = [...][2]int{
	Stage1:  {900, 1200},
	Stage2:  {600, 900},
	Stage3A: {450, 600},
	Stage3B: {300, 450},
	Stage4:  {150, 300},
	Stage5:  {10, 150},
}

var acrTenths = [...][2]int{
	A1: {10, 300},
	A2: {300, 3001},   // 30.0 through 300.0
	A3: {3001, 20001}, // 300.1 through 2000.0
}

// Generator produces plausible measurement values for seeding demo and test
// data. Each Generator owns its random source; it is not safe for concurrent
// use, but separate generators never share state.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded deterministically from seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// EGFRForStage returns an eGFR inside the stage's band. Unknown stages sample
// the Stage 1 band.
func (g *Generator) EGFRForStage(s Stage) float64 {
	if !s.Valid() {
		s = Stage1
	}
	return g.tenths(egfrTenths[s])
}

// ACRForLevel returns an albumin-to-creatinine ratio inside the level's range.
// Unknown levels sample the A1 range.
func (g *Generator) ACRForLevel(l ProteinuriaLevel) float64 {
	if !l.Valid() {
		l = A1
	}
	return g.tenths(acrTenths[l])
}

// SystolicBP returns a systolic pressure (mmHg) that drifts upward with stage.
func (g *Generator) SystolicBP(s Stage) int {
	const base = 120
	var lo, span int
	switch s {
	case Stage2:
		lo, span = 0, 20
	case Stage3A:
		lo, span = 5, 25
	case Stage3B:
		lo, span = 10, 30
	case Stage4:
		lo, span = 15, 35
	case Stage5:
		lo, span = 20, 40
	default:
		lo, span = -10, 20
	}
	return base + lo + g.rng.IntN(span)
}

// DiastolicBP returns a diastolic pressure of roughly two thirds of systolic,
// give or take 5 mmHg.
func (g *Generator) DiastolicBP(systolic int) int {
	return int(math.Floor(float64(systolic)*0.65)) + g.rng.IntN(10) - 5
}

// Stage picks a stage uniformly.
func (g *Generator) Stage() Stage {
	all := AllStages()
	return all[g.rng.IntN(len(all))]
}

// ProteinuriaLevel picks a level uniformly.
func (g *Generator) ProteinuriaLevel() ProteinuriaLevel {
	all := AllProteinuriaLevels()
	return all[g.rng.IntN(len(all))]
}

// IntN exposes the underlying source for callers building related fixtures.
func (g *Generator) IntN(n int) int {
	return g.rng.IntN(n)
}

func (g *Generator) tenths(r [2]int) float64 {
	return float64(r[0]+g.rng.IntN(r[1]-r[0])) / 10
}
