package recorder

import (
	"math"
	"time"
)

// LevelDB returns the block loudness in dBFS. Digital silence is about -180.
func LevelDB(block []int16) float64 {
	if len(block) == 0 {
		return 20 * math.Log10(1e-9)
	}
	var sumSquares float64
	for _, s := range block {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(block)))
	return 20 * math.Log10(rms/32768+1e-9)
}

// silenceGate accrues quiet time across blocks. A block strictly above the
// threshold resets the accrual.
type silenceGate struct {
	thresholdDB float64
	hangover    time.Duration
	sampleRate  int

	quiet time.Duration
}

func newSilenceGate(thresholdDB float64, hangover time.Duration, sampleRate int) *silenceGate {
	return &silenceGate{thresholdDB: thresholdDB, hangover: hangover, sampleRate: sampleRate}
}

// feed reports the block level and whether the hangover has been exceeded.
func (g *silenceGate) feed(block []int16) (float64, bool) {
	db := LevelDB(block)
	if db > g.thresholdDB {
		g.quiet = 0
		return db, false
	}
	g.quiet += time.Duration(len(block)) * time.Second / time.Duration(g.sampleRate)
	return db, g.quiet > g.hangover
}
