package calibration

import "github.com/relabs-tech/magband/internal/geom"

// Earth-field window sizing. 200 samples is 4–10 s at the device's
// 20–50 Hz rate: long enough to average out hand motion, short enough to
// track slow ambient drift.
const (
	earthWindowCapacity = 200
	earthMinSamples     = 50
)

// EarthEstimator maintains the orientation-compensated Earth-field
// baseline: a bounded ring of world-frame magnetometer vectors with a
// running-sum mean, so each update is O(1).
//
// Callers rotate the iron-corrected device-frame reading into the world
// frame before Add; the estimate is therefore (approximately) invariant
// to device rotation.
type EarthEstimator struct {
	buf   [earthWindowCapacity]geom.Vec3
	head  int
	count int
	sum   geom.Vec3
}

func NewEarthEstimator() *EarthEstimator {
	return &EarthEstimator{}
}

// Add folds one world-frame field vector into the window, evicting the
// oldest sample when the window is full.
func (e *EarthEstimator) Add(world geom.Vec3) {
	if e.count == len(e.buf) {
		e.sum = e.sum.Sub(e.buf[e.head])
	} else {
		e.count++
	}
	e.buf[e.head] = world
	e.sum = e.sum.Add(world)
	e.head = (e.head + 1) % len(e.buf)
}

// Ready reports whether enough samples have accumulated for the mean to
// be trustworthy.
func (e *EarthEstimator) Ready() bool { return e.count >= earthMinSamples }

// Count returns the number of samples currently in the window.
func (e *EarthEstimator) Count() int { return e.count }

// Mean returns the world-frame Earth-field estimate.
func (e *EarthEstimator) Mean() geom.Vec3 {
	if e.count == 0 {
		return geom.Vec3{}
	}
	return e.sum.Scale(1 / float64(e.count))
}

// Reset empties the window.
func (e *EarthEstimator) Reset() {
	*e = EarthEstimator{}
}

// Seed pre-fills the window with n copies of v, capped at capacity. Used
// when restoring a persisted estimate so the mean is reproduced exactly
// and then refined as live samples arrive.
func (e *EarthEstimator) Seed(v geom.Vec3, n int) {
	e.Reset()
	if n > len(e.buf) {
		n = len(e.buf)
	}
	for i := 0; i < n; i++ {
		e.Add(v)
	}
}
