package calibration

import (
	"math"

	"github.com/relabs-tech/magband/internal/geom"
)

// Auto-tracker acceptance gates: before the derived correction is used as
// a fallback, the extents must have seen enough samples and enough of the
// field sphere.
const (
	autoMinSamples   = 200
	autoMinDiversity = 0.5
	autoMinCoverage  = 0.5
)

// AutoTracker accumulates per-axis magnetometer extents over the whole
// session, in the background of normal operation. It yields a min/max
// iron correction usable before (or instead of) a guided run, plus the
// progress and diversity figures surfaced in the calibration snapshot.
type AutoTracker struct {
	ext   extents
	count int
}

func NewAutoTracker() *AutoTracker {
	return &AutoTracker{ext: emptyExtents()}
}

func emptyExtents() extents {
	return extents{
		min: geom.Vec3{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		max: geom.Vec3{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
}

// Observe folds one uncorrected device-frame magnetometer reading (µT)
// into the extents.
func (a *AutoTracker) Observe(mag geom.Vec3) {
	a.ext.min.X = math.Min(a.ext.min.X, mag.X)
	a.ext.min.Y = math.Min(a.ext.min.Y, mag.Y)
	a.ext.min.Z = math.Min(a.ext.min.Z, mag.Z)
	a.ext.max.X = math.Max(a.ext.max.X, mag.X)
	a.ext.max.Y = math.Max(a.ext.max.Y, mag.Y)
	a.ext.max.Z = math.Max(a.ext.max.Z, mag.Z)
	a.count++
}

func (a *AutoTracker) Count() int { return a.count }

// Ranges returns the per-axis peak-to-peak extents.
func (a *AutoTracker) Ranges() geom.Vec3 {
	if a.count == 0 {
		return geom.Vec3{}
	}
	return a.ext.ranges()
}

// Offset is the min/max centroid, the auto hard-iron estimate.
func (a *AutoTracker) Offset() geom.Vec3 {
	if a.count == 0 {
		return geom.Vec3{}
	}
	return a.ext.center()
}

// Scale is the per-axis range-normalizing factor, the auto soft-iron
// estimate. Axes without sweep keep scale 1.
func (a *AutoTracker) Scale() geom.Vec3 {
	scale := geom.Vec3{X: 1, Y: 1, Z: 1}
	if a.count == 0 {
		return scale
	}
	r := a.Ranges()
	avg := (r.X + r.Y + r.Z) / 3
	if avg <= 0 {
		return scale
	}
	if r.X > 1e-6 {
		scale.X = avg / r.X
	}
	if r.Y > 1e-6 {
		scale.Y = avg / r.Y
	}
	if r.Z > 1e-6 {
		scale.Z = avg / r.Z
	}
	return scale
}

// Diversity is the min/max range ratio in [0,1].
func (a *AutoTracker) Diversity() float64 {
	if a.count == 0 {
		return 0
	}
	return a.ext.diversity()
}

// Coverage is the fraction of the expected Earth-field span the extents
// have swept, in [0,1].
func (a *AutoTracker) Coverage() float64 {
	r := a.Ranges()
	return clamp01((r.X + r.Y + r.Z) / 3 / expectedEarthSpanUT)
}

// Progress is the 0–100 % figure shown while the auto tracker fills in.
func (a *AutoTracker) Progress() float64 {
	fill := clamp01(float64(a.count) / autoMinSamples)
	return 100 * math.Min(fill, a.Coverage())
}

// Confidence scores the auto correction 0–100 %.
func (a *AutoTracker) Confidence() float64 {
	return 100 * a.Diversity() * a.Coverage()
}

// Ready reports whether the auto correction is usable as a fallback.
func (a *AutoTracker) Ready() bool {
	return a.count >= autoMinSamples &&
		a.Diversity() >= autoMinDiversity &&
		a.Coverage() >= autoMinCoverage
}

// Reset discards the extents.
func (a *AutoTracker) Reset() {
	*a = AutoTracker{ext: emptyExtents()}
}
