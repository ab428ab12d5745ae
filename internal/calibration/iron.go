package calibration

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/magband/internal/geom"
)

// StepConfig describes one guided calibration collection step. These are
// fixed configuration constants, never mutated at runtime.
type StepConfig struct {
	SampleCount      int // samples the wizard requests from the transport
	SampleRateHz     int // requested collection rate
	MinSamples       int // hard floor: fewer samples is a failure
	QualityExcellent float64
	QualityGood      float64
}

var (
	// HardIronConfig drives the varied-orientation rotation step.
	HardIronConfig = StepConfig{
		SampleCount:      1000,
		SampleRateHz:     50,
		MinSamples:       100,
		QualityExcellent: 0.85,
		QualityGood:      0.6,
	}

	// SoftIronConfig drives the figure-eight step.
	SoftIronConfig = StepConfig{
		SampleCount:      1000,
		SampleRateHz:     50,
		MinSamples:       200,
		QualityExcellent: 0.85,
		QualityGood:      0.6,
	}
)

// expectedEarthSpanUT is the per-axis peak-to-peak extent a full rotation
// through Earth's field should produce (twice a mid-latitude field
// magnitude). Used to judge how much of the sphere a collection covered.
const expectedEarthSpanUT = 100.0

// HardIronResult is the outcome of a committed hard-iron fit.
type HardIronResult struct {
	Offset  geom.Vec3 `json:"offset"`
	Quality float64   `json:"quality"`
}

// SoftIronResult is the outcome of a committed soft-iron fit.
type SoftIronResult struct {
	Scale   geom.Vec3 `json:"scale"`
	Quality float64   `json:"quality"`
}

type extents struct {
	min, max geom.Vec3
}

func measureExtents(samples []geom.Vec3) extents {
	e := extents{
		min: geom.Vec3{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64},
		max: geom.Vec3{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64},
	}
	for _, s := range samples {
		e.min.X = math.Min(e.min.X, s.X)
		e.min.Y = math.Min(e.min.Y, s.Y)
		e.min.Z = math.Min(e.min.Z, s.Z)
		e.max.X = math.Max(e.max.X, s.X)
		e.max.Y = math.Max(e.max.Y, s.Y)
		e.max.Z = math.Max(e.max.Z, s.Z)
	}
	return e
}

func (e extents) center() geom.Vec3 {
	return e.min.Add(e.max).Scale(0.5)
}

func (e extents) ranges() geom.Vec3 {
	return e.max.Sub(e.min)
}

// diversity is the min/max range ratio across axes: 1.0 means the
// collection swept all three axes equally, near 0 means it stayed planar.
func (e extents) diversity() float64 {
	r := e.ranges()
	lo := math.Min(r.X, math.Min(r.Y, r.Z))
	hi := math.Max(r.X, math.Max(r.Y, r.Z))
	if hi <= 0 {
		return 0
	}
	return lo / hi
}

// fitHardIron estimates the hard-iron offset as the centroid of the
// per-axis extents (ellipsoid center). Quality combines orientation
// diversity with how much of the expected Earth-field span was covered.
func fitHardIron(samples []geom.Vec3, cfg StepConfig) (HardIronResult, error) {
	if len(samples) < cfg.MinSamples {
		return HardIronResult{}, &InsufficientSamplesError{
			Step: "hard-iron", Got: len(samples), Required: cfg.MinSamples,
		}
	}

	e := measureExtents(samples)
	r := e.ranges()
	coverage := clamp01((r.X + r.Y + r.Z) / 3 / expectedEarthSpanUT)

	return HardIronResult{
		Offset:  e.center(),
		Quality: clamp01(e.diversity() * (0.5 + 0.5*coverage)),
	}, nil
}

// fitSoftIron estimates per-axis scale factors that normalize each axis
// extent to the common (average) radius. samples must already be
// hard-iron corrected. Quality is sphericity: how tightly the corrected
// radii cluster around their mean.
func fitSoftIron(samples []geom.Vec3, cfg StepConfig) (SoftIronResult, error) {
	if len(samples) < cfg.MinSamples {
		return SoftIronResult{}, &InsufficientSamplesError{
			Step: "soft-iron", Got: len(samples), Required: cfg.MinSamples,
		}
	}

	e := measureExtents(samples)
	r := e.ranges()
	avg := (r.X + r.Y + r.Z) / 3

	scale := geom.Vec3{X: 1, Y: 1, Z: 1}
	degenerate := false
	if avg > 0 {
		// A collapsed axis (no sweep) keeps scale 1 rather than
		// producing a non-positive or unbounded factor.
		if r.X > 1e-6 {
			scale.X = avg / r.X
		} else {
			degenerate = true
		}
		if r.Y > 1e-6 {
			scale.Y = avg / r.Y
		} else {
			degenerate = true
		}
		if r.Z > 1e-6 {
			scale.Z = avg / r.Z
		} else {
			degenerate = true
		}
	} else {
		degenerate = true
	}

	quality := sphericity(samples, scale)
	if degenerate {
		quality = 0
	}
	return SoftIronResult{Scale: scale, Quality: quality}, nil
}

// sphericity scores how closely the scaled samples lie on a sphere:
// 1 - coefficient of variation of the radii, clamped to [0,1].
func sphericity(samples []geom.Vec3, scale geom.Vec3) float64 {
	radii := make([]float64, len(samples))
	for i, s := range samples {
		radii[i] = s.Mul(scale).Norm()
	}
	mean := stat.Mean(radii, nil)
	if mean <= 0 {
		return 0
	}
	return clamp01(1 - stat.StdDev(radii, nil)/mean)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
