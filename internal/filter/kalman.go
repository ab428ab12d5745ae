// Package filter provides display-grade smoothing for pipeline output
// channels.
package filter

import "github.com/relabs-tech/magband/internal/geom"

// Kalman is a single-pole scalar Kalman filter with fixed process and
// measurement noise. One instance per output axis; stateful between
// samples, reset only on an explicit pipeline reset.
type Kalman struct {
	q float64 // process noise covariance
	r float64 // measurement noise covariance
	x float64 // current estimate
	p float64 // estimation error covariance

	primed bool
}

func NewKalman(q, r float64) *Kalman {
	return &Kalman{q: q, r: r, p: 1}
}

// Update folds one measurement in and returns the new estimate.
func (k *Kalman) Update(measurement float64) float64 {
	if !k.primed {
		// Seed from the first measurement so the filter does not ramp
		// up from zero.
		k.x = measurement
		k.primed = true
		return k.x
	}

	k.p += k.q
	gain := k.p / (k.p + k.r)
	k.x += gain * (measurement - k.x)
	k.p *= 1 - gain
	return k.x
}

// Reset returns the filter to its unprimed initial state.
func (k *Kalman) Reset() {
	k.x = 0
	k.p = 1
	k.primed = false
}

// Vec3 smooths a vector channel with three independent scalar filters.
type Vec3 struct {
	x, y, z Kalman
}

func NewVec3(q, r float64) *Vec3 {
	return &Vec3{
		x: Kalman{q: q, r: r, p: 1},
		y: Kalman{q: q, r: r, p: 1},
		z: Kalman{q: q, r: r, p: 1},
	}
}

func (f *Vec3) Update(v geom.Vec3) geom.Vec3 {
	return geom.Vec3{X: f.x.Update(v.X), Y: f.y.Update(v.Y), Z: f.z.Update(v.Z)}
}

func (f *Vec3) Reset() {
	f.x.Reset()
	f.y.Reset()
	f.z.Reset()
}
