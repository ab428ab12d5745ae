// Package ahrs estimates device attitude from accelerometer and gyroscope
// samples using a Mahony-style complementary filter.
//
// The magnetometer is deliberately not fused: it is the measurement target
// of this system, not a heading reference. Yaw is therefore relative to the
// attitude at initialization and drifts with the gyroscope.
package ahrs

import (
	"math"

	"github.com/relabs-tech/magband/internal/geom"
)

const (
	defaultKp = 2.0  // proportional gain: accel correction strength
	defaultKi = 0.01 // integral gain: slow gyro drift compensation

	// Gyro error corrections are capped so a transient accelerometer
	// disturbance (impact, shake) cannot yank the attitude.
	maxGyroCorrection = 0.1 // rad/s

	degToRad = math.Pi / 180
)

// State is the estimator output: unit quaternion plus cached Euler angles
// in degrees. The Euler angles are always recomputed from the quaternion,
// never integrated separately.
type State struct {
	Orientation geom.Quaternion `json:"orientation"`
	Euler       geom.Euler      `json:"euler"`
}

// Estimator fuses accel + gyro into an attitude quaternion. One instance
// per device session; not safe for concurrent use.
type Estimator struct {
	q           geom.Quaternion
	kp, ki      float64
	integralFB  geom.Vec3
	initialized bool
}

func NewEstimator() *Estimator {
	return &Estimator{q: geom.Identity(), kp: defaultKp, ki: defaultKi}
}

// Reset discards all attitude state. The next Update re-initializes from
// the accelerometer as if it were the first sample.
func (e *Estimator) Reset() {
	e.q = geom.Identity()
	e.integralFB = geom.Vec3{}
	e.initialized = false
}

// State returns the current attitude.
func (e *Estimator) State() State {
	return State{Orientation: e.q, Euler: e.q.ToEuler()}
}

// Update advances the filter by one sample. accel is in g, gyro in °/s
// (bias already removed by the caller), dt in seconds.
//
// On the first sample after construction or Reset the attitude is taken
// directly from the accelerometer, assuming the device is momentarily
// level enough for a gravity alignment; yaw starts at zero. A
// zero-magnitude accelerometer reading skips the correction term for that
// sample and integrates the gyroscope alone.
func (e *Estimator) Update(accel, gyro geom.Vec3, dt float64) State {
	if !e.initialized {
		e.initFromAccel(accel)
		e.initialized = true
		return e.State()
	}
	if dt <= 0 {
		return e.State()
	}

	gx := gyro.X * degToRad
	gy := gyro.Y * degToRad
	gz := gyro.Z * degToRad

	q0, q1, q2, q3 := e.q.W, e.q.X, e.q.Y, e.q.Z

	if n := accel.Norm(); n > 1e-9 {
		ax := accel.X / n
		ay := accel.Y / n
		az := accel.Z / n

		// Estimated gravity direction in the device frame.
		vx := 2 * (q1*q3 - q0*q2)
		vy := 2 * (q0*q1 + q2*q3)
		vz := q0*q0 - q1*q1 - q2*q2 + q3*q3

		// Error is the cross product between measured and estimated gravity.
		ex := ay*vz - az*vy
		ey := az*vx - ax*vz
		ez := ax*vy - ay*vx

		if e.ki > 0 {
			e.integralFB.X += e.ki * ex * dt
			e.integralFB.Y += e.ki * ey * dt
			e.integralFB.Z += e.ki * ez * dt
			gx += e.integralFB.X
			gy += e.integralFB.Y
			gz += e.integralFB.Z
		}

		gx += clamp(e.kp*ex, maxGyroCorrection)
		gy += clamp(e.kp*ey, maxGyroCorrection)
		gz += clamp(e.kp*ez, maxGyroCorrection)
	}

	// Integrate rate of change of quaternion.
	gx *= 0.5 * dt
	gy *= 0.5 * dt
	gz *= 0.5 * dt
	qa, qb, qc := q0, q1, q2
	q0 += -qb*gx - qc*gy - q3*gz
	q1 += qa*gx + qc*gz - q3*gy
	q2 += qa*gy - qb*gz + q3*gx
	q3 += qa*gz + qb*gy - qc*gx

	e.q = geom.Quaternion{W: q0, X: q1, Y: q2, Z: q3}.Normalized()
	return e.State()
}

// initFromAccel aligns the attitude with gravity: roll and pitch from the
// accelerometer tilt formulas, yaw left at the filter's zero reference.
func (e *Estimator) initFromAccel(accel geom.Vec3) {
	if accel.Norm() < 1e-9 {
		e.q = geom.Identity()
		return
	}
	roll := math.Atan2(accel.Y, accel.Z)
	pitch := math.Atan2(-accel.X, math.Sqrt(accel.Y*accel.Y+accel.Z*accel.Z))

	e.q = geom.FromEuler(geom.Euler{
		Roll:  roll / degToRad,
		Pitch: pitch / degToRad,
	})
}

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
