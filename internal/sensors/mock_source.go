// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package sensors

import (
	"math"

	"github.com/relabs-tech/magband/internal/geom"
	"github.com/relabs-tech/magband/internal/imu"
	"github.com/relabs-tech/magband/internal/units"
)

// mockSource synthesizes a plausible wrist session without hardware:
// two seconds of stillness (so gyro-bias calibration can run), then
// smooth wandering motion, with Earth's field, a fixed hard-iron offset
// and a periodic finger-magnet pulse baked into the magnetometer.
type mockSource struct {
	rateHz float64
	n      int

	gyroBias geom.Vec3 // °/s
	hardIron geom.Vec3 // µT, device frame
	earth    geom.Vec3 // µT, world frame
}

// NewMockSource creates a synthetic sample source at the given rate.
func NewMockSource(rateHz float64) imu.Source {
	return &mockSource{
		rateHz:   rateHz,
		gyroBias: geom.Vec3{X: 0.8, Y: -1.2, Z: 0.4},
		hardIron: geom.Vec3{X: 12, Y: -7, Z: 4},
		earth:    geom.Vec3{X: 20, Y: 0, Z: -43},
	}
}

func (m *mockSource) NextRaw() (imu.RawSample, error) {
	t := float64(m.n) / m.rateHz
	m.n++

	var e geom.Euler
	if t > 2 {
		// Gentle wandering after the still start.
		e = geom.Euler{
			Roll:  25 * math.Sin(0.8*(t-2)),
			Pitch: 15 * math.Sin(0.5*(t-2)+1),
			Yaw:   40 * math.Sin(0.3*(t-2)),
		}
	}
	q := geom.FromEuler(e)

	// Gravity and Earth field as the device sees them.
	accel := q.Conjugate().Rotate(geom.Vec3{Z: 1})
	mag := q.Conjugate().Rotate(m.earth).Add(m.hardIron)

	// A magnet "appears" for two seconds out of every ten.
	if math.Mod(t, 10) > 8 {
		mag = mag.Add(geom.Vec3{X: 18, Y: -9, Z: 6})
	}

	// Finite-difference body rates from the Euler trajectory, plus the
	// constant bias the calibrator should find.
	gyro := m.rates(t).Add(m.gyroBias)

	return imu.RawSample{
		Ax: int16(accel.X * units.AccelLSBPerG),
		Ay: int16(accel.Y * units.AccelLSBPerG),
		Az: int16(accel.Z * units.AccelLSBPerG),
		Gx: int16(gyro.X * units.GyroLSBPerDPS),
		Gy: int16(gyro.Y * units.GyroLSBPerDPS),
		Gz: int16(gyro.Z * units.GyroLSBPerDPS),
		// Invert the boundary remap so the converted sample comes out in
		// the accel/gyro frame again.
		Mx: int16(-mag.Y / units.MagMicroTPerLSB),
		My: int16(mag.X / units.MagMicroTPerLSB),
		Mz: int16(mag.Z / units.MagMicroTPerLSB),
		TimestampMS: uint32(t * 1000),
	}, nil
}

// rates approximates the Euler angle derivatives in °/s.
func (m *mockSource) rates(t float64) geom.Vec3 {
	if t <= 2 {
		return geom.Vec3{}
	}
	return geom.Vec3{
		X: 25 * 0.8 * math.Cos(0.8*(t-2)),
		Y: 15 * 0.5 * math.Cos(0.5*(t-2)+1),
		Z: 40 * 0.3 * math.Cos(0.3*(t-2)),
	}
}
