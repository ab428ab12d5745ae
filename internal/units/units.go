// Package units converts raw integer sensor codes into physical units.
//
// All unit handling and the magnetometer axis remap happen here, exactly
// once, at the boundary between transport and pipeline. Downstream code
// never sees LSB counts and never re-applies sign conventions.
package units

import (
	"github.com/relabs-tech/magband/internal/geom"
	"github.com/relabs-tech/magband/internal/imu"
)

// Sensor full-scale constants for the wrist unit's fixed configuration.
const (
	AccelLSBPerG    = 16384.0 // ±2 g
	GyroLSBPerDPS   = 65.5    // ±500 °/s
	MagMicroTPerLSB = 0.15    // 16-bit magnetometer, ~±4900 µT
)

// Convert maps a raw sample to physical units.
//
// The magnetometer die is mounted rotated 90° relative to the accel/gyro
// die, so its reading is remapped into the accel/gyro frame: X and Y are
// swapped and the resulting Y is negated. Z is shared between the dies.
func Convert(r imu.RawSample) imu.PhysicalSample {
	return imu.PhysicalSample{
		Accel: geom.Vec3{
			X: float64(r.Ax) / AccelLSBPerG,
			Y: float64(r.Ay) / AccelLSBPerG,
			Z: float64(r.Az) / AccelLSBPerG,
		},
		Gyro: geom.Vec3{
			X: float64(r.Gx) / GyroLSBPerDPS,
			Y: float64(r.Gy) / GyroLSBPerDPS,
			Z: float64(r.Gz) / GyroLSBPerDPS,
		},
		Mag: geom.Vec3{
			X: float64(r.My) * MagMicroTPerLSB,
			Y: -float64(r.Mx) * MagMicroTPerLSB,
			Z: float64(r.Mz) * MagMicroTPerLSB,
		},
		T: float64(r.TimestampMS) / 1000.0,
	}
}
