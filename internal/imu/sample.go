package imu

import "github.com/relabs-tech/magband/internal/geom"

// RawSample is a single 9-axis reading as delivered by the wrist unit:
// integer sensor codes plus the unit's monotonic millisecond timestamp.
// Immutable once received.
type RawSample struct {
	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer
	My int16 `json:"my"`
	Mz int16 `json:"mz"`

	TimestampMS uint32 `json:"t"`
}

// PhysicalSample is the raw sample converted to physical units, with the
// magnetometer remapped into the accel/gyro frame. Derived once at the
// unit-conversion boundary, never mutated afterwards.
type PhysicalSample struct {
	Accel geom.Vec3 `json:"accel_g"`   // g
	Gyro  geom.Vec3 `json:"gyro_dps"`  // °/s
	Mag   geom.Vec3 `json:"mag_ut"`    // µT, device frame
	T     float64   `json:"t_seconds"` // seconds since unit boot
}

// Source yields raw samples at the device's native rate.
type Source interface {
	NextRaw() (RawSample, error)
}
