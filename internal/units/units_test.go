package units

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/magband/internal/imu"
)

func TestConvertAccelFullScale(t *testing.T) {
	phys := Convert(imu.RawSample{Ax: 16384, Ay: -16384, Az: 8192})
	assert.InDelta(t, 1.0, phys.Accel.X, 1e-9)
	assert.InDelta(t, -1.0, phys.Accel.Y, 1e-9)
	assert.InDelta(t, 0.5, phys.Accel.Z, 1e-9)
}

func TestConvertGyro(t *testing.T) {
	phys := Convert(imu.RawSample{Gx: 655, Gy: -131, Gz: 0})
	assert.InDelta(t, 10.0, phys.Gyro.X, 0.01)
	assert.InDelta(t, -2.0, phys.Gyro.Y, 0.01)
	assert.InDelta(t, 0.0, phys.Gyro.Z, 1e-9)
}

// The magnetometer die is mounted rotated relative to the accel/gyro; the
// conversion remaps it into the shared device frame exactly once.
func TestConvertMagAxisRemap(t *testing.T) {
	phys := Convert(imu.RawSample{Mx: 10, My: 20, Mz: -30})
	assert.InDelta(t, 20*MagMicroTPerLSB, phys.Mag.X, 1e-9)
	assert.InDelta(t, -10*MagMicroTPerLSB, phys.Mag.Y, 1e-9)
	assert.InDelta(t, -30*MagMicroTPerLSB, phys.Mag.Z, 1e-9)
}

func TestConvertTimestamp(t *testing.T) {
	phys := Convert(imu.RawSample{TimestampMS: 1250})
	assert.InDelta(t, 1.25, phys.T, 1e-9)
}
