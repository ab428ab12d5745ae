package sensors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magband/internal/imu"
	"github.com/relabs-tech/magband/internal/units"
)

func mockPhysicalAt(t *testing.T, src imu.Source, n int) imu.PhysicalSample {
	t.Helper()
	var raw imu.RawSample
	var err error
	for i := 0; i <= n; i++ {
		raw, err = src.NextRaw()
		require.NoError(t, err)
	}
	return units.Convert(raw)
}

func TestMockStartsStill(t *testing.T) {
	src := NewMockSource(50)

	phys := mockPhysicalAt(t, src, 25) // t = 0.5 s, inside the still start
	assert.InDelta(t, 0, phys.Accel.X, 0.01)
	assert.InDelta(t, 0, phys.Accel.Y, 0.01)
	assert.InDelta(t, 1, phys.Accel.Z, 0.01)

	// Stillness still carries the synthetic gyro bias.
	assert.InDelta(t, 0.8, phys.Gyro.X, 0.02)
	assert.InDelta(t, -1.2, phys.Gyro.Y, 0.02)
	assert.InDelta(t, 0.4, phys.Gyro.Z, 0.02)
}

// During the still start the attitude is identity, so the converted mag
// reading is Earth's field plus the synthetic hard-iron offset. The remap
// the mock bakes into the raw codes must cancel the one in units.Convert.
func TestMockMagRemapRoundTrips(t *testing.T) {
	src := NewMockSource(50)

	phys := mockPhysicalAt(t, src, 25)
	assert.InDelta(t, 20+12, phys.Mag.X, 0.2)
	assert.InDelta(t, 0-7, phys.Mag.Y, 0.2)
	assert.InDelta(t, -43+4, phys.Mag.Z, 0.2)
}

func TestMockMovesAfterStillStart(t *testing.T) {
	src := NewMockSource(50)

	phys := mockPhysicalAt(t, src, 150) // t = 3 s
	assert.Greater(t, phys.Gyro.Norm(), 3.0, "wandering motion should show on the gyro")
}

func TestMockMagnetPulseOnset(t *testing.T) {
	src := NewMockSource(50)

	// The pulse switches on right after t = 8 s; between two consecutive
	// samples the attitude barely moves, so the mag step is the pulse
	// vector itself.
	var before, after imu.PhysicalSample
	for i := 0; i <= 401; i++ {
		raw, err := src.NextRaw()
		require.NoError(t, err)
		switch i {
		case 400: // t = 8.00 s
			before = units.Convert(raw)
		case 401: // t = 8.02 s
			after = units.Convert(raw)
		}
	}

	step := after.Mag.Sub(before.Mag)
	assert.InDelta(t, 18, step.X, 1.0)
	assert.InDelta(t, -9, step.Y, 1.0)
	assert.InDelta(t, 6, step.Z, 1.0)
}

func TestMockTimestampsAdvance(t *testing.T) {
	src := NewMockSource(50)
	a, err := src.NextRaw()
	require.NoError(t, err)
	b, err := src.NextRaw()
	require.NoError(t, err)
	assert.Equal(t, uint32(20), b.TimestampMS-a.TimestampMS)
}
