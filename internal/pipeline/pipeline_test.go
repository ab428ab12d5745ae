package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magband/internal/calibration"
	"github.com/relabs-tech/magband/internal/geom"
	"github.com/relabs-tech/magband/internal/imu"
	"github.com/relabs-tech/magband/internal/magnet"
	"github.com/relabs-tech/magband/internal/units"
)

// stillRaw synthesizes a flat, motionless sample carrying the given
// device-frame field. The mag codes invert the boundary axis remap so the
// converted sample comes out at mag again.
func stillRaw(i int, mag geom.Vec3) imu.RawSample {
	return imu.RawSample{
		Az:          int16(units.AccelLSBPerG),
		Mx:          int16(math.Round(-mag.Y / units.MagMicroTPerLSB)),
		My:          int16(math.Round(mag.X / units.MagMicroTPerLSB)),
		Mz:          int16(math.Round(mag.Z / units.MagMicroTPerLSB)),
		TimestampMS: uint32(i * 20),
	}
}

func fieldSphere(radius float64, n int) []geom.Vec3 {
	pts := make([]geom.Vec3, 0, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - 2*float64(i)/float64(n-1)
		r := math.Sqrt(1 - z*z)
		th := golden * float64(i)
		pts = append(pts, geom.Vec3{
			X: radius * r * math.Cos(th),
			Y: radius * r * math.Sin(th),
			Z: radius * z,
		})
	}
	return pts
}

func TestStageProgressionAndEvents(t *testing.T) {
	pipe := New(calibration.NewCalibrator())
	earth := geom.Vec3{X: 30, Y: 0, Z: -40}

	var events []Stage
	process := func(from, n int) DecoratedSample {
		var out DecoratedSample
		for i := from; i < from+n; i++ {
			out = pipe.ProcessSample(stillRaw(i, earth))
			if out.Event != "" {
				events = append(events, out.Event)
			}
		}
		return out
	}

	// Sustained stillness commits the gyro bias.
	out := process(0, 250)
	require.Equal(t, StageIronPending, pipe.Stage())
	assert.Nil(t, out.Calibrated, "no iron correction before a fit")
	assert.Nil(t, out.Residual)

	// Guided hard-iron fit makes the correction available.
	_, err := pipe.Calibrator().RunHardIron(fieldSphere(50, 1000))
	require.NoError(t, err)

	out = process(250, 1)
	require.Equal(t, StageEarthBuilding, pipe.Stage())
	require.NotNil(t, out.Calibrated)
	assert.NotNil(t, out.FilteredCalibrated)
	assert.Nil(t, out.Residual, "no residual until the Earth window fills")

	// The Earth window fills from world-frame observations.
	out = process(251, 200)
	require.Equal(t, StageReady, pipe.Stage())
	require.NotNil(t, out.Residual)
	require.NotNil(t, out.Detection)
	assert.NotNil(t, out.FilteredResidual)
	assert.Less(t, out.ResidualMagnitude, 2.0, "bare wrist residual stays near zero")
	assert.Equal(t, magnet.StatusNone, out.Detection.Status)

	assert.Equal(t,
		[]Stage{StageGyroCalibrating, StageIronPending, StageEarthBuilding, StageReady},
		events, "each stage is announced exactly once, in order")
}

func TestMagnetPulseDetected(t *testing.T) {
	pipe := New(calibration.NewCalibrator())
	earth := geom.Vec3{X: 30, Y: 0, Z: -40}

	for i := 0; i < 500; i++ {
		pipe.ProcessSample(stillRaw(i, earth))
		if i == 249 {
			_, err := pipe.Calibrator().RunHardIron(fieldSphere(50, 1000))
			require.NoError(t, err)
		}
	}
	require.Equal(t, StageReady, pipe.Stage())

	// A finger magnet appears: its field adds to the Earth reading.
	magnetField := geom.Vec3{X: 18, Y: -9, Z: 6} // |.| = 21 µT
	var out DecoratedSample
	for i := 500; i < 530; i++ {
		out = pipe.ProcessSample(stillRaw(i, earth.Add(magnetField)))
	}

	require.NotNil(t, out.Detection)
	assert.Equal(t, magnet.StatusLikely, out.Detection.Status)
	assert.Greater(t, out.ResidualMagnitude, 10.0)
}

func TestResetPreservesIronAndEarth(t *testing.T) {
	pipe := New(calibration.NewCalibrator())
	earth := geom.Vec3{X: 30, Y: 0, Z: -40}

	for i := 0; i < 400; i++ {
		pipe.ProcessSample(stillRaw(i, earth))
		if i == 249 {
			_, err := pipe.Calibrator().RunHardIron(fieldSphere(50, 1000))
			require.NoError(t, err)
		}
	}
	require.Equal(t, StageReady, pipe.Stage())

	pipe.Reset()
	assert.Equal(t, StageUncalibrated, pipe.Stage())
	assert.True(t, pipe.Calibrator().HardIronCalibrated(), "iron fit survives a reset")
	assert.True(t, pipe.Calibrator().EarthReady(), "Earth window survives a reset")

	// The session restarts from gyro calibration.
	out := pipe.ProcessSample(stillRaw(0, earth))
	assert.Equal(t, StageGyroCalibrating, out.Stage)
	assert.Nil(t, out.Calibrated, "correction waits for the bias to recommit")
}

func TestStageNeverRegresses(t *testing.T) {
	pipe := New(calibration.NewCalibrator())
	earth := geom.Vec3{X: 30, Y: 0, Z: -40}

	for i := 0; i < 250; i++ {
		pipe.ProcessSample(stillRaw(i, earth))
	}
	require.Equal(t, StageIronPending, pipe.Stage())

	// Shaking the device after the bias committed must not move the
	// stage backwards.
	for i := 250; i < 300; i++ {
		raw := stillRaw(i, earth)
		raw.Gx = 20000
		pipe.ProcessSample(raw)
	}
	assert.Equal(t, StageIronPending, pipe.Stage())
}

func TestTimestampGapClamped(t *testing.T) {
	pipe := New(calibration.NewCalibrator())
	earth := geom.Vec3{X: 30, Y: 0, Z: -40}

	pipe.ProcessSample(stillRaw(0, earth))
	pipe.ProcessSample(stillRaw(1, earth))

	// A 10 s dropout: the gap must not be integrated as one huge dt.
	raw := stillRaw(2, earth)
	raw.TimestampMS = 10040
	raw.Gx = 6550 // 100 °/s reported during the gap sample
	out := pipe.ProcessSample(raw)

	assert.InDelta(t, 1, out.Orientation.Orientation.Norm(), 1e-9)
	assert.InDelta(t, 0, out.Orientation.Euler.Roll, 1.0,
		"a dropped-sample gap cannot slew the attitude")
}
