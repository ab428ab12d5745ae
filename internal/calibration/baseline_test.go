package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magband/internal/geom"
)

func runCapture(t *testing.T, b *BaselineCapture, v geom.Vec3) BaselineResult {
	t.Helper()
	require.NoError(t, b.Start())
	for i := 0; i < baselineTargetSamples; i++ {
		require.NoError(t, b.Update(v))
	}
	res, err := b.EndCapture()
	require.NoError(t, err)
	return res
}

func TestBaselineExcellentCapture(t *testing.T) {
	b := NewBaselineCapture()
	res := runCapture(t, b, geom.Vec3{X: 20, Z: -43})

	require.True(t, res.Success)
	assert.Equal(t, BaselineQualityExcellent, res.Quality)
	assert.InDelta(t, 47.42, res.Magnitude, 0.01)
	assert.Empty(t, res.Warning)
	assert.True(t, b.Active())
	assert.Equal(t, res.Vector, b.Vector())
}

func TestBaselineAcceptableCaptureWarns(t *testing.T) {
	b := NewBaselineCapture()
	res := runCapture(t, b, geom.Vec3{X: 40, Y: -42, Z: 30})

	require.True(t, res.Success)
	assert.Equal(t, BaselineQualityAcceptable, res.Quality)
	assert.InDelta(t, 65.30, res.Magnitude, 0.01)
	assert.NotEmpty(t, res.Warning)
	assert.True(t, b.Active())
}

func TestBaselineRejectedAboveCeiling(t *testing.T) {
	b := NewBaselineCapture()
	res := runCapture(t, b, geom.Vec3{X: 90})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Retries)
	assert.NotEmpty(t, res.Suggestion)
	assert.False(t, b.Active())
	assert.False(t, b.Failed())
}

func TestBaselineRetriesExhaust(t *testing.T) {
	b := NewBaselineCapture()
	for i := 0; i < baselineMaxRetries; i++ {
		runCapture(t, b, geom.Vec3{X: 90})
	}
	require.True(t, b.Failed())

	assert.ErrorIs(t, b.Start(), ErrRetriesExhausted)

	// Manual recapture reopens the episode.
	b.ResetRetries()
	res := runCapture(t, b, geom.Vec3{X: 20, Z: -43})
	assert.True(t, res.Success)
}

func TestBaselineSuccessClearsRetryCount(t *testing.T) {
	b := NewBaselineCapture()
	runCapture(t, b, geom.Vec3{X: 90})
	require.Equal(t, 1, b.Retries())

	runCapture(t, b, geom.Vec3{X: 20, Z: -43})
	assert.Equal(t, 0, b.Retries())
}

func TestBaselineShortfallIsHardFailure(t *testing.T) {
	b := NewBaselineCapture()
	require.NoError(t, b.Start())
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Update(geom.Vec3{X: 20}))
	}

	res, err := b.EndCapture()
	var insufficient *InsufficientSamplesError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 10, insufficient.Got)
	assert.Equal(t, baselineTargetSamples, insufficient.Required)
	assert.False(t, res.Success)
	assert.False(t, b.Active())
}

func TestBaselineDoubleStartRejected(t *testing.T) {
	b := NewBaselineCapture()
	require.NoError(t, b.Start())
	assert.ErrorIs(t, b.Start(), ErrCaptureActive)
}

func TestBaselineUpdateOutsideEpisode(t *testing.T) {
	b := NewBaselineCapture()
	assert.ErrorIs(t, b.Update(geom.Vec3{X: 1}), ErrCaptureInactive)

	_, err := b.EndCapture()
	assert.ErrorIs(t, err, ErrCaptureInactive)
}

func TestBaselineIgnoresExtraSamples(t *testing.T) {
	b := NewBaselineCapture()
	require.NoError(t, b.Start())
	for i := 0; i < baselineTargetSamples; i++ {
		require.NoError(t, b.Update(geom.Vec3{X: 30}))
	}
	// Samples past the target must not skew the mean.
	for i := 0; i < 50; i++ {
		require.NoError(t, b.Update(geom.Vec3{X: 9000}))
	}

	res, err := b.EndCapture()
	require.NoError(t, err)
	assert.InDelta(t, 30, res.Magnitude, 1e-9)
}

func TestBaselineAbandonKeepsAcceptedVector(t *testing.T) {
	b := NewBaselineCapture()
	runCapture(t, b, geom.Vec3{X: 20, Z: -43})
	accepted := b.Vector()

	require.NoError(t, b.Start())
	b.Update(geom.Vec3{X: 500})
	b.Abandon()

	assert.False(t, b.Capturing())
	assert.True(t, b.Active())
	assert.Equal(t, accepted, b.Vector())
}

// The calibrator folds attitude into baseline samples: readings taken at
// different device orientations of one fixed field average cleanly.
func TestCalibratorBaselineOrientationCompensation(t *testing.T) {
	c := NewCalibrator()
	world := geom.Vec3{X: 25, Y: -10, Z: -40}

	require.NoError(t, c.StartBaselineCapture())
	attitudes := []geom.Euler{
		{}, {Roll: 30}, {Pitch: -20}, {Yaw: 90}, {Roll: -15, Pitch: 10, Yaw: 45},
	}
	for i := 0; i < baselineTargetSamples; i++ {
		q := geom.FromEuler(attitudes[i%len(attitudes)])
		device := q.Conjugate().Rotate(world)
		require.NoError(t, c.UpdateBaselineCapture(device, q))
	}

	res, err := c.EndBaselineCapture()
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.InDelta(t, world.Norm(), res.Magnitude, 1e-6)

	// The accepted baseline becomes the Earth reference.
	require.True(t, c.EarthReady())
	got := c.EarthVector()
	assert.InDelta(t, world.X, got.X, 1e-6)
	assert.InDelta(t, world.Y, got.Y, 1e-6)
	assert.InDelta(t, world.Z, got.Z, 1e-6)
}
