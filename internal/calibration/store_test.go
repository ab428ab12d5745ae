package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/magband/internal/geom"
)

func calibratedFixture(t *testing.T) *Calibrator {
	t.Helper()
	c := NewCalibrator()

	pts := ellipsoidPoints(geom.Vec3{X: 10, Y: -5, Z: 3}, geom.Vec3{X: 80, Y: 50, Z: 40}, 1000)
	_, err := c.RunHardIron(pts)
	require.NoError(t, err)
	_, err = c.RunSoftIron(pts)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		c.ObserveWorld(geom.Vec3{X: 20, Z: -43})
	}
	return c
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	c := calibratedFixture(t)
	require.NoError(t, store.Save("band1", c))

	restored := NewCalibrator()
	require.NoError(t, store.Load("band1", restored))

	assert.Equal(t, c.HardIronOffset(), restored.HardIronOffset())
	assert.Equal(t, c.SoftIronScale(), restored.SoftIronScale())
	assert.Equal(t, c.Quality(), restored.Quality())
	assert.True(t, restored.HardIronCalibrated())
	assert.True(t, restored.SoftIronCalibrated())

	require.True(t, restored.EarthReady())
	want := c.EarthVector()
	got := restored.EarthVector()
	assert.InDelta(t, want.X, got.X, 1e-9)
	assert.InDelta(t, want.Y, got.Y, 1e-9)
	assert.InDelta(t, want.Z, got.Z, 1e-9)
}

func TestStoreRoundTripWithBaseline(t *testing.T) {
	store := NewStore(t.TempDir())
	c := NewCalibrator()
	runCapture(t, c.baseline, geom.Vec3{X: 20, Z: -43})
	require.NoError(t, store.Save("band1", c))

	restored := NewCalibrator()
	require.NoError(t, store.Load("band1", restored))
	assert.True(t, restored.baseline.Active())
	assert.Equal(t, c.baseline.Vector(), restored.baseline.Vector())
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	err := store.Load("nope", NewCalibrator())
	assert.True(t, os.IsNotExist(err))
}

func TestStoreLoadCorruptJSON(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "band1_magband_calibration.json"), []byte("{nope"), 0o644))

	c := NewCalibrator()
	err := store.Load("band1", c)
	var corrupt *CorruptRecordError
	require.ErrorAs(t, err, &corrupt)

	// The calibrator stays untouched.
	assert.False(t, c.HardIronCalibrated())
}

func TestFromJSONValidation(t *testing.T) {
	t.Run("wrong schema version", func(t *testing.T) {
		err := NewCalibrator().FromJSON([]byte(`{"schema_version": 99}`))
		var corrupt *CorruptRecordError
		assert.ErrorAs(t, err, &corrupt)
	})

	t.Run("non-positive soft-iron scale", func(t *testing.T) {
		err := NewCalibrator().FromJSON([]byte(`{
			"schema_version": 1,
			"hard_iron_calibrated": true,
			"soft_iron_calibrated": true,
			"soft_iron_scale": {"x": 0, "y": 1, "z": 1}
		}`))
		var corrupt *CorruptRecordError
		assert.ErrorAs(t, err, &corrupt)
	})

	t.Run("soft-iron without hard-iron", func(t *testing.T) {
		err := NewCalibrator().FromJSON([]byte(`{
			"schema_version": 1,
			"soft_iron_calibrated": true,
			"soft_iron_scale": {"x": 1, "y": 1, "z": 1}
		}`))
		var corrupt *CorruptRecordError
		assert.ErrorAs(t, err, &corrupt)
	})

	t.Run("hard-iron only keeps identity scale", func(t *testing.T) {
		c := NewCalibrator()
		err := c.FromJSON([]byte(`{
			"schema_version": 1,
			"hard_iron_calibrated": true,
			"hard_iron_offset": {"x": 12, "y": -7, "z": 4}
		}`))
		require.NoError(t, err)
		assert.True(t, c.HardIronCalibrated())
		assert.Equal(t, geom.Vec3{X: 1, Y: 1, Z: 1}, c.SoftIronScale())
	})
}

func TestStoreDeleteTolerant(t *testing.T) {
	store := NewStore(t.TempDir())
	assert.NoError(t, store.Delete("never-saved"))
}

func TestStoreDeleteRemovesRecord(t *testing.T) {
	store := NewStore(t.TempDir())
	c := calibratedFixture(t)
	require.NoError(t, store.Save("band1", c))
	require.NoError(t, store.Delete("band1"))

	err := store.Load("band1", NewCalibrator())
	assert.True(t, os.IsNotExist(err))
}

func TestClearWipesEverything(t *testing.T) {
	c := calibratedFixture(t)
	c.Clear()

	assert.False(t, c.HardIronCalibrated())
	assert.False(t, c.SoftIronCalibrated())
	assert.False(t, c.EarthReady())
	assert.Equal(t, geom.Vec3{X: 1, Y: 1, Z: 1}, c.SoftIronScale())
	assert.Equal(t, 0, c.Snapshot().TotalSamples)
}
