package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/magband/internal/geom"
)

func TestKalmanSeedsFromFirstMeasurement(t *testing.T) {
	k := NewKalman(0.05, 2.0)
	assert.Equal(t, 42.0, k.Update(42))
}

func TestKalmanConvergesToConstant(t *testing.T) {
	k := NewKalman(0.05, 2.0)
	k.Update(0)

	var got float64
	for i := 0; i < 500; i++ {
		got = k.Update(10)
	}
	assert.InDelta(t, 10, got, 0.01)
}

func TestKalmanAttenuatesNoise(t *testing.T) {
	k := NewKalman(0.05, 2.0)
	k.Update(10)

	// Alternating ±5 noise around 10: the estimate should stay much
	// closer to the mean than the raw measurements do.
	worst := 0.0
	for i := 0; i < 200; i++ {
		m := 10.0 + 5.0*float64(1-2*(i%2))
		got := k.Update(m)
		if dev := math.Abs(got - 10); dev > worst && i > 20 {
			worst = dev
		}
	}
	assert.Less(t, worst, 2.0)
}

func TestKalmanReset(t *testing.T) {
	k := NewKalman(0.05, 2.0)
	k.Update(100)
	k.Update(100)

	k.Reset()
	assert.Equal(t, 7.0, k.Update(7), "first measurement after reset reseeds")
}

func TestVec3IndependentAxes(t *testing.T) {
	f := NewVec3(0.05, 2.0)
	f.Update(geom.Vec3{X: 1, Y: 2, Z: 3})

	var got geom.Vec3
	for i := 0; i < 500; i++ {
		got = f.Update(geom.Vec3{X: 10, Y: -20, Z: 0.5})
	}
	assert.InDelta(t, 10, got.X, 0.01)
	assert.InDelta(t, -20, got.Y, 0.01)
	assert.InDelta(t, 0.5, got.Z, 0.01)
}
