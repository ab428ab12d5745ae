package calibration

import (
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/magband/internal/geom"
)

// Stillness gate tuning. Thresholds are in physical units (g, °/s);
// values chosen for a wrist-worn unit resting on a table.
const (
	stillWindow        = 50   // samples in the rolling stillness buffer
	stillAccelStd      = 0.02 // g
	stillGyroStd       = 1.5  // °/s
	biasMinSamples     = 100  // samples of stillness before committing
	biasMinDurationSec = 2.0
)

// BiasCalibrator estimates the gyroscope zero-rate bias from periods of
// stillness. The bias is valid to subtract at any time: it is zero until
// the first calibration episode commits.
type BiasCalibrator struct {
	accelMag []float64 // rolling buffers of vector magnitudes
	gyroMag  []float64

	sum        geom.Vec3 // running mean accumulator while still
	count      int
	stillSince float64 // sample timestamp when stillness began, -1 if moving

	bias       geom.Vec3
	calibrated bool
}

func NewBiasCalibrator() *BiasCalibrator {
	return &BiasCalibrator{stillSince: -1}
}

// Bias returns the current zero-rate bias estimate in °/s.
func (b *BiasCalibrator) Bias() geom.Vec3 { return b.bias }

// Calibrated reports whether a calibration episode has committed. Once
// true it stays true until Reset.
func (b *BiasCalibrator) Calibrated() bool { return b.calibrated }

// Reset reopens the calibrator: bias returns to zero and a new stillness
// episode is required.
func (b *BiasCalibrator) Reset() {
	*b = BiasCalibrator{stillSince: -1}
}

// Update feeds one sample (accel in g, gyro in °/s, t in seconds) and
// reports whether this call committed the bias, which happens exactly once
// per calibration episode.
func (b *BiasCalibrator) Update(accel, gyro geom.Vec3, t float64) bool {
	if b.calibrated {
		return false
	}

	b.accelMag = pushWindow(b.accelMag, accel.Norm(), stillWindow)
	b.gyroMag = pushWindow(b.gyroMag, gyro.Norm(), stillWindow)
	if len(b.accelMag) < stillWindow {
		return false
	}

	if stat.StdDev(b.accelMag, nil) > stillAccelStd || stat.StdDev(b.gyroMag, nil) > stillGyroStd {
		// Motion: discard the partial episode.
		b.sum = geom.Vec3{}
		b.count = 0
		b.stillSince = -1
		return false
	}

	if b.stillSince < 0 {
		b.stillSince = t
	}
	b.sum = b.sum.Add(gyro)
	b.count++

	if b.count >= biasMinSamples && t-b.stillSince >= biasMinDurationSec {
		b.bias = b.sum.Scale(1 / float64(b.count))
		b.calibrated = true
		return true
	}
	return false
}

func pushWindow(w []float64, v float64, max int) []float64 {
	w = append(w, v)
	if len(w) > max {
		w = w[1:]
	}
	return w
}
