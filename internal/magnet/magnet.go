// Package magnet isolates the residual field produced by the finger
// magnets and classifies their presence.
package magnet

import "github.com/relabs-tech/magband/internal/geom"

// Residual subtracts the Earth-field reference from an iron-corrected
// device-frame reading. earthWorld is the world-frame estimate; it is
// rotated into the device frame with the inverse of the current attitude.
// What remains is attributable to nearby magnets.
func Residual(corrected, earthWorld geom.Vec3, q geom.Quaternion) geom.Vec3 {
	return corrected.Sub(q.Conjugate().Rotate(earthWorld))
}

// Status is the four-level magnet presence classification.
type Status string

const (
	StatusNone      Status = "none"
	StatusPossible  Status = "possible"
	StatusLikely    Status = "likely"
	StatusConfirmed Status = "confirmed"
)

// Residual-magnitude bucket boundaries in µT. A bare wrist sits well
// under the first boundary once the Earth baseline has settled.
const (
	possibleThresholdUT  = 5.0
	likelyThresholdUT    = 15.0
	confirmedThresholdUT = 30.0

	// confirmedSpanUT maps magnitudes above the confirmed threshold onto
	// the top bucket's confidence ramp.
	confirmedSpanUT = 30.0

	// detectAlpha smooths the magnitude before thresholding so a
	// single-sample dropout cannot flip the status.
	detectAlpha = 0.15
)

// Detection is the per-sample classifier output. Transient: recomputed
// continuously, never persisted.
type Detection struct {
	Status      Status  `json:"status"`
	Confidence  float64 `json:"confidence"` // 0..1 within the bucket
	AvgResidual float64 `json:"avg_residual"`
}

// Detector buckets the smoothed residual magnitude into the four presence
// states. Smoothing happens before thresholding, which is what makes the
// transitions hysteretic.
type Detector struct {
	avg    float64
	primed bool
}

func NewDetector() *Detector {
	return &Detector{}
}

// Reset clears the smoothed history.
func (d *Detector) Reset() {
	*d = Detector{}
}

// Update folds one residual magnitude in and returns the classification.
func (d *Detector) Update(magnitude float64) Detection {
	if !d.primed {
		d.avg = magnitude
		d.primed = true
	} else {
		d.avg += detectAlpha * (magnitude - d.avg)
	}
	return classify(d.avg)
}

// classify maps a smoothed magnitude to a status and an in-bucket
// confidence: 0 at the bucket floor, approaching 1 at its ceiling, so
// confidence is monotonic in the smoothed magnitude within each bucket.
func classify(avg float64) Detection {
	d := Detection{AvgResidual: avg}
	switch {
	case avg < possibleThresholdUT:
		d.Status = StatusNone
		d.Confidence = ramp(avg, 0, possibleThresholdUT)
	case avg < likelyThresholdUT:
		d.Status = StatusPossible
		d.Confidence = ramp(avg, possibleThresholdUT, likelyThresholdUT)
	case avg < confirmedThresholdUT:
		d.Status = StatusLikely
		d.Confidence = ramp(avg, likelyThresholdUT, confirmedThresholdUT)
	default:
		d.Status = StatusConfirmed
		d.Confidence = ramp(avg, confirmedThresholdUT, confirmedThresholdUT+confirmedSpanUT)
	}
	return d
}

func ramp(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	c := (v - lo) / (hi - lo)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
