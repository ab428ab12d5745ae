package calibration

import "github.com/relabs-tech/magband/internal/geom"

// Extended-baseline episode parameters: 3 s of samples at the unit's
// 26 Hz low-power rate, captured while the hand is held in the reference
// pose (fingers extended, magnets as far from the sensor as they get).
const (
	baselineTargetSamples = 78
	baselineRateHz        = 26
	baselineMaxRetries    = 3

	// Magnitude envelope in µT. Below the excellent ceiling the magnets
	// barely register; between the two ceilings the capture is usable but
	// flagged; above the acceptable ceiling the magnets are contaminating
	// the reference and the capture is rejected.
	baselineExcellentCeilingUT  = 60.0
	baselineAcceptableCeilingUT = 80.0
)

// Baseline quality labels.
const (
	BaselineQualityExcellent  = "excellent"
	BaselineQualityAcceptable = "acceptable"
)

// BaselineResult is the outcome of EndCapture.
type BaselineResult struct {
	Success    bool      `json:"success"`
	Vector     geom.Vec3 `json:"vector,omitempty"`
	Magnitude  float64   `json:"magnitude"`
	Quality    string    `json:"quality,omitempty"`
	Warning    string    `json:"warning,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Retries    int       `json:"retries"`
}

// BaselineCapture runs the explicitly triggered Earth-field reference
// capture. It observes iron-corrected samples while the continuous
// pipeline keeps running; it never locks the stream.
type BaselineCapture struct {
	capturing bool
	sum       geom.Vec3
	count     int

	vector    geom.Vec3
	magnitude float64
	active    bool // an accepted baseline is in effect

	retries int
	failed  bool
}

func NewBaselineCapture() *BaselineCapture {
	return &BaselineCapture{}
}

func (b *BaselineCapture) Capturing() bool     { return b.capturing }
func (b *BaselineCapture) CaptureCount() int   { return b.count }
func (b *BaselineCapture) Active() bool        { return b.active }
func (b *BaselineCapture) Vector() geom.Vec3   { return b.vector }
func (b *BaselineCapture) Magnitude() float64  { return b.magnitude }
func (b *BaselineCapture) Retries() int        { return b.retries }
func (b *BaselineCapture) MaxRetries() int     { return baselineMaxRetries }
func (b *BaselineCapture) Failed() bool        { return b.failed }

// Start opens a capture episode. A second Start while one is collecting
// is rejected, and once the retry budget is exhausted the episode stays
// locked until ResetRetries (the user's manual-recapture action).
func (b *BaselineCapture) Start() error {
	if b.capturing {
		return ErrCaptureActive
	}
	if b.failed {
		return ErrRetriesExhausted
	}
	b.capturing = true
	b.sum = geom.Vec3{}
	b.count = 0
	return nil
}

// Update folds one iron-corrected device-frame sample (µT) into the
// episode. Samples beyond the target count are ignored.
func (b *BaselineCapture) Update(mag geom.Vec3) error {
	if !b.capturing {
		return ErrCaptureInactive
	}
	if b.count >= baselineTargetSamples {
		return nil
	}
	b.sum = b.sum.Add(mag)
	b.count++
	return nil
}

// Abandon discards an in-flight episode without touching the accepted
// baseline or the retry counter.
func (b *BaselineCapture) Abandon() {
	b.capturing = false
	b.sum = geom.Vec3{}
	b.count = 0
}

// ResetRetries clears the failed state so a manual recapture can start.
func (b *BaselineCapture) ResetRetries() {
	b.retries = 0
	b.failed = false
}

// EndCapture closes the episode and applies the acceptance policy. A
// shortfall against the target count is a hard failure, not a retry.
func (b *BaselineCapture) EndCapture() (BaselineResult, error) {
	if !b.capturing {
		return BaselineResult{}, ErrCaptureInactive
	}
	b.capturing = false

	if b.count < baselineTargetSamples {
		err := &InsufficientSamplesError{
			Step: "extended-baseline", Got: b.count, Required: baselineTargetSamples,
		}
		b.sum = geom.Vec3{}
		b.count = 0
		return BaselineResult{Success: false, Reason: err.Error(), Retries: b.retries}, err
	}

	mean := b.sum.Scale(1 / float64(b.count))
	mag := mean.Norm()
	b.sum = geom.Vec3{}
	b.count = 0

	switch {
	case mag < baselineExcellentCeilingUT:
		b.vector = mean
		b.magnitude = mag
		b.active = true
		b.retries = 0
		return BaselineResult{
			Success: true, Vector: mean, Magnitude: mag,
			Quality: BaselineQualityExcellent,
		}, nil

	case mag <= baselineAcceptableCeilingUT:
		b.vector = mean
		b.magnitude = mag
		b.active = true
		b.retries = 0
		return BaselineResult{
			Success: true, Vector: mean, Magnitude: mag,
			Quality: BaselineQualityAcceptable,
			Warning: "baseline magnitude is high; the reference pose may be imperfect",
		}, nil

	default:
		b.retries++
		res := BaselineResult{
			Success:    false,
			Magnitude:  mag,
			Reason:     "baseline magnitude above acceptable ceiling",
			Suggestion: "extend fingers fully; the magnets may be too close to the sensor",
			Retries:    b.retries,
		}
		if b.retries >= baselineMaxRetries {
			b.failed = true
			res.Reason = "baseline magnitude above acceptable ceiling; retries exhausted"
			res.Suggestion = "recapture manually after repositioning the magnets"
		}
		return res, nil
	}
}

// restore rehydrates an accepted baseline from a persisted record.
func (b *BaselineCapture) restore(vector geom.Vec3, active bool) {
	b.vector = vector
	b.magnitude = vector.Norm()
	b.active = active
}
