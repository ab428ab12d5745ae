// Package calibration holds every magnetic-calibration concern of the
// pipeline: gyroscope zero-rate bias, guided hard/soft-iron fits, the
// background auto iron tracker, the orientation-compensated Earth-field
// baseline, the extended reference-pose baseline, and persistence.
package calibration

import "github.com/relabs-tech/magband/internal/geom"

// meanResidualAlpha is the EWMA weight for the snapshot's mean-residual
// figure. Display-grade; the detector keeps its own smoothing.
const meanResidualAlpha = 0.1

// Calibrator owns all magnetometer calibration state for one device
// session. It is an explicit value passed into the pipeline, not ambient
// state; one goroutine drives it.
type Calibrator struct {
	hardIron       geom.Vec3
	softIron       geom.Vec3
	hardCalibrated bool
	softCalibrated bool
	hardQuality    float64
	softQuality    float64

	auto     *AutoTracker
	earth    *EarthEstimator
	baseline *BaselineCapture

	totalSamples int
	meanResidual float64
}

func NewCalibrator() *Calibrator {
	return &Calibrator{
		softIron: geom.Vec3{X: 1, Y: 1, Z: 1},
		auto:     NewAutoTracker(),
		earth:    NewEarthEstimator(),
		baseline: NewBaselineCapture(),
	}
}

// Observe feeds one uncorrected device-frame magnetometer reading (µT)
// into the background auto tracker.
func (c *Calibrator) Observe(mag geom.Vec3) {
	c.auto.Observe(mag)
	c.totalSamples++
}

// Correct applies the iron correction: the committed guided fit when one
// exists, the auto tracker's fallback when it is ready, the identity
// otherwise.
func (c *Calibrator) Correct(mag geom.Vec3) geom.Vec3 {
	if c.hardCalibrated {
		v := mag.Sub(c.hardIron)
		if c.softCalibrated {
			v = v.Mul(c.softIron)
		}
		return v
	}
	if c.auto.Ready() {
		return mag.Sub(c.auto.Offset()).Mul(c.auto.Scale())
	}
	return mag
}

// IronReady reports whether Correct does better than the identity.
func (c *Calibrator) IronReady() bool {
	return c.hardCalibrated || c.auto.Ready()
}

// ObserveWorld folds one world-frame iron-corrected field vector into the
// auto Earth estimator.
func (c *Calibrator) ObserveWorld(world geom.Vec3) {
	c.earth.Add(world)
}

// EarthReady reports whether an Earth-field reference is available.
func (c *Calibrator) EarthReady() bool {
	return c.baseline.Active() || c.earth.Ready()
}

// EarthVector returns the world-frame Earth-field reference: the
// extended baseline when one has been accepted, otherwise the auto
// estimator's sliding mean.
func (c *Calibrator) EarthVector() geom.Vec3 {
	if c.baseline.Active() {
		return c.baseline.Vector()
	}
	return c.earth.Mean()
}

// ObserveResidual updates the snapshot's smoothed residual magnitude.
func (c *Calibrator) ObserveResidual(magnitude float64) {
	if c.meanResidual == 0 {
		c.meanResidual = magnitude
		return
	}
	c.meanResidual += meanResidualAlpha * (magnitude - c.meanResidual)
}

// RunHardIron fits and commits the hard-iron offset from a guided
// varied-orientation collection (raw device-frame µT). Nothing is
// committed on error. A committed fit invalidates the Earth window: the
// corrected frame changed, so the old world-frame samples are stale.
func (c *Calibrator) RunHardIron(samples []geom.Vec3) (HardIronResult, error) {
	res, err := fitHardIron(samples, HardIronConfig)
	if err != nil {
		return HardIronResult{}, err
	}
	c.hardIron = res.Offset
	c.hardCalibrated = true
	c.hardQuality = res.Quality
	c.earth.Reset()
	return res, nil
}

// RunSoftIron fits and commits the soft-iron scale from a guided
// figure-eight collection (raw device-frame µT). The committed hard-iron
// offset is applied to the samples before fitting.
func (c *Calibrator) RunSoftIron(samples []geom.Vec3) (SoftIronResult, error) {
	if !c.hardCalibrated {
		return SoftIronResult{}, ErrHardIronRequired
	}
	corrected := make([]geom.Vec3, len(samples))
	for i, s := range samples {
		corrected[i] = s.Sub(c.hardIron)
	}
	res, err := fitSoftIron(corrected, SoftIronConfig)
	if err != nil {
		return SoftIronResult{}, err
	}
	c.softIron = res.Scale
	c.softCalibrated = true
	c.softQuality = res.Quality
	c.earth.Reset()
	return res, nil
}

// StartBaselineCapture opens an extended-baseline episode.
func (c *Calibrator) StartBaselineCapture() error {
	return c.baseline.Start()
}

// UpdateBaselineCapture feeds one sample into an open episode. The
// iron-corrected reading is rotated into the world frame with the current
// attitude so the captured reference is orientation-independent.
func (c *Calibrator) UpdateBaselineCapture(mag geom.Vec3, q geom.Quaternion) error {
	return c.baseline.Update(q.Rotate(c.Correct(mag)))
}

// EndBaselineCapture closes the episode and applies the acceptance policy.
func (c *Calibrator) EndBaselineCapture() (BaselineResult, error) {
	return c.baseline.EndCapture()
}

// AbandonBaselineCapture discards an in-flight episode without touching
// Earth-field or iron state.
func (c *Calibrator) AbandonBaselineCapture() {
	c.baseline.Abandon()
}

// ResetBaselineRetries is the user's manual-recapture action after the
// retry budget was exhausted.
func (c *Calibrator) ResetBaselineRetries() {
	c.baseline.ResetRetries()
}

func (c *Calibrator) HardIronCalibrated() bool { return c.hardCalibrated }
func (c *Calibrator) SoftIronCalibrated() bool { return c.softCalibrated }
func (c *Calibrator) HardIronOffset() geom.Vec3 { return c.hardIron }
func (c *Calibrator) SoftIronScale() geom.Vec3  { return c.softIron }

// Quality is the committed guided-fit quality: the weaker of the two
// stages once both ran.
func (c *Calibrator) Quality() float64 {
	switch {
	case c.hardCalibrated && c.softCalibrated:
		if c.softQuality < c.hardQuality {
			return c.softQuality
		}
		return c.hardQuality
	case c.hardCalibrated:
		return c.hardQuality
	default:
		return 0
	}
}

// Clear wipes every calibration product: guided fits, auto extents, Earth
// window, extended baseline. The caller also deletes the persisted record.
func (c *Calibrator) Clear() {
	*c = *NewCalibrator()
}

// Snapshot is the full introspectable calibration state, published to the
// UI once per poll.
type Snapshot struct {
	HardIronCalibrated bool      `json:"hard_iron_calibrated"`
	SoftIronCalibrated bool      `json:"soft_iron_calibrated"`
	HardIronOffset     geom.Vec3 `json:"hard_iron_offset"`
	SoftIronScale      geom.Vec3 `json:"soft_iron_scale"`
	Quality            float64   `json:"quality"`

	AutoProgress   float64   `json:"auto_progress"` // 0–100 %
	AutoRanges     geom.Vec3 `json:"auto_ranges"`
	AutoOffset     geom.Vec3 `json:"auto_offset"`
	AutoScale      geom.Vec3 `json:"auto_scale"`
	DiversityRatio float64   `json:"diversity_ratio"`
	Confidence     float64   `json:"confidence"` // 0–100 %

	EarthReady     bool      `json:"earth_ready"`
	EarthVector    geom.Vec3 `json:"earth_vector"`
	EarthMagnitude float64   `json:"earth_magnitude"`
	EarthSamples   int       `json:"earth_samples"`

	MeanResidual float64 `json:"mean_residual"`
	TotalSamples int     `json:"total_samples"`

	BaselineActive    bool    `json:"baseline_active"`
	BaselineMagnitude float64 `json:"baseline_magnitude"`
	Capturing         bool    `json:"capturing"`
	CaptureCount      int     `json:"capture_count"`
	Retries           int     `json:"retries"`
	MaxRetries        int     `json:"max_retries"`
}

func (c *Calibrator) Snapshot() Snapshot {
	earth := c.EarthVector()
	return Snapshot{
		HardIronCalibrated: c.hardCalibrated,
		SoftIronCalibrated: c.softCalibrated,
		HardIronOffset:     c.hardIron,
		SoftIronScale:      c.softIron,
		Quality:            c.Quality(),

		AutoProgress:   c.auto.Progress(),
		AutoRanges:     c.auto.Ranges(),
		AutoOffset:     c.auto.Offset(),
		AutoScale:      c.auto.Scale(),
		DiversityRatio: c.auto.Diversity(),
		Confidence:     c.auto.Confidence(),

		EarthReady:     c.EarthReady(),
		EarthVector:    earth,
		EarthMagnitude: earth.Norm(),
		EarthSamples:   c.earth.Count(),

		MeanResidual: c.meanResidual,
		TotalSamples: c.totalSamples,

		BaselineActive:    c.baseline.Active(),
		BaselineMagnitude: c.baseline.Magnitude(),
		Capturing:         c.baseline.Capturing(),
		CaptureCount:      c.baseline.CaptureCount(),
		Retries:           c.baseline.Retries(),
		MaxRetries:        c.baseline.MaxRetries(),
	}
}
