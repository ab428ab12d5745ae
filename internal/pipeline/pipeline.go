// Package pipeline wires the per-sample telemetry chain: unit conversion,
// orientation fusion, gyro-bias calibration, iron correction, Earth-field
// baseline, residual extraction, magnet detection and smoothing.
//
// The pipeline is synchronous and single-writer: one call processes one
// raw sample to completion before the next is accepted. It is an explicit
// value owned by the caller, one per device session.
package pipeline

import (
	"github.com/relabs-tech/magband/internal/ahrs"
	"github.com/relabs-tech/magband/internal/calibration"
	"github.com/relabs-tech/magband/internal/filter"
	"github.com/relabs-tech/magband/internal/geom"
	"github.com/relabs-tech/magband/internal/imu"
	"github.com/relabs-tech/magband/internal/magnet"
	"github.com/relabs-tech/magband/internal/units"
)

// Stage is the pipeline readiness state. Transitions only move forward
// during a session; an explicit Reset starts over.
type Stage string

const (
	StageUncalibrated    Stage = "UNCALIBRATED"
	StageGyroCalibrating Stage = "GYRO_CALIBRATING"
	StageIronPending     Stage = "IRON_PENDING"
	StageEarthBuilding   Stage = "EARTH_BUILDING"
	StageReady           Stage = "READY"
)

var stageOrder = map[Stage]int{
	StageUncalibrated:    0,
	StageGyroCalibrating: 1,
	StageIronPending:     2,
	StageEarthBuilding:   3,
	StageReady:           4,
}

// Smoothing noise parameters for the µT output channels.
const (
	smoothProcessNoise     = 0.05
	smoothMeasurementNoise = 2.0
)

// maxSampleGapSec caps the integration interval when samples were lost;
// integrating a long gap at the last known rate would slew the attitude.
const maxSampleGapSec = 0.25

// DecoratedSample is the public per-sample output. Raw and physical
// fields are always present; the calibrated, residual, detection and
// filtered groups appear once their prerequisite stage is satisfied.
type DecoratedSample struct {
	Raw      imu.RawSample      `json:"raw"`
	Physical imu.PhysicalSample `json:"physical"`

	Stage Stage `json:"stage"`
	// Event carries the stage just entered when this sample caused a
	// transition, empty otherwise. Replaces readiness callbacks: callers
	// poll it once per sample.
	Event Stage `json:"event,omitempty"`

	Orientation ahrs.State `json:"orientation"`

	Calibrated        *geom.Vec3        `json:"calibrated_ut,omitempty"`
	Residual          *geom.Vec3        `json:"residual_ut,omitempty"`
	ResidualMagnitude float64           `json:"residual_magnitude,omitempty"`
	Detection         *magnet.Detection `json:"detection,omitempty"`

	FilteredCalibrated *geom.Vec3 `json:"filtered_ut,omitempty"`
	FilteredResidual   *geom.Vec3 `json:"filtered_residual_ut,omitempty"`
}

// Pipeline processes raw samples into decorated samples. Not safe for
// concurrent use; the owning goroutine is the single writer.
type Pipeline struct {
	estimator *ahrs.Estimator
	bias      *calibration.BiasCalibrator
	cal       *calibration.Calibrator
	detector  *magnet.Detector

	calibratedFilter *filter.Vec3
	residualFilter   *filter.Vec3

	stage   Stage
	lastT   float64
	haveT   bool
}

// New builds a pipeline around an existing calibrator, which may already
// carry restored persisted state.
func New(cal *calibration.Calibrator) *Pipeline {
	return &Pipeline{
		estimator:        ahrs.NewEstimator(),
		bias:             calibration.NewBiasCalibrator(),
		cal:              cal,
		detector:         magnet.NewDetector(),
		calibratedFilter: filter.NewVec3(smoothProcessNoise, smoothMeasurementNoise),
		residualFilter:   filter.NewVec3(smoothProcessNoise, smoothMeasurementNoise),
		stage:            StageUncalibrated,
	}
}

// Calibrator exposes the calibrator for out-of-band commands (guided
// runs, baseline episodes, persistence). Same single-writer rule applies.
func (p *Pipeline) Calibrator() *calibration.Calibrator { return p.cal }

// Stage returns the current readiness state.
func (p *Pipeline) Stage() Stage { return p.stage }

// Reset clears orientation, gyro-bias, detection and smoothing state but
// preserves iron and Earth calibration (persisted or not). The stage
// machine starts over.
func (p *Pipeline) Reset() {
	p.estimator.Reset()
	p.bias.Reset()
	p.detector.Reset()
	p.calibratedFilter.Reset()
	p.residualFilter.Reset()
	p.stage = StageUncalibrated
	p.haveT = false
}

// ProcessSample runs one raw sample through the full chain and returns
// the decorated result. Best-effort: every stage contributes what it can,
// nothing blocks on readiness.
func (p *Pipeline) ProcessSample(raw imu.RawSample) DecoratedSample {
	phys := units.Convert(raw)

	dt := 0.0
	if p.haveT {
		dt = phys.T - p.lastT
		if dt < 0 || dt > maxSampleGapSec {
			dt = 0
		}
	}
	p.lastT = phys.T
	p.haveT = true

	p.bias.Update(phys.Accel, phys.Gyro, phys.T)
	gyro := phys.Gyro.Sub(p.bias.Bias())
	state := p.estimator.Update(phys.Accel, gyro, dt)

	out := DecoratedSample{
		Raw:         raw,
		Physical:    phys,
		Orientation: state,
	}

	p.cal.Observe(phys.Mag)

	if p.bias.Calibrated() && p.cal.IronReady() {
		corrected := p.cal.Correct(phys.Mag)
		out.Calibrated = &corrected
		out.FilteredCalibrated = vecPtr(p.calibratedFilter.Update(corrected))

		// The Earth estimator only runs once orientation is trustworthy:
		// a world-frame fold with a drifting attitude would poison the
		// baseline.
		p.cal.ObserveWorld(state.Orientation.Rotate(corrected))

		if p.cal.EarthReady() {
			residual := magnet.Residual(corrected, p.cal.EarthVector(), state.Orientation)
			mag := residual.Norm()
			p.cal.ObserveResidual(mag)

			det := p.detector.Update(mag)
			out.Residual = &residual
			out.ResidualMagnitude = mag
			out.Detection = &det
			out.FilteredResidual = vecPtr(p.residualFilter.Update(residual))
		}
	}

	out.Stage = p.advanceStage()
	if out.Stage != p.stage {
		out.Event = out.Stage
		p.stage = out.Stage
	}
	return out
}

// advanceStage computes the highest stage the current state supports and
// moves forward only; it never regresses within a session.
func (p *Pipeline) advanceStage() Stage {
	candidate := StageGyroCalibrating
	if p.bias.Calibrated() {
		candidate = StageIronPending
	}
	if p.bias.Calibrated() && p.cal.IronReady() {
		candidate = StageEarthBuilding
	}
	if p.bias.Calibrated() && p.cal.IronReady() && p.cal.EarthReady() {
		candidate = StageReady
	}
	if stageOrder[candidate] > stageOrder[p.stage] {
		return candidate
	}
	return p.stage
}

func vecPtr(v geom.Vec3) *geom.Vec3 { return &v }
