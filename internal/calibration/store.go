package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/magband/internal/geom"
)

const recordSchemaVersion = 1

// Record is the persisted calibration state. It carries everything needed
// to rebuild an equivalent calibrator: the guided iron fit, the Earth
// estimate, and the accepted extended baseline.
type Record struct {
	SchemaVersion int    `json:"schema_version"`
	SavedAt       string `json:"saved_at"` // RFC3339

	HardIronCalibrated bool      `json:"hard_iron_calibrated"`
	SoftIronCalibrated bool      `json:"soft_iron_calibrated"`
	HardIronOffset     geom.Vec3 `json:"hard_iron_offset"`
	SoftIronScale      geom.Vec3 `json:"soft_iron_scale"`
	HardQuality        float64   `json:"hard_quality"`
	SoftQuality        float64   `json:"soft_quality"`

	EarthVector  geom.Vec3 `json:"earth_vector"`
	EarthSamples int       `json:"earth_samples"`

	BaselineActive bool      `json:"baseline_active"`
	BaselineVector geom.Vec3 `json:"baseline_vector"`
}

// ToJSON serializes the calibrator's durable state.
func (c *Calibrator) ToJSON() ([]byte, error) {
	rec := Record{
		SchemaVersion: recordSchemaVersion,
		SavedAt:       time.Now().Format(time.RFC3339),

		HardIronCalibrated: c.hardCalibrated,
		SoftIronCalibrated: c.softCalibrated,
		HardIronOffset:     c.hardIron,
		SoftIronScale:      c.softIron,
		HardQuality:        c.hardQuality,
		SoftQuality:        c.softQuality,

		EarthVector:  c.earth.Mean(),
		EarthSamples: c.earth.Count(),

		BaselineActive: c.baseline.Active(),
		BaselineVector: c.baseline.Vector(),
	}
	return json.MarshalIndent(rec, "", "  ")
}

// FromJSON restores a calibrator from a persisted record. A record that
// fails to parse or validate returns a *CorruptRecordError and leaves the
// calibrator untouched; callers log the diagnostic and continue
// uncalibrated.
func (c *Calibrator) FromJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return &CorruptRecordError{Reason: "invalid JSON", Err: err}
	}
	if rec.SchemaVersion != recordSchemaVersion {
		return &CorruptRecordError{
			Reason: fmt.Sprintf("unsupported schema version %d", rec.SchemaVersion),
		}
	}
	if rec.SoftIronCalibrated &&
		(rec.SoftIronScale.X <= 0 || rec.SoftIronScale.Y <= 0 || rec.SoftIronScale.Z <= 0) {
		return &CorruptRecordError{Reason: "soft-iron scale must be strictly positive"}
	}
	if rec.SoftIronCalibrated && !rec.HardIronCalibrated {
		return &CorruptRecordError{Reason: "soft-iron committed without hard-iron"}
	}

	c.hardCalibrated = rec.HardIronCalibrated
	c.softCalibrated = rec.SoftIronCalibrated
	c.hardIron = rec.HardIronOffset
	c.softIron = rec.SoftIronScale
	if !rec.SoftIronCalibrated {
		c.softIron = geom.Vec3{X: 1, Y: 1, Z: 1}
	}
	c.hardQuality = rec.HardQuality
	c.softQuality = rec.SoftQuality

	if rec.EarthSamples > 0 {
		c.earth.Seed(rec.EarthVector, rec.EarthSamples)
	} else {
		c.earth.Reset()
	}
	c.baseline.restore(rec.BaselineVector, rec.BaselineActive)
	return nil
}

// Store persists calibration records as JSON files under a directory,
// one per key (device/session identifier).
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+"_magband_calibration.json")
}

// Save writes the calibrator's record for key.
func (s *Store) Save(key string, c *Calibrator) error {
	data, err := c.ToJSON()
	if err != nil {
		return fmt.Errorf("store: marshal calibration record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("store: create directory: %w", err)
	}
	if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
		return fmt.Errorf("store: write calibration record: %w", err)
	}
	return nil
}

// Load restores the record for key into c. A missing file is reported via
// os.IsNotExist; a corrupt one via *CorruptRecordError.
func (s *Store) Load(key string, c *Calibrator) error {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return err
	}
	return c.FromJSON(data)
}

// Delete removes the persisted record for key, if any. Paired with the
// user's clear-calibration action.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
