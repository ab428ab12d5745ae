package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureActive is returned when a calibration episode is started
	// while another one is still collecting. Episodes are single-writer;
	// concurrent runs are rejected, never interleaved.
	ErrCaptureActive = errors.New("calibration: capture already in progress")

	// ErrCaptureInactive is returned for baseline updates outside an episode.
	ErrCaptureInactive = errors.New("calibration: no capture in progress")

	// ErrRetriesExhausted is returned by StartBaselineCapture after the
	// bounded automatic retry budget is spent; the user must trigger a
	// manual recapture (ResetBaselineRetries) first.
	ErrRetriesExhausted = errors.New("calibration: baseline retries exhausted, manual recapture required")

	// ErrHardIronRequired is returned by the soft-iron fit when no
	// hard-iron offset has been committed yet.
	ErrHardIronRequired = errors.New("calibration: soft-iron fit requires a committed hard-iron offset")
)

// InsufficientSamplesError reports a calibration run that received fewer
// samples than the step's configured minimum. No partial state is
// committed when this is returned.
type InsufficientSamplesError struct {
	Step     string
	Got      int
	Required int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("calibration: %s needs at least %d samples, got %d", e.Step, e.Required, e.Got)
}

// CorruptRecordError reports a persisted calibration record that failed to
// parse or validate. Callers fall back to an uncalibrated state.
type CorruptRecordError struct {
	Reason string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calibration: corrupt record (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("calibration: corrupt record (%s)", e.Reason)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }
