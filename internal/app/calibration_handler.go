// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/magband/internal/calibration"
	"github.com/relabs-tech/magband/internal/geom"
	"github.com/relabs-tech/magband/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// sessionMu enforces one wizard session at a time: concurrent calibration
// runs are rejected, never interleaved.
var sessionMu sync.Mutex

// CalibrationSession drives the guided wizard over one websocket
// connection: hard-iron rotation, soft-iron figure-eight, then the
// extended-baseline reference pose.
type CalibrationSession struct {
	prod  *Producer
	conn  *websocket.Conn
	phase string
}

// WSMessage is what the wizard UI sends.
type WSMessage struct {
	Action string `json:"action"` // start, next, recapture, clear, cancel
}

// WSResponse is what the session sends back.
type WSResponse struct {
	Type     string      `json:"type"` // phase, progress, result, state, complete, error
	Phase    string      `json:"phase,omitempty"`
	Progress float64     `json:"progress,omitempty"`
	Message  string      `json:"message,omitempty"`
	Result   interface{} `json:"result,omitempty"`
	State    interface{} `json:"state,omitempty"`
}

// HandleCalibrationWS handles the WebSocket connection for calibration.
func HandleCalibrationWS(prod *Producer, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if !sessionMu.TryLock() {
		conn.WriteJSON(WSResponse{Type: "error", Message: "a calibration session is already running"})
		return
	}
	defer sessionMu.Unlock()

	session := &CalibrationSession{prod: prod, conn: conn}

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("calibration: websocket read error: %v", err)
			return
		}

		switch msg.Action {
		case "start":
			session.phase = ""
			session.sendState()

		case "next":
			if err := session.runNextStep(); err != nil {
				session.sendError(err.Error())
			}

		case "recapture":
			session.prod.Do(func(p *pipeline.Pipeline) {
				p.Calibrator().ResetBaselineRetries()
			})
			session.phase = "soft_iron" // replay the baseline step next
			session.sendState()

		case "clear":
			if err := session.prod.ClearCalibration(); err != nil {
				session.sendError(err.Error())
				break
			}
			session.phase = ""
			session.sendState()

		case "cancel":
			log.Printf("calibration: cancelled by user")
			session.prod.Do(func(p *pipeline.Pipeline) {
				p.Calibrator().AbandonBaselineCapture()
			})
			return
		}
	}
}

func (s *CalibrationSession) runNextStep() error {
	switch s.phase {
	case "":
		s.phase = "hard_iron"
		return s.runHardIron()
	case "hard_iron":
		s.phase = "soft_iron"
		return s.runSoftIron()
	case "soft_iron":
		s.phase = "baseline"
		return s.runBaseline()
	case "baseline":
		return s.complete()
	}
	return nil
}

func (s *CalibrationSession) runHardIron() error {
	s.sendPhase("hard_iron")
	cfg := calibration.HardIronConfig

	samples, err := s.collectMag(cfg.SampleCount, cfg.SampleRateHz)
	if err != nil {
		return err
	}

	var res calibration.HardIronResult
	var runErr error
	s.prod.Do(func(p *pipeline.Pipeline) {
		res, runErr = p.Calibrator().RunHardIron(samples)
	})
	if runErr != nil {
		return runErr
	}

	log.Printf("calibration: hard-iron offset X=%.2f Y=%.2f Z=%.2f quality=%.2f",
		res.Offset.X, res.Offset.Y, res.Offset.Z, res.Quality)
	if res.Quality < cfg.QualityGood {
		s.sendResult(res, "quality is degraded; consider re-running with wider rotations")
	} else {
		s.sendResult(res, "")
	}
	s.sendState()
	return nil
}

func (s *CalibrationSession) runSoftIron() error {
	s.sendPhase("soft_iron")
	cfg := calibration.SoftIronConfig

	samples, err := s.collectMag(cfg.SampleCount, cfg.SampleRateHz)
	if err != nil {
		return err
	}

	var res calibration.SoftIronResult
	var runErr error
	s.prod.Do(func(p *pipeline.Pipeline) {
		res, runErr = p.Calibrator().RunSoftIron(samples)
	})
	if runErr != nil {
		return runErr
	}

	log.Printf("calibration: soft-iron scale X=%.3f Y=%.3f Z=%.3f quality=%.2f",
		res.Scale.X, res.Scale.Y, res.Scale.Z, res.Quality)
	if res.Quality < cfg.QualityGood {
		s.sendResult(res, "quality is degraded; consider re-running the figure-eight")
	} else {
		s.sendResult(res, "")
	}
	s.sendState()
	return nil
}

func (s *CalibrationSession) runBaseline() error {
	s.sendPhase("baseline")

	var startErr error
	s.prod.Do(func(p *pipeline.Pipeline) {
		startErr = p.Calibrator().StartBaselineCapture()
	})
	if startErr != nil {
		return startErr
	}

	ch, cancel := s.prod.Subscribe()
	defer cancel()

	const captureTarget = 78
	deadline := time.After(captureDeadline(captureTarget, 26))
	fed := 0
	for fed < captureTarget {
		select {
		case out, ok := <-ch:
			if !ok {
				return errors.New("calibration: sample stream closed during baseline capture")
			}
			mag := out.Physical.Mag
			q := out.Orientation.Orientation
			s.prod.Do(func(p *pipeline.Pipeline) {
				p.Calibrator().UpdateBaselineCapture(mag, q)
			})
			fed++
			if fed%13 == 0 {
				s.sendProgress(100 * float64(fed) / captureTarget)
			}
		case <-deadline:
			s.prod.Do(func(p *pipeline.Pipeline) {
				p.Calibrator().AbandonBaselineCapture()
			})
			return fmt.Errorf("calibration: baseline capture timed out after %d of %d samples", fed, captureTarget)
		}
	}

	var res calibration.BaselineResult
	var endErr error
	s.prod.Do(func(p *pipeline.Pipeline) {
		res, endErr = p.Calibrator().EndBaselineCapture()
	})
	if endErr != nil {
		return endErr
	}

	if !res.Success {
		log.Printf("calibration: baseline rejected (|B|=%.1f µT, retry %d): %s",
			res.Magnitude, res.Retries, res.Reason)
		s.sendResult(res, res.Suggestion)
		s.sendState()
		// Stay in the soft_iron phase so "next" re-runs the baseline,
		// until the calibrator reports the retry budget spent.
		s.phase = "soft_iron"
		return nil
	}

	log.Printf("calibration: baseline accepted |B|=%.1f µT (%s)", res.Magnitude, res.Quality)
	s.sendResult(res, res.Warning)
	s.sendState()
	return nil
}

func (s *CalibrationSession) complete() error {
	if err := s.prod.SaveCalibration(); err != nil {
		return err
	}
	log.Printf("calibration: record saved")
	s.conn.WriteJSON(WSResponse{Type: "complete", State: s.prod.Snapshot()})
	return nil
}

// collectMag observes count uncorrected magnetometer samples (µT, device
// frame) from the live stream. The continuous pipeline keeps running
// underneath; collection is an observer, never a lock. A shortfall after
// the rate-derived expected duration is a failure, not a retry.
func (s *CalibrationSession) collectMag(count, rateHz int) ([]geom.Vec3, error) {
	ch, cancel := s.prod.Subscribe()
	defer cancel()

	samples := make([]geom.Vec3, 0, count)
	deadline := time.After(captureDeadline(count, rateHz))
	for len(samples) < count {
		select {
		case out, ok := <-ch:
			if !ok {
				return nil, errors.New("calibration: sample stream closed during collection")
			}
			samples = append(samples, out.Physical.Mag)
			if len(samples)%(count/50+1) == 0 {
				s.sendProgress(100 * float64(len(samples)) / float64(count))
			}
		case <-deadline:
			return nil, fmt.Errorf("calibration: collected %d of %d samples before the expected duration elapsed",
				len(samples), count)
		}
	}
	s.sendProgress(100)
	return samples, nil
}

// captureDeadline allows 50 % slack over the nominal collection time.
func captureDeadline(count, rateHz int) time.Duration {
	nominal := time.Duration(count) * time.Second / time.Duration(rateHz)
	return nominal + nominal/2 + 2*time.Second
}

func (s *CalibrationSession) sendPhase(phase string) {
	s.conn.WriteJSON(WSResponse{Type: "phase", Phase: phase})
}

func (s *CalibrationSession) sendProgress(progress float64) {
	s.conn.WriteJSON(WSResponse{Type: "progress", Phase: s.phase, Progress: progress})
}

func (s *CalibrationSession) sendResult(result interface{}, message string) {
	s.conn.WriteJSON(WSResponse{Type: "result", Phase: s.phase, Result: result, Message: message})
}

func (s *CalibrationSession) sendState() {
	s.conn.WriteJSON(WSResponse{Type: "state", State: s.prod.Snapshot()})
}

func (s *CalibrationSession) sendError(message string) {
	s.conn.WriteJSON(WSResponse{Type: "error", Phase: s.phase, Message: message})
}
