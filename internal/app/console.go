package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/magband/internal/ahrs"
	"github.com/relabs-tech/magband/internal/calibration"
	"github.com/relabs-tech/magband/internal/config"
	"github.com/relabs-tech/magband/internal/pipeline"
)

// RunConsole prints the band's telemetry to stdout: one line per
// decorated sample plus orientation and calibration-state lines.
func RunConsole() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	sampleToken := client.Subscribe(cfg.TopicSample, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s pipeline.DecoratedSample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: sample unmarshal error: %v", err)
			return
		}

		line := fmt.Sprintf("[MAG ] stage=%-16s |raw|=%6.1f", s.Stage, s.Physical.Mag.Norm())
		if s.Calibrated != nil {
			line += fmt.Sprintf("  |cal|=%6.1f", s.Calibrated.Norm())
		}
		if s.Detection != nil {
			line += fmt.Sprintf("  res=%6.2f  %s (%.0f%%)",
				s.ResidualMagnitude, s.Detection.Status, 100*s.Detection.Confidence)
		}
		fmt.Println(line)

		if s.Event != "" {
			fmt.Printf("[STAGE] -> %s\n", s.Event)
		}
	})
	sampleToken.Wait()
	if sampleToken.Error() != nil {
		return sampleToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicSample)

	poseToken := client.Subscribe(cfg.TopicOrientation, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s ahrs.State
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: orientation unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[POSE]  ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f\n",
			s.Euler.Roll, s.Euler.Pitch, s.Euler.Yaw,
		)
	})
	poseToken.Wait()
	if poseToken.Error() != nil {
		return poseToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicOrientation)

	stateToken := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var snap calibration.Snapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			log.Printf("console: calibration state unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"[CAL ]  hard=%t soft=%t quality=%.2f auto=%.0f%% earth=%t |B|=%.1f residual=%.2f n=%d\n",
			snap.HardIronCalibrated, snap.SoftIronCalibrated, snap.Quality,
			snap.AutoProgress, snap.EarthReady, snap.EarthMagnitude,
			snap.MeanResidual, snap.TotalSamples,
		)
	})
	stateToken.Wait()
	if stateToken.Error() != nil {
		return stateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicState)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
