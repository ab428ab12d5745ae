package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/magband/internal/calibration"
	"github.com/relabs-tech/magband/internal/config"
	"github.com/relabs-tech/magband/internal/imu"
	"github.com/relabs-tech/magband/internal/pipeline"
	"github.com/relabs-tech/magband/internal/sensors"
)

// subscriber channel depth; slow consumers drop samples rather than
// stalling the real-time loop.
const subscriberBuffer = 64

// Producer owns the device session: the sample source, the pipeline, and
// the calibration store. The producer goroutine is the pipeline's single
// writer; everything else reaches it through Subscribe (read-only sample
// fan-out) or Do (commands executed between samples).
type Producer struct {
	pipe  *pipeline.Pipeline
	store *calibration.Store
	key   string

	mu      sync.Mutex
	subs    map[int]chan pipeline.DecoratedSample
	nextSub int

	cmds chan func(*pipeline.Pipeline)
}

func newProducer(pipe *pipeline.Pipeline, store *calibration.Store, key string) *Producer {
	return &Producer{
		pipe:  pipe,
		store: store,
		key:   key,
		subs:  make(map[int]chan pipeline.DecoratedSample),
		cmds:  make(chan func(*pipeline.Pipeline), 16),
	}
}

// Subscribe registers a decorated-sample observer. The returned cancel
// function must be called when done.
func (p *Producer) Subscribe() (<-chan pipeline.DecoratedSample, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	ch := make(chan pipeline.DecoratedSample, subscriberBuffer)
	p.subs[id] = ch
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// Do queues fn to run on the producer goroutine between samples and
// waits for it to complete. This is how out-of-band calibration commands
// reach the single-writer pipeline.
func (p *Producer) Do(fn func(*pipeline.Pipeline)) {
	done := make(chan struct{})
	p.cmds <- func(pl *pipeline.Pipeline) {
		fn(pl)
		close(done)
	}
	<-done
}

// Snapshot fetches the calibration snapshot through the command seam.
func (p *Producer) Snapshot() calibration.Snapshot {
	var snap calibration.Snapshot
	p.Do(func(pl *pipeline.Pipeline) {
		snap = pl.Calibrator().Snapshot()
	})
	return snap
}

// SaveCalibration persists the current calibration record.
func (p *Producer) SaveCalibration() error {
	var err error
	p.Do(func(pl *pipeline.Pipeline) {
		err = p.store.Save(p.key, pl.Calibrator())
	})
	return err
}

// ClearCalibration wipes live calibration state and the persisted record.
func (p *Producer) ClearCalibration() error {
	var err error
	p.Do(func(pl *pipeline.Pipeline) {
		pl.Calibrator().Clear()
		pl.Reset()
		err = p.store.Delete(p.key)
	})
	return err
}

func (p *Producer) fanOut(s pipeline.DecoratedSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// Drop for slow subscribers; the live loop never blocks.
		}
	}
}

func (p *Producer) drainCommands() {
	for {
		select {
		case fn := <-p.cmds:
			fn(p.pipe)
		default:
			return
		}
	}
}

// RunProducer is the bandd main loop: open the sample source, restore
// persisted calibration, serve the wizard/state HTTP surface, and pump
// samples through the pipeline onto MQTT until the source fails.
func RunProducer() error {
	log.Println("producer: starting magband telemetry producer")

	cfg := config.Get()

	cal := calibration.NewCalibrator()
	store := calibration.NewStore(cfg.CalibrationDir)
	switch err := store.Load(cfg.CalibrationKey, cal); {
	case err == nil:
		log.Printf("producer: restored calibration record %q", cfg.CalibrationKey)
	case os.IsNotExist(err):
		log.Printf("producer: no calibration record %q, starting uncalibrated", cfg.CalibrationKey)
	default:
		// Corrupt record: log the diagnostic and continue uncalibrated.
		log.Printf("producer: discarding calibration record %q: %v", cfg.CalibrationKey, err)
	}

	pipe := pipeline.New(cal)
	prod := newProducer(pipe, store, cfg.CalibrationKey)

	var src imu.Source
	if cfg.SensorUseMock {
		log.Println("producer: using mock sensor source")
		src = sensors.NewMockSource(float64(cfg.SensorSampleRate))
	} else {
		s, closer, err := sensors.NewSerialSource(cfg.SensorSerialPort, uint(cfg.SensorBaudRate))
		if err != nil {
			return err
		}
		defer closer.Close()
		src = s
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDProducer)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("producer: MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Println("producer: connected to MQTT, starting sample loop")

	// Wizard + state surface for the calibration UI.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/calibration", func(w http.ResponseWriter, r *http.Request) {
		HandleCalibrationWS(prod, w, r)
	})
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(prod.Snapshot()); err != nil {
			log.Printf("producer: state encode error: %v", err)
		}
	})
	go func() {
		addr := fmt.Sprintf(":%d", cfg.WebServerPort)
		log.Printf("producer: calibration/state server listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("producer: http server error: %v", err)
		}
	}()

	// Mock sources need pacing; the serial source is paced by the device.
	var tick *time.Ticker
	if cfg.SensorUseMock {
		tick = time.NewTicker(time.Second / time.Duration(cfg.SensorSampleRate))
		defer tick.Stop()
	}

	stateEvery := time.NewTicker(time.Second)
	defer stateEvery.Stop()

	for {
		if tick != nil {
			<-tick.C
		}

		raw, err := src.NextRaw()
		if err != nil {
			log.Printf("producer: sample source failed: %v", err)
			return err
		}

		prod.drainCommands()
		out := pipe.ProcessSample(raw)

		if out.Event != "" {
			log.Printf("producer: pipeline stage -> %s", out.Event)
		}

		prod.fanOut(out)
		publish(client, cfg.TopicSample, out)
		publish(client, cfg.TopicOrientation, out.Orientation)
		if out.Detection != nil {
			publish(client, cfg.TopicDetection, out.Detection)
		}

		select {
		case <-stateEvery.C:
			publish(client, cfg.TopicState, pipe.Calibrator().Snapshot())
		default:
		}
	}
}

func publish(client mqtt.Client, topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("producer: marshal error (%s): %v", topic, err)
		return
	}
	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("producer: MQTT publish error (%s): %v", topic, token.Error())
	}
}
