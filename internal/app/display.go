package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/magband/internal/ahrs"
	"github.com/relabs-tech/magband/internal/config"
	"github.com/relabs-tech/magband/internal/magnet"
	"github.com/relabs-tech/magband/internal/pipeline"
)

// displayData holds the latest values shown on the status OLED.
type displayData struct {
	mu sync.RWMutex

	state     ahrs.State
	haveState bool

	detection     magnet.Detection
	haveDetection bool

	stage pipeline.Stage
}

// RunDisplay drives the wrist unit's SSD1306 status screen: attitude on
// the top rows, pipeline stage and magnet verdict below.
func RunDisplay() error {
	cfg := config.Get()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	// The driver owns the bus address (0x3C), so there is nothing to
	// configure beyond the bus itself.
	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: SSD1306 initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &displayData{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	poseToken := client.Subscribe(cfg.TopicOrientation, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s ahrs.State
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: orientation unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.state = s
		data.haveState = true
		data.mu.Unlock()
	})
	poseToken.Wait()
	if poseToken.Error() != nil {
		return poseToken.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicOrientation)

	sampleToken := client.Subscribe(cfg.TopicSample, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s pipeline.DecoratedSample
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: sample unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.stage = s.Stage
		if s.Detection != nil {
			data.detection = *s.Detection
			data.haveDetection = true
		}
		data.mu.Unlock()
	})
	sampleToken.Wait()
	if sampleToken.Error() != nil {
		return sampleToken.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicSample)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		data.mu.RLock()
		snapshot := displayData{
			state:         data.state,
			haveState:     data.haveState,
			detection:     data.detection,
			haveDetection: data.haveDetection,
			stage:         data.stage,
		}
		data.mu.RUnlock()

		if err := updateStatusDisplay(dev, &snapshot); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func updateStatusDisplay(dev *ssd1306.Dev, data *displayData) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !data.haveState {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Magband"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return dev.Draw(dev.Bounds(), img, image.Point{})
	}

	e := data.state.Euler
	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fmt.Sprintf("R: %6.1f", e.Roll)))

	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte(fmt.Sprintf("P: %6.1f", e.Pitch)))

	drawer.Dot = fixed.P(0, 39)
	drawer.DrawBytes([]byte(fmt.Sprintf("Y: %6.1f", e.Yaw)))

	drawer.Dot = fixed.P(0, 52)
	if data.stage != pipeline.StageReady {
		drawer.DrawBytes([]byte(string(data.stage)))
	} else if data.haveDetection {
		drawer.DrawBytes([]byte(fmt.Sprintf("%s %3.0f%%",
			data.detection.Status, 100*data.detection.Confidence)))
	} else {
		drawer.DrawBytes([]byte("READY"))
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func showSplash(dev *ssd1306.Dev) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Magband"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Calibrating"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
