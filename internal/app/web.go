package app

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/magband/internal/ahrs"
	"github.com/relabs-tech/magband/internal/calibration"
	"github.com/relabs-tech/magband/internal/config"
	"github.com/relabs-tech/magband/internal/magnet"
)

// RunWeb is the viewer: it subscribes to the band's MQTT topics, keeps
// the latest value of each, and serves them over a JSON API plus a
// websocket that pushes every sample through for live plotting.
func RunWeb() error {
	cfg := config.Get()

	var (
		mu            sync.RWMutex
		lastState     ahrs.State
		haveState     bool
		lastDetection magnet.Detection
		haveDetection bool
		lastCal       calibration.Snapshot
		haveCal       bool
	)

	// Live-stream fan-out for websocket clients. Raw payload bytes are
	// forwarded untouched; slow clients drop frames.
	var (
		streamMu   sync.Mutex
		streams    = map[int]chan []byte{}
		nextStream int
	)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	subscribe := func(topic string, handler mqtt.MessageHandler) error {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to %s", topic)
		return nil
	}

	if err := subscribe(cfg.TopicOrientation, func(_ mqtt.Client, msg mqtt.Message) {
		var s ahrs.State
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("web: orientation unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastState = s
		haveState = true
		mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicDetection, func(_ mqtt.Client, msg mqtt.Message) {
		var d magnet.Detection
		if err := json.Unmarshal(msg.Payload(), &d); err != nil {
			log.Printf("web: detection unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastDetection = d
		haveDetection = true
		mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicState, func(_ mqtt.Client, msg mqtt.Message) {
		var s calibration.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("web: calibration state unmarshal error: %v", err)
			return
		}
		mu.Lock()
		lastCal = s
		haveCal = true
		mu.Unlock()
	}); err != nil {
		return err
	}

	if err := subscribe(cfg.TopicSample, func(_ mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		streamMu.Lock()
		for _, ch := range streams {
			select {
			case ch <- payload:
			default:
			}
		}
		streamMu.Unlock()
	}); err != nil {
		return err
	}

	http.HandleFunc("/api/orientation", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveState {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastState); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/detection", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveDetection {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastDetection); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/api/calibration", func(w http.ResponseWriter, r *http.Request) {
		mu.RLock()
		defer mu.RUnlock()
		if !haveCal {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(lastCal); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})

	http.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		streamMu.Lock()
		id := nextStream
		nextStream++
		ch := make(chan []byte, 64)
		streams[id] = ch
		streamMu.Unlock()
		defer func() {
			streamMu.Lock()
			delete(streams, id)
			streamMu.Unlock()
		}()

		streamTo(conn, ch)
	})

	// Static files from ./web as the root
	fs := http.FileServer(http.Dir("web"))
	http.Handle("/", fs)

	addr := ":8081"
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}

// streamTo forwards payloads to one websocket client. The read side is
// drained only to notice the peer going away, so a disconnected client
// does not park the handler once sample traffic stops.
func streamTo(conn *websocket.Conn, ch <-chan []byte) {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload := <-ch:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
