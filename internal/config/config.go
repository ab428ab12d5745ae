package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string
	MQTTClientIDDisplay  string

	// Topics
	TopicSample      string
	TopicOrientation string
	TopicDetection   string
	TopicState       string

	// Sensor transport
	SensorSerialPort string
	SensorBaudRate   int
	SensorSampleRate int // Hz, expected native rate (20–50)
	SensorUseMock    bool

	// Calibration persistence
	CalibrationDir string
	CalibrationKey string // device/session identifier for save/load

	// Web server
	WebServerPort int

	// Display
	DisplayUpdateInterval int // milliseconds

	// Console
	ConsoleLogInterval int // milliseconds
}

// Package-level unexported variables for the singleton accessor: external
// code must use InitGlobal() to set and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a config pre-filled with the values that rarely need
// overriding; required keys stay empty and are caught by validate.
func defaults() *Config {
	return &Config{
		MQTTClientIDProducer: "magband-producer",
		MQTTClientIDConsole:  "magband-console",
		MQTTClientIDWeb:      "magband-web",
		MQTTClientIDDisplay:  "magband-display",

		TopicSample:      "magband/sample",
		TopicOrientation: "magband/orientation",
		TopicDetection:   "magband/detection",
		TopicState:       "magband/calibration/state",

		SensorBaudRate:   115200,
		SensorSampleRate: 50,

		CalibrationDir: ".",
		CalibrationKey: "default",

		WebServerPort:         8080,
		DisplayUpdateInterval: 250,
		ConsoleLogInterval:    1000,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_SAMPLE":
		c.TopicSample = value
	case "TOPIC_ORIENTATION":
		c.TopicOrientation = value
	case "TOPIC_DETECTION":
		c.TopicDetection = value
	case "TOPIC_STATE":
		c.TopicState = value

	// Sensor transport
	case "SENSOR_SERIAL_PORT":
		c.SensorSerialPort = value
	case "SENSOR_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_BAUD_RATE %q: %w", value, err)
		}
		c.SensorBaudRate = rate
	case "SENSOR_SAMPLE_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_SAMPLE_RATE %q: %w", value, err)
		}
		if rate < 20 || rate > 50 {
			return fmt.Errorf("SENSOR_SAMPLE_RATE must be 20-50 Hz, got %d", rate)
		}
		c.SensorSampleRate = rate
	case "SENSOR_USE_MOCK":
		mock, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid SENSOR_USE_MOCK %q: %w", value, err)
		}
		c.SensorUseMock = mock

	// Calibration persistence
	case "CALIBRATION_DIR":
		c.CalibrationDir = value
	case "CALIBRATION_KEY":
		c.CalibrationKey = value

	// Web server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	// Console
	case "CONSOLE_LOG_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CONSOLE_LOG_INTERVAL %q: %w", value, err)
		}
		c.ConsoleLogInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if !c.SensorUseMock && c.SensorSerialPort == "" {
		return fmt.Errorf("SENSOR_SERIAL_PORT is required unless SENSOR_USE_MOCK=true")
	}
	if c.SensorBaudRate == 0 {
		return fmt.Errorf("SENSOR_BAUD_RATE is required")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Uses
// sync.Once so this only runs once even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
