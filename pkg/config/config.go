package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"github.com/unklstewy/heliostat/pkg/coordinates"
	"github.com/unklstewy/heliostat/pkg/framer"
)

// Transport names for MotionConfig.Transport.
const (
	TransportSerial = "serial"
	TransportESP32  = "esp32"
)

// Config represents the complete application configuration.
// The file format is chosen by extension: .yaml/.yml, .toml, anything
// else is JSON.
type Config struct {
	GPS      GPSConfig      `json:"gps" yaml:"gps" toml:"gps"`
	Motion   MotionConfig   `json:"motion" yaml:"motion" toml:"motion"`
	Tracker  TrackerConfig  `json:"tracker" yaml:"tracker" toml:"tracker"`
	Observer ObserverConfig `json:"observer" yaml:"observer" toml:"observer"`
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt" toml:"mqtt"`
	Retry    RetryConfig    `json:"retry" yaml:"retry" toml:"retry"`
}

// GPSConfig contains the GPS receiver settings.
type GPSConfig struct {
	// Port is the serial device (e.g. "/dev/ttyACM0"). Empty means no
	// receiver is fitted and the observer location is used instead.
	Port string `json:"port" yaml:"port" toml:"port"`

	// BaudRate of the receiver (default: 9600)
	BaudRate int `json:"baud_rate" yaml:"baud_rate" toml:"baud_rate"`

	// Terminator of NMEA sentences: "crlf" (default), "lf" or "cr"
	Terminator string `json:"terminator" yaml:"terminator" toml:"terminator"`
}

// MotionConfig contains the GRBL motion controller settings.
type MotionConfig struct {
	// Transport is "serial" (RAMPS over USB) or "esp32" (GRBL-ESP32 over WiFi)
	Transport string `json:"transport" yaml:"transport" toml:"transport"`

	// Port is the serial device for the serial transport
	Port string `json:"port" yaml:"port" toml:"port"`

	// BaudRate for the serial transport (default: 115200)
	BaudRate int `json:"baud_rate" yaml:"baud_rate" toml:"baud_rate"`

	// Host is the GRBL-ESP32 address for the esp32 transport
	Host string `json:"host" yaml:"host" toml:"host"`

	// HTTPPort serves the /command endpoint (default: 80)
	HTTPPort int `json:"http_port" yaml:"http_port" toml:"http_port"`

	// WebSocketPort streams device output (default: 81)
	WebSocketPort int `json:"websocket_port" yaml:"websocket_port" toml:"websocket_port"`

	// CommandTerminator ends each command line (default: "cr")
	CommandTerminator string `json:"command_terminator" yaml:"command_terminator" toml:"command_terminator"`

	// ReplyTerminator splits device output into lines (default: "crlf")
	ReplyTerminator string `json:"reply_terminator" yaml:"reply_terminator" toml:"reply_terminator"`

	// CommandsPerSecond paces HTTP commands to the esp32 (default: 20)
	CommandsPerSecond float64 `json:"commands_per_second" yaml:"commands_per_second" toml:"commands_per_second"`
}

// AxisConfig maps a sun angle to a machine axis: axis = scale*angle + offset.
type AxisConfig struct {
	Scale  float64 `json:"scale" yaml:"scale" toml:"scale"`
	Offset float64 `json:"offset" yaml:"offset" toml:"offset"`
}

// TrackerConfig contains the tracking state machine settings.
type TrackerConfig struct {
	// AutoHomeOnBanner homes as soon as the device asks for it
	AutoHomeOnBanner bool `json:"auto_home_on_banner" yaml:"auto_home_on_banner" toml:"auto_home_on_banner"`

	// AutoTrackAfterHome starts tracking when homing completes
	AutoTrackAfterHome bool `json:"auto_track_after_home" yaml:"auto_track_after_home" toml:"auto_track_after_home"`

	// Banner is the device message that requests homing
	Banner string `json:"banner" yaml:"banner" toml:"banner"`

	// HomingSequence is sent step by step, each step waiting for "ok"
	HomingSequence []string `json:"homing_sequence" yaml:"homing_sequence" toml:"homing_sequence"`

	// LenientHoming tolerates unexpected replies during homing
	LenientHoming bool `json:"lenient_homing" yaml:"lenient_homing" toml:"lenient_homing"`

	// AxisX maps azimuth (default: scale -1, offset -90)
	AxisX AxisConfig `json:"axis_x" yaml:"axis_x" toml:"axis_x"`

	// AxisY maps altitude (default: scale 1, offset -90)
	AxisY AxisConfig `json:"axis_y" yaml:"axis_y" toml:"axis_y"`

	// JogStep is the operator jog distance (default: 1)
	JogStep float64 `json:"jog_step" yaml:"jog_step" toml:"jog_step"`

	// MinAltitude holds position while the sun is below it (default: -90, never)
	MinAltitude float64 `json:"min_altitude" yaml:"min_altitude" toml:"min_altitude"`

	// MaxFixAgeSeconds holds position when the last fix is older (0 = never)
	MaxFixAgeSeconds int `json:"max_fix_age_seconds" yaml:"max_fix_age_seconds" toml:"max_fix_age_seconds"`

	// TickIntervalMillis is the tracking period (default: 1000)
	TickIntervalMillis int `json:"tick_interval_millis" yaml:"tick_interval_millis" toml:"tick_interval_millis"`
}

// TickInterval returns the tracking period.
func (t TrackerConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalMillis) * time.Millisecond
}

// MaxFixAge returns the fix staleness limit, zero when disabled.
func (t TrackerConfig) MaxFixAge() time.Duration {
	return time.Duration(t.MaxFixAgeSeconds) * time.Second
}

// ObserverConfig contains the heliostat's fixed location, used when no GPS
// receiver is configured.
type ObserverConfig struct {
	// Name is a human-readable name for this site
	Name string `json:"name" yaml:"name" toml:"name"`

	// Latitude in decimal degrees (positive = North)
	Latitude float64 `json:"latitude" yaml:"latitude" toml:"latitude"`

	// Longitude in decimal degrees (positive = East)
	Longitude float64 `json:"longitude" yaml:"longitude" toml:"longitude"`

	// Elevation in meters above mean sea level
	Elevation float64 `json:"elevation" yaml:"elevation" toml:"elevation"`

	// TimeZone is the IANA timezone name used for display
	TimeZone string `json:"timezone" yaml:"timezone" toml:"timezone"`
}

// Location returns the observer position.
func (o ObserverConfig) Location() coordinates.Geographic {
	return coordinates.Geographic{Latitude: o.Latitude, Longitude: o.Longitude, Altitude: o.Elevation}
}

// Configured reports whether a location has been set.
func (o ObserverConfig) Configured() bool {
	return o.Latitude != 0 || o.Longitude != 0
}

// ServerConfig contains the operator HTTP API settings.
type ServerConfig struct {
	// Listen is the bind address (default: ":8080"); empty disables the API
	Listen string `json:"listen" yaml:"listen" toml:"listen"`

	// AllowedOrigins for CORS (default: all)
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
}

// MQTTConfig contains the MQTT bridge settings.
type MQTTConfig struct {
	// Enabled turns the bridge on
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled"`

	// Broker URL (e.g. "tcp://localhost:1883")
	Broker string `json:"broker" yaml:"broker" toml:"broker"`

	// ClientID identifies this controller to the broker
	ClientID string `json:"client_id" yaml:"client_id" toml:"client_id"`

	// Username and Password for the broker (password from environment)
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`

	// CommandTopic receives raw device commands
	CommandTopic string `json:"command_topic" yaml:"command_topic" toml:"command_topic"`

	// OutputTopic receives every device output line
	OutputTopic string `json:"output_topic" yaml:"output_topic" toml:"output_topic"`

	// StateTopic receives retained tracker snapshots
	StateTopic string `json:"state_topic" yaml:"state_topic" toml:"state_topic"`

	// QoS for publish and subscribe (0, 1 or 2)
	QoS int `json:"qos" yaml:"qos" toml:"qos"`
}

// RetryConfig configures transport open retries.
type RetryConfig struct {
	// MaxRetries after the first attempt (default: 0, no retry)
	MaxRetries int `json:"max_retries" yaml:"max_retries" toml:"max_retries"`

	// InitialDelayMillis before the first retry (default: 1000)
	InitialDelayMillis int `json:"initial_delay_millis" yaml:"initial_delay_millis" toml:"initial_delay_millis"`

	// MaxDelayMillis caps the backoff (default: 30000)
	MaxDelayMillis int `json:"max_delay_millis" yaml:"max_delay_millis" toml:"max_delay_millis"`

	// Multiplier grows the delay after each retry (default: 2)
	Multiplier float64 `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
}

// Load reads configuration from a file.
// Missing keys keep their defaults and a missing file yields the defaults.
// Environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := unmarshal(path, data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

// Save writes the configuration to a file in the format implied by its
// extension.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		data, err = toml.Marshal(*c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Port:       "/dev/ttyACM0",
			BaudRate:   9600,
			Terminator: "crlf",
		},
		Motion: MotionConfig{
			Transport:         TransportSerial,
			Port:              "/dev/ttyUSB0",
			BaudRate:          115200,
			HTTPPort:          80,
			WebSocketPort:     81,
			CommandTerminator: "cr",
			ReplyTerminator:   "crlf",
			CommandsPerSecond: 20,
		},
		Tracker: TrackerConfig{
			Banner:             "[MSG:'$H'|'$X' to unlock]",
			HomingSequence:     []string{"$H"},
			AxisX:              AxisConfig{Scale: -1, Offset: -90},
			AxisY:              AxisConfig{Scale: 1, Offset: -90},
			JogStep:            1,
			MinAltitude:        -90,
			TickIntervalMillis: 1000,
		},
		Observer: ObserverConfig{
			Name:     "Heliostat",
			TimeZone: "UTC",
		},
		Server: ServerConfig{
			Listen:         ":8080",
			AllowedOrigins: []string{"*"},
		},
		MQTT: MQTTConfig{
			Broker:       "tcp://localhost:1883",
			ClientID:     "heliostat",
			CommandTopic: "heliostat/ramps/command",
			OutputTopic:  "heliostat/ramps/output",
			StateTopic:   "heliostat/state",
		},
		Retry: RetryConfig{
			InitialDelayMillis: 1000,
			MaxDelayMillis:     30000,
			Multiplier:         2.0,
		},
	}
}

// applyDefaults fills settings whose zero value is never valid, for files
// that set a section but leave some of its keys out.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.GPS.BaudRate == 0 {
		c.GPS.BaudRate = d.GPS.BaudRate
	}
	if c.Motion.Transport == "" {
		c.Motion.Transport = d.Motion.Transport
	}
	if c.Motion.BaudRate == 0 {
		c.Motion.BaudRate = d.Motion.BaudRate
	}
	if c.Motion.HTTPPort == 0 {
		c.Motion.HTTPPort = d.Motion.HTTPPort
	}
	if c.Motion.WebSocketPort == 0 {
		c.Motion.WebSocketPort = d.Motion.WebSocketPort
	}
	if c.Motion.CommandTerminator == "" {
		c.Motion.CommandTerminator = d.Motion.CommandTerminator
	}
	if c.Motion.CommandsPerSecond == 0 {
		c.Motion.CommandsPerSecond = d.Motion.CommandsPerSecond
	}
	if c.Tracker.Banner == "" {
		c.Tracker.Banner = d.Tracker.Banner
	}
	if len(c.Tracker.HomingSequence) == 0 {
		c.Tracker.HomingSequence = d.Tracker.HomingSequence
	}
	if c.Tracker.AxisX.Scale == 0 {
		c.Tracker.AxisX = d.Tracker.AxisX
	}
	if c.Tracker.AxisY.Scale == 0 {
		c.Tracker.AxisY = d.Tracker.AxisY
	}
	if c.Tracker.JogStep == 0 {
		c.Tracker.JogStep = d.Tracker.JogStep
	}
	if c.Tracker.TickIntervalMillis == 0 {
		c.Tracker.TickIntervalMillis = d.Tracker.TickIntervalMillis
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = d.Retry.Multiplier
	}
}

// Validate checks the configuration for values the controller cannot use.
func (c *Config) Validate() error {
	var errs []error
	if _, err := framer.ParseTerminator(c.GPS.Terminator); err != nil {
		errs = append(errs, fmt.Errorf("gps: %w", err))
	}
	if _, err := framer.ParseTerminator(c.Motion.CommandTerminator); err != nil {
		errs = append(errs, fmt.Errorf("motion command: %w", err))
	}
	if _, err := framer.ParseTerminator(c.Motion.ReplyTerminator); err != nil {
		errs = append(errs, fmt.Errorf("motion reply: %w", err))
	}

	switch c.Motion.Transport {
	case TransportSerial:
		if c.Motion.Port == "" {
			errs = append(errs, errors.New("motion: serial transport needs a port"))
		}
	case TransportESP32:
		if c.Motion.Host == "" {
			errs = append(errs, errors.New("motion: esp32 transport needs a host"))
		}
	default:
		errs = append(errs, fmt.Errorf("motion: unknown transport %q", c.Motion.Transport))
	}

	if c.Observer.Configured() {
		if err := c.Observer.Location().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("observer: %w", err))
		}
	}
	if c.Tracker.TickIntervalMillis <= 0 {
		errs = append(errs, errors.New("tracker: tick interval must be positive"))
	}
	if c.Tracker.JogStep <= 0 {
		errs = append(errs, errors.New("tracker: jog step must be positive"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt: broker is required when enabled"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt: qos %d out of range", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}

// applyEnvironmentOverrides overrides config values with environment variables.
// This allows sensitive data (like broker passwords) to be kept out of files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("HELIOSTAT_GPS_PORT"); port != "" {
		c.GPS.Port = port
	}
	if port := os.Getenv("HELIOSTAT_MOTION_PORT"); port != "" {
		c.Motion.Port = port
	}
	if host := os.Getenv("HELIOSTAT_MOTION_HOST"); host != "" {
		c.Motion.Host = host
		c.Motion.Transport = TransportESP32
	}
	if listen := os.Getenv("HELIOSTAT_LISTEN"); listen != "" {
		c.Server.Listen = listen
	}
	if broker := os.Getenv("HELIOSTAT_MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}
	if password := os.Getenv("HELIOSTAT_MQTT_PASSWORD"); password != "" {
		c.MQTT.Password = password
	}
	if lat, err := strconv.ParseFloat(os.Getenv("HELIOSTAT_LATITUDE"), 64); err == nil {
		c.Observer.Latitude = lat
	}
	if lon, err := strconv.ParseFloat(os.Getenv("HELIOSTAT_LONGITUDE"), 64); err == nil {
		c.Observer.Longitude = lon
	}
}
