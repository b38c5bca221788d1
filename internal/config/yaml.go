// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	applog "beatzero/internal/log"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded
// from YAML. It is immutable once the pipeline starts.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug logging.
	LogLevel  string          `yaml:"log_level"` // "debug", "info", "warn", "error".
	Command   string          `yaml:"-"`         // One-off command selected on the command line.
	TUIMode   bool            `yaml:"tui"`       // Render the live analysis view.
	Audio     AudioConfig     `yaml:"audio"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Onset     OnsetConfig     `yaml:"onset"`
	Pitch     PitchConfig     `yaml:"pitch"`
	Tempo     TempoConfig     `yaml:"tempo"`
	Hints     HintsConfig     `yaml:"hints"`
	Bus       BusConfig       `yaml:"bus"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Demo      DemoConfig      `yaml:"demo"`
}

// DemoConfig drives the synthetic click track played by the demo command.
type DemoConfig struct {
	BPM     float64 `yaml:"bpm"`
	Seconds float64 `yaml:"seconds"`
}

// AudioConfig holds settings related to audio capture.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz (e.g., 44100, 48000).
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per blocking device read.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio.
	InputChannels   int     `yaml:"input_channels"`    // Channels captured; mixed down to mono for analysis.
}

// AnalysisConfig holds the windowing and feature extraction settings.
type AnalysisConfig struct {
	WindowSize         int          `yaml:"window_size"`         // Samples per analysis window (W).
	HopSize            int          `yaml:"hop_size"`            // Samples between window starts (H <= W).
	BufferCapacity     int          `yaml:"buffer_capacity"`     // Pending samples kept before dropping the oldest.
	FFTWindow          string       `yaml:"fft_window"`          // Window function name (e.g., "hann", "hamming").
	SilenceDB          float64      `yaml:"silence_db"`          // Window level (dBFS) below which no onset is declared.
	CalibrationWindows int          `yaml:"calibration_windows"` // Windows used to estimate the noise floor; 0 keeps SilenceDB.
	BandHistory        int          `yaml:"band_history"`        // Windows in the rolling band maximum.
	Bands              []BandConfig `yaml:"bands"`
}

// OnsetConfig configures the onset detector ensemble.
type OnsetConfig struct {
	Methods         []string      `yaml:"methods"`          // Subset of energy, hfc, complex, phase, wphase, specflux, kl, mkl.
	Quorum          int           `yaml:"quorum"`           // Agreeing methods needed; 0 selects a majority.
	ThresholdWindow int           `yaml:"threshold_window"` // Novelty history per method, also the warm-up length.
	ThresholdK      float64       `yaml:"threshold_k"`      // Standard deviations above the mean.
	MinIOI          time.Duration `yaml:"min_ioi"`          // Minimum interval between declared onsets.
}

// PitchConfig configures the YIN pitch detector.
type PitchConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Tolerance     float64 `yaml:"tolerance"`      // YIN absolute threshold.
	SilenceDB     float64 `yaml:"silence_db"`     // No pitch below this level.
	MinConfidence float64 `yaml:"min_confidence"` // No pitch below this confidence.
	MinHz         float64 `yaml:"min_hz"`
	MaxHz         float64 `yaml:"max_hz"`
}

// TempoConfig configures the tempo tracker.
type TempoConfig struct {
	MinBPM                  float64       `yaml:"min_bpm"`
	MaxBPM                  float64       `yaml:"max_bpm"`
	Retention               time.Duration `yaml:"retention"`                 // Onsets older than this are evicted.
	MaxOnsets               int           `yaml:"max_onsets"`                // Ring size for onset timestamps.
	ClusterTolerance        float64       `yaml:"cluster_tolerance"`         // Relative distance from the median interval.
	FullConfidenceIntervals int           `yaml:"full_confidence_intervals"` // Agreeing intervals for full confidence.
	DecayTimeout            time.Duration `yaml:"decay_timeout"`             // Silence before confidence decays.
	DecayHalfLife           time.Duration `yaml:"decay_half_life"`
	Smoothing               float64       `yaml:"smoothing"` // Weight of the newest estimate (0-1].
}

// HintsConfig configures drum hints derived from band energies.
type HintsConfig struct {
	Dominance float64    `yaml:"dominance"` // Hint band must reach this share of the strongest hint band.
	Rules     []HintRule `yaml:"rules"`
}

// BusConfig holds the default subscription queue settings.
type BusConfig struct {
	QueueDepth int    `yaml:"queue_depth"`
	Overflow   string `yaml:"overflow"` // "drop_oldest" or "drop_newest".
}

// SubscriberConfig overrides the bus defaults for one consumer. Zero values
// inherit the bus settings.
type SubscriberConfig struct {
	QueueDepth int    `yaml:"queue_depth"`
	Overflow   string `yaml:"overflow"`
}

// RecordingConfig holds settings for the raw capture WAV tap.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputDir  string `yaml:"output_dir"`
	OutputFile string `yaml:"output_file"` // Generated from the start time when empty.
	BitDepth   int    `yaml:"bit_depth"`   // 16 or 32.
}

// TransportConfig holds the consumer settings.
type TransportConfig struct {
	Log       LogTransportConfig `yaml:"log"`
	UDP       UDPConfig          `yaml:"udp"`
	WebSocket WebSocketConfig    `yaml:"websocket"`
	MQTT      MQTTConfig         `yaml:"mqtt"`
	TUI       SubscriberConfig   `yaml:"tui"`
}

// LogTransportConfig configures the console line consumer.
type LogTransportConfig struct {
	Enabled    bool             `yaml:"enabled"`
	OnsetsOnly bool             `yaml:"onsets_only"` // Only print frames carrying an onset.
	Subscriber SubscriberConfig `yaml:"subscriber"`
}

// UDPConfig configures the UDP datagram consumer.
type UDPConfig struct {
	Enabled       bool             `yaml:"enabled"`
	TargetAddress string           `yaml:"target_address"` // "host:port".
	Format        string           `yaml:"format"`         // "json" or "binary".
	PublishRate   float64          `yaml:"publish_rate"`   // Merged frames per second; 0 sends every frame.
	Subscriber    SubscriberConfig `yaml:"subscriber"`
}

// WebSocketConfig configures the WebSocket server. Every connected client
// receives its own subscription.
type WebSocketConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Address     string           `yaml:"address"`
	Path        string           `yaml:"path"`
	PublishRate float64          `yaml:"publish_rate"` // Merged frames per second; 0 sends every frame.
	Subscriber  SubscriberConfig `yaml:"subscriber"`
}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      string           `yaml:"broker"` // e.g. "tcp://localhost:1883".
	Topic       string           `yaml:"topic"`
	StatusTopic string           `yaml:"status_topic"`
	ClientID    string           `yaml:"client_id"`
	QoS         byte             `yaml:"qos"`
	PublishRate float64          `yaml:"publish_rate"` // Merged frames per second; 0 sends every frame.
	Subscriber  SubscriberConfig `yaml:"subscriber"`
}

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it searches default locations ("config.yaml"). If no file is
// found, it uses built-in defaults. After loading, a .env file and
// environment variable overrides are applied and the final configuration is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"beatzero.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Load .env if present so ENV_* overrides can live next to the binary.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks structural limits. Method names, window functions and
// overflow policies are parsed by the components that own them.
func (c *Config) Validate() error {
	var errs []error

	a := c.Audio
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if a.InputChannels < 1 || a.InputChannels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.input_channels %d outside [1, %d]", a.InputChannels, MaxChannels))
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d outside [1, %d]", a.FramesPerBuffer, MaxBufferFrames))
	}
	if a.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device %d is invalid", a.InputDevice))
	}

	an := c.Analysis
	if an.WindowSize <= 0 || an.WindowSize > MaxWindowSize {
		errs = append(errs, fmt.Errorf("analysis.window_size %d outside [1, %d]", an.WindowSize, MaxWindowSize))
	}
	if an.HopSize <= 0 || an.HopSize > an.WindowSize {
		errs = append(errs, fmt.Errorf("analysis.hop_size %d must be in [1, window_size]", an.HopSize))
	}
	if len(an.Bands) == 0 {
		errs = append(errs, errors.New("analysis.bands must name at least one band"))
	}
	seen := make(map[string]bool, len(an.Bands))
	for _, b := range an.Bands {
		if b.Name == "" || seen[b.Name] {
			errs = append(errs, fmt.Errorf("analysis.bands: empty or duplicate name %q", b.Name))
		}
		seen[b.Name] = true
		if b.LowHz < 0 || b.HighHz <= b.LowHz {
			errs = append(errs, fmt.Errorf("analysis.bands %q: invalid range %.0f-%.0f Hz", b.Name, b.LowHz, b.HighHz))
		}
	}

	if len(c.Onset.Methods) == 0 {
		errs = append(errs, errors.New("onset.methods must name at least one method"))
	}
	if c.Onset.Quorum < 0 || c.Onset.Quorum > len(c.Onset.Methods) {
		errs = append(errs, fmt.Errorf("onset.quorum %d outside [0, %d]", c.Onset.Quorum, len(c.Onset.Methods)))
	}
	if c.Onset.ThresholdWindow < 2 {
		errs = append(errs, fmt.Errorf("onset.threshold_window %d must be at least 2", c.Onset.ThresholdWindow))
	}

	t := c.Tempo
	if t.MinBPM <= 0 || t.MaxBPM <= t.MinBPM {
		errs = append(errs, fmt.Errorf("tempo: invalid bpm range %.0f-%.0f", t.MinBPM, t.MaxBPM))
	}
	if t.Retention <= 0 || t.MaxOnsets < 2 {
		errs = append(errs, errors.New("tempo: retention must be positive and max_onsets at least 2"))
	}

	for _, r := range c.Hints.Rules {
		if !seen[r.Band] {
			errs = append(errs, fmt.Errorf("hints: rule %q refers to unknown band %q", r.Hint, r.Band))
		}
	}

	if c.Bus.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("bus.queue_depth %d must be positive", c.Bus.QueueDepth))
	}

	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 32 {
		errs = append(errs, fmt.Errorf("recording.bit_depth %d must be 16 or 32", c.Recording.BitDepth))
	}

	if c.Transport.UDP.Enabled && !strings.Contains(c.Transport.UDP.TargetAddress, ":") {
		errs = append(errs, fmt.Errorf("transport.udp.target_address '%s' appears invalid (missing port?)", c.Transport.UDP.TargetAddress))
	}
	if c.Demo.BPM <= 0 || c.Demo.Seconds <= 0 {
		errs = append(errs, fmt.Errorf("demo: bpm and seconds must be positive"))
	}
	if f := c.Transport.UDP.Format; f != "" && f != "json" && f != "binary" {
		errs = append(errs, fmt.Errorf("transport.udp.format must be json or binary, got %q", f))
	}
	if an.CalibrationWindows < 0 {
		errs = append(errs, fmt.Errorf("analysis.calibration_windows %d must not be negative", an.CalibrationWindows))
	}
	if tc := c.Transport; tc.UDP.PublishRate < 0 || tc.WebSocket.PublishRate < 0 || tc.MQTT.PublishRate < 0 {
		errs = append(errs, errors.New("transport: publish_rate must not be negative"))
	}
	if c.Transport.MQTT.Enabled && c.Transport.MQTT.Topic == "" {
		errs = append(errs, errors.New("transport.mqtt.topic must be set when MQTT is enabled"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}
	// ENV_DEVICE
	if val, ok := os.LookupEnv("ENV_DEVICE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = iVal
			applog.Infof("configuration: Overriding audio.input_device from env: %d", iVal)
		}
	}

	// ENV_UDP_{...}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDP.Enabled = bVal
			applog.Infof("configuration: Overriding transport.udp.enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDP.TargetAddress = val
		applog.Infof("configuration: Overriding transport.udp.target_address from env: %s", val)
	}

	// ENV_WS_{...}
	if val, ok := os.LookupEnv("ENV_WS_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.WebSocket.Enabled = bVal
			applog.Infof("configuration: Overriding transport.websocket.enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WebSocket.Address = val
		applog.Infof("configuration: Overriding transport.websocket.address from env: %s", val)
	}

	// ENV_MQTT_{...}
	if val, ok := os.LookupEnv("ENV_MQTT_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.MQTT.Enabled = bVal
			applog.Infof("configuration: Overriding transport.mqtt.enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_MQTT_BROKER"); ok {
		cfg.Transport.MQTT.Broker = val
		applog.Infof("configuration: Overriding transport.mqtt.broker from env: %s", val)
	}
}
