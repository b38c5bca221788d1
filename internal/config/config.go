package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the analysis engine.
const (
	// Audio device defaults
	DefaultChannels        = 1           // Mono capture
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultFramesPerBuffer = 512         // Device read size, one hop
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 44100       // CD-quality audio

	// Analysis defaults
	DefaultWindowSize      = 1024   // Samples per analysis window
	DefaultHopSize         = 512    // Advance between windows
	DefaultBufferCapacity  = 8192   // Pending samples before the oldest are dropped
	DefaultFFTWindow       = "hann" // Window function applied before the FFT
	DefaultSilenceDB       = -70.0  // Below this level a window is silent
	DefaultCalibration     = 40     // Windows measured for the noise floor (~0.46s at hop 512)
	DefaultBandHistory     = 64     // Windows in the band normalization max
	DefaultThresholdWindow = 16     // Novelty values per adaptive threshold
	DefaultThresholdK      = 1.5    // Threshold = mean + k*stddev
	DefaultMinIOI          = 40 * time.Millisecond
	DefaultQuorum          = 0 // 0 selects a simple majority

	// Pitch defaults
	DefaultPitchTolerance     = 0.15
	DefaultPitchSilenceDB     = -40.0
	DefaultPitchMinConfidence = 0.5
	DefaultPitchMinHz         = 40.0
	DefaultPitchMaxHz         = 5000.0

	// Tempo defaults
	DefaultMinBPM                  = 40.0
	DefaultMaxBPM                  = 240.0
	DefaultTempoRetention          = 8 * time.Second
	DefaultMaxOnsets               = 64
	DefaultClusterTolerance        = 0.1
	DefaultFullConfidenceIntervals = 4
	DefaultDecayTimeout            = 2 * time.Second
	DefaultDecayHalfLife           = 2 * time.Second
	DefaultTempoSmoothing          = 0.5

	// Event bus defaults
	DefaultQueueDepth = 64
	DefaultOverflow   = "drop_oldest"

	// Recording defaults
	DefaultRecordInputStream = false
	DefaultOutputDir         = "./recordings"
	DefaultBitDepth          = 16

	// Transport defaults
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultUDPFormat        = "json"
	DefaultWebSocketAddress = ":8080"
	DefaultWebSocketPath    = "/ws"
	DefaultMQTTBroker       = "tcp://localhost:1883"
	DefaultMQTTTopic        = "beatzero/music_detection"
	DefaultMQTTStatusTopic  = "beatzero/status"
	DefaultMQTTClientID     = "beatzero"
	DefaultMQTTPublishRate  = 30.0 // Merged frames per second

	// Demo click track
	DefaultDemoBPM     = 120.0
	DefaultDemoSeconds = 30.0

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per device read
	MaxWindowSize   = 16384  // Maximum analysis window
	MaxChannels     = 32
)

// BandConfig names a frequency range analysed for energy.
type BandConfig struct {
	Name   string  `yaml:"name"`
	LowHz  float64 `yaml:"low_hz"`
	HighHz float64 `yaml:"high_hz"`
}

// DefaultBands returns the band layout used when the configuration doesn't
// name one: broad low/mid/high ranges plus narrow kick and hi-hat bands.
func DefaultBands() []BandConfig {
	return []BandConfig{
		{Name: "low", LowHz: 20, HighHz: 250},
		{Name: "kick", LowHz: 40, HighHz: 120},
		{Name: "mid", LowHz: 250, HighHz: 2000},
		{Name: "high", LowHz: 2000, HighHz: 16000},
		{Name: "hihat", LowHz: 5000, HighHz: 10000},
	}
}

// HintRule maps a drum hint onto the band that signals it.
type HintRule struct {
	Hint      string  `yaml:"hint"`
	Band      string  `yaml:"band"`
	Threshold float64 `yaml:"threshold"`
}

// DefaultHintRules returns the kick and hi-hat rules.
func DefaultHintRules() []HintRule {
	return []HintRule{
		{Hint: "kick", Band: "kick", Threshold: 0.5},
		{Hint: "hihat", Band: "hihat", Threshold: 0.3},
	}
}

// DefaultOnsetMethods returns the methods enabled when none are configured.
func DefaultOnsetMethods() []string {
	return []string{"energy", "hfc", "complex", "phase", "specflux"}
}

// Default returns a Config populated with built-in defaults. It is the
// base that files, environment variables and flags are applied on top of.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		TUIMode:  true,
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
		},
		Analysis: AnalysisConfig{
			WindowSize:         DefaultWindowSize,
			HopSize:            DefaultHopSize,
			BufferCapacity:     DefaultBufferCapacity,
			FFTWindow:          DefaultFFTWindow,
			SilenceDB:          DefaultSilenceDB,
			CalibrationWindows: DefaultCalibration,
			BandHistory:        DefaultBandHistory,
			Bands:              DefaultBands(),
		},
		Onset: OnsetConfig{
			Methods:         DefaultOnsetMethods(),
			Quorum:          DefaultQuorum,
			ThresholdWindow: DefaultThresholdWindow,
			ThresholdK:      DefaultThresholdK,
			MinIOI:          DefaultMinIOI,
		},
		Pitch: PitchConfig{
			Enabled:       true,
			Tolerance:     DefaultPitchTolerance,
			SilenceDB:     DefaultPitchSilenceDB,
			MinConfidence: DefaultPitchMinConfidence,
			MinHz:         DefaultPitchMinHz,
			MaxHz:         DefaultPitchMaxHz,
		},
		Tempo: TempoConfig{
			MinBPM:                  DefaultMinBPM,
			MaxBPM:                  DefaultMaxBPM,
			Retention:               DefaultTempoRetention,
			MaxOnsets:               DefaultMaxOnsets,
			ClusterTolerance:        DefaultClusterTolerance,
			FullConfidenceIntervals: DefaultFullConfidenceIntervals,
			DecayTimeout:            DefaultDecayTimeout,
			DecayHalfLife:           DefaultDecayHalfLife,
			Smoothing:               DefaultTempoSmoothing,
		},
		Hints: HintsConfig{
			Dominance: 0.5,
			Rules:     DefaultHintRules(),
		},
		Bus: BusConfig{
			QueueDepth: DefaultQueueDepth,
			Overflow:   DefaultOverflow,
		},
		Recording: RecordingConfig{
			Enabled:   DefaultRecordInputStream,
			OutputDir: DefaultOutputDir,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			Log: LogTransportConfig{
				Enabled:    false,
				OnsetsOnly: true,
			},
			UDP: UDPConfig{
				Enabled:       false,
				TargetAddress: DefaultUDPTargetAddress,
				Format:        DefaultUDPFormat,
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Address: DefaultWebSocketAddress,
				Path:    DefaultWebSocketPath,
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				Broker:      DefaultMQTTBroker,
				Topic:       DefaultMQTTTopic,
				StatusTopic: DefaultMQTTStatusTopic,
				ClientID:    DefaultMQTTClientID,
				QoS:         0,
				PublishRate: DefaultMQTTPublishRate,
			},
		},
		Demo: DemoConfig{
			BPM:     DefaultDemoBPM,
			Seconds: DefaultDemoSeconds,
		},
	}
}
