// SPDX-License-Identifier: MIT
//
// Package cmd parses the command line into a configuration. Flags override
// values from the configuration file and environment.
package cmd

import (
	"fmt"
	"os"

	"beatzero/internal/config"
	"beatzero/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Commands selected by ParseArgs.
const (
	CommandRun     = "run"
	CommandDemo    = "demo"
	CommandList    = "list"
	CommandDevices = "devices"
	CommandVersion = "version"
)

// ParseArgs parses os.Args. It returns a configuration with an empty
// Command when only help was requested.
func ParseArgs() (*config.Config, error) {
	return parse(os.Args[1:])
}

func parse(args []string) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()

	var (
		configPath string
		command    string
		flags      *pflag.FlagSet
	)
	selectCommand := func(name string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			command, flags = name, cmd.Flags()
			return nil
		}
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		RunE: selectCommand(CommandRun),
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available audio devices",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(CommandList),
		},
		&cobra.Command{
			Use:   "devices",
			Short: "Browse input devices and print the matching configuration",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(CommandDevices),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Args:  cobra.NoArgs,
			RunE:  selectCommand(CommandVersion),
		},
	)

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Analyse a synthetic click track instead of a capture device",
		Args:  cobra.NoArgs,
		RunE:  selectCommand(CommandDemo),
	}
	demoCmd.Flags().Float64("bpm", config.DefaultDemoBPM, "Click track tempo")
	demoCmd.Flags().Float64("seconds", config.DefaultDemoSeconds, "Click track length")
	rootCmd.AddCommand(demoCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "f", "", "Configuration file (default config.yaml)")

	// Audio Device Configuration
	pf.IntP("device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	pf.IntP("channels", "c", config.DefaultChannels,
		"Number of channels to capture, mixed down to mono for analysis")
	pf.Float64P("sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntP("frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per device read (affects latency)")
	pf.BoolP("low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")

	// Analysis Configuration
	pf.StringSlice("methods", config.DefaultOnsetMethods(),
		"Onset detection methods (energy, hfc, complex, phase, wphase, specflux, kl, mkl)")
	pf.Int("quorum", config.DefaultQuorum,
		"Agreeing methods needed for an onset (0 = majority)")

	// Recording Configuration
	pf.BoolP("record", "r", config.DefaultRecordInputStream,
		"Record audio from the specified input device")
	pf.StringP("output", "o", "",
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav")

	// Consumers
	pf.Bool("tui", true, "Show the live analysis view")
	pf.Bool("log-frames", false, "Print onset frames to the log")
	pf.String("udp", "", "Send frames as UDP datagrams to host:port")
	pf.String("udp-format", config.DefaultUDPFormat, "UDP payload format (json, binary)")
	pf.String("ws", "", "Serve frames over WebSocket on this address, e.g. :8080")
	pf.String("mqtt", "", "Publish frames to this MQTT broker, e.g. tcp://localhost:1883")

	// Debug Configuration
	pf.BoolP("verbose", "v", false, "Show verbose output")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if command == "" {
		return config.Default(), nil
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Command = command
	if err := applyFlags(cfg, flags); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFlags copies every flag set on the command line into cfg.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}
	get := func(v any, e error) any {
		if e != nil && err == nil {
			err = e
		}
		return v
	}

	set("device", func() { cfg.Audio.InputDevice = get(fs.GetInt("device")).(int) })
	set("channels", func() { cfg.Audio.InputChannels = get(fs.GetInt("channels")).(int) })
	set("sample-rate", func() { cfg.Audio.SampleRate = get(fs.GetFloat64("sample-rate")).(float64) })
	set("frames-per-buffer", func() { cfg.Audio.FramesPerBuffer = get(fs.GetInt("frames-per-buffer")).(int) })
	set("low-latency", func() { cfg.Audio.LowLatency = get(fs.GetBool("low-latency")).(bool) })
	set("methods", func() { cfg.Onset.Methods = get(fs.GetStringSlice("methods")).([]string) })
	set("quorum", func() { cfg.Onset.Quorum = get(fs.GetInt("quorum")).(int) })
	set("record", func() { cfg.Recording.Enabled = get(fs.GetBool("record")).(bool) })
	set("output", func() { cfg.Recording.OutputFile = get(fs.GetString("output")).(string) })
	set("tui", func() { cfg.TUIMode = get(fs.GetBool("tui")).(bool) })
	set("log-frames", func() { cfg.Transport.Log.Enabled = get(fs.GetBool("log-frames")).(bool) })
	set("udp", func() {
		cfg.Transport.UDP.Enabled = true
		cfg.Transport.UDP.TargetAddress = get(fs.GetString("udp")).(string)
	})
	set("udp-format", func() { cfg.Transport.UDP.Format = get(fs.GetString("udp-format")).(string) })
	set("ws", func() {
		cfg.Transport.WebSocket.Enabled = true
		cfg.Transport.WebSocket.Address = get(fs.GetString("ws")).(string)
	})
	set("mqtt", func() {
		cfg.Transport.MQTT.Enabled = true
		cfg.Transport.MQTT.Broker = get(fs.GetString("mqtt")).(string)
	})
	set("verbose", func() { cfg.Debug = get(fs.GetBool("verbose")).(bool) })
	set("log-level", func() { cfg.LogLevel = get(fs.GetString("log-level")).(string) })
	set("bpm", func() { cfg.Demo.BPM = get(fs.GetFloat64("bpm")).(float64) })
	set("seconds", func() { cfg.Demo.Seconds = get(fs.GetFloat64("seconds")).(float64) })

	// A demo replays a mono click track at the configured rate.
	if cfg.Command == CommandDemo {
		cfg.Audio.InputChannels = 1
	}
	return err
}
