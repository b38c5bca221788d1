// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beatzero/cmd"
	"beatzero/internal/audio"
	"beatzero/internal/bus"
	"beatzero/internal/config"
	applog "beatzero/internal/log"
	"beatzero/internal/onset"
	"beatzero/internal/transport"
	"beatzero/internal/transport/udp"
	"beatzero/internal/tui"
	"beatzero/pkg/build"
	"beatzero/pkg/utils"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// debugLogFile receives log output while the live view owns the terminal.
const debugLogFile = "beatzero.log"

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup: build information, command line and configuration, one-off
// commands such as device listing.
//
// 2. Analysis: the engine reads the source on its own goroutine and
// publishes frames; every consumer drains its own subscription.
//
// 3. Shutdown: on a signal, the end of the source or a quit from the live
// view the engine closes the bus and consumers receive the terminal status.
func main() {
	// ==================== STARTUP PHASE ====================

	if err := build.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}

	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	setLogLevel(cfg)

	switch cfg.Command {
	case "":
		// Help or version flag only.
		return
	case cmd.CommandRun, cmd.CommandDemo:
		if err := run(cfg); err != nil {
			applog.Fatalf("%v", err)
		}
	default:
		if err := executeCommand(cfg); err != nil {
			applog.Fatalf("%v", err)
		}
	}
}

func setLogLevel(cfg *config.Config) {
	level, ok := applog.ParseLevel(cfg.LogLevel)
	if !ok {
		applog.Warnf("Unknown log level %q, using %s", cfg.LogLevel, level)
	}
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)
}

// executeCommand handles one-off commands that don't start the engine.
func executeCommand(cfg *config.Config) error {
	switch cfg.Command {
	case cmd.CommandList:
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
		return audio.ListDevices(os.Stdout)

	case cmd.CommandDevices:
		sel, ok, err := tui.StartDeviceListUI()
		if err != nil || !ok {
			return err
		}
		out, err := yaml.Marshal(map[string]config.AudioConfig{
			"audio": {
				InputDevice:     sel.DeviceID,
				SampleRate:      sel.SampleRate,
				FramesPerBuffer: cfg.Audio.FramesPerBuffer,
				LowLatency:      cfg.Audio.LowLatency,
				InputChannels:   sel.Channels,
			},
		})
		if err != nil {
			return err
		}
		fmt.Printf("# %s\n%s", sel.DeviceName, out)
		return nil

	case cmd.CommandVersion:
		fmt.Println(build.GetBuildFlags())
		return nil
	}
	return fmt.Errorf("unknown command %q", cfg.Command)
}

// openSource returns the capture device, or a real-time click track for
// the demo command.
func openSource(cfg *config.Config) (audio.Source, func(), error) {
	if cfg.Command == cmd.CommandDemo {
		samples, clicks := utils.GenerateClickTrack(cfg.Audio.SampleRate, cfg.Demo.Seconds, cfg.Demo.BPM)
		applog.Infof("Demo: %d clicks at %.1f BPM over %.0fs", len(clicks), cfg.Demo.BPM, cfg.Demo.Seconds)
		src := audio.NewSliceSource(utils.ToFloat32(samples), cfg.Audio.SampleRate, 1)
		src.SetRealtime(true)
		return src, func() {}, nil
	}

	if err := audio.Initialize(); err != nil {
		return nil, nil, err
	}
	src, err := audio.OpenPortAudioSource(cfg.Audio)
	if err != nil {
		audio.Terminate()
		return nil, nil, err
	}
	return src, func() { audio.Terminate() }, nil
}

func run(cfg *config.Config) error {
	// ==================== ANALYSIS PHASE ====================

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overflow, err := bus.ParseOverflow(cfg.Bus.Overflow)
	if err != nil {
		return err
	}
	b := bus.New(bus.WithDefaultQueueDepth(cfg.Bus.QueueDepth), bus.WithDefaultOverflow(overflow))

	src, release, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer release()

	engine, err := audio.NewEngine(cfg, src, b)
	if err != nil {
		src.Close()
		return err
	}

	if cfg.Recording.Enabled {
		path := cfg.RecordingPath(time.Now())
		if err := engine.StartRecording(path); err != nil {
			src.Close()
			return err
		}
		defer applog.Infof("Recording saved to: %s", path)
	}

	// Servers stop once the engine has closed the bus or ctx ends.
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	g, gctx := errgroup.WithContext(ctx)

	abort := func(err error) error {
		if engine.Recording() {
			engine.StopRecording()
		}
		src.Close()
		return abortStart(b, g, stopServing, err)
	}

	// Consumers subscribe before the engine starts so none misses a frame.
	if err := attachTransports(serveCtx, g, cfg, b); err != nil {
		return abort(err)
	}

	var program *tea.Program
	if cfg.TUIMode {
		methods, err := onset.ParseMethods(cfg.Onset.Methods)
		if err != nil {
			return abort(err)
		}
		title := fmt.Sprintf("%s %s", build.GetBuildFlags().Name, build.GetBuildFlags().Version)
		program = tea.NewProgram(tui.NewLiveModel(title, methods, b.Stats), tea.WithAltScreen())
		sub, err := transport.Attach(b, "tui", cfg.Transport.TUI)
		if err != nil {
			return abort(err)
		}
		live := tui.NewLiveConsumer(program)
		g.Go(func() error { return bus.Serve(serveCtx, sub, live) })
	}

	g.Go(func() error {
		defer stopServing()
		return engine.Run(gctx)
	})

	if program == nil {
		applog.Infof("Running, press Ctrl+C to stop")
		return wait(g, engine)
	}

	// The live view owns the terminal; keep log lines off the screen.
	logOut := io.Discard
	if cfg.Debug {
		f, err := os.OpenFile(debugLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			defer f.Close()
			logOut = f
		}
	}
	applog.SetOutput(logOut)

	_, uiErr := program.Run()

	// ==================== SHUTDOWN PHASE ====================

	applog.SetOutput(os.Stderr)
	stop()
	return errors.Join(uiErr, wait(g, engine))
}

// abortStart unwinds consumers started before a failure. Closing the bus
// with err finishes each one, which then closes its transport.
func abortStart(b *bus.Bus, g *errgroup.Group, stopServing context.CancelFunc, err error) error {
	b.Close(err)
	stopServing()
	_ = g.Wait()
	return err
}

func wait(g *errgroup.Group, engine *audio.Engine) error {
	err := g.Wait()
	st := engine.Stats()
	applog.Infof("Processed %d windows, %d onsets (%d malformed, %d samples dropped)",
		st.Windows, st.Onsets, st.Malformed, st.DroppedSamples)
	return err
}

// attachTransports subscribes every enabled consumer and starts serving it
// on g. On error the consumers already started keep running; see
// abortStart.
func attachTransports(ctx context.Context, g *errgroup.Group, cfg *config.Config, b *bus.Bus) error {
	tc := cfg.Transport

	if tc.Log.Enabled {
		sub, err := transport.Attach(b, "log", tc.Log.Subscriber)
		if err != nil {
			return err
		}
		lt := transport.NewLoggingTransport(nil, tc.Log.OnsetsOnly)
		g.Go(func() error { return transport.Serve(ctx, sub, lt) })
	}

	if tc.UDP.Enabled {
		format, err := udp.ParseFormat(tc.UDP.Format)
		if err != nil {
			return err
		}
		sender, err := udp.NewUDPSender(tc.UDP.TargetAddress)
		if err != nil {
			return err
		}
		pub, err := udp.NewUDPPublisher(sender, format)
		if err != nil {
			sender.Close()
			return err
		}
		sub, err := transport.Attach(b, "udp", tc.UDP.Subscriber)
		if err != nil {
			pub.Close()
			return err
		}
		t := transport.NewThrottle(pub, tc.UDP.PublishRate)
		g.Go(func() error { return transport.Serve(ctx, sub, t) })
	}

	if tc.MQTT.Enabled {
		pub, err := transport.NewMQTTPublisher(tc.MQTT)
		if err != nil {
			return err
		}
		sub, err := transport.Attach(b, "mqtt", tc.MQTT.Subscriber)
		if err != nil {
			pub.Close()
			return err
		}
		t := transport.NewThrottle(pub, tc.MQTT.PublishRate)
		g.Go(func() error { return transport.Serve(ctx, sub, t) })
	}

	if tc.WebSocket.Enabled {
		ws := transport.NewWebSocketServer(tc.WebSocket, b)
		g.Go(func() error { return ws.ListenAndServe(ctx) })
	}

	return nil
}
