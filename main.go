package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/camfeed/cmd"
	"github.com/smazurov/camfeed/internal/api"
	"github.com/smazurov/camfeed/internal/camera"
	"github.com/smazurov/camfeed/internal/config"
	"github.com/smazurov/camfeed/internal/encoder"
	"github.com/smazurov/camfeed/internal/events"
	"github.com/smazurov/camfeed/internal/led"
	"github.com/smazurov/camfeed/internal/logging"
	"github.com/smazurov/camfeed/internal/metrics/exporters"
	"github.com/smazurov/camfeed/internal/streaming"
	"github.com/smazurov/camfeed/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `name:"config" help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Host      string `name:"host" help:"Address to bind" default:"0.0.0.0" toml:"server.host" env:"HOST"`
	Port      int    `name:"port" help:"Port to listen on" short:"p" default:"8000" toml:"server.port" env:"PORT"`
	StaticDir string `name:"static-dir" help:"Serve the front-end build from this directory" default:"" toml:"server.static_dir" env:"STATIC_DIR"`
	Debug     bool   `name:"debug" help:"Debug mode" default:"false" toml:"server.debug" env:"DEBUG"`

	// Camera settings
	Width           int    `name:"width" help:"Frame width" default:"640" toml:"camera.width" env:"WIDTH"`
	Height          int    `name:"height" help:"Frame height" default:"480" toml:"camera.height" env:"HEIGHT"`
	FPS             int    `name:"fps" help:"Frames per second" default:"30" toml:"camera.fps" env:"FPS"`
	JPEGQuality     int    `name:"jpeg-quality" help:"JPEG quality (1-100)" default:"80" toml:"camera.jpeg_quality" env:"JPEG_QUALITY"`
	CamBackend      string `name:"cam-backend" help:"Camera backend (auto, picamera, v4l2)" default:"auto" toml:"camera.backend" env:"CAM_BACKEND"`
	V4L2Device      string `name:"v4l2-device" help:"V4L2 device node" default:"/dev/video0" toml:"camera.device" env:"V4L2_DEVICE"`
	MaxReadFailures int    `name:"max-read-failures" help:"Consecutive failed frames before streams are ended" default:"30" toml:"camera.max_read_failures" env:"MAX_READ_FAILURES"`
	FrameTimeoutMs  int    `name:"frame-timeout-ms" help:"Timeout for a single frame read in milliseconds" default:"5000" toml:"camera.frame_timeout_ms" env:"FRAME_TIMEOUT_MS"`

	// Features settings
	FeaturesStatusLED bool   `name:"status-led" help:"Show camera activity on a board LED" default:"false" toml:"features.status_led" env:"STATUS_LED"`
	FeaturesLEDName   string `name:"led-name" help:"LED under /sys/class/leds (detected from the board when empty)" default:"" toml:"features.led_name" env:"LED_NAME"`

	// Observability settings
	MetricsEnabled bool `name:"metrics-enabled" help:"Serve Prometheus metrics at /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel     string `name:"logging-level" help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `name:"logging-format" help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera    string `name:"logging-camera" help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingStreaming string `name:"logging-streaming" help:"Stream hub logging level" default:"info" toml:"logging.streaming" env:"LOGGING_STREAMING"`
	LoggingEncoder   string `name:"logging-encoder" help:"Encoder logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingAPI       string `name:"logging-api" help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP      string `name:"logging-http" help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingProcess   string `name:"logging-process" help:"Capture helper process logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
}

func (o *Options) cameraConfig() (camera.Config, error) {
	backend, err := camera.ParseBackend(o.CamBackend)
	if err != nil {
		return camera.Config{}, err
	}
	cfg := camera.Config{
		Width:           o.Width,
		Height:          o.Height,
		FPS:             o.FPS,
		Quality:         o.JPEGQuality,
		Backend:         backend,
		Device:          o.V4L2Device,
		MaxReadFailures: o.MaxReadFailures,
		FrameTimeout:    time.Duration(o.FrameTimeoutMs) * time.Millisecond,
	}
	return cfg, cfg.Validate()
}

func (o *Options) loggingConfig() logging.Config {
	level := o.LoggingLevel
	if o.Debug && level == "info" {
		level = "debug"
	}
	return logging.Config{
		Level:  level,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"camera":    o.LoggingCamera,
			"streaming": o.LoggingStreaming,
			"encoder":   o.LoggingEncoder,
			"api":       o.LoggingAPI,
			"http":      o.LoggingHTTP,
			"process":   o.LoggingProcess,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		loadErr := config.LoadConfig(opts, cli.Root())

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		var running atomic.Pointer[app]

		hooks.OnStart(func() {
			if loadErr != nil {
				logger.Error("Invalid configuration", "error", loadErr)
				os.Exit(1)
			}
			cameraCfg, err := opts.cameraConfig()
			if err != nil {
				logger.Error("Invalid camera configuration", "error", err)
				os.Exit(1)
			}

			a := newApp(opts, cameraCfg, logger)
			running.Store(a)
			if err := a.run(); err != nil {
				logger.Error("Server failed", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			if a := running.Load(); a != nil {
				a.stop()
			}
		})
	})

	cli.Root().Use = "camfeed"
	cli.Root().Short = "MJPEG camera streaming server"
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())
	cli.Root().AddCommand(cmd.CreateGrabCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}

// app owns the long-lived server components.
type app struct {
	opts   *Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	bus         *events.Bus
	hub         *streaming.Hub
	server      *api.Server
	sseExporter *exporters.SSEExporter
	notifier    *systemd.Notifier
	watcher     *config.Watcher[logging.Config]
	ledManager  *led.Manager // nil unless enabled

	stopTracking func()
}

func newApp(opts *Options, cameraCfg camera.Config, logger *slog.Logger) *app {
	ctx, cancel := context.WithCancel(context.Background())
	a := &app{
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		bus:      events.New(),
		notifier: systemd.NewNotifier(logging.GetLogger("systemd")),
	}

	selector := camera.NewSelector(cameraCfg, camera.SystemProber{}, logging.GetLogger("camera"))
	a.hub = streaming.NewHub(selector, encoder.New(cameraCfg.Quality), streaming.Options{
		MaxReadFailures: cameraCfg.MaxReadFailures,
		Logger:          logging.GetLogger("streaming"),
		Events:          a.bus,
		Width:           cameraCfg.Width,
		Height:          cameraCfg.Height,
		FPS:             cameraCfg.FPS,
	})

	apiOpts := &api.Options{
		Hub:       a.hub,
		Camera:    selector,
		EventBus:  a.bus,
		StaticDir: opts.StaticDir,
		Debug:     opts.Debug,
	}
	if opts.MetricsEnabled {
		apiOpts.PrometheusHandler = exporters.HTTPHandler()
	}
	a.server = api.NewServer(apiOpts)
	a.sseExporter = exporters.NewSSEExporter(a.bus)

	// Log levels follow the [logging] table of the config file at runtime.
	a.watcher = config.NewConfigWatcher(opts.Config, config.ReadLoggingConfig, logging.GetLogger("config"))
	a.watcher.OnReload(func(cfg logging.Config) {
		logging.UpdateLevels(cfg)
		logger.Info("Logging levels reloaded", "level", cfg.Level)
	})

	a.stopTracking = a.notifier.TrackCapture(a.bus)

	if opts.FeaturesStatusLED {
		ledLogger := logging.GetLogger("led")
		a.ledManager = led.NewManager(led.New(opts.FeaturesLEDName, ledLogger), a.bus, ledLogger)
	}

	selected, err := selector.Resolve()
	logger.Info("Camera configured",
		"backend", cameraCfg.Backend, "selected", selected, "have_picamera", selector.HavePicamera(),
		"width", cameraCfg.Width, "height", cameraCfg.Height, "fps", cameraCfg.FPS, "quality", cameraCfg.Quality)
	if err != nil {
		// Not fatal: health reports it and streams fail with a clear error.
		logger.Warn("No usable camera backend", "error", err)
	}

	return a
}

// run serves until stop. It blocks.
func (a *app) run() error {
	if err := a.watcher.Start(a.ctx); err != nil {
		a.logger.Warn("Config watcher not started", "error", err)
	}
	a.sseExporter.Start(a.ctx)
	if a.ledManager != nil {
		a.ledManager.Start()
	}

	ln, err := a.listen()
	if err != nil {
		return err
	}

	if _, err := a.notifier.StartWatchdog(a.ctx); err != nil {
		a.logger.Warn("Watchdog not started", "error", err)
	}
	if err := a.notifier.Ready(); err != nil {
		a.logger.Warn("Failed to notify systemd", "error", err)
	}
	_ = a.notifier.Status("Idle, listening on %s", ln.Addr())

	return a.server.Serve(ln)
}

// listen prefers a socket handed over by systemd.
func (a *app) listen() (net.Listener, error) {
	listeners, err := systemd.Listeners()
	if err != nil {
		a.logger.Warn("Ignoring socket activation", "error", err)
	}
	if len(listeners) > 0 {
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		a.logger.Info("Using socket-activated listener", "addr", listeners[0].Addr().String())
		return listeners[0], nil
	}

	addr := net.JoinHostPort(a.opts.Host, strconv.Itoa(a.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

func (a *app) stop() {
	a.logger.Info("Shutting down")
	_ = a.notifier.Stopping()
	a.notifier.StopWatchdog()
	a.stopTracking()

	// Video feeds never go idle on their own; closing the hub ends them so
	// the HTTP server can drain.
	if err := a.hub.Close(); err != nil {
		a.logger.Error("Error closing stream hub", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("Error stopping HTTP server", "error", err)
	}

	a.sseExporter.Stop()
	if a.ledManager != nil {
		a.ledManager.Stop()
	}
	if err := a.watcher.Stop(); err != nil {
		a.logger.Warn("Error stopping config watcher", "error", err)
	}
	a.cancel()
}
