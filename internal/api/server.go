package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/camfeed/internal/api/models"
	"github.com/smazurov/camfeed/internal/camera"
	"github.com/smazurov/camfeed/internal/events"
	"github.com/smazurov/camfeed/internal/logging"
	"github.com/smazurov/camfeed/internal/mjpeg"
	"github.com/smazurov/camfeed/internal/streaming"
	"github.com/smazurov/camfeed/internal/version"
	"github.com/smazurov/camfeed/ui"
)

// AppName is reported by the health endpoint.
const AppName = "camfeed"

// StreamHub is the part of streaming.Hub the API uses.
type StreamHub interface {
	mjpeg.Hub
	Snapshot(ctx context.Context) (*streaming.EncodedFrame, error)
	Status() streaming.Status
}

// CameraInfo answers health questions without opening the device.
type CameraInfo interface {
	Config() camera.Config
	HavePicamera() bool
	Resolve() (camera.Backend, error)
}

// Options configures the API server.
type Options struct {
	Hub      StreamHub
	Camera   CameraInfo
	EventBus *events.Bus // optional, enables /api/camera/events

	PrometheusHandler http.Handler // optional, served at /metrics

	// StaticDir serves the front-end from disk instead of the embedded
	// build when set.
	StaticDir string
	Debug     bool

	StreamWriteTimeout time.Duration
	SnapshotTimeout    time.Duration
}

// Server is the HTTP API and static front-end.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	logger     *slog.Logger

	// closing ends long-lived SSE handlers on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates the API server with Huma v2 on Go 1.22+ native routing.
func NewServer(opts *Options) *Server {
	if opts.StreamWriteTimeout == 0 {
		opts.StreamWriteTimeout = mjpeg.DefaultWriteTimeout
	}
	if opts.SnapshotTimeout == 0 {
		opts.SnapshotTimeout = 5 * time.Second
	}

	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("camfeed API", version.String())
	config.Info.Description = "Live MJPEG camera stream and status API"
	// Relative server URLs keep the docs working behind any host.
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	server := &Server{
		api:     api,
		mux:     mux,
		options: opts,
		logger:  logging.GetLogger("api"),
		closing: make(chan struct{}),
	}
	server.httpServer = server.newHTTPServer()

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()

	frontend := ui.Handler(opts.StaticDir, logging.GetLogger("http"))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Unknown API paths are not front-end routes.
		if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		frontend.ServeHTTP(w, r)
	})

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

func (s *Server) newHTTPServer() *http.Server {
	// No WriteTimeout: video streams are unbounded and set a deadline
	// per part instead.
	return &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener, such as a socket handed over by
// systemd.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting camfeed API server", "addr", ln.Addr().String())
	s.logger.Info("OpenAPI documentation available", "url", "http://"+ln.Addr().String()+"/docs")

	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for handlers until ctx
// ends, then closes whatever is left. Video streams end when the hub is
// closed, so close the hub first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	s.closeOnce.Do(func() { close(s.closing) })

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("Graceful shutdown incomplete, closing connections", "error", err)
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Time:    time.Now().UTC().Format(time.RFC3339),
				App:     AppName,
				Version: version.String(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-info",
		Method:      http.MethodGet,
		Path:        "/api/info",
		Summary:     "Info",
		Description: "Runtime mode and build information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.InfoResponse, error) {
		env := "production"
		if s.options.Debug {
			env = "debug"
		}
		v := version.Get()
		return &models.InfoResponse{
			Body: models.InfoData{
				Env:       env,
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				BuildID:   v.BuildID,
				GoVersion: v.GoVersion,
				Compiler:  v.Compiler,
				Platform:  v.Platform,
			},
		}, nil
	})

	s.registerCameraRoutes()

	if s.options.EventBus != nil {
		s.registerSSERoutes()
	}
}
