package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/google/uuid"

	"github.com/smazurov/camfeed/internal/api/models"
	"github.com/smazurov/camfeed/internal/mjpeg"
	"github.com/smazurov/camfeed/internal/streaming"
)

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "camera-video-feed",
		Method:      http.MethodGet,
		Path:        "/api/camera/video_feed",
		Summary:     "Video Feed",
		Description: "Live MJPEG stream (multipart/x-mixed-replace; boundary=frame), usable as an <img> source. The camera is opened on the first viewer and released after the last one leaves.",
		Tags:        []string{"camera"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Unbounded sequence of JPEG parts",
				Content:     map[string]*huma.MediaType{mjpeg.ContentType: {}},
			},
			"500": {
				Description: "Camera could not be opened",
				Content:     map[string]*huma.MediaType{"text/plain": {}},
			},
		},
	}, func(_ context.Context, _ *struct{}) (*huma.StreamResponse, error) {
		return &huma.StreamResponse{Body: s.serveVideoFeed}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-health",
		Method:      http.MethodGet,
		Path:        "/api/camera/health",
		Summary:     "Camera Health",
		Description: "Backend selection and configured capture parameters. Does not open the camera.",
		Tags:        []string{"camera"},
	}, func(_ context.Context, _ *struct{}) (*models.CameraHealthResponse, error) {
		return &models.CameraHealthResponse{Body: s.cameraHealth()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-status",
		Method:      http.MethodGet,
		Path:        "/api/camera/status",
		Summary:     "Camera Status",
		Description: "Capture loop state and counters",
		Tags:        []string{"camera"},
	}, func(_ context.Context, _ *struct{}) (*models.CameraStatusResponse, error) {
		st := s.options.Hub.Status()
		body := models.CameraStatusData{
			Running:        st.Running,
			Backend:        string(st.Backend),
			Subscribers:    st.Subscribers,
			LastSequence:   st.LastSeq,
			FramesCaptured: st.FramesCaptured,
			LastError:      st.LastError,
		}
		if !st.StartedAt.IsZero() {
			body.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
		}
		return &models.CameraStatusResponse{Body: body}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/camera/snapshot",
		Summary:     "Snapshot",
		Description: "Latest frame as a single JPEG. Opens the camera briefly when no stream is running.",
		Tags:        []string{"camera"},
		Errors:      []int{503},
	}, func(ctx context.Context, _ *struct{}) (*models.SnapshotResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, s.options.SnapshotTimeout)
		defer cancel()

		frame, err := s.options.Hub.Snapshot(ctx)
		if err != nil {
			s.logger.Warn("Snapshot failed", "error", err)
			return nil, huma.Error503ServiceUnavailable("Camera unavailable", err)
		}
		return &models.SnapshotResponse{
			ContentType:  "image/jpeg",
			CacheControl: "no-cache, no-store, must-revalidate",
			Sequence:     strconv.FormatUint(frame.Seq, 10),
			Body:         frame.Data,
		}, nil
	})
}

func (s *Server) serveVideoFeed(ctx huma.Context) {
	r, w := humago.Unwrap(ctx)
	id := uuid.NewString()

	mw := mjpeg.NewWriter(w, s.options.StreamWriteTimeout)
	err := mjpeg.Serve(r.Context(), s.options.Hub, id, mw)

	switch {
	case err != nil && !mw.Started():
		s.logger.Error("Video feed unavailable", "error", err)
		ctx.SetHeader("Content-Type", "text/plain; charset=utf-8")
		ctx.SetStatus(http.StatusInternalServerError)
		_, _ = ctx.BodyWriter().Write([]byte("camera unavailable: " + err.Error() + "\n"))
	case errors.Is(err, streaming.ErrCaptureFailed), errors.Is(err, streaming.ErrHubClosed):
		s.logger.Info("Video feed ended", "subscriber_id", id, "parts", mw.Parts(), "reason", err)
	case err != nil:
		s.logger.Debug("Video feed client gone", "subscriber_id", id, "parts", mw.Parts(), "error", err)
	default:
		s.logger.Debug("Video feed closed", "subscriber_id", id, "parts", mw.Parts())
	}
}

// cameraHealth reports the running backend, or the one a new stream would
// select. ok is false when that selection fails.
func (s *Server) cameraHealth() models.CameraHealthData {
	cfg := s.options.Camera.Config()
	health := models.CameraHealthData{
		OK:           true,
		HavePicamera: s.options.Camera.HavePicamera(),
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
	}

	if st := s.options.Hub.Status(); st.Running {
		health.Backend = string(st.Backend)
		return health
	}

	backend, err := s.options.Camera.Resolve()
	if err != nil {
		health.OK = false
		health.Backend = string(cfg.Backend)
		return health
	}
	health.Backend = string(backend)
	return health
}
