package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/camfeed/internal/events"
)

// registerSSERoutes registers the camera lifecycle event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "camera-events",
		Method:      http.MethodGet,
		Path:        "/api/camera/events",
		Summary:     "Camera Events",
		Description: "Server-sent events for capture start/stop/failure, viewers joining and leaving, and periodic stream metrics",
		Tags:        []string{"camera", "events"},
	}, events.SSETypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 16)
		unsubscribe := events.SubscribeAll(s.options.EventBus, eventCh)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.closing:
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
