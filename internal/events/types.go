package events

// Event type constants for kelindar/event.
const (
	TypeCaptureStarted uint32 = iota + 1
	TypeCaptureStopped
	TypeCaptureFailed
	TypeSubscriberJoined
	TypeSubscriberLeft
	TypeStreamMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CaptureStartedEvent is published when the hub opens a frame source.
type CaptureStartedEvent struct {
	Run       uint64 `json:"run" example:"3" doc:"Capture run number, increasing from 1"`
	Backend   string `json:"backend" example:"v4l2" doc:"Backend that was opened"`
	Width     int    `json:"width" example:"640" doc:"Configured frame width"`
	Height    int    `json:"height" example:"480" doc:"Configured frame height"`
	FPS       int    `json:"fps" example:"30" doc:"Configured frame rate"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStartedEvent.
func (e CaptureStartedEvent) Type() uint32 { return TypeCaptureStarted }

// CaptureStoppedEvent is published when the last subscriber leaves or the
// hub shuts down.
type CaptureStoppedEvent struct {
	Run            uint64 `json:"run" example:"3" doc:"Capture run that stopped"`
	Backend        string `json:"backend" example:"v4l2" doc:"Backend that was closed"`
	Reason         string `json:"reason" example:"idle" doc:"Why capture stopped: idle or shutdown"`
	FramesCaptured uint64 `json:"frames_captured" example:"900" doc:"Frames captured during the run"`
	Timestamp      string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureStoppedEvent.
func (e CaptureStoppedEvent) Type() uint32 { return TypeCaptureStopped }

// CaptureFailedEvent is published when a fatal capture error ends every stream.
type CaptureFailedEvent struct {
	Run         uint64 `json:"run" example:"3" doc:"Capture run that failed"`
	Backend     string `json:"backend" example:"v4l2" doc:"Backend that failed"`
	Error       string `json:"error" example:"device unplugged: no such device" doc:"Fatal error"`
	Subscribers int    `json:"subscribers" example:"2" doc:"Streams that were terminated"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CaptureFailedEvent.
func (e CaptureFailedEvent) Type() uint32 { return TypeCaptureFailed }

// SubscriberJoinedEvent is published when a viewer connects.
type SubscriberJoinedEvent struct {
	SubscriberID string `json:"subscriber_id" example:"5f0c..." doc:"Subscriber identifier"`
	Subscribers  int    `json:"subscribers" example:"1" doc:"Subscriber count after the join"`
	Timestamp    string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SubscriberJoinedEvent.
func (e SubscriberJoinedEvent) Type() uint32 { return TypeSubscriberJoined }

// SubscriberLeftEvent is published when a viewer disconnects.
type SubscriberLeftEvent struct {
	SubscriberID  string `json:"subscriber_id" example:"5f0c..." doc:"Subscriber identifier"`
	Subscribers   int    `json:"subscribers" example:"0" doc:"Subscriber count after the leave"`
	DroppedFrames uint64 `json:"dropped_frames" example:"12" doc:"Frames replaced before this viewer read them"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SubscriberLeftEvent.
func (e SubscriberLeftEvent) Type() uint32 { return TypeSubscriberLeft }

// StreamMetricsEvent carries periodic capture statistics.
type StreamMetricsEvent struct {
	EventType     string `json:"type"`
	FPS           string `json:"fps"`
	Subscribers   int    `json:"subscribers"`
	DroppedFrames string `json:"dropped_frames"`
	FrameBytes    string `json:"frame_bytes"`
}

// Type returns the event type identifier for StreamMetricsEvent.
func (e StreamMetricsEvent) Type() uint32 { return TypeStreamMetrics }
