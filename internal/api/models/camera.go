package models

// CameraHealthData is the camera health document. Field names are short
// because existing front-ends poll it.
type CameraHealthData struct {
	OK           bool   `json:"ok" example:"true" doc:"Whether the configured backend can be used"`
	Backend      string `json:"backend" example:"v4l2" doc:"Running backend, or the one the next stream would use"`
	HavePicamera bool   `json:"have_picamera" example:"false" doc:"Whether the CSI camera helper is installed"`
	Width        int    `json:"w" example:"640" doc:"Configured frame width"`
	Height       int    `json:"h" example:"480" doc:"Configured frame height"`
	FPS          int    `json:"fps" example:"30" doc:"Configured frame rate"`
}

type CameraHealthResponse struct {
	Body CameraHealthData
}

// CameraStatusData describes the capture loop.
type CameraStatusData struct {
	Running        bool   `json:"running" example:"true" doc:"Whether the device is open"`
	Backend        string `json:"backend" example:"picamera" doc:"Backend of the current or last run"`
	Subscribers    int    `json:"subscribers" example:"2" doc:"Connected stream clients"`
	LastSequence   uint64 `json:"last_sequence" example:"1842" doc:"Sequence number of the latest frame"`
	FramesCaptured uint64 `json:"frames_captured" example:"1842" doc:"Frames encoded since start"`
	StartedAt      string `json:"started_at,omitempty" example:"2024-12-15T14:30:00Z" doc:"Start of the current run"`
	LastError      string `json:"last_error,omitempty" example:"capture failed: device unplugged" doc:"Last fatal capture error"`
}

type CameraStatusResponse struct {
	Body CameraStatusData
}

// SnapshotResponse is a single JPEG image.
type SnapshotResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Sequence     string `header:"X-Frame-Sequence"`
	Body         []byte
}
