package models

// Health models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Time    string `json:"time" example:"2024-12-15T14:30:00Z" doc:"Current server time (UTC, RFC 3339)"`
	App     string `json:"app" example:"camfeed" doc:"Application name"`
	Version string `json:"version" example:"dev" doc:"Application version"`
}

type HealthResponse struct {
	Body HealthData
}

// Info models
type InfoData struct {
	Env       string `json:"env" example:"production" enum:"debug,production" doc:"Runtime mode"`
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type InfoResponse struct {
	Body InfoData
}
