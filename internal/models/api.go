package models

// ErrorResponse é o corpo de erro da API REST
type ErrorResponse struct {
	ErrorCode    string      `json:"error_code"`
	ErrorMessage string      `json:"error_message"`
	Details      interface{} `json:"details,omitempty"`
}

// ControlRequest é o corpo de POST /control
type ControlRequest struct {
	Command  string `json:"command"`
	Password string `json:"password"`
}

// ControlCommandResponse é a resposta de POST /control. Os campos opcionais
// dependem do comando executado.
type ControlCommandResponse struct {
	Command    string       `json:"command"`
	Success    bool         `json:"success"`
	Message    string       `json:"message,omitempty"`
	Status     SystemStatus `json:"status"`
	PeakSignal *int         `json:"peak_signal,omitempty"`

	// PEAK_SIGNAL
	Signal       *int     `json:"signal,omitempty"`
	HasPeak      *bool    `json:"has_peak,omitempty"`
	CurrentValue *float64 `json:"current_value,omitempty"`
	FrameCount   *uint64  `json:"frame_count,omitempty"`

	// STATUS
	ServerStatus     SystemStatus `json:"server_status,omitempty"`
	ConnectedClients *int         `json:"connected_clients,omitempty"`
	LastPeakSignal   *int         `json:"last_peak_signal,omitempty"`
}

// HealthResponse é a resposta de GET /health
type HealthResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Timestamp float64 `json:"timestamp"`
	Uptime    string  `json:"uptime"`
}

// StatusResponse é a resposta de GET /status
type StatusResponse struct {
	StatusSnapshot
	Timestamp        float64 `json:"timestamp"`
	FPS              int     `json:"fps"`
	ConnectedClients int     `json:"connected_clients"`
	RoiFrameRate     float64 `json:"roi_frame_rate"`
}

// RealtimeSeries é a resposta de GET /data/realtime
type RealtimeSeries struct {
	Count     int            `json:"count"`
	Frames    []Frame        `json:"frames"`
	RoiFrames []RoiFrame     `json:"roi_frames"`
	Snapshot  StatusSnapshot `json:"snapshot"`
}

// RoiConfigResponse é a resposta de GET/POST /roi/config
type RoiConfigResponse struct {
	Configured bool      `json:"configured"`
	Roi        RoiConfig `json:"roi_config"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// FrameRateResponse é a resposta de /roi/frame-rate
type FrameRateResponse struct {
	FrameRate float64 `json:"frame_rate"`
}

// FPSResponse é a resposta de /data/fps
type FPSResponse struct {
	FPS int `json:"fps"`
}

// PeakDetectionConfig é o subconjunto da configuração do detector exposto
// pela API
type PeakDetectionConfig struct {
	Threshold           float64 `json:"threshold"`
	MarginFrames        int     `json:"margin_frames"`
	DifferenceThreshold float64 `json:"difference_threshold"`
	MinRegionLength     int     `json:"min_region_length"`
}

// PeaksResponse é a resposta de GET /peak-detection/peaks
type PeaksResponse struct {
	Source string       `json:"source"`
	Count  int          `json:"count"`
	Peaks  []PeakRegion `json:"peaks"`
}
