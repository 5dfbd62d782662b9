// pkg/schema/events.go
package schema

import "time"

// Camera describes one recorder input channel as exposed by the API.
type Camera struct {
	ID        int    `json:"camera_id"`
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
	Online    bool   `json:"online"`
	Channels  []int  `json:"channels,omitempty"`
}

// SearchRequest asks the recorder for stored footage on one camera.
type SearchRequest struct {
	CameraID  int       `json:"camera_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// SearchResult is the adjusted window the recorder can actually serve,
// together with a streamable source for it. The adjusted window is
// authoritative: capture duration is EndTime - StartTime, not the
// originally requested range.
type SearchResult struct {
	CameraID  int       `json:"camera_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	RTSPURI   string    `json:"rtsp_uri"`
}

// DownloadRequest submits a capture job for a previously searched window.
type DownloadRequest struct {
	CameraID    int       `json:"camera_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Filename    string    `json:"filename,omitempty"`
	CallbackURI string    `json:"callback_uri,omitempty"`
}

// JobLifecycleEvent is published on every job status transition.
type JobLifecycleEvent struct {
	JobID      string  `json:"job_id"`
	CameraID   int     `json:"camera_id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	Error      string  `json:"error,omitempty"`
	HappenedAt int64   `json:"happened_at"`
}

// PreviewOutput describes one poster frame rendered from a captured clip.
type PreviewOutput struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
