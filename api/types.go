package api

// APIError is the body of every non-2xx response
type APIError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// ControlResponse answers /start and /stop
type ControlResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

// ZoneBody is both request and response of /zone
type ZoneBody struct {
	Points [][]int `json:"points"`
}

// SourceRequest selects the input of the next run: a file path or a camera index
type SourceRequest struct {
	Path   string `json:"path,omitempty"`
	Camera *int   `json:"camera,omitempty"`
}

// SourceResponse echoes the accepted source
type SourceResponse struct {
	Source string `json:"source"`
}
