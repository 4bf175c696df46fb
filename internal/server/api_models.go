package server

import "github.com/shadowscan/shadowscan/internal/orchestrator"

// ScanRequest is the POST /scan body. The target is accepted under either
// "url" or "target_url". All variant fields are optional and parsed
// case-insensitively; defaults are basic / enhanced / html.
type ScanRequest struct {
	URL          string `json:"url"`
	TargetURL    string `json:"target_url"`
	ScanType     string `json:"scan_type"`
	ReportType   string `json:"report_type"`
	ReportFormat string `json:"report_format"`
}

// Target returns whichever target field the caller set, preferring "url".
func (r *ScanRequest) Target() string {
	if r.URL != "" {
		return r.URL
	}
	return r.TargetURL
}

// ScanAccepted acknowledges a submitted scan before any work has run.
type ScanAccepted struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Target   string `json:"target"`
	ScanType string `json:"scan_type"`
}

// StatusResponse reports a job's current state; Result is present once the
// job is terminal.
type StatusResponse struct {
	TaskID string               `json:"task_id"`
	State  string               `json:"state"`
	Error  string               `json:"error,omitempty"`
	Result *orchestrator.Result `json:"result,omitempty"`
}
