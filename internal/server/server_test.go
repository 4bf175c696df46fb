package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shadowscan/shadowscan/internal/narrative"
	"github.com/shadowscan/shadowscan/internal/orchestrator"
	"github.com/shadowscan/shadowscan/internal/server"
	"github.com/shadowscan/shadowscan/internal/testutil"
	"github.com/shadowscan/shadowscan/internal/zaprunner"
)

// stubDocker fabricates scanner reports so the full submit-to-artifact path
// runs without a container runtime.
func stubDocker(t *testing.T) string {
	t.Helper()
	script := `#!/bin/sh
dir=""
prev=""
for a in "$@"; do
  case "$prev" in
    -v) dir="${a%%:*}" ;;
    -r) html="$a" ;;
    -x) xml="$a" ;;
    -J) json="$a" ;;
  esac
  prev="$a"
done
echo "<html></html>" > "$dir/$html"
echo "<OWASPZAPReport><site name=\"https://t.example\"><alerts><alertitem><alert>Server Leaks Version Information</alert><name>Server Leaks Version Information</name><riskdesc>Low (High)</riskdesc><desc>version header</desc><solution>suppress it</solution></alertitem></alerts></site></OWASPZAPReport>" > "$dir/$xml"
echo "{}" > "$dir/$json"
exit 0
`
	path := filepath.Join(t.TempDir(), "docker-stub")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing stub: %v", err)
	}
	return path
}

func newTestServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	workDir := t.TempDir()

	s, err := server.NewServer(server.Config{
		StorageRoot: filepath.Join(workDir, "storage"),
		Orchestrator: orchestrator.Config{
			Workers:    1,
			OutputsDir: filepath.Join(workDir, "reports", "outputs"),
			FinalDir:   filepath.Join(workDir, "reports", "final"),
		},
		Runner: zaprunner.Config{
			DockerBin:   stubDocker(t),
			ReportsRoot: filepath.Join(workDir, "reports"),
		},
		Narrative: narrative.ClientConfig{}, // no API key: enrichment disabled
		Logger:    testutil.NopLogger{},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func postScan(t *testing.T, client *http.Client, baseURL string, body map[string]string) (*http.Response, server.ScanAccepted) {
	t.Helper()
	payload, _ := json.Marshal(body)
	resp, err := client.Post(baseURL+"/scan", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /scan: %v", err)
	}
	var accepted server.ScanAccepted
	if resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			t.Fatalf("decoding scan response: %v", err)
		}
	}
	resp.Body.Close()
	return resp, accepted
}

func awaitTerminal(t *testing.T, client *http.Client, baseURL, taskID string) server.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/scan/" + taskID + "/status")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		var status server.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("decoding status: %v", err)
		}
		resp.Body.Close()
		if status.State == "Completed" || status.State == "Failed" {
			return status
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return server.StatusResponse{}
}

func TestScanValidation(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	resp, _ := postScan(t, client, ts.URL, map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing url: status %d, want 400", resp.StatusCode)
	}

	resp, _ = postScan(t, client, ts.URL, map[string]string{"url": "https://t.example", "scan_type": "nmap"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad scan_type: status %d, want 400", resp.StatusCode)
	}

	resp, _ = postScan(t, client, ts.URL, map[string]string{"url": "not a url"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad target: status %d, want 400", resp.StatusCode)
	}

	r, err := client.Post(ts.URL+"/scan", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusBadRequest {
		t.Errorf("broken JSON: status %d, want 400", r.StatusCode)
	}
}

func TestScanLifecycleOverHTTP(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	resp, accepted := postScan(t, client, ts.URL, map[string]string{
		"url":       "https://t.example",
		"scan_type": "baseline",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status %d, want 202", resp.StatusCode)
	}
	if accepted.TaskID == "" || accepted.Status != "Scan initiated" {
		t.Fatalf("unexpected ack: %+v", accepted)
	}
	if accepted.ScanType != "basic" {
		t.Errorf("baseline alias not normalized: %q", accepted.ScanType)
	}

	status := awaitTerminal(t, client, ts.URL, accepted.TaskID)
	if status.State != "Completed" {
		t.Fatalf("state = %s, error = %s", status.State, status.Error)
	}
	res := status.Result
	if res == nil {
		t.Fatal("terminal status without result")
	}
	// Enrichment is disabled in the fixture, so the outcome is tagged
	// not_performed and only scanner artifacts exist.
	if res.AIAnalysis.Status == "" || res.AIAnalysis.Success {
		t.Fatalf("unexpected ai analysis: %+v", res.AIAnalysis)
	}
	if res.Reports["xml"] == "" || res.Reports["html"] == "" {
		t.Fatalf("scanner artifacts missing: %+v", res.Reports)
	}
	if res.ReportID == "" {
		t.Fatal("report not persisted")
	}

	// The persisted artifact is retrievable by report id and role.
	artResp, err := client.Get(ts.URL + "/reports/" + res.ReportID + "/artifacts/xml")
	if err != nil {
		t.Fatalf("GET report artifact: %v", err)
	}
	defer artResp.Body.Close()
	if artResp.StatusCode != http.StatusOK {
		t.Fatalf("artifact status %d", artResp.StatusCode)
	}
	if ct := artResp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(artResp.Body)
	if !strings.Contains(string(body), "OWASPZAPReport") {
		t.Errorf("artifact body wrong: %q", body)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/scan/does-not-exist/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
}

func TestUnknownArtifactAndReport(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	for _, path := range []string{
		"/artifacts/00000000-0000-0000-0000-000000000000",
		"/reports/report_none",
		"/reports/report_none/artifacts/html",
	} {
		resp, err := client.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: status %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestSessionCookieAndArtifactListing(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	// First request issues the session cookie.
	resp, err := client.Get(ts.URL + "/jobs")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "shadowscan_session" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("session cookie not issued")
	}

	// Run a scan under that session.
	// target_url is accepted as an alias for url.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/scan",
		strings.NewReader(`{"target_url":"https://t.example"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(sessionCookie)
	scanResp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var accepted server.ScanAccepted
	if err := json.NewDecoder(scanResp.Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}
	scanResp.Body.Close()
	awaitTerminal(t, client, ts.URL, accepted.TaskID)

	// The session listing shows the persisted artifacts, grouped.
	listReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/session/artifacts", nil)
	listReq.AddCookie(sessionCookie)
	listResp, err := client.Do(listReq)
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("list status %d", listResp.StatusCode)
	}

	var listing struct {
		SessionID string `json:"session_id"`
		Groups    []struct {
			ReportID  string          `json:"report_id"`
			Artifacts []struct{ ID string } `json:"artifacts"`
		} `json:"groups"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatal(err)
	}
	if listing.SessionID != sessionCookie.Value {
		t.Errorf("session id = %q, want %q", listing.SessionID, sessionCookie.Value)
	}
	if len(listing.Groups) != 1 {
		t.Fatalf("expected 1 artifact group, got %d", len(listing.Groups))
	}
	if listing.Groups[0].ReportID == "" || len(listing.Groups[0].Artifacts) == 0 {
		t.Fatalf("group not populated: %+v", listing.Groups[0])
	}

	// A fresh session sees nothing.
	otherReq, _ := http.NewRequest(http.MethodGet, ts.URL+"/session/artifacts", nil)
	otherResp, err := client.Do(otherReq)
	if err != nil {
		t.Fatal(err)
	}
	defer otherResp.Body.Close()
	var other struct {
		Groups []json.RawMessage `json:"groups"`
	}
	if err := json.NewDecoder(otherResp.Body).Decode(&other); err != nil {
		t.Fatal(err)
	}
	if len(other.Groups) != 0 {
		t.Fatalf("fresh session should list nothing, got %d groups", len(other.Groups))
	}
}

func TestJobWebSocketStream(t *testing.T) {
	_, ts := newTestServer(t)
	client := ts.Client()

	_, accepted := postScan(t, client, ts.URL, map[string]string{"url": "https://t.example"})
	if accepted.TaskID == "" {
		t.Fatal("no task id")
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/jobs/" + accepted.TaskID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	// First frame is the job snapshot; subsequent frames are events until
	// the job goes terminal and the server closes the stream.
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	var snapshot struct {
		ID string `json:"id"`
	}
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if snapshot.ID != accepted.TaskID {
		t.Fatalf("snapshot id = %q, want %q", snapshot.ID, accepted.TaskID)
	}

	sawTerminal := false
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		if s, ok := frame["status"].(string); ok && (s == "Completed" || s == "Failed") {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Fatal("stream ended without a terminal status frame")
	}

	status := awaitTerminal(t, client, ts.URL, accepted.TaskID)
	if status.State != "Completed" {
		t.Fatalf("state = %s", status.State)
	}
}

func TestCORSHeaders(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/scan", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "POST") {
		t.Error("missing CORS methods header")
	}
}
