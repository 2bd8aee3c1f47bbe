package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
	"github.com/cwbudde/shiftnoise/internal/store"
)

// waitForState polls until the job reaches a terminal state.
func waitForState(t *testing.T, jm *JobManager, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := jm.GetJob(jobID)
		if isTerminal(job.State) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return Job{}
}

// completedJob runs a small solve synchronously and returns its ID.
func completedJob(t *testing.T, s *Server) string {
	t.Helper()
	job := s.jobManager.CreateJob(testJobConfig())
	if err := runJob(context.Background(), s.jobManager, nil, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}
	return job.ID
}

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", nil)

	body := `{"mode":"bin-floor","quantization":2,"xmax":2,"costBound":1,"tol":1e-4}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(body))
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.Config.Mode != mechanism.ModeBinFloor {
		t.Errorf("Expected bin-floor mode, got %v", job.Config.Mode)
	}
	// unspecified fields keep their defaults
	if job.Config.TemperatureGrowth != mechanism.DefaultConfig().TemperatureGrowth {
		t.Errorf("Expected default temperature growth, got %v", job.Config.TemperatureGrowth)
	}

	final := waitForState(t, s.jobManager, job.ID)
	if final.State != StateCompleted {
		t.Errorf("Expected completed job, got %s (%s)", final.State, final.Error)
	}
}

func TestServer_CreateJob_BadRequest(t *testing.T) {
	s := NewServer(":8080", nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"quantization":`},
		{"unknown mode", `{"mode":"fast","quantization":2,"xmax":2,"costBound":1}`},
		{"missing cost bound", `{"quantization":2,"xmax":2}`},
		{"zero quantization", `{"quantization":0,"xmax":2,"costBound":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}

	if len(s.jobManager.ListJobs()) != 0 {
		t.Error("rejected requests should not create jobs")
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)
	s.jobManager.CreateJob(testJobConfig())
	s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(testJobConfig())

	for _, path := range []string{"/api/v1/jobs", "/api/v1/jobs/" + job.ID + "/status"} {
		req := httptest.NewRequest(http.MethodPut, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", path, w.Code)
		}
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil)
	id := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status["id"] != id {
		t.Error("Status should contain the job ID")
	}
	if status["state"] != string(StateCompleted) {
		t.Errorf("Expected completed, got %v", status["state"])
	}
	if status["feasible"] != true {
		t.Error("Completed job should be feasible")
	}
	if _, ok := status["elapsed"]; !ok {
		t.Error("Status should contain elapsed")
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_GetDistribution(t *testing.T) {
	s := NewServer(":8080", nil)
	id := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/distribution", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var payload struct {
		Grid         []float64 `json:"grid"`
		Distribution []float64 `json:"distribution"`
	}
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(payload.Grid) != 9 || len(payload.Distribution) != 9 {
		t.Errorf("Expected 9 bins, got %d and %d", len(payload.Grid), len(payload.Distribution))
	}
	if payload.Grid[4] != 0 {
		t.Errorf("Expected center point 0, got %v", payload.Grid[4])
	}
}

func TestServer_GetDistribution_Pending(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/distribution", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 before the first iterate, got %d", w.Code)
	}
}

func TestServer_GetPlot(t *testing.T) {
	s := NewServer(":8080", nil)
	id := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/plot.png?width=200&height=100&scale=log", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Expected image/png, got %s", w.Header().Get("Content-Type"))
	}

	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatalf("Failed to decode PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("Expected 200x100 image, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestServer_GetPlot_BadSize(t *testing.T) {
	s := NewServer(":8080", nil)
	id := completedJob(t, s)

	for _, q := range []string{"width=abc", "width=1", "height=999999"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/plot.png?"+q, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, w.Code)
		}
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":8080", nil)
	cfg := testJobConfig()
	cfg.Quantization = 8
	cfg.XMax = 40
	cfg.Tol = 1e-12
	job := s.StartJob(cfg)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	final := waitForState(t, s.jobManager, job.ID)
	if final.State != StateCancelled {
		t.Errorf("Expected cancelled job, got %s", final.State)
	}

	// a finished job cannot be cancelled again
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_SavesRecords(t *testing.T) {
	records, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(":8080", records)
	job := s.StartJob(testJobConfig())

	final := waitForState(t, s.jobManager, job.ID)
	if final.State != StateCompleted {
		t.Fatalf("Expected completed job, got %s (%s)", final.State, final.Error)
	}

	infos, err := records.ListRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].Name != final.Record {
		t.Errorf("Expected record %s, got %+v", final.Record, infos)
	}
}

func TestServer_Index(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(testJobConfig())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "text/html") {
		t.Error("Expected HTML content type")
	}
	body := w.Body.String()
	if !strings.Contains(body, job.ID) {
		t.Error("Index should list the job")
	}
	if !strings.Contains(body, "EventSource") {
		t.Error("Index should subscribe to the progress stream")
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s := NewServer(":8080", nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Error("CORS should allow DELETE")
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	old := progressInterval
	progressInterval = 5 * time.Millisecond
	defer func() { progressInterval = old }()

	s := NewServer(":8080", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	job := s.StartJob(testJobConfig())

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/jobs/%s/stream", ts.URL, job.ID))
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	var last ProgressEvent
	events := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &last); err != nil {
			t.Fatalf("Failed to parse event: %v", err)
		}
		events++
	}

	// the handler closes the stream after the terminal event
	if events == 0 {
		t.Fatal("Expected SSE data in response")
	}
	if last.State != StateCompleted {
		t.Errorf("Expected final completed event, got %s", last.State)
	}
	if last.JobID != job.ID {
		t.Errorf("Expected job %s, got %s", job.ID, last.JobID)
	}
}

func TestServer_JobStream_Finished(t *testing.T) {
	s := NewServer(":8080", nil)
	id := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"/stream", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	// returns immediately with one event
	if n := strings.Count(w.Body.String(), "data: "); n != 1 {
		t.Errorf("Expected 1 event, got %d", n)
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	event := ProgressEvent{
		JobID:       "job1",
		State:       StateRunning,
		Iteration:   10,
		Primal:      0.5,
		Temperature: 9.3,
		Timestamp:   time.Now(),
	}
	eb.Broadcast(event)

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Iteration != 10 {
			t.Errorf("Expected 10 iterations, got %d", received.Iteration)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// late subscribers receive the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.Primal != 0.5 {
			t.Errorf("Expected cached event, got %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for cached event")
	}

	eb.CleanupJob("job1")
}

func TestRenderDistribution(t *testing.T) {
	p := []float64{1e-6, 0.1, 0.8, 0.1, 1e-6}
	img := renderDistribution(p, 100, 50, false)

	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("Expected 100x50, got %v", b)
	}

	// center bar reaches the top margin, the tail bins are colored differently
	centerX := 4 + int(2.5*92.0/5.0)
	if got := img.NRGBAAt(centerX, 5); got != plotBar {
		t.Errorf("Expected bar color at the top of the center bin, got %v", got)
	}
	if got := img.NRGBAAt(centerX, 2); got != plotBackground {
		t.Errorf("Expected background above the margin, got %v", got)
	}
	if got := img.NRGBAAt(4+5, 45); got != plotBackground {
		t.Errorf("Expected tiny tail bar to be invisible on linear scale, got %v", got)
	}

	logImg := renderDistribution(p, 100, 50, true)
	if got := logImg.NRGBAAt(4+5, 44); got != plotBackground {
		t.Errorf("smallest entry sits on the log axis, got %v", got)
	}
	if got := logImg.NRGBAAt(4+27, 30); got != plotBar {
		t.Errorf("Expected shoulder bar to be visible on log scale, got %v", got)
	}

	if empty := renderDistribution(nil, 10, 10, true); empty.NRGBAAt(5, 5) != plotBackground {
		t.Error("empty distribution should render the background")
	}
}
