// Package orchestrator drives scan jobs end-to-end: it owns the job queue,
// the worker pool and the fixed pipeline shape
// scan → extract → enrich → render → persist. Stage failures after the
// scan itself degrade the result instead of aborting the job.
package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shadowscan/shadowscan/internal/extractor"
	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/narrative"
	"github.com/shadowscan/shadowscan/internal/render"
	"github.com/shadowscan/shadowscan/internal/scan"
	"github.com/shadowscan/shadowscan/internal/store"
	"github.com/shadowscan/shadowscan/internal/zaprunner"
)

type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
)

type JobEventType string

const (
	JobEventStatus JobEventType = "status"
	JobEventResult JobEventType = "result"
)

// JobEvent is pushed on a job's event channel on every state change so
// websocket clients can follow progress without polling.
type JobEvent struct {
	JobID  string       `json:"job_id"`
	Type   JobEventType `json:"type"`
	Status JobStatus    `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Job is one unit of scan work. The orchestrator owns all mutation; the
// snapshot returned by GetJob is safe to marshal from any goroutine.
type Job struct {
	ID           string            `json:"id"`
	TargetURL    string            `json:"target_url"`
	ScanType     scan.ScanType     `json:"scan_type"`
	ReportType   scan.ReportType   `json:"report_type"`
	ReportFormat scan.ReportFormat `json:"report_format"`
	SessionID    string            `json:"session_id,omitempty"`
	Status       JobStatus         `json:"status"`
	Error        string            `json:"error,omitempty"`
	SubmittedAt  time.Time         `json:"submitted_at"`
	StartedAt    time.Time         `json:"started_at,omitzero"`
	EndedAt      time.Time         `json:"ended_at,omitzero"`
	Result       *Result           `json:"result,omitempty"`

	Events chan JobEvent `json:"-"`
}

// Result is the assembled outcome of one pipeline run. Reports only ever
// contains paths that existed on disk when the result was built, and
// AIAnalysis is always present so callers never infer the degraded state
// from absent fields.
type Result struct {
	Status       JobStatus              `json:"status"`
	Target       string                 `json:"target"`
	ScanType     scan.ScanType          `json:"scan_type"`
	ReportType   scan.ReportType        `json:"report_type"`
	ReportFormat scan.ReportFormat      `json:"report_format"`
	ExitCode     int                    `json:"exit_code"`
	Log          string                 `json:"log,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Warnings     []string               `json:"warnings,omitempty"`
	Reports      map[string]string      `json:"reports"`
	AIAnalysis   narrative.Outcome      `json:"ai_analysis"`
	Severity     *render.SeverityCounts `json:"severity_counts,omitempty"`
	ReportID     string                 `json:"report_id,omitempty"`
}

// Config for the orchestrator.
type Config struct {
	// Workers is the number of concurrent scan workers; each worker runs
	// at most one job at a time.
	Workers int

	// QueueSize bounds the number of submitted-but-unstarted jobs.
	QueueSize int

	// OutputsDir receives narrative markdown documents.
	OutputsDir string

	// FinalDir receives rendered report deliverables.
	FinalDir string
}

func DefaultConfig() Config {
	return Config{
		Workers:    2,
		QueueSize:  32,
		OutputsDir: "reports/outputs",
		FinalDir:   "reports/final",
	}
}

// Orchestrator ties the pipeline stages together.
type Orchestrator struct {
	cfg       Config
	runner    *zaprunner.Runner
	extractor *extractor.Extractor
	enricher  *narrative.Enricher
	renderer  *render.Renderer
	store     *store.Store
	logger    logging.Logger

	jobsMu sync.Mutex
	jobs   map[string]*Job

	queue  chan *Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the orchestrator from already-constructed stages.
func New(cfg Config, runner *zaprunner.Runner, ext *extractor.Extractor, enr *narrative.Enricher, rend *render.Renderer, st *store.Store, logger logging.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.OutputsDir == "" {
		cfg.OutputsDir = def.OutputsDir
	}
	if cfg.FinalDir == "" {
		cfg.FinalDir = def.FinalDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:       cfg,
		runner:    runner,
		extractor: ext,
		enricher:  enr,
		renderer:  rend,
		store:     st,
		logger:    logger,
		jobs:      make(map[string]*Job),
		queue:     make(chan *Job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func(worker int) {
			defer o.wg.Done()
			for job := range o.queue {
				o.runJob(job, worker)
			}
		}(i)
	}
	o.logger.Info("orchestrator started",
		logging.Field{Key: "workers", Value: o.cfg.Workers})
}

// Shutdown stops accepting jobs and waits for in-flight work, bounded by
// ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	close(o.queue)

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates the target, enqueues a new job and returns immediately
// with its snapshot. The request path never waits on scan completion.
func (o *Orchestrator) Submit(targetURL string, scanType scan.ScanType, reportType scan.ReportType, reportFormat scan.ReportFormat, sessionID string) (*Job, error) {
	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q: expected an absolute http(s) URL", targetURL)
	}

	job := &Job{
		ID:           uuid.New().String(),
		TargetURL:    targetURL,
		ScanType:     scanType,
		ReportType:   reportType,
		ReportFormat: reportFormat,
		SessionID:    sessionID,
		Status:       JobPending,
		SubmittedAt:  time.Now().UTC(),
		Events:       make(chan JobEvent, 16),
	}

	o.jobsMu.Lock()
	o.jobs[job.ID] = job
	o.jobsMu.Unlock()

	// Pending goes on the event channel before a worker can see the job;
	// the worker closes the channel when it finishes, so emitting after the
	// enqueue would race that close.
	o.emit(job.ID, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: JobPending})

	select {
	case o.queue <- job:
	default:
		o.jobsMu.Lock()
		delete(o.jobs, job.ID)
		o.jobsMu.Unlock()
		return nil, fmt.Errorf("scan queue is full, try again later")
	}

	if sessionID != "" && o.store != nil {
		if err := o.store.RecordSessionScan(o.ctx, sessionID); err != nil {
			o.logger.Warn("recording session scan",
				logging.Field{Key: "session_id", Value: sessionID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	return o.snapshot(job.ID), nil
}

// GetJob returns a point-in-time copy of a job, or nil when unknown.
func (o *Orchestrator) GetJob(jobID string) *Job {
	return o.snapshot(jobID)
}

// ListJobs returns snapshots of all known jobs, newest first not
// guaranteed; callers sort if they care.
func (o *Orchestrator) ListJobs() []*Job {
	o.jobsMu.Lock()
	ids := make([]string, 0, len(o.jobs))
	for id := range o.jobs {
		ids = append(ids, id)
	}
	o.jobsMu.Unlock()

	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if j := o.snapshot(id); j != nil {
			out = append(out, j)
		}
	}
	return out
}

// Events returns the live event channel for a job, or nil when unknown.
func (o *Orchestrator) Events(jobID string) <-chan JobEvent {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil
	}
	return j.Events
}

func (o *Orchestrator) snapshot(jobID string) *Job {
	o.jobsMu.Lock()
	defer o.jobsMu.Unlock()
	j, ok := o.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *j
	cp.Events = nil
	return &cp
}

func (o *Orchestrator) emit(jobID string, ev JobEvent) {
	o.jobsMu.Lock()
	job, ok := o.jobs[jobID]
	o.jobsMu.Unlock()
	if !ok || job.Events == nil {
		return
	}

	// Non-blocking send; drop if buffer is full.
	select {
	case job.Events <- ev:
	default:
	}
}

func (o *Orchestrator) setStatus(jobID string, status JobStatus, errMsg string) {
	o.jobsMu.Lock()
	if j, ok := o.jobs[jobID]; ok {
		j.Status = status
		j.Error = errMsg
		switch status {
		case JobRunning:
			j.StartedAt = time.Now().UTC()
		case JobCompleted, JobFailed:
			j.EndedAt = time.Now().UTC()
		}
	}
	o.jobsMu.Unlock()
	o.emit(jobID, JobEvent{JobID: jobID, Type: JobEventStatus, Status: status, Error: errMsg})
}

// runJob executes one job on a worker. A panic anywhere in the pipeline
// still yields a structured Failed result instead of losing the job.
func (o *Orchestrator) runJob(job *Job, worker int) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("scan job panicked",
				logging.Field{Key: "job_id", Value: job.ID},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			o.finish(job.ID, &Result{
				Status:       JobFailed,
				Target:       job.TargetURL,
				ScanType:     job.ScanType,
				ReportType:   job.ReportType,
				ReportFormat: job.ReportFormat,
				Error:        fmt.Sprintf("unexpected error: %v", r),
				Reports:      map[string]string{},
				AIAnalysis:   narrative.Skipped("scan did not complete"),
			})
		}

		o.jobsMu.Lock()
		j := o.jobs[job.ID]
		o.jobsMu.Unlock()
		if j != nil && j.Events != nil {
			close(j.Events)
		}
	}()

	o.logger.Info("scan job started",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "worker", Value: worker},
		logging.Field{Key: "target", Value: job.TargetURL},
		logging.Field{Key: "scan_type", Value: string(job.ScanType)})

	o.setStatus(job.ID, JobRunning, "")

	result := o.execute(o.ctx, job)
	o.finish(job.ID, result)
}

func (o *Orchestrator) finish(jobID string, result *Result) {
	o.jobsMu.Lock()
	if j, ok := o.jobs[jobID]; ok {
		// first terminal result wins; the panic handler must not clobber a
		// result the pipeline already recorded
		if j.Result == nil {
			j.Result = result
			j.Status = result.Status
			j.Error = result.Error
			j.EndedAt = time.Now().UTC()
		}
	}
	o.jobsMu.Unlock()

	o.emit(jobID, JobEvent{JobID: jobID, Type: JobEventResult, Status: result.Status, Error: result.Error})

	o.logger.Info("scan job finished",
		logging.Field{Key: "job_id", Value: jobID},
		logging.Field{Key: "status", Value: string(result.Status)},
		logging.Field{Key: "report_id", Value: result.ReportID})
}
