package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/narrative"
	"github.com/shadowscan/shadowscan/internal/scan"
	"github.com/shadowscan/shadowscan/internal/zaprunner"
)

// execute runs the pipeline for one job. The scanner stage is the only
// fatal one; extraction, enrichment, rendering and persistence each
// degrade the result and keep going. The returned Result is never nil.
func (o *Orchestrator) execute(ctx context.Context, job *Job) *Result {
	res := &Result{
		Status:       JobCompleted,
		Target:       job.TargetURL,
		ScanType:     job.ScanType,
		ReportType:   job.ReportType,
		ReportFormat: job.ReportFormat,
		Reports:      map[string]string{},
		AIAnalysis:   narrative.Skipped("raw report requested"),
	}

	runRes, runErr := o.runner.Run(ctx, job.ScanType, job.TargetURL)
	if runRes != nil {
		res.ExitCode = runRes.ExitCode
		res.Log = runRes.Log
		for role, path := range runRes.Reports {
			res.Reports[role] = path
		}
		for _, role := range runRes.Missing {
			res.Warnings = append(res.Warnings, fmt.Sprintf("scanner did not produce a %s report", role))
		}
	}
	if runErr != nil {
		res.Status = JobFailed
		res.Error = runErr.Error()
		if errors.Is(runErr, zaprunner.ErrImageNotFound) {
			res.AIAnalysis = narrative.Skipped("scanner image unavailable")
		} else {
			res.AIAnalysis = narrative.Skipped("scan execution failed")
		}
		// artifacts that made it to disk before the failure are still worth
		// keeping
		o.persist(ctx, job, res)
		return res
	}

	if job.ReportType == scan.ReportEnhanced {
		o.enrich(ctx, job, res, runRes)
	}

	o.persist(ctx, job, res)
	return res
}

// enrich runs the extract → narrative → render tail of the pipeline.
// Everything here is best-effort: the scan already completed, so failures
// only downgrade the deliverables.
func (o *Orchestrator) enrich(ctx context.Context, job *Job, res *Result, runRes *zaprunner.RunResult) {
	xmlPath := runRes.XMLPath()
	if xmlPath == "" {
		res.AIAnalysis = narrative.Skipped("no structured scanner output to analyze")
		return
	}

	findings, err := o.extractor.ExtractFile(xmlPath)
	if err != nil {
		o.logger.Warn("finding extraction failed",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "path", Value: xmlPath},
			logging.Field{Key: "error", Value: err.Error()})
		res.AIAnalysis = narrative.Failed(err)
		return
	}

	res.AIAnalysis = o.enricher.Enrich(ctx, findings, xmlPath, job.TargetURL)
	if !res.AIAnalysis.Success {
		return
	}
	res.Reports["markdown"] = res.AIAnalysis.MarkdownPath

	mdText, err := os.ReadFile(res.AIAnalysis.MarkdownPath)
	if err != nil {
		o.logger.Warn("reading narrative document for rendering",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "error", Value: err.Error()})
		res.Warnings = append(res.Warnings, "report rendering skipped: "+err.Error())
		return
	}

	rendered, err := o.renderer.Render(ctx, string(mdText),
		narrative.OutputBasename(xmlPath), job.TargetURL, string(job.ScanType))
	if err != nil {
		o.logger.Warn("report rendering failed",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "error", Value: err.Error()})
		res.Warnings = append(res.Warnings, "report rendering failed: "+err.Error())
		return
	}

	// The scanner's own HTML stays under "html"; the rendered deliverables
	// get their own roles.
	res.Reports["enhanced_html"] = rendered.HTMLPath
	res.Reports["web_html"] = rendered.WebHTMLPath
	if rendered.PDFPath != "" {
		res.Reports["pdf"] = rendered.PDFPath
	} else {
		res.Warnings = append(res.Warnings, "PDF conversion unavailable, HTML outputs only")
	}
	counts := rendered.Counts
	res.Severity = &counts
}

// persist writes whatever artifacts exist to the store. Persistence
// problems never change the job outcome; the in-memory result is already
// complete without them.
func (o *Orchestrator) persist(ctx context.Context, job *Job, res *Result) {
	if o.store == nil || len(res.Reports) == 0 {
		return
	}

	rec, err := o.store.SaveReport(ctx, job.ID, job.TargetURL,
		string(job.ScanType), string(job.ReportType), string(job.ReportFormat),
		job.SessionID, res.Reports)
	if err != nil {
		o.logger.Warn("persisting report artifacts failed",
			logging.Field{Key: "job_id", Value: job.ID},
			logging.Field{Key: "error", Value: err.Error()})
		res.Warnings = append(res.Warnings, "artifact persistence failed: "+err.Error())
		return
	}
	res.ReportID = rec.ReportID
}
