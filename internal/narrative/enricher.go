// Package narrative turns normalized findings into an AI-generated report
// document. Enrichment is strictly best-effort: every failure mode collapses
// into a tagged Outcome so the scan job itself keeps going.
package narrative

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/scan"
)

// Status tags the result of an enrichment attempt.
type Status string

const (
	StatusPerformed Status = "performed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "not_performed"
)

// Outcome is the always-present AI-analysis record attached to a scan
// result. Callers read Success/Error instead of inferring state from
// absent fields.
type Outcome struct {
	Status       Status `json:"status"`
	Success      bool   `json:"success"`
	MarkdownPath string `json:"markdown_path,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Skipped reports that enrichment was intentionally not attempted.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Error: reason}
}

// Failed wraps an enrichment error into a non-fatal outcome.
func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Error: err.Error()}
}

// Config for the enricher. OutputsDir is the shared directory where
// narrative markdown files land.
type Config struct {
	OutputsDir string
}

// Enricher builds the prompt, invokes the text-generation client and
// persists the response next to the other pipeline outputs.
type Enricher struct {
	cfg    Config
	client Client
	logger logging.Logger
}

func NewEnricher(cfg Config, client Client, logger logging.Logger) *Enricher {
	return &Enricher{cfg: cfg, client: client, logger: logger}
}

// OutputBasename derives the narrative file basename from the originating
// XML report path: extension dropped, a trailing "_response" stripped for
// consistency with the rendered outputs.
func OutputBasename(xmlPath string) string {
	base := strings.TrimSuffix(filepath.Base(xmlPath), filepath.Ext(xmlPath))
	base = strings.TrimSuffix(base, "_response")
	return base
}

// Enrich generates the narrative document for the given findings. The
// returned Outcome is never fatal: service errors, write errors and a nil
// client all degrade to a tagged failure.
func (e *Enricher) Enrich(ctx context.Context, findings []scan.Finding, xmlPath, target string) Outcome {
	if e.client == nil {
		return Skipped("no text-generation client configured")
	}

	prompt := BuildPrompt(findings, target)

	text, err := e.client.Complete(ctx, prompt)
	if err != nil {
		e.logger.Warn("narrative generation failed",
			logging.Field{Key: "error", Value: err.Error()})
		return Failed(err)
	}

	if err := os.MkdirAll(e.cfg.OutputsDir, 0755); err != nil {
		e.logger.Warn("creating narrative outputs directory",
			logging.Field{Key: "path", Value: e.cfg.OutputsDir},
			logging.Field{Key: "error", Value: err.Error()})
		return Failed(err)
	}

	mdPath := filepath.Join(e.cfg.OutputsDir, OutputBasename(xmlPath)+".md")
	if err := os.WriteFile(mdPath, []byte(text), 0644); err != nil {
		e.logger.Warn("writing narrative document",
			logging.Field{Key: "path", Value: mdPath},
			logging.Field{Key: "error", Value: err.Error()})
		return Failed(err)
	}

	e.logger.Info("narrative document written",
		logging.Field{Key: "path", Value: mdPath},
		logging.Field{Key: "findings", Value: len(findings)})

	return Outcome{Status: StatusPerformed, Success: true, MarkdownPath: mdPath}
}
