// Package render turns a narrative markdown document into the final report
// deliverables: a print-oriented HTML (and PDF derived from it) plus a
// screen-oriented HTML. Section parsing is best-effort and a PDF conversion
// failure never invalidates the HTML outputs.
package render

import (
	"bytes"
	"context"
	"embed"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yuin/goldmark"

	"github.com/shadowscan/shadowscan/internal/logging"
)

//go:embed templates/print.html templates/web.html assets/icon.svg
var assetFS embed.FS

// PDFConverter derives a PDF from an already-written HTML file.
type PDFConverter interface {
	Convert(ctx context.Context, htmlPath, pdfPath string) error
}

// Config for the renderer. FinalDir is where rendered outputs land.
type Config struct {
	FinalDir string
}

// Result carries the rendered output paths and the computed severity
// totals. PDFPath is empty when PDF conversion was unavailable or failed.
type Result struct {
	HTMLPath    string         `json:"html_path"`
	PDFPath     string         `json:"pdf_path,omitempty"`
	WebHTMLPath string         `json:"web_html_path"`
	Counts      SeverityCounts `json:"severity_counts"`
}

// Renderer substitutes parsed narrative content into the two embedded
// presentation templates.
type Renderer struct {
	cfg    Config
	pdf    PDFConverter
	logger logging.Logger
	md     goldmark.Markdown

	// now is swappable in tests so rendering stays byte-comparable
	now func() time.Time
}

func New(cfg Config, pdf PDFConverter, logger logging.Logger) *Renderer {
	return &Renderer{
		cfg:    cfg,
		pdf:    pdf,
		logger: logger,
		md:     goldmark.New(),
		now:    time.Now,
	}
}

// mdToHTML converts a markdown fragment to HTML; on conversion failure the
// fragment is passed through untouched rather than dropped.
func (r *Renderer) mdToHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(fragment), &buf); err != nil {
		r.logger.Warn("markdown conversion failed, using raw text",
			logging.Field{Key: "error", Value: err.Error()})
		return fragment
	}
	return buf.String()
}

func iconDataURI() string {
	data, err := assetFS.ReadFile("assets/icon.svg")
	if err != nil {
		return ""
	}
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(data)
}

func loadTemplate(name string) (string, error) {
	data, err := assetFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("loading template %s: %w", name, err)
	}
	return string(data), nil
}

// substitute expands ${name} placeholders from vars. Unknown placeholders
// expand to the empty string, matching the section-not-found semantics.
func substitute(tmpl string, vars map[string]string) string {
	return os.Expand(tmpl, func(key string) string {
		return vars[key]
	})
}

// Render produces the print HTML, the derived PDF and the web HTML for one
// narrative document. basename controls output file naming:
// <basename>.html, <basename>.pdf, <basename>_web.html.
func (r *Renderer) Render(ctx context.Context, markdown, basename, targetURL, scanType string) (*Result, error) {
	if err := os.MkdirAll(r.cfg.FinalDir, 0755); err != nil {
		return nil, fmt.Errorf("creating final output directory: %w", err)
	}

	sections := ParseSections(markdown)
	counts := CountSeverities(markdown)
	findings := ExtractFindings(markdown)

	if targetURL == "" {
		targetURL = "Unknown Target"
	}
	if scanType == "" {
		scanType = "Unknown Scan Type"
	}

	vars := map[string]string{
		"high_count":             fmt.Sprintf("%d", counts.High),
		"medium_count":           fmt.Sprintf("%d", counts.Medium),
		"low_count":              fmt.Sprintf("%d", counts.Low),
		"info_count":             fmt.Sprintf("%d", counts.Info),
		"executive_summary":      r.mdToHTML(sections.ExecutiveSummary),
		"vulnerability_overview": r.mdToHTML(sections.VulnerabilityOverview),
		"recommendations":        r.mdToHTML(sections.Recommendations),
		"glossary":               r.mdToHTML(sections.Glossary),
		"target_url":             targetURL,
		"scan_type":              scanType,
		"report_date":            r.now().Format("2006-01-02 15:04"),
		"icon_data_uri":          iconDataURI(),
		"pdf_findings_html":      printFindingsHTML(findings),
		"high_findings":          webFindingsHTML(findings, "High"),
		"medium_findings":        webFindingsHTML(findings, "Medium"),
		"low_findings":           webFindingsHTML(findings, "Low"),
		"info_findings":          webFindingsHTML(findings, "Informational"),
	}

	printTmpl, err := loadTemplate("print.html")
	if err != nil {
		return nil, err
	}
	webTmpl, err := loadTemplate("web.html")
	if err != nil {
		return nil, err
	}

	htmlPath := filepath.Join(r.cfg.FinalDir, basename+".html")
	pdfPath := filepath.Join(r.cfg.FinalDir, basename+".pdf")
	webPath := filepath.Join(r.cfg.FinalDir, basename+"_web.html")

	if err := os.WriteFile(htmlPath, []byte(substitute(printTmpl, vars)), 0644); err != nil {
		return nil, fmt.Errorf("writing print HTML: %w", err)
	}
	if err := os.WriteFile(webPath, []byte(substitute(webTmpl, vars)), 0644); err != nil {
		return nil, fmt.Errorf("writing web HTML: %w", err)
	}

	result := &Result{
		HTMLPath:    htmlPath,
		WebHTMLPath: webPath,
		Counts:      counts,
	}

	// PDF is derived from the print HTML; failure keeps the HTML outputs.
	if r.pdf != nil {
		if err := r.pdf.Convert(ctx, htmlPath, pdfPath); err != nil {
			r.logger.Warn("PDF conversion failed, keeping HTML-only output",
				logging.Field{Key: "error", Value: err.Error()})
		} else {
			result.PDFPath = pdfPath
		}
	}

	r.logger.Info("report rendered",
		logging.Field{Key: "html", Value: htmlPath},
		logging.Field{Key: "web_html", Value: webPath},
		logging.Field{Key: "pdf", Value: result.PDFPath},
		logging.Field{Key: "findings", Value: len(findings)})

	return result, nil
}
