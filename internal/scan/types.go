// Package scan holds the closed domain types shared across the pipeline:
// scan/report variants, risk levels and normalized findings. All request
// parameters are parsed into these types at the API boundary so the
// orchestrator never sees raw strings.
package scan

import (
	"fmt"
	"strings"
)

// ScanType selects the scanner invocation profile for a job.
type ScanType string

const (
	ScanBasic  ScanType = "basic"
	ScanFull   ScanType = "full"
	ScanAPI    ScanType = "api"
	ScanSpider ScanType = "spider"
)

// ReportType controls whether the job's output includes AI-generated
// narrative enrichment.
type ReportType string

const (
	ReportNormal   ReportType = "normal"
	ReportEnhanced ReportType = "enhanced"
)

// ReportFormat is the primary deliverable format requested by the caller.
type ReportFormat string

const (
	FormatHTML ReportFormat = "html"
	FormatPDF  ReportFormat = "pdf"
	FormatXML  ReportFormat = "xml"
	FormatJSON ReportFormat = "json"
)

// ValidationError reports an unknown variant value received at the boundary.
type ValidationError struct {
	Param string
	Value string
	Allow []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q (allowed: %s)", e.Param, e.Value, strings.Join(e.Allow, ", "))
}

// ParseScanType accepts the canonical symbolic form or its string-serialized
// form (case-insensitive). Empty input defaults to a basic scan.
func ParseScanType(s string) (ScanType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "basic", "baseline":
		return ScanBasic, nil
	case "full":
		return ScanFull, nil
	case "api":
		return ScanAPI, nil
	case "spider":
		return ScanSpider, nil
	}
	return "", &ValidationError{Param: "scan_type", Value: s, Allow: []string{"basic", "full", "api", "spider"}}
}

// ParseReportType accepts canonical or string-serialized report variants.
// Empty input defaults to an enhanced report.
func ParseReportType(s string) (ReportType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "enhanced":
		return ReportEnhanced, nil
	case "normal", "raw":
		return ReportNormal, nil
	}
	return "", &ValidationError{Param: "report_type", Value: s, Allow: []string{"normal", "enhanced"}}
}

// ParseReportFormat accepts canonical or string-serialized report formats.
// Empty input defaults to HTML.
func ParseReportFormat(s string) (ReportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "html":
		return FormatHTML, nil
	case "pdf":
		return FormatPDF, nil
	case "xml":
		return FormatXML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", &ValidationError{Param: "report_format", Value: s, Allow: []string{"html", "pdf", "xml", "json"}}
}
