// Package extractor parses ZAP XML reports into normalized findings.
// Parsing is deliberately forgiving: scanner output varies between scan
// profiles and ZAP versions, and a half-broken report must never take the
// whole job down.
package extractor

import (
	"encoding/xml"
	"fmt"
	"os"

	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/scan"
)

// ZAP nests alerts either as site > alerts > alertitem (baseline/full scans)
// or as site > alert (older report shapes). Both are mapped onto xmlAlert.
type xmlReport struct {
	Generated string    `xml:"generated,attr"`
	Sites     []xmlSite `xml:"site"`
}

type xmlSite struct {
	Name       string     `xml:"name,attr"`
	AlertItems []xmlAlert `xml:"alerts>alertitem"`
	Alerts     []xmlAlert `xml:"alert"`
}

type xmlAlert struct {
	Alert     string        `xml:"alert"`
	Name      string        `xml:"name"`
	RiskDesc  string        `xml:"riskdesc"`
	Desc      string        `xml:"desc"`
	Solution  string        `xml:"solution"`
	Reference string        `xml:"reference"`
	Nested    []xmlInstance `xml:"instances>instance"`
	Flat      []xmlInstance `xml:"instance"`
}

type xmlInstance struct {
	URI      string `xml:"uri"`
	Method   string `xml:"method"`
	Evidence string `xml:"evidence"`
}

// Extractor turns scanner XML output into an ordered finding list.
type Extractor struct {
	logger logging.Logger
}

func New(logger logging.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractFile reads and parses the XML report at path. An unreadable or
// unparsable file is an error for the caller to isolate; anything short of
// that degrades to a (possibly empty) finding list.
func (e *Extractor) ExtractFile(path string) ([]scan.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scanner report %s: %w", path, err)
	}
	return e.Extract(data)
}

// Extract parses raw XML report bytes into findings, preserving document
// order. Findings whose name, risk and description are all blank are
// skipped. Alerts without instance nodes yield a finding with an empty
// URL set.
func (e *Extractor) Extract(data []byte) ([]scan.Finding, error) {
	var report xmlReport
	if err := xml.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing scanner report: %w", err)
	}

	var findings []scan.Finding
	for _, site := range report.Sites {
		alerts := site.AlertItems
		if len(alerts) == 0 {
			alerts = site.Alerts
		}
		for _, a := range alerts {
			f := scan.Finding{
				Title:       a.Name,
				Risk:        scan.ParseRisk(a.RiskDesc),
				RiskText:    a.RiskDesc,
				Description: a.Desc,
				Solution:    a.Solution,
				Reference:   a.Reference,
			}
			if f.Title == "" {
				f.Title = a.Alert
			}

			instances := a.Nested
			if len(instances) == 0 {
				instances = a.Flat
			}
			for _, in := range instances {
				f.Instances = append(f.Instances, scan.Instance{
					URL:      in.URI,
					Method:   in.Method,
					Evidence: in.Evidence,
				})
			}

			if f.Blank() {
				continue
			}
			findings = append(findings, f)
		}
	}

	if len(findings) == 0 {
		e.logger.Warn("scanner report contained no usable findings",
			logging.Field{Key: "sites", Value: len(report.Sites)})
	}
	return findings, nil
}
