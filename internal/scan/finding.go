package scan

import "strings"

// RiskLevel is the normalized risk tier of a finding.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
	RiskInfo   RiskLevel = "Informational"
)

// ParseRisk normalizes a scanner risk description into a RiskLevel. ZAP
// emits values like "High (Medium)" where the parenthesized part is the
// confidence; only the leading tier matters here. Unrecognized text maps
// to Informational.
func ParseRisk(s string) RiskLevel {
	head := s
	if i := strings.IndexByte(s, '('); i >= 0 {
		head = s[:i]
	}
	switch strings.ToLower(strings.TrimSpace(head)) {
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	case "low":
		return RiskLow
	default:
		return RiskInfo
	}
}

// Rank orders risk levels for sorting: High before Medium before Low before
// everything else.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 0
	case RiskMedium:
		return 1
	case RiskLow:
		return 2
	default:
		return 3
	}
}

// Instance is one occurrence of a finding at a concrete URL.
type Instance struct {
	URL      string `json:"url"`
	Method   string `json:"method"`
	Evidence string `json:"evidence"`
}

// Finding is one normalized vulnerability record extracted from scanner
// output. Findings are transient: they live in the enrichment prompt and
// the rendered report, never in storage on their own.
type Finding struct {
	Title       string     `json:"name"`
	Risk        RiskLevel  `json:"risk"`
	RiskText    string     `json:"risk_text,omitempty"` // raw scanner riskdesc
	Description string     `json:"description"`
	Solution    string     `json:"solution"`
	Reference   string     `json:"reference,omitempty"`
	Instances   []Instance `json:"instances"`
}

// URLs returns the distinct affected URLs across the finding's instances,
// preserving first-seen order.
func (f *Finding) URLs() []string {
	seen := make(map[string]struct{}, len(f.Instances))
	out := make([]string, 0, len(f.Instances))
	for _, in := range f.Instances {
		if in.URL == "" {
			continue
		}
		if _, ok := seen[in.URL]; ok {
			continue
		}
		seen[in.URL] = struct{}{}
		out = append(out, in.URL)
	}
	return out
}

// Blank reports whether the finding carries no usable content. The extractor
// drops a finding only when name, risk and description are all empty.
func (f *Finding) Blank() bool {
	return strings.TrimSpace(f.Title) == "" &&
		strings.TrimSpace(f.RiskText) == "" &&
		strings.TrimSpace(f.Description) == ""
}
