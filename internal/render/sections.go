package render

import (
	"regexp"
	"strings"
)

// Sections is the best-effort decomposition of a narrative document. A
// section the model did not produce is simply the empty string.
type Sections struct {
	ExecutiveSummary      string
	VulnerabilityOverview string
	DetailedFindings      string
	Recommendations       string
	Glossary              string
}

// SeverityCounts are the authoritative per-tier totals shown in both
// renders. They are counted from literal risk-level markers in the raw
// markdown, not from re-extracted findings, so a finding the structural
// parser missed still shows up in the totals.
type SeverityCounts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
	Info   int `json:"info"`
}

var (
	anyHeading = regexp.MustCompile(`(?m)^#{1,6}\s`)
	topHeading = regexp.MustCompile(`(?m)^#{1,2}\s`)

	execSummaryHeading  = regexp.MustCompile(`(?mi)^#{1,2}\s*Executive Summary\s*$`)
	vulnOverviewHeading = regexp.MustCompile(`(?mi)^#{1,2}\s*Vulnerability Overview\s*$`)
	detailedHeading     = regexp.MustCompile(`(?mi)^#{1,2}\s*Detailed Findings\s*$`)
	recommendHeading    = regexp.MustCompile(`(?mi)^#{1,2}\s*(?:Recommended Actions|Recommendations)\s*$`)
	glossaryHeading     = regexp.MustCompile(`(?mi)^#{1,2}\s*Glossary\s*$`)

	riskHighMarker   = regexp.MustCompile(`(?i)(\*\*)?Risk Level:(\*\*)?\s*High`)
	riskMediumMarker = regexp.MustCompile(`(?i)(\*\*)?Risk Level:(\*\*)?\s*Medium`)
	riskLowMarker    = regexp.MustCompile(`(?i)(\*\*)?Risk Level:(\*\*)?\s*Low`)
	riskInfoMarker   = regexp.MustCompile(`(?i)(\*\*)?Risk Level:(\*\*)?\s*Info`)
)

// sectionAfter returns the text between a heading and the next heading
// matching until. Missing heading yields "".
func sectionAfter(md string, heading, until *regexp.Regexp) string {
	loc := heading.FindStringIndex(md)
	if loc == nil {
		return ""
	}
	rest := md[loc[1]:]
	if next := until.FindStringIndex(rest); next != nil {
		rest = rest[:next[0]]
	}
	return strings.TrimSpace(rest)
}

// ParseSections extracts the known narrative sections from raw markdown.
// Detailed Findings is made of "### <n>. <title>" sub-headings, so that
// section only ends at the next level-1/2 heading; the prose sections end
// at a heading of any level.
func ParseSections(md string) Sections {
	return Sections{
		ExecutiveSummary:      sectionAfter(md, execSummaryHeading, anyHeading),
		VulnerabilityOverview: sectionAfter(md, vulnOverviewHeading, anyHeading),
		DetailedFindings:      sectionAfter(md, detailedHeading, topHeading),
		Recommendations:       sectionAfter(md, recommendHeading, anyHeading),
		Glossary:              sectionAfter(md, glossaryHeading, anyHeading),
	}
}

// CountSeverities counts literal Risk Level markers (case-insensitive,
// optional bold wrapping) in the raw markdown text.
func CountSeverities(md string) SeverityCounts {
	return SeverityCounts{
		High:   len(riskHighMarker.FindAllStringIndex(md, -1)),
		Medium: len(riskMediumMarker.FindAllStringIndex(md, -1)),
		Low:    len(riskLowMarker.FindAllStringIndex(md, -1)),
		Info:   len(riskInfoMarker.FindAllStringIndex(md, -1)),
	}
}
