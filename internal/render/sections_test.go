package render_test

import (
	"strings"
	"testing"

	"github.com/shadowscan/shadowscan/internal/render"
)

const sampleNarrative = `# Executive Summary

The application showed a moderate security posture overall.

Two issues require attention before the next release.

## Vulnerability Overview

| Risk | Count |
|------|-------|
| High | 1 |
| Medium | 1 |

## Detailed Findings

### 1. SQL Injection
* Risk Level: High
* Description: User input reaches a SQL query unescaped.
* URLs:
  + https://t.example/search
* Solution: Use parameterized queries.

### 2. Missing CSP Header
* **Risk Level:** Medium
* **Description:** No Content-Security-Policy header is set.
* **Solution:** Define a restrictive CSP.

## Recommended Actions

1. Fix the injection first.
2. Add security headers.

## Glossary

**CSP**: Content Security Policy.
`

func TestParseSections(t *testing.T) {
	s := render.ParseSections(sampleNarrative)

	if s.ExecutiveSummary == "" || s.VulnerabilityOverview == "" ||
		s.DetailedFindings == "" || s.Recommendations == "" || s.Glossary == "" {
		t.Fatalf("missing sections: %+v", s)
	}
	if want := "The application showed a moderate security posture overall."; s.ExecutiveSummary[:len(want)] != want {
		t.Errorf("executive summary starts wrong: %q", s.ExecutiveSummary)
	}
	// Prose sections stop at the next heading of any level.
	if contains(s.ExecutiveSummary, "Vulnerability Overview") {
		t.Error("executive summary bleeds into next section")
	}
	if contains(s.VulnerabilityOverview, "SQL Injection") {
		t.Error("overview bleeds into findings")
	}
	if !contains(s.Recommendations, "Fix the injection first.") {
		t.Errorf("recommendations wrong: %q", s.Recommendations)
	}
}

func TestParseSectionsDetailedFindingsKeepsSubheadings(t *testing.T) {
	s := render.ParseSections(sampleNarrative)

	// The numbered "### <n>." sub-headings belong to the findings section;
	// it must run up to the next level-1/2 heading, not stop at the first
	// sub-heading.
	if !contains(s.DetailedFindings, "### 1. SQL Injection") {
		t.Errorf("first finding missing: %q", s.DetailedFindings)
	}
	if !contains(s.DetailedFindings, "### 2. Missing CSP Header") {
		t.Errorf("second finding missing: %q", s.DetailedFindings)
	}
	if contains(s.DetailedFindings, "Fix the injection first.") {
		t.Error("findings bleed into recommendations")
	}
}

func TestParseSectionsMissingHeadings(t *testing.T) {
	s := render.ParseSections("just some prose without headings")
	if s.ExecutiveSummary != "" || s.Glossary != "" {
		t.Fatalf("expected empty sections, got %+v", s)
	}
}

func TestParseSectionsAlternateRecommendationsHeading(t *testing.T) {
	s := render.ParseSections("## Recommendations\n\nPatch everything.\n")
	if !contains(s.Recommendations, "Patch everything.") {
		t.Fatalf("alternate heading not recognized: %q", s.Recommendations)
	}
}

func TestCountSeverities(t *testing.T) {
	counts := render.CountSeverities(sampleNarrative)

	if counts.High != 1 || counts.Medium != 1 || counts.Low != 0 || counts.Info != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestCountSeveritiesMarkerVariants(t *testing.T) {
	md := "* Risk Level: High\n**Risk Level:** medium\n* risk level: Informational\n* Risk Level: Info\n"
	counts := render.CountSeverities(md)

	if counts.High != 1 {
		t.Errorf("high = %d, want 1", counts.High)
	}
	if counts.Medium != 1 {
		t.Errorf("medium = %d, want 1", counts.Medium)
	}
	// Both "Informational" and "Info" match the info marker.
	if counts.Info != 2 {
		t.Errorf("info = %d, want 2", counts.Info)
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
