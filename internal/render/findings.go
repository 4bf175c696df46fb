package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// ParsedFinding is one finding re-extracted from the narrative markdown.
// This is intentionally looser than scan.Finding: fields the model omitted
// stay empty, risk falls back to "Low".
type ParsedFinding struct {
	Title       string
	Risk        string
	Description string
	URLs        string
	Evidence    string
	Solution    string
}

var (
	numberedHeading = regexp.MustCompile(`(?m)^###\s*(\d+)\.\s*(.+)$`)

	riskField     = regexp.MustCompile(`(?i)\*\s*(?:\*\*)?Risk Level:?(?:\*\*)?\s*(\w+)`)
	descField     = regexp.MustCompile(`(?is)\*\s*(?:\*\*)?Description:?(?:\*\*)?\s*(.*?)(?:\n\*|\z)`)
	urlsField     = regexp.MustCompile(`(?is)\*\s*(?:\*\*)?(?:Affected\s+)?URLs?:?(?:\*\*)?\s*(.*?)(?:\n\*|\z)`)
	solutionField = regexp.MustCompile(`(?is)\*\s*(?:\*\*)?Solution:?(?:\*\*)?\s*(.*?)(?:\n\*|\z)`)
	evidenceField = regexp.MustCompile(`(?is)\*\s*(?:\*\*)?Evidence:?(?:\*\*)?\s*(.*?)(?:\n\*|\z)`)

	bareURL    = regexp.MustCompile(`https?://[^\s'"<>]+`)
	bulletURL  = regexp.MustCompile(`(?:\+|\*)\s+(https?://[^\s]+)`)
	newlineURL = regexp.MustCompile(`\n\s*(?:\+|\*)\s+(https?://[^\s]+)`)
)

// ExtractFindings re-extracts individual findings from numbered sub-headings
// in the narrative markdown ("### 1. Title" followed by bullet fields). The
// whole document is scanned, not just the Detailed Findings section, so a
// model that drifts from the requested layout still yields findings.
func ExtractFindings(md string) []ParsedFinding {
	heads := numberedHeading.FindAllStringSubmatchIndex(md, -1)
	findings := make([]ParsedFinding, 0, len(heads))

	for _, h := range heads {
		title := strings.TrimSpace(md[h[4]:h[5]])

		// Content runs from the end of this heading to the next heading of
		// any level.
		content := md[h[1]:]
		if next := anyHeading.FindStringIndex(content); next != nil {
			content = content[:next[0]]
		}
		content = strings.TrimSpace(content)

		f := ParsedFinding{Title: title, Risk: "Low"}
		if m := riskField.FindStringSubmatch(content); m != nil {
			f.Risk = m[1]
		}
		if m := descField.FindStringSubmatch(content); m != nil {
			f.Description = strings.TrimSpace(m[1])
		}
		if m := urlsField.FindStringSubmatch(content); m != nil {
			f.URLs = strings.TrimSpace(m[1])
		} else if urls := bareURL.FindAllString(content, -1); len(urls) > 0 {
			lines := make([]string, len(urls))
			for i, u := range urls {
				lines[i] = "+ " + u
			}
			f.URLs = strings.Join(lines, "\n")
		}
		if m := evidenceField.FindStringSubmatch(content); m != nil {
			f.Evidence = strings.TrimSpace(m[1])
		}
		if m := solutionField.FindStringSubmatch(content); m != nil {
			f.Solution = strings.TrimSpace(m[1])
		}

		findings = append(findings, f)
	}
	return findings
}

func riskClass(risk string) string {
	switch strings.ToLower(risk) {
	case "high":
		return "high-risk"
	case "medium":
		return "medium-risk"
	case "informational":
		return "informational-risk"
	default:
		return "low-risk"
	}
}

// formatURLs turns bullet-style URL text into stacked HTML lines.
func formatURLs(urls string) string {
	out := html.EscapeString(urls)
	out = bulletURL.ReplaceAllString(out, `&bull; $1<br>`)
	out = newlineURL.ReplaceAllString(out, `<br>&bull; $1`)
	return out
}

// findingCardHTML renders one finding card. The same card markup is used in
// both the print and web layouts.
func findingCardHTML(f ParsedFinding) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<div class=\"finding-card %s\">\n", riskClass(f.Risk))
	fmt.Fprintf(&b, "  <h3>%s</h3>\n", html.EscapeString(f.Title))
	fmt.Fprintf(&b, "  <p><strong>Risk Level:</strong> <span class=\"badge badge-%s\">%s</span></p>\n",
		strings.ToLower(f.Risk), html.EscapeString(f.Risk))
	fmt.Fprintf(&b, "  <div class=\"description\"><p><strong>Description:</strong> <span>%s</span></p></div>\n",
		html.EscapeString(f.Description))

	if f.URLs != "" {
		fmt.Fprintf(&b, "  <div><p><strong>URLs:</strong> <span class=\"url-note\">(Affected URLs)</span></p><div class=\"url-list\">%s</div></div>\n",
			formatURLs(f.URLs))
	}
	if f.Evidence != "" {
		fmt.Fprintf(&b, "  <div><p><strong>Evidence:</strong></p><div class=\"evidence-block\">%s</div></div>\n",
			html.EscapeString(f.Evidence))
	}
	if f.Solution != "" {
		fmt.Fprintf(&b, "  <div><p><strong>Solution:</strong> <span>%s</span></p></div>\n",
			html.EscapeString(f.Solution))
	}

	b.WriteString("</div>\n")
	return b.String()
}

// printFindingsHTML renders findings sorted by risk in groups of three so
// the print stylesheet can paginate cleanly.
func printFindingsHTML(findings []ParsedFinding) string {
	if len(findings) == 0 {
		return ""
	}

	sorted := make([]ParsedFinding, len(findings))
	copy(sorted, findings)
	rank := func(risk string) int {
		switch strings.ToLower(risk) {
		case "high":
			return 0
		case "medium":
			return 1
		case "low":
			return 2
		default:
			return 3
		}
	}
	// insertion sort keeps document order within a tier
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && rank(sorted[j].Risk) < rank(sorted[j-1].Risk); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var b strings.Builder
	for i := 0; i < len(sorted); i += 3 {
		if i+3 >= len(sorted) {
			b.WriteString("<div class=\"findings-group last-group\">\n")
		} else {
			b.WriteString("<div class=\"findings-group\">\n")
		}
		end := i + 3
		if end > len(sorted) {
			end = len(sorted)
		}
		for _, f := range sorted[i:end] {
			b.WriteString(findingCardHTML(f))
		}
		b.WriteString("</div>\n")
	}
	return b.String()
}

// webFindingsHTML renders the findings of one risk tier as a continuous
// list for the screen layout.
func webFindingsHTML(findings []ParsedFinding, risk string) string {
	var b strings.Builder
	for _, f := range findings {
		if !strings.EqualFold(f.Risk, risk) {
			continue
		}
		b.WriteString(findingCardHTML(f))
	}
	return b.String()
}
