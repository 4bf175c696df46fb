package narrative

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/shadowscan/shadowscan/internal/scan"
)

// Prompt shaping limits. The model sees at most maxPromptFindings findings,
// long free-text fields are clipped so one chatty plugin cannot eat the
// whole context window.
const (
	maxPromptFindings = 10
	maxFieldChars     = 500
	maxEvidenceChars  = 100
	maxShownInstances = 3
)

// reportStructure is the exact markdown skeleton the renderer parses later.
// Changing a heading here breaks section extraction downstream.
const reportStructure = `# Executive Summary
(2-3 paragraphs summarizing the overall security posture)

## Vulnerability Overview
(short table or bullet summary of findings by risk level)

## Detailed Findings
(one numbered subsection per finding, exactly in this shape:
### 1. <Finding Title>
* Risk Level: <High|Medium|Low|Informational>
* Description: <what the issue is>
* URLs: <affected URLs>
* Solution: <how to fix it>)

## Recommended Actions
(prioritized remediation steps)

## Glossary
(brief definitions of technical terms used above)`

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	// back off to a rune boundary so the cut never produces invalid UTF-8
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}

// BuildPrompt assembles the single enrichment prompt for a scan of target.
// More than maxPromptFindings findings are reduced to the highest-risk ones
// with a truncation note; zero findings produce a clean-scan prompt instead.
func BuildPrompt(findings []scan.Finding, target string) string {
	var b strings.Builder

	b.WriteString("You are a senior application security analyst. ")
	fmt.Fprintf(&b, "Write a professional web application security report for the target %s ", target)
	b.WriteString("based on the OWASP ZAP scan results below.\n\n")
	b.WriteString("Respond in Markdown only, using exactly this structure:\n\n")
	b.WriteString(reportStructure)
	b.WriteString("\n\n")

	if len(findings) == 0 {
		b.WriteString("The scan completed successfully and found no vulnerabilities. ")
		b.WriteString("Produce a clean-scan report: state clearly that no issues were detected, ")
		b.WriteString("leave the Detailed Findings section empty apart from a short note, and use ")
		b.WriteString("Recommended Actions for standard security hygiene guidance ")
		b.WriteString("(patching, HTTPS, security headers, dependency updates, periodic rescans).\n")
		return b.String()
	}

	selected := findings
	if len(findings) > maxPromptFindings {
		selected = make([]scan.Finding, len(findings))
		copy(selected, findings)
		sort.SliceStable(selected, func(i, j int) bool {
			return selected[i].Risk.Rank() < selected[j].Risk.Rank()
		})
		selected = selected[:maxPromptFindings]
		fmt.Fprintf(&b, "Note: the scan produced %d findings; only the %d highest-risk findings are listed below. Mention this truncation in the Executive Summary.\n\n",
			len(findings), maxPromptFindings)
	}

	b.WriteString("Scan findings:\n\n")
	for i, f := range selected {
		fmt.Fprintf(&b, "### %d. %s\n", i+1, f.Title)
		fmt.Fprintf(&b, "* Risk Level: %s\n", f.Risk)
		fmt.Fprintf(&b, "* Description: %s\n", truncate(f.Description, maxFieldChars))

		if urls := f.URLs(); len(urls) > 0 {
			b.WriteString("* URLs:\n")
			for _, u := range urls {
				fmt.Fprintf(&b, "  + %s\n", u)
			}
		}

		shown, withheld := 0, 0
		for _, in := range f.Instances {
			if strings.TrimSpace(in.Evidence) == "" {
				continue
			}
			if shown == maxShownInstances {
				withheld++
				continue
			}
			fmt.Fprintf(&b, "* Evidence: %s\n", truncate(in.Evidence, maxEvidenceChars))
			shown++
		}
		if withheld > 0 {
			fmt.Fprintf(&b, "* (%d more instances not shown)\n", withheld)
		}

		if f.Solution != "" {
			fmt.Fprintf(&b, "* Solution: %s\n", truncate(f.Solution, maxFieldChars))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// PromptFindingCount returns how many findings BuildPrompt would serialize
// for a given input size.
func PromptFindingCount(total int) int {
	if total > maxPromptFindings {
		return maxPromptFindings
	}
	return total
}
