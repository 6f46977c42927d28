package workflow

import (
	"strings"
)

// Decision markers workers print on their final lines.
const (
	MarkerNeedsArchitect = "NEEDS_ARCHITECT"
	MarkerSimpleTask     = "SIMPLE_TASK"
	MarkerQAApproved     = "QA_APPROVED"
	MarkerQARejected     = "QA_REJECTED"
	MarkerDevNeedsHelp   = "DEV_NEEDS_HELP"
)

// markerWindow is how many trailing non-empty lines are searched for markers.
// Blank lines are skipped so trailing padding cannot push a marker out of view.
const markerWindow = 5

// maxLabelWords bounds the "Decision:" style label trimmed before an inline marker.
const maxLabelWords = 3

// TriageDecision is the parsed outcome of a tech-lead triage run.
type TriageDecision struct {
	NeedsArchitect bool
	Analysis       string // Text before NEEDS_ARCHITECT
	Plan           string // Text before SIMPLE_TASK
	Defaulted      bool   // No marker found; NeedsArchitect was assumed
}

// QAVerdict is the parsed outcome of a QA review run.
type QAVerdict struct {
	Approved  bool
	Reason    string
	Defaulted bool // No marker found; approval was assumed
}

// markerHit locates a marker inside the output.
type markerHit struct {
	marker string
	before string // Everything preceding the marker, trimmed
	rest   string // Remainder of the marker's line, trimmed
}

// ParseTriageDecision reads a triage result. Missing markers default to NEEDS_ARCHITECT.
func ParseTriageDecision(output string) TriageDecision {
	hit, ok := findMarker(output, MarkerNeedsArchitect, MarkerSimpleTask)
	if !ok {
		return TriageDecision{NeedsArchitect: true, Analysis: strings.TrimSpace(output), Defaulted: true}
	}
	if hit.marker == MarkerSimpleTask {
		return TriageDecision{Plan: hit.before}
	}
	return TriageDecision{NeedsArchitect: true, Analysis: hit.before}
}

// ParseQAVerdict reads a QA result. Missing markers default to approved.
// A bare QA_REJECTED uses the whole output as the reason.
func ParseQAVerdict(output string) QAVerdict {
	hit, ok := findMarker(output, MarkerQAApproved, MarkerQARejected)
	if !ok {
		return QAVerdict{Approved: true, Defaulted: true}
	}
	if hit.marker == MarkerQAApproved {
		return QAVerdict{Approved: true, Reason: hit.rest}
	}

	reason := strings.TrimSpace(strings.TrimLeft(hit.rest, ":- "))
	if reason == "" {
		reason = strings.TrimSpace(output)
	}
	return QAVerdict{Reason: reason}
}

// ParseDevNeedsHelp reports whether a developer asked for escalation.
func ParseDevNeedsHelp(output string) bool {
	return HasMarker(output, MarkerDevNeedsHelp)
}

// HasMarker reports whether marker appears in the trailing lines of output.
func HasMarker(output, marker string) bool {
	_, ok := findMarker(output, marker)
	return ok
}

// findMarker searches the last markerWindow non-empty lines, newest first,
// for any of the given markers. The last occurrence wins.
func findMarker(output string, markers ...string) (markerHit, bool) {
	lines := strings.Split(output, "\n")

	seen := 0
	for i := len(lines) - 1; i >= 0 && seen < markerWindow; i-- {
		line := cleanLine(lines[i])
		if line == "" {
			continue
		}
		seen++

		best, bestAt := "", -1
		for _, m := range markers {
			if at := lastToken(line, m); at > bestAt {
				best, bestAt = m, at
			}
		}
		if bestAt < 0 {
			continue
		}

		prefix := strings.Join(lines[:i], "\n")
		if head := trimLabel(strings.TrimSpace(line[:bestAt])); head != "" {
			prefix += "\n" + head
		}
		return markerHit{
			marker: best,
			before: strings.TrimSpace(prefix),
			rest:   strings.TrimSpace(line[bestAt+len(best):]),
		}, true
	}
	return markerHit{}, false
}

// trimLabel drops a short trailing "Label:" fragment that introduces an inline
// marker, keeping any complete sentence before it.
func trimLabel(head string) string {
	label, ok := strings.CutSuffix(head, ":")
	if !ok {
		return head
	}
	start := 0
	for i := len(label) - 1; i > 0; i-- {
		if label[i] == ' ' && strings.IndexByte(".!?;", label[i-1]) >= 0 {
			start = i
			break
		}
	}
	if len(strings.Fields(label[start:])) > maxLabelWords {
		return head
	}
	return strings.TrimSpace(label[:start])
}

// cleanLine strips markdown emphasis and code fences around a marker line.
func cleanLine(s string) string {
	return strings.Trim(s, " \t\r*`_#>")
}

// lastToken returns the index of the last whole-word occurrence of tok in s, or -1.
func lastToken(s, tok string) int {
	for end := len(s); end > 0; {
		at := strings.LastIndex(s[:end], tok)
		if at < 0 {
			return -1
		}
		if !isWordByte(s, at-1) && !isWordByte(s, at+len(tok)) {
			return at
		}
		end = at
	}
	return -1
}

func isWordByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
