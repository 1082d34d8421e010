// Package department routes work between departments: a local detection
// heuristic over aliases and keywords, and an LLM-assisted reroute that
// reassigns a task's pending subtasks.
package department

import (
	"strings"
	"unicode"

	"github.com/bureaulab/bureau/pkg/models"
)

// Detector scores free text against department routing vocabularies.
type Detector struct {
	departments []*models.Department
}

// NewDetector creates a detector over the given departments.
func NewDetector(departments []*models.Department) *Detector {
	return &Detector{departments: departments}
}

// Detect returns the department the text most plausibly belongs to, or ""
// when no department other than the owner matches. An exact alias or name
// mention beats keyword scoring; keyword ties break on the earliest first
// match in the text. The owning department is never returned.
func (d *Detector) Detect(text, ownerDeptID string) string {
	lower := strings.ToLower(text)

	// Pass 1: explicit name or alias mention. Earliest mention wins.
	bestAlias := ""
	bestAliasPos := -1
	for _, dept := range d.departments {
		if dept.ID == ownerDeptID {
			continue
		}
		terms := append([]string{strings.ToLower(dept.Name)}, dept.Aliases...)
		for _, term := range terms {
			pos := indexWord(lower, strings.ToLower(term))
			if pos < 0 {
				continue
			}
			if bestAliasPos < 0 || pos < bestAliasPos {
				bestAlias = dept.ID
				bestAliasPos = pos
			}
		}
	}
	if bestAlias != "" {
		return bestAlias
	}

	// Pass 2: keyword frequency, ties broken by earliest first match.
	bestID := ""
	bestScore := 0
	bestFirst := -1
	for _, dept := range d.departments {
		if dept.ID == ownerDeptID {
			continue
		}
		score := 0
		first := -1
		for _, kw := range dept.Keywords {
			k := strings.ToLower(kw)
			pos := indexWord(lower, k)
			if pos < 0 {
				continue
			}
			score += countWord(lower, k)
			if first < 0 || pos < first {
				first = pos
			}
		}
		if score == 0 {
			continue
		}
		if score > bestScore || (score == bestScore && first >= 0 && (bestFirst < 0 || first < bestFirst)) {
			bestID = dept.ID
			bestScore = score
			bestFirst = first
		}
	}
	return bestID
}

// indexWord returns the byte offset of the first whole-word occurrence of
// term in s, or -1.
func indexWord(s, term string) int {
	if term == "" {
		return -1
	}
	from := 0
	for {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return -1
		}
		pos := from + i
		if wordBoundary(s, pos, len(term)) {
			return pos
		}
		from = pos + 1
	}
}

// countWord counts whole-word occurrences of term in s.
func countWord(s, term string) int {
	n := 0
	from := 0
	for {
		i := strings.Index(s[from:], term)
		if i < 0 {
			return n
		}
		pos := from + i
		if wordBoundary(s, pos, len(term)) {
			n++
		}
		from = pos + len(term)
	}
}

func wordBoundary(s string, pos, length int) bool {
	if pos > 0 {
		r := rune(s[pos-1])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end := pos + length; end < len(s) {
		r := rune(s[end])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
