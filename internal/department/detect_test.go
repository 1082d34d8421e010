package department

import (
	"testing"

	"github.com/bureaulab/bureau/pkg/models"
)

func testDepartments() []*models.Department {
	return []*models.Department{
		{
			ID: "eng", Name: "Engineering",
			Aliases:  []string{"engineering", "dev team"},
			Keywords: []string{"bug", "deploy", "api", "backend"},
		},
		{
			ID: "design", Name: "Design",
			Aliases:  []string{"design"},
			Keywords: []string{"mockup", "figma", "layout", "colors"},
		},
		{
			ID: "qa", Name: "QA",
			Aliases:  []string{"qa", "quality assurance"},
			Keywords: []string{"regression", "test plan", "flaky"},
		},
	}
}

func TestDetectAliasBeatsKeywords(t *testing.T) {
	d := NewDetector(testDepartments())

	// "design" is an explicit alias even though eng keywords appear more often.
	got := d.Detect("ask design about the bug in the deploy api", "qa")
	if got != "design" {
		t.Errorf("Detect = %q, want design", got)
	}
}

func TestDetectKeywordFrequency(t *testing.T) {
	d := NewDetector(testDepartments())

	got := d.Detect("the mockup layout needs new colors", "eng")
	if got != "design" {
		t.Errorf("Detect = %q, want design", got)
	}
}

func TestDetectTieBreakEarliestMatch(t *testing.T) {
	d := NewDetector(testDepartments())

	// One keyword each: "regression" (qa) appears before "mockup" (design).
	got := d.Detect("a regression broke the mockup", "eng")
	if got != "qa" {
		t.Errorf("Detect = %q, want qa", got)
	}
}

func TestDetectNeverReturnsOwner(t *testing.T) {
	d := NewDetector(testDepartments())

	if got := d.Detect("fix the bug in the backend api", "eng"); got != "" {
		t.Errorf("Detect = %q, want empty when only the owner matches", got)
	}
}

func TestDetectNoMatch(t *testing.T) {
	d := NewDetector(testDepartments())

	if got := d.Detect("write the quarterly report", "eng"); got != "" {
		t.Errorf("Detect = %q, want empty", got)
	}
}

func TestDetectIdempotent(t *testing.T) {
	d := NewDetector(testDepartments())

	text := "ship the figma mockup for review"
	first := d.Detect(text, "eng")
	second := d.Detect(text, "eng")
	if first != second {
		t.Errorf("Detect not idempotent: %q vs %q", first, second)
	}
}

func TestDetectWordBoundaries(t *testing.T) {
	d := NewDetector(testDepartments())

	// "debug" contains "bug" but is not a whole-word match.
	if got := d.Detect("debugging the installer", "design"); got != "" {
		t.Errorf("Detect = %q, want empty for substring-only match", got)
	}
}
