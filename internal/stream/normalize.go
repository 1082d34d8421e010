// Package stream turns raw byte chunks from CLI subprocesses and SSE bodies
// into plain text plus structured subtask-lifecycle events.
package stream

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// ansiPattern matches ANSI escape and control sequences (CSI, OSC, and
// single-character escapes) emitted by interactive CLIs.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*(\x07|\x1b\\)|\x1b[@-_]`)

// spinnerRunes are characters used by common terminal spinners. A line made
// of only spinner runes and whitespace carries no information.
const spinnerRunes = "|/-\\⠁⠂⠄⡀⢀⠠⠐⠈⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏·•◐◓◑◒…"

// StripControlSequences removes ANSI escape sequences and carriage returns
// from a chunk so downstream parsing sees deterministic text.
func StripControlSequences(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}

// isSpinnerLine reports whether a line is terminal spinner noise.
func isSpinnerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		if !strings.ContainsRune(spinnerRunes, r) && r != ' ' && r != '.' {
			return false
		}
	}
	return true
}

// DefaultDedupWindow is how long an identical consecutive chunk on the same
// task/stream pair is suppressed.
const DefaultDedupWindow = 150 * time.Millisecond

type dedupEntry struct {
	chunk string
	at    time.Time
}

// Normalizer cleans CLI output chunks: control sequences stripped, spinner
// lines dropped, and duplicate chunks within a short window suppressed.
// It is safe for concurrent use across tasks.
type Normalizer struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]dedupEntry // keyed by taskID + "/" + streamName
}

// NewNormalizer creates a Normalizer with the default dedup window.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		window: DefaultDedupWindow,
		now:    time.Now,
		last:   make(map[string]dedupEntry),
	}
}

// Normalize cleans a chunk for the given task and stream ("stdout"/"stderr").
// Returns the cleaned text and true, or "" and false when the chunk should be
// dropped entirely.
func (n *Normalizer) Normalize(taskID, streamName, chunk string) (string, bool) {
	cleaned := StripControlSequences(chunk)

	var kept []string
	for _, line := range strings.Split(cleaned, "\n") {
		if isSpinnerLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	cleaned = strings.Join(kept, "\n")
	if strings.TrimSpace(cleaned) == "" {
		return "", false
	}

	key := taskID + "/" + streamName
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()

	if prev, ok := n.last[key]; ok && prev.chunk == cleaned && now.Sub(prev.at) < n.window {
		return "", false
	}
	n.last[key] = dedupEntry{chunk: cleaned, at: now}

	return cleaned, true
}

// Forget drops dedup state for a task after its run finishes.
func (n *Normalizer) Forget(taskID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key := range n.last {
		if strings.HasPrefix(key, taskID+"/") {
			delete(n.last, key)
		}
	}
}
