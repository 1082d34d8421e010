package stream

import (
	"bufio"
	"encoding/json"
	"strings"
)

// markerLine is the JSON shape of sub-agent lifecycle markers emitted by the
// CLI provider families.
//
// Single-step family (claude-cli):
//
//	{"type":"subagent_start","id":"a1","title":"Write migration"}
//	{"type":"subagent_stop","id":"a1"}
//
// Two-step family (codex-cli): spawn carries both the correlation id and an
// intermediate thread id; the close only carries the thread id.
//
//	{"type":"spawn_agent","id":"a1","thread_id":"t7","title":"Write migration"}
//	{"type":"close_agent","thread_id":"t7"}
type markerLine struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Title    string `json:"title"`
}

// ScanMarkers extracts sub-agent lifecycle events from a normalized CLI
// output chunk. Non-marker lines and malformed JSON are ignored.
func ScanMarkers(chunk string) []SubtaskEvent {
	var events []SubtaskEvent

	scanner := bufio.NewScanner(strings.NewReader(chunk))
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var m markerLine
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}

		switch m.Type {
		case "subagent_start":
			if m.ID == "" {
				continue
			}
			events = append(events, SubtaskEvent{
				Kind:          SubtaskStarted,
				CorrelationID: m.ID,
				Title:         m.Title,
			})
		case "subagent_stop":
			if m.ID == "" {
				continue
			}
			events = append(events, SubtaskEvent{
				Kind:          SubtaskCompleted,
				CorrelationID: m.ID,
			})
		case "spawn_agent":
			if m.ID == "" {
				continue
			}
			events = append(events, SubtaskEvent{
				Kind:          SubtaskStarted,
				CorrelationID: m.ID,
				ThreadID:      m.ThreadID,
				Title:         m.Title,
			})
		case "close_agent":
			if m.ThreadID == "" {
				continue
			}
			events = append(events, SubtaskEvent{
				Kind:     SubtaskCompleted,
				ThreadID: m.ThreadID,
			})
		}
	}

	return events
}
