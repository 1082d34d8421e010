package stream

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SubtaskEventKind distinguishes subtask lifecycle events found in a stream.
type SubtaskEventKind string

const (
	// SubtaskStarted indicates a sub-work-item was announced.
	SubtaskStarted SubtaskEventKind = "started"
	// SubtaskCompleted indicates a sub-work-item finished.
	SubtaskCompleted SubtaskEventKind = "completed"
)

// SubtaskEvent is a structured subtask-lifecycle event extracted from
// streamed output.
type SubtaskEvent struct {
	// Kind is whether the sub-work-item started or completed.
	Kind SubtaskEventKind
	// CorrelationID is the provider-local id matching start to stop.
	CorrelationID string
	// ThreadID is the intermediate identifier used by two-step CLI
	// families; empty for single-step providers.
	ThreadID string
	// Title is the sub-work-item title, present on start events.
	Title string
}

// planLookback bounds how much trailing text the plan scanner retains while
// waiting for a JSON object to complete across chunk boundaries.
const planLookback = 8 * 1024

// planPayload is the embedded JSON plan micro-protocol:
// {"subtasks":["title", ...]} announces work items and
// {"subtask_done":"title-or-id"} completes one.
type planPayload struct {
	Subtasks    []string `json:"subtasks"`
	SubtaskDone string   `json:"subtask_done"`
}

// PlanScanner finds the embedded plan/completion micro-protocol inside a
// streamed reply using a bounded look-back buffer. IDs for announced
// subtasks are synthesized as "plan-N" in announcement order.
type PlanScanner struct {
	tail string
	seq  int
}

// NewPlanScanner creates a PlanScanner.
func NewPlanScanner() *PlanScanner { return &PlanScanner{} }

// Feed consumes a text delta and returns any subtask events completed by it.
func (s *PlanScanner) Feed(text string) []SubtaskEvent {
	s.tail += text
	if len(s.tail) > planLookback {
		s.tail = s.tail[len(s.tail)-planLookback:]
	}

	var events []SubtaskEvent
	for {
		obj, rest, ok := nextJSONObject(s.tail)
		if !ok {
			break
		}
		s.tail = rest

		var p planPayload
		if err := json.Unmarshal([]byte(obj), &p); err != nil {
			continue
		}
		for _, title := range p.Subtasks {
			title = strings.TrimSpace(title)
			if title == "" {
				continue
			}
			s.seq++
			events = append(events, SubtaskEvent{
				Kind:          SubtaskStarted,
				CorrelationID: planCorrelationID(s.seq),
				Title:         title,
			})
		}
		if p.SubtaskDone != "" {
			events = append(events, SubtaskEvent{
				Kind:          SubtaskCompleted,
				CorrelationID: strings.TrimSpace(p.SubtaskDone),
			})
		}
	}
	return events
}

func planCorrelationID(seq int) string {
	return "plan-" + strconv.Itoa(seq)
}

// nextJSONObject finds the first balanced JSON object in s that contains one
// of the micro-protocol keys. Returns the object, the remaining text after
// it, and whether an object was found. An opening brace without its closing
// brace yet is left in place for the next Feed call.
func nextJSONObject(s string) (obj, rest string, ok bool) {
	for start := 0; start < len(s); start++ {
		idx := strings.IndexByte(s[start:], '{')
		if idx < 0 {
			return "", s, false
		}
		open := start + idx

		depth := 0
		inString := false
		escaped := false
		for i := open; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[open : i+1]
					if strings.Contains(candidate, `"subtasks"`) || strings.Contains(candidate, `"subtask_done"`) {
						return candidate, s[i+1:], true
					}
					// Not ours; keep scanning past this object.
					start = i
					i = len(s)
				}
			}
		}
		if depth > 0 {
			// Unbalanced: wait for more input.
			return "", s, false
		}
	}
	return "", s, false
}
