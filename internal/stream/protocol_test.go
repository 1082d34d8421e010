package stream

import (
	"testing"
)

func TestPlanScannerSubtasks(t *testing.T) {
	s := NewPlanScanner()

	events := s.Feed(`Here is my plan: {"subtasks":["Write migration","Add tests"]} proceeding.`)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != SubtaskStarted || events[0].Title != "Write migration" {
		t.Errorf("event 0 = %+v", events[0])
	}
	if events[0].CorrelationID != "plan-1" || events[1].CorrelationID != "plan-2" {
		t.Errorf("correlation ids = %q, %q", events[0].CorrelationID, events[1].CorrelationID)
	}
}

func TestPlanScannerDone(t *testing.T) {
	s := NewPlanScanner()

	events := s.Feed(`{"subtask_done":"plan-1"}`)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Kind != SubtaskCompleted || events[0].CorrelationID != "plan-1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestPlanScannerSplitAcrossChunks(t *testing.T) {
	s := NewPlanScanner()

	if events := s.Feed(`{"subtasks":["Half`); events != nil {
		t.Fatalf("incomplete object produced events: %+v", events)
	}
	events := s.Feed(` a plan"]}`)
	if len(events) != 1 || events[0].Title != "Half a plan" {
		t.Fatalf("got %+v, want one started event", events)
	}
}

func TestPlanScannerIgnoresOtherJSON(t *testing.T) {
	s := NewPlanScanner()

	events := s.Feed(`{"type":"tool_use","name":"Bash"} {"subtask_done":"a1"}`)
	if len(events) != 1 || events[0].CorrelationID != "a1" {
		t.Fatalf("got %+v, want only the subtask_done event", events)
	}
}

func TestScanMarkersSingleStep(t *testing.T) {
	chunk := `{"type":"subagent_start","id":"a1","title":"Write migration"}
some narration
{"type":"subagent_stop","id":"a1"}
`
	events := ScanMarkers(chunk)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != SubtaskStarted || events[0].CorrelationID != "a1" || events[0].Title != "Write migration" {
		t.Errorf("start event = %+v", events[0])
	}
	if events[1].Kind != SubtaskCompleted || events[1].CorrelationID != "a1" {
		t.Errorf("stop event = %+v", events[1])
	}
}

func TestScanMarkersTwoStep(t *testing.T) {
	chunk := `{"type":"spawn_agent","id":"a2","thread_id":"t7","title":"Refactor auth"}
{"type":"close_agent","thread_id":"t7"}
`
	events := ScanMarkers(chunk)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].ThreadID != "t7" || events[0].CorrelationID != "a2" {
		t.Errorf("spawn event = %+v", events[0])
	}
	if events[1].Kind != SubtaskCompleted || events[1].ThreadID != "t7" || events[1].CorrelationID != "" {
		t.Errorf("close event = %+v", events[1])
	}
}

func TestScanMarkersIgnoresNoise(t *testing.T) {
	chunk := "plain text\n{\"type\":\"other\"}\n{broken json\n"
	if events := ScanMarkers(chunk); events != nil {
		t.Errorf("got %+v, want nil", events)
	}
}
