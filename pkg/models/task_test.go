package models

import "testing"

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusInbox, TaskStatusPlanned, TaskStatusCollaborating,
		TaskStatusInProgress, TaskStatusReview, TaskStatusDone,
		TaskStatusPending, TaskStatusCancelled, TaskStatusFailed,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if TaskStatus("half-done").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusInbox, TaskStatusInProgress, true},
		{TaskStatusInProgress, TaskStatusPending, true},
		{TaskStatusInProgress, TaskStatusCancelled, true},
		{TaskStatusPending, TaskStatusInProgress, true},
		{TaskStatusReview, TaskStatusDone, true},
		{TaskStatusDone, TaskStatusInProgress, false},
		{TaskStatusCancelled, TaskStatusInProgress, false},
		{TaskStatusInbox, TaskStatusDone, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskStatusActiveTerminal(t *testing.T) {
	if !TaskStatusInProgress.Active() {
		t.Error("in_progress should be active")
	}
	if TaskStatusPending.Active() {
		t.Error("pending should not be active")
	}
	for _, s := range []TaskStatus{TaskStatusDone, TaskStatusCancelled, TaskStatusFailed} {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
}

func TestProviderCLI(t *testing.T) {
	if !ProviderClaudeCLI.CLI() || !ProviderCodexCLI.CLI() || !ProviderGeminiCLI.CLI() {
		t.Error("CLI families should report CLI() = true")
	}
	if ProviderAnthropic.CLI() || ProviderAPI.CLI() {
		t.Error("hosted providers should report CLI() = false")
	}
}

func TestSubtaskStatusOpen(t *testing.T) {
	open := []SubtaskStatus{SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusBlocked}
	for _, s := range open {
		if !s.Open() {
			t.Errorf("%q should be open", s)
		}
	}
	if SubtaskStatusDone.Open() || SubtaskStatusCancelled.Open() {
		t.Error("done and cancelled should not be open")
	}
}
