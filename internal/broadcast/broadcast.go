// Package broadcast defines the outward event surface. The orchestration
// core emits state changes through a Broadcaster; delivery is best-effort
// and failures never propagate back into task execution.
package broadcast

import "log/slog"

// Event names emitted by the orchestration core. The literals are the wire
// names external surfaces subscribe to; changing one breaks every consumer.
const (
	EventTaskUpdated     = "task_update"
	EventCLIOutput       = "cli_output"
	EventSubtaskUpdated  = "subtask_update"
	EventAgentStatus     = "agent_status"
	EventMeetingUpdated  = "meeting_updated"
	EventWorktreeUpdated = "worktree_updated"
	EventDelegationMoved = "delegation_moved"
)

// Broadcaster delivers events to whatever surface is attached (websocket
// hub, log sink, test recorder). Implementations must not block.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// LogBroadcaster writes events to a structured logger. It is the default
// sink when no external surface is attached.
type LogBroadcaster struct {
	logger *slog.Logger
}

// Verify LogBroadcaster implements Broadcaster at compile time.
var _ Broadcaster = (*LogBroadcaster)(nil)

// NewLogBroadcaster creates a Broadcaster backed by the given logger.
func NewLogBroadcaster(logger *slog.Logger) *LogBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBroadcaster{logger: logger}
}

// Broadcast logs the event at debug level.
func (b *LogBroadcaster) Broadcast(event string, payload any) {
	b.logger.Debug("broadcast", "event", event, "payload", payload)
}

// Noop discards all events.
type Noop struct{}

// Broadcast does nothing.
func (Noop) Broadcast(string, any) {}
