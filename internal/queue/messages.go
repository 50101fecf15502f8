package queue

import (
	"time"

	"github.com/acme/voice-load-test/internal/domain"
)

// DispatchMessage asks the named agent to take a job in a room.
type DispatchMessage struct {
	DispatchID string    `json:"dispatch_id"`
	AgentName  string    `json:"agent_name"`
	Room       string    `json:"room"`
	RunID      string    `json:"run_id"`
	CallIndex  int       `json:"call_index"`
	Metadata   string    `json:"metadata"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Job converts the message into the job an agent handles.
func (m DispatchMessage) Job(receivedAt time.Time) domain.CallJob {
	return domain.CallJob{
		DispatchID: m.DispatchID,
		AgentName:  m.AgentName,
		Room:       m.Room,
		RunID:      m.RunID,
		CallIndex:  m.CallIndex,
		Metadata:   m.Metadata,
		ReceivedAt: receivedAt,
	}
}

// EventMessage is a call state transition on the event topic.
type EventMessage = domain.CallEvent
