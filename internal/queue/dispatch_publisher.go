package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const dispatchIDPrefix = "AD_"

// DispatchRequest names the agent, the room and the metadata of a job.
type DispatchRequest struct {
	AgentName string
	Room      string
	Metadata  string
	RunID     string
	CallIndex int
}

// Dispatch is the acknowledgement of a submitted job.
type Dispatch struct {
	ID   string
	Room string
}

// DispatchPublisher submits agent jobs to the dispatch topic.
type DispatchPublisher struct {
	writer messageWriter
	now    func() time.Time
}

// NewDispatchPublisher constructs a publisher for the given topic.
func NewDispatchPublisher(k *Kafka, topic string) *DispatchPublisher {
	return newDispatchPublisher(k.NewWriter(topic))
}

func newDispatchPublisher(w messageWriter) *DispatchPublisher {
	return &DispatchPublisher{writer: w, now: time.Now}
}

// CreateDispatch writes the job and returns once the brokers acknowledged it.
func (p *DispatchPublisher) CreateDispatch(ctx context.Context, req DispatchRequest) (Dispatch, error) {
	if req.AgentName == "" || req.Room == "" {
		return Dispatch{}, fmt.Errorf("dispatch publisher: agent name and room are required")
	}

	msg := DispatchMessage{
		DispatchID: newDispatchID(),
		AgentName:  req.AgentName,
		Room:       req.Room,
		RunID:      req.RunID,
		CallIndex:  req.CallIndex,
		Metadata:   req.Metadata,
		EnqueuedAt: p.now().UTC(),
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return Dispatch{}, fmt.Errorf("dispatch publisher: marshal message: %w", err)
	}

	record := kafka.Message{
		Key:   []byte(msg.Room),
		Value: value,
		Time:  msg.EnqueuedAt,
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return Dispatch{}, fmt.Errorf("dispatch publisher: write message: %w", err)
	}

	return Dispatch{ID: msg.DispatchID, Room: msg.Room}, nil
}

// Close closes the underlying writer.
func (p *DispatchPublisher) Close() error {
	return p.writer.Close()
}

func newDispatchID() string {
	return dispatchIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
