package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/pkg/logger"
)

type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// JobReader hands out the dispatches addressed to one agent.
type JobReader struct {
	reader messageFetcher
	agent  string
	logger *logger.Logger
	now    func() time.Time
}

// NewJobReader joins the consumer group of agent on the dispatch topic.
func NewJobReader(k *Kafka, topic, groupPrefix, agent string, lg *logger.Logger) *JobReader {
	return newJobReader(k.NewReader(topic, groupPrefix+"-"+agent), agent, lg)
}

func newJobReader(r messageFetcher, agent string, lg *logger.Logger) *JobReader {
	return &JobReader{reader: r, agent: agent, logger: lg.Named("jobs"), now: time.Now}
}

// Next blocks until a job for this agent arrives. The message is committed
// before the job is returned, so a job is picked up at most once even if the
// worker dies mid-call.
func (r *JobReader) Next(ctx context.Context) (domain.CallJob, error) {
	for {
		m, err := r.reader.FetchMessage(ctx)
		if err != nil {
			return domain.CallJob{}, fmt.Errorf("job reader: fetch: %w", err)
		}

		var msg DispatchMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			r.logger.Error("job reader: unmarshal dispatch", zap.Int64("offset", m.Offset), zap.Error(err))
			r.commit(ctx, m)
			continue
		}

		if msg.AgentName != r.agent {
			r.logger.Debug("skipping dispatch for another agent", zap.String("agent", msg.AgentName), logger.DispatchID(msg.DispatchID))
			r.commit(ctx, m)
			continue
		}

		if err := r.reader.CommitMessages(ctx, m); err != nil {
			return domain.CallJob{}, fmt.Errorf("job reader: commit: %w", err)
		}
		return msg.Job(r.now()), nil
	}
}

func (r *JobReader) commit(ctx context.Context, m kafka.Message) {
	if err := r.reader.CommitMessages(ctx, m); err != nil {
		r.logger.Warn("job reader: commit skipped message", zap.Error(err))
	}
}

// Close leaves the consumer group.
func (r *JobReader) Close() error {
	return r.reader.Close()
}
