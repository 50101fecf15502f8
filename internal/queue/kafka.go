package queue

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/voice-load-test/internal/config"
)

const defaultClientID = "voice-load-test"

// Kafka holds the broker settings shared by the dispatch and event topics.
type Kafka struct {
	cfg    config.KafkaConfig
	dialer *kafka.Dialer
}

// NewKafka validates the broker list. No connection is made until a reader,
// writer or EnsureTopics needs one.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	return &Kafka{
		cfg:    cfg,
		dialer: &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true, ClientID: cfg.ClientID},
	}, nil
}

// NewWriter creates a synchronous writer for topic. Messages are keyed by room,
// so the hash balancer keeps every message about one room on one partition.
func (k *Kafka) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(k.cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
		Transport:              &kafka.Transport{ClientID: k.cfg.ClientID, DialTimeout: k.dialer.Timeout},
	}
}

// NewReader joins groupID on topic. New groups start at the newest offset,
// so an agent that comes up late never replays stale dispatches.
func (k *Kafka) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		Dialer:         k.dialer,
		StartOffset:    kafka.LastOffset,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        250 * time.Millisecond,
	})
}

// EnsureTopics creates whichever of topics the cluster does not have yet.
// Topic creation has to go through the controller broker.
func (k *Kafka) EnsureTopics(ctx context.Context, partitions, replicationFactor int, topics ...string) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: dial %s: %w", k.cfg.Brokers[0], err)
	}
	defer conn.Close()

	existing, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	missing := missingTopics(existing, topics, partitions, replicationFactor)
	if len(missing) == 0 {
		return nil
	}

	broker, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: find controller: %w", err)
	}
	controller, err := k.dialer.DialContext(ctx, "tcp", net.JoinHostPort(broker.Host, strconv.Itoa(broker.Port)))
	if err != nil {
		return fmt.Errorf("kafka: dial controller: %w", err)
	}
	defer controller.Close()

	if err := controller.CreateTopics(missing...); err != nil {
		return fmt.Errorf("kafka: create topics: %w", err)
	}
	return nil
}

// missingTopics returns a creation request for every wanted topic that is
// neither present nor blank. Duplicates in wanted are collapsed.
func missingTopics(existing []kafka.Partition, wanted []string, partitions, replicationFactor int) []kafka.TopicConfig {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Topic] = true
	}
	var out []kafka.TopicConfig
	for _, topic := range wanted {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		out = append(out, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}
	return out
}

// messageWriter is the part of *kafka.Writer the publishers use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
