package queue

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-load-test/internal/config"
)

func TestMissingTopics(t *testing.T) {
	existing := []kafka.Partition{{Topic: "call-dispatches", ID: 0}, {Topic: "call-dispatches", ID: 1}}

	got := missingTopics(existing, []string{"call-dispatches", "call-events", "", "call-events"}, 12, 1)

	require.Len(t, got, 1)
	assert.Equal(t, kafka.TopicConfig{Topic: "call-events", NumPartitions: 12, ReplicationFactor: 1}, got[0])
}

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(config.KafkaConfig{})
	assert.Error(t, err)

	k, err := NewKafka(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	assert.Equal(t, defaultClientID, k.dialer.ClientID)
	assert.Equal(t, "call-events", k.NewWriter("call-events").Topic)
}
