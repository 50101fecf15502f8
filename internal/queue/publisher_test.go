package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-load-test/internal/domain"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestCreateDispatchKeysByRoom(t *testing.T) {
	w := &captureWriter{}
	p := newDispatchPublisher(w)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	d, err := p.CreateDispatch(context.Background(), DispatchRequest{
		AgentName: "outbound_agent",
		Room:      "load_test_abc_0",
		Metadata:  `{"phone_number":"+15551234567","trunk_id":"ST_1","duration":10}`,
		RunID:     "abc",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(d.ID, "AD_"))
	assert.Equal(t, "load_test_abc_0", d.Room)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "load_test_abc_0", string(w.msgs[0].Key))

	var msg DispatchMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, d.ID, msg.DispatchID)
	assert.Equal(t, "outbound_agent", msg.AgentName)

	job := msg.Job(time.Now())
	info, err := domain.ParseDialInfo(job.Metadata)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, info.CallDuration())
}

func TestCreateDispatchWriteFailure(t *testing.T) {
	p := newDispatchPublisher(&captureWriter{err: errors.New("broker down")})

	_, err := p.CreateDispatch(context.Background(), DispatchRequest{AgentName: "a", Room: "r"})
	assert.ErrorContains(t, err, "broker down")
}

func TestCreateDispatchRequiresRoom(t *testing.T) {
	_, err := newDispatchPublisher(&captureWriter{}).CreateDispatch(context.Background(), DispatchRequest{AgentName: "a"})
	assert.Error(t, err)
}

func TestDispatchIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newDispatchID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
