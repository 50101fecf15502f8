package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-load-test/internal/domain"
	callsvc "github.com/acme/voice-load-test/internal/service/call"
	"github.com/acme/voice-load-test/pkg/logger"
)

// queuedJobs hands out a fixed list, then blocks until ctx ends.
type queuedJobs struct {
	mu   sync.Mutex
	jobs []domain.CallJob
}

func (q *queuedJobs) Next(ctx context.Context) (domain.CallJob, error) {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return job, nil
	}
	q.mu.Unlock()
	<-ctx.Done()
	return domain.CallJob{}, ctx.Err()
}

// heldCalls stays connected until its ctx is cancelled.
type heldCalls struct {
	mu       sync.Mutex
	started  chan string
	triggers map[string]domain.EndTrigger
}

func newHeldCalls() *heldCalls {
	return &heldCalls{started: make(chan string, 16), triggers: make(map[string]domain.EndTrigger)}
}

func (h *heldCalls) Handle(ctx context.Context, job domain.CallJob) callsvc.Outcome {
	h.started <- job.Room
	<-ctx.Done()
	trigger := domain.TriggerShutdown
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		trigger = domain.TriggerDurationElapsed
	}
	h.mu.Lock()
	h.triggers[job.Room] = trigger
	h.mu.Unlock()
	return callsvc.Outcome{State: domain.CallStateEnded, Trigger: trigger}
}

type countingSlots struct {
	acquired atomic.Int32
	released atomic.Int32
	err      error
}

func (s *countingSlots) Wait(context.Context, string, time.Duration) (func(context.Context) error, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired.Add(1)
	return func(context.Context) error {
		s.released.Add(1)
		return nil
	}, nil
}

func jobsFor(rooms ...string) *queuedJobs {
	q := &queuedJobs{}
	for i, room := range rooms {
		q.jobs = append(q.jobs, domain.CallJob{Room: room, CallIndex: i, AgentName: "outbound_agent"})
	}
	return q
}

func waitStarted(t *testing.T, h *heldCalls, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.started:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d calls started", i, n)
		}
	}
}

func TestCallsRunConcurrentlyAndShutdownWaitsForThem(t *testing.T) {
	calls := newHeldCalls()
	slots := &countingSlots{}
	w := New(jobsFor("load_test_a_0", "load_test_a_1", "load_test_a_2"), calls, slots, Options{Agent: "outbound_agent"}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStarted(t, calls, 3)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	calls.mu.Lock()
	defer calls.mu.Unlock()
	require.Len(t, calls.triggers, 3)
	for room, trigger := range calls.triggers {
		assert.Equal(t, domain.TriggerShutdown, trigger, room)
	}
	assert.EqualValues(t, 3, slots.acquired.Load())
	assert.EqualValues(t, 3, slots.released.Load())
}

func TestJobTimeoutBoundsEachCall(t *testing.T) {
	calls := newHeldCalls()
	w := New(jobsFor("load_test_b_0"), calls, nil, Options{Agent: "outbound_agent", JobTimeout: 20 * time.Millisecond}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitStarted(t, calls, 1)
	require.Eventually(t, func() bool {
		calls.mu.Lock()
		defer calls.mu.Unlock()
		return calls.triggers["load_test_b_0"] == domain.TriggerDurationElapsed
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestJobWithoutSlotIsDropped(t *testing.T) {
	calls := newHeldCalls()
	slots := &countingSlots{err: errors.New("redis down")}
	w := New(jobsFor("load_test_c_0"), calls, slots, Options{Agent: "outbound_agent"}, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Run(ctx), context.DeadlineExceeded)

	assert.Empty(t, calls.started)
}

type capturedEvents struct {
	mu     sync.Mutex
	events []domain.CallEvent
}

func (c *capturedEvents) PublishCallEvent(_ context.Context, event domain.CallEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestDroppedJobIsReportedAsFailed(t *testing.T) {
	calls := newHeldCalls()
	events := &capturedEvents{}
	slots := &countingSlots{err: errors.New("redis down")}
	jobs := &queuedJobs{jobs: []domain.CallJob{{
		RunID: "abc123", CallIndex: 2, Room: "load_test_abc123_2", DispatchID: "AD_x", AgentName: "outbound_agent",
	}}}
	w := New(jobs, calls, slots, Options{Agent: "outbound_agent", Events: events}, logger.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Run(ctx), context.DeadlineExceeded)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.events, 1)
	got := events.events[0]
	assert.Equal(t, domain.CallStateFailed, got.State)
	assert.Equal(t, domain.TriggerNoCallSlot, got.Trigger)
	assert.Equal(t, "load_test_abc123_2", got.Room)
	assert.Equal(t, 2, got.CallIndex)
	require.NotNil(t, got.Reason)
	assert.Contains(t, got.Reason.Message, "redis down")
	assert.Empty(t, calls.started)
}
