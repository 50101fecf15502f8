package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/queue"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
	"github.com/acme/voice-load-test/pkg/logger"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []queue.DispatchRequest
	failAt   map[int]error
}

func (f *fakeSubmitter) CreateDispatch(_ context.Context, req queue.DispatchRequest) (queue.Dispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.failAt[req.CallIndex]; err != nil {
		return queue.Dispatch{}, err
	}
	return queue.Dispatch{ID: fmt.Sprintf("AD_%d", req.CallIndex), Room: req.Room}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeTrunks struct{ err error }

func (f fakeTrunks) Resolve(_ context.Context, trunkID, phone string) (domain.TrunkDetails, error) {
	if f.err != nil {
		return domain.TrunkDetails{}, f.err
	}
	return domain.TrunkDetails{
		Outbound: domain.Trunk{ID: trunkID, Numbers: []string{"+15550000001"}, Direction: domain.TrunkOutbound},
		Inbound:  domain.Trunk{ID: "ST_in", Numbers: []string{phone}, Direction: domain.TrunkInbound},
	}, nil
}

type fakeRegistry struct{ taken map[string]bool }

func (r *fakeRegistry) Claim(_ context.Context, runID string) (bool, error) {
	if r.taken[runID] {
		return false, nil
	}
	r.taken[runID] = true
	return true, nil
}

type fakeBooks struct {
	mu         sync.Mutex
	started    int
	dispatched []domain.DispatchResult
	final      domain.RunStatus
}

func (b *fakeBooks) RunStarted(context.Context, domain.LoadTestRun) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started++
	return nil
}

func (b *fakeBooks) Dispatched(_ context.Context, r domain.DispatchResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatched = append(b.dispatched, r)
	return errors.New("stats table missing")
}

func (b *fakeBooks) RunFinished(_ context.Context, _ string, status domain.RunStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.final = status
	return nil
}

func testRun(count int, interval time.Duration) domain.LoadTestRun {
	return domain.LoadTestRun{
		RunID:        domain.NewRunID(),
		PhoneNumber:  "+15551234567",
		TrunkID:      "ST_out",
		AgentName:    "outbound_agent",
		CallCount:    count,
		Interval:     interval,
		CallDuration: 10 * time.Second,
	}
}

// recordSleeps replaces the pause between dispatches with a recorder.
func recordSleeps(s *Scheduler) *[]time.Duration {
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return &sleeps
}

func TestBatchDispatchesEveryIndexWithInterval(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{}}, logger.NewNop())
	sleeps := recordSleeps(s)
	run := testRun(3, 5*time.Second)

	batch, err := s.Prepare(context.Background(), run)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	var results []domain.DispatchResult
	for r := range batch.Dispatches(context.Background()) {
		results = append(results, r)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(results))
	}
	for i, r := range results {
		if r.CallIndex != i {
			t.Fatalf("result %d has call index %d", i, r.CallIndex)
		}
		if want := fmt.Sprintf("load_test_%s_%d", run.RunID, i); r.RoomName != want {
			t.Fatalf("expected room %s, got %s", want, r.RoomName)
		}
		if !r.OK() || r.DispatchID != fmt.Sprintf("AD_%d", i) {
			t.Fatalf("unexpected result %+v", r)
		}
	}

	if len(*sleeps) != 2 {
		t.Fatalf("expected a pause between dispatches only, got %v", *sleeps)
	}
	for _, d := range *sleeps {
		if d != 5*time.Second {
			t.Fatalf("expected 5s pauses, got %v", *sleeps)
		}
	}

	info, err := domain.ParseDialInfo(sub.requests[0].Metadata)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if info.PhoneNumber != run.PhoneNumber || info.TrunkID != run.TrunkID || info.Duration != 10 {
		t.Fatalf("unexpected dial info %+v", info)
	}
	if sub.requests[0].AgentName != "outbound_agent" {
		t.Fatalf("dispatch names agent %q", sub.requests[0].AgentName)
	}
}

func TestBatchIsLazyAndPaced(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{}}, logger.NewNop())
	batch, err := s.Prepare(context.Background(), testRun(3, 30*time.Millisecond))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	if sub.count() != 0 {
		t.Fatalf("prepare must not dispatch")
	}

	var times []time.Time
	for r := range batch.Dispatches(context.Background()) {
		times = append(times, r.SubmittedAt)
	}
	if len(times) != 3 {
		t.Fatalf("expected 3 dispatches, got %d", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < 30*time.Millisecond {
			t.Fatalf("dispatch %d came %v after the previous one", i, gap)
		}
	}
}

func TestSubmissionFailureDoesNotStopBatch(t *testing.T) {
	sub := &fakeSubmitter{failAt: map[int]error{1: errors.New("broker unavailable")}}
	books := &fakeBooks{}
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{}, Books: books}, logger.NewNop())
	recordSleeps(s)

	batch, err := s.Prepare(context.Background(), testRun(3, time.Second))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	var failed []int
	total := 0
	for r := range batch.Dispatches(context.Background()) {
		total++
		if !r.OK() {
			failed = append(failed, r.CallIndex)
		}
	}

	if total != 3 || len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("expected 3 results with index 1 failed, got total=%d failed=%v", total, failed)
	}
	if books.started != 1 || len(books.dispatched) != 3 {
		t.Fatalf("bookkeeping not called: %+v", books)
	}
	if books.final != domain.RunStatusDispatched {
		t.Fatalf("expected run to finish dispatched, got %s", books.final)
	}
}

func TestUnknownTrunkIssuesNoDispatch(t *testing.T) {
	sub := &fakeSubmitter{}
	lookupErr := apperrors.Configuration(fmt.Errorf("outbound trunk ST_nope: %w", apperrors.ErrNotFound), "check the trunk id")
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{err: lookupErr}}, logger.NewNop())

	batch, err := s.Prepare(context.Background(), testRun(3, 0))
	if err == nil || batch != nil {
		t.Fatalf("expected prepare to fail")
	}
	if !apperrors.Is(err, apperrors.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if sub.count() != 0 {
		t.Fatalf("expected zero dispatches, got %d", sub.count())
	}
}

func TestInvalidRunParameters(t *testing.T) {
	s := New(Deps{Submitter: &fakeSubmitter{}, Trunks: fakeTrunks{}}, logger.NewNop())

	cases := map[string]func(*domain.LoadTestRun){
		"zero calls":        func(r *domain.LoadTestRun) { r.CallCount = 0 },
		"negative interval": func(r *domain.LoadTestRun) { r.Interval = -time.Second },
		"negative duration": func(r *domain.LoadTestRun) { r.CallDuration = -time.Second },
		"bad number":        func(r *domain.LoadTestRun) { r.PhoneNumber = "call-me" },
		"no trunk":          func(r *domain.LoadTestRun) { r.TrunkID = "" },
	}
	for name, mutate := range cases {
		run := testRun(3, time.Second)
		mutate(&run)
		_, err := s.Prepare(context.Background(), run)
		if !apperrors.Is(err, apperrors.ErrConfiguration) || !apperrors.Is(err, apperrors.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestRunIDCannotBeReused(t *testing.T) {
	registry := &fakeRegistry{taken: map[string]bool{}}
	s := New(Deps{Submitter: &fakeSubmitter{}, Trunks: fakeTrunks{}, Registry: registry}, logger.NewNop())
	run := testRun(1, 0)

	if _, err := s.Prepare(context.Background(), run); err != nil {
		t.Fatalf("first prepare: %v", err)
	}
	if _, err := s.Prepare(context.Background(), run); !apperrors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict on reuse in process, got %v", err)
	}

	other := New(Deps{Submitter: &fakeSubmitter{}, Trunks: fakeTrunks{}, Registry: registry}, logger.NewNop())
	if _, err := other.Prepare(context.Background(), run); !apperrors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict on reuse across processes, got %v", err)
	}
}

func TestDispatchesCanBeConsumedOnce(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{}}, logger.NewNop())
	recordSleeps(s)
	batch, err := s.Prepare(context.Background(), testRun(2, time.Second))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	for range batch.Dispatches(context.Background()) {
	}
	for range batch.Dispatches(context.Background()) {
		t.Fatalf("second iteration yielded a dispatch")
	}
	if sub.count() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", sub.count())
	}
}

func TestConsumerCanStopBatch(t *testing.T) {
	sub := &fakeSubmitter{}
	books := &fakeBooks{}
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{}, Books: books}, logger.NewNop())
	sleeps := recordSleeps(s)
	batch, err := s.Prepare(context.Background(), testRun(5, time.Second))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	for r := range batch.Dispatches(context.Background()) {
		if r.CallIndex == 1 {
			break
		}
	}

	if sub.count() != 2 {
		t.Fatalf("expected 2 dispatches before stopping, got %d", sub.count())
	}
	if len(*sleeps) != 1 {
		t.Fatalf("no pause expected after the consumer stopped, got %v", *sleeps)
	}
	if books.final != domain.RunStatusAborted {
		t.Fatalf("expected aborted run, got %s", books.final)
	}
}

func TestCancelDuringPauseStopsBatch(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(Deps{Submitter: sub, Trunks: fakeTrunks{}}, logger.NewNop())
	batch, err := s.Prepare(context.Background(), testRun(3, time.Hour))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int)
	go func() {
		n := 0
		for range batch.Dispatches(ctx) {
			n++
		}
		done <- n
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("expected one dispatch before cancellation, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("batch did not stop on cancellation")
	}
}
