package loadtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/repository"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

type memoryRuns struct {
	runs map[string]*domain.Run
}

func (m *memoryRuns) Create(_ context.Context, run *domain.Run) error {
	if _, ok := m.runs[run.RunID]; ok {
		return repository.ErrConflict
	}
	m.runs[run.RunID] = run
	return nil
}

func (m *memoryRuns) Get(_ context.Context, id string) (*domain.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return run, nil
}

func (m *memoryRuns) UpdateStatus(_ context.Context, id string, status domain.RunStatus) error {
	run, ok := m.runs[id]
	if !ok {
		return repository.ErrNotFound
	}
	run.Status = status
	return nil
}

func (m *memoryRuns) List(context.Context, int) ([]*domain.Run, error) { return nil, nil }

type memoryStats struct {
	deltas []repository.StatsDelta
}

func (m *memoryStats) Ensure(context.Context, string) error { return nil }

func (m *memoryStats) Get(context.Context, string) (*domain.RunStats, error) {
	return nil, repository.ErrNotFound
}

func (m *memoryStats) ApplyDelta(_ context.Context, _ string, d repository.StatsDelta) error {
	m.deltas = append(m.deltas, d)
	return nil
}

type pagedCalls struct {
	pages [][]domain.CallRecord
}

func (p *pagedCalls) ApplyEvent(context.Context, domain.CallEvent) error { return nil }

func (p *pagedCalls) GetCall(context.Context, string, int) (*domain.CallRecord, error) {
	return nil, repository.ErrNotFound
}

func (p *pagedCalls) ListCallsByRun(_ context.Context, _ string, _ int, state []byte) ([]domain.CallRecord, []byte, error) {
	page := 0
	if len(state) > 0 {
		page = int(state[0])
	}
	var next []byte
	if page+1 < len(p.pages) {
		next = []byte{byte(page + 1)}
	}
	return p.pages[page], next, nil
}

func (p *pagedCalls) ListEvents(context.Context, string, int) ([]domain.CallEvent, error) {
	return nil, nil
}

func newTestService(calls repository.CallStore) (*Service, *memoryRuns, *memoryStats) {
	runs := &memoryRuns{runs: map[string]*domain.Run{}}
	stats := &memoryStats{}
	defaults := config.LoadTestConfig{CallCount: 3, Interval: 5 * time.Second, CallDuration: 10 * time.Second, AgentName: "outbound_agent"}
	return NewService(runs, stats, calls, defaults), runs, stats
}

func TestNewRunAppliesDefaults(t *testing.T) {
	svc, _, _ := newTestService(nil)

	run, err := svc.NewRun(NewRunInput{PhoneNumber: "+15551234567", TrunkID: "ST_out"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.CallCount != 3 || run.Interval != 5*time.Second || run.CallDuration != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", run)
	}
	if run.AgentName != "outbound_agent" || len(run.RunID) != 12 {
		t.Fatalf("unexpected run %+v", run)
	}

	zero := time.Duration(0)
	run, err = svc.NewRun(NewRunInput{PhoneNumber: "+15551234567", TrunkID: "ST_out", Interval: &zero})
	if err != nil || run.Interval != 0 {
		t.Fatalf("explicit zero interval must be kept, got %v %v", run.Interval, err)
	}
}

func TestNewRunValidationFailures(t *testing.T) {
	svc, _, _ := newTestService(nil)
	zero, negative, fractional := 0, -time.Second, 1500*time.Millisecond

	cases := []NewRunInput{
		{TrunkID: "ST_out"},
		{PhoneNumber: "12", TrunkID: "ST_out"},
		{PhoneNumber: "+15551234567"},
		{PhoneNumber: "+15551234567", TrunkID: "ST_out", CallCount: &zero},
		{PhoneNumber: "+15551234567", TrunkID: "ST_out", Interval: &negative},
		{PhoneNumber: "+15551234567", TrunkID: "ST_out", CallDuration: &fractional},
	}
	for _, tc := range cases {
		if _, err := svc.NewRun(tc); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error for input %+v, got %v", tc, err)
		}
	}
}

func TestBookkeeping(t *testing.T) {
	svc, runs, stats := newTestService(nil)
	run, err := svc.NewRun(NewRunInput{PhoneNumber: "+15551234567", TrunkID: "ST_out"})
	if err != nil {
		t.Fatalf("new run: %v", err)
	}

	if err := svc.RunStarted(context.Background(), run); err != nil {
		t.Fatalf("run started: %v", err)
	}
	if runs.runs[run.RunID].Status != domain.RunStatusDispatching {
		t.Fatalf("expected dispatching status")
	}

	ok := domain.DispatchResult{CallDispatch: domain.CallDispatch{RunID: run.RunID}}
	failed := domain.DispatchResult{CallDispatch: domain.CallDispatch{RunID: run.RunID}, Err: errors.New("x")}
	_ = svc.Dispatched(context.Background(), ok)
	_ = svc.Dispatched(context.Background(), failed)
	if len(stats.deltas) != 2 || stats.deltas[0].Dispatched != 1 || stats.deltas[1].DispatchFailed != 1 {
		t.Fatalf("unexpected deltas %+v", stats.deltas)
	}

	if err := svc.RunFinished(context.Background(), run.RunID, domain.RunStatusDispatched); err != nil {
		t.Fatalf("run finished: %v", err)
	}
	if runs.runs[run.RunID].Status != domain.RunStatusDispatched {
		t.Fatalf("expected dispatched status")
	}
}

func TestReportShowsBusyCall(t *testing.T) {
	connected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := connected.Add(10 * time.Second)
	calls := &pagedCalls{pages: [][]domain.CallRecord{
		{
			{CallIndex: 0, State: domain.CallStateEnded, Trigger: domain.TriggerDurationElapsed, ConnectedAt: &connected, EndedAt: &ended},
			{CallIndex: 1, State: domain.CallStateFailed, Trigger: domain.TriggerDialFailed, Reason: &domain.FailureReason{Code: 486, Status: "Busy Here"}},
		},
		{
			{CallIndex: 2, State: domain.CallStateEnded, Trigger: domain.TriggerDurationElapsed, ConnectedAt: &connected, EndedAt: &ended},
		},
	}}
	svc, runs, _ := newTestService(calls)
	runs.runs["abc"] = &domain.Run{LoadTestRun: domain.LoadTestRun{RunID: "abc", CallCount: 3}, Status: domain.RunStatusDispatched}

	report, err := svc.Report(context.Background(), "abc")
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.Totals[domain.CallStateEnded] != 2 || report.Totals[domain.CallStateFailed] != 1 {
		t.Fatalf("unexpected totals %+v", report.Totals)
	}
	if report.Failures["486 Busy Here"] != 1 {
		t.Fatalf("unexpected failures %+v", report.Failures)
	}
	if report.Calls[0].TalkTime == nil || *report.Calls[0].TalkTime != 10000 {
		t.Fatalf("expected 10s talk time on call 0")
	}
	if report.Calls[1].TalkTime != nil {
		t.Fatalf("failed call cannot have talk time")
	}
}

func TestSummarizeMarksMissingCalls(t *testing.T) {
	run := domain.Run{LoadTestRun: domain.LoadTestRun{RunID: "abc", CallCount: 2}}
	report := Summarize(run, []domain.CallRecord{{CallIndex: 1, State: domain.CallStateConnected}})

	if report.NotReported != 1 || len(report.Calls) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Calls[0].Room != "load_test_abc_0" || report.Calls[0].State != "" {
		t.Fatalf("unexpected first call %+v", report.Calls[0])
	}
}

func TestListCallsPageToken(t *testing.T) {
	calls := &pagedCalls{pages: [][]domain.CallRecord{{{CallIndex: 0}}, {{CallIndex: 1}}}}
	svc, _, _ := newTestService(calls)

	page, err := svc.ListCalls(context.Background(), "abc", 1, "")
	if err != nil || page.NextToken == "" {
		t.Fatalf("expected a next token, got %+v %v", page, err)
	}
	page, err = svc.ListCalls(context.Background(), "abc", 1, page.NextToken)
	if err != nil || page.NextToken != "" || page.Calls[0].CallIndex != 1 {
		t.Fatalf("unexpected second page %+v %v", page, err)
	}

	if _, err := svc.ListCalls(context.Background(), "abc", 1, "!!"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error for a bad token, got %v", err)
	}
}
