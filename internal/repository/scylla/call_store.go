package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/repository"
)

// CallStore persists call records in Scylla.
type CallStore struct {
	session *gocql.Session
}

// NewCallStore creates a new call store.
func NewCallStore(session *gocql.Session) *CallStore {
	return &CallStore{session: session}
}

// ApplyEvent appends the event to the call history and folds it into the
// call's latest record. Both writes go in one logged batch.
func (s *CallStore) ApplyEvent(ctx context.Context, event domain.CallEvent) error {
	code, status, message := reasonColumns(event.Reason)
	at := event.OccurredAt.UTC()

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO call_events (run_id, call_index, occurred_at, state, trigger, sip_status_code, sip_status, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, event.CallIndex, at, string(event.State), string(event.Trigger), code, status, message,
	)

	stmt, args := recordUpdate(event, at)
	batch.Query(stmt, args...)

	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("call store: apply %s event: %w", event.State, err)
	}
	return nil
}

// recordUpdate builds the upsert of calls_by_run for one transition.
func recordUpdate(event domain.CallEvent, at time.Time) (string, []any) {
	key := []any{event.RunID, event.CallIndex}
	switch event.State {
	case domain.CallStateConnected:
		return `UPDATE calls_by_run SET state = ?, room = ?, dispatch_id = ?, connected_at = ?, updated_at = ?
			WHERE run_id = ? AND call_index = ?`,
			append([]any{string(event.State), event.Room, event.DispatchID, at, at}, key...)
	case domain.CallStateFailed:
		code, status, message := reasonColumns(event.Reason)
		return `UPDATE calls_by_run SET state = ?, room = ?, dispatch_id = ?, trigger = ?, sip_status_code = ?, sip_status = ?, failure_message = ?, ended_at = ?, updated_at = ?
			WHERE run_id = ? AND call_index = ?`,
			append([]any{string(event.State), event.Room, event.DispatchID, string(event.Trigger), code, status, message, at, at}, key...)
	case domain.CallStateEnded:
		return `UPDATE calls_by_run SET state = ?, room = ?, dispatch_id = ?, trigger = ?, ended_at = ?, updated_at = ?
			WHERE run_id = ? AND call_index = ?`,
			append([]any{string(event.State), event.Room, event.DispatchID, string(event.Trigger), at, at}, key...)
	default:
		return `UPDATE calls_by_run SET state = ?, room = ?, dispatch_id = ?, updated_at = ?
			WHERE run_id = ? AND call_index = ?`,
			append([]any{string(event.State), event.Room, event.DispatchID, at}, key...)
	}
}

// GetCall retrieves one call of a run.
func (s *CallStore) GetCall(ctx context.Context, runID string, callIndex int) (*domain.CallRecord, error) {
	iter := s.session.Query(`SELECT `+recordColumns+` FROM calls_by_run WHERE run_id = ? AND call_index = ?`,
		runID, callIndex).WithContext(ctx).Iter()

	var row recordRow
	if !iter.Scan(row.dest()...) {
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("call store: fetch call close: %w", err)
		}
		return nil, repository.ErrNotFound
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call store: fetch call close: %w", err)
	}

	record := row.toDomain(runID)
	return &record, nil
}

// ListCallsByRun lists the calls of a run in call index order.
func (s *CallStore) ListCallsByRun(ctx context.Context, runID string, limit int, pagingState []byte) ([]domain.CallRecord, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT `+recordColumns+` FROM calls_by_run WHERE run_id = ?`, runID).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	calls := make([]domain.CallRecord, 0, limit)

	var row recordRow
	for iter.Scan(row.dest()...) {
		calls = append(calls, row.toDomain(runID))
		row = recordRow{}
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("call store: iter close: %w", err)
	}

	return calls, iter.PageState(), nil
}

// ListEvents returns the transitions of one call, oldest first.
func (s *CallStore) ListEvents(ctx context.Context, runID string, callIndex int) ([]domain.CallEvent, error) {
	iter := s.session.Query(`SELECT occurred_at, state, trigger, sip_status_code, sip_status, message
		FROM call_events WHERE run_id = ? AND call_index = ?`, runID, callIndex).WithContext(ctx).Iter()

	var (
		events  []domain.CallEvent
		at      time.Time
		state   string
		trigger string
		code    int
		status  string
		message string
	)
	for iter.Scan(&at, &state, &trigger, &code, &status, &message) {
		events = append(events, domain.CallEvent{
			RunID:      runID,
			CallIndex:  callIndex,
			State:      domain.CallState(state),
			Trigger:    domain.EndTrigger(trigger),
			Reason:     reasonFromColumns(code, status, message),
			OccurredAt: at,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call store: list events: %w", err)
	}
	return events, nil
}

const recordColumns = `call_index, room, dispatch_id, state, trigger, sip_status_code, sip_status, failure_message, connected_at, ended_at, updated_at`

type recordRow struct {
	callIndex   int
	room        string
	dispatchID  string
	state       string
	trigger     string
	code        int
	status      string
	message     string
	connectedAt time.Time
	endedAt     time.Time
	updatedAt   time.Time
}

func (r *recordRow) dest() []any {
	return []any{&r.callIndex, &r.room, &r.dispatchID, &r.state, &r.trigger, &r.code, &r.status, &r.message, &r.connectedAt, &r.endedAt, &r.updatedAt}
}

func (r recordRow) toDomain(runID string) domain.CallRecord {
	record := domain.CallRecord{
		RunID:      runID,
		CallIndex:  r.callIndex,
		Room:       r.room,
		DispatchID: r.dispatchID,
		State:      domain.CallState(r.state),
		Trigger:    domain.EndTrigger(r.trigger),
		Reason:     reasonFromColumns(r.code, r.status, r.message),
		UpdatedAt:  r.updatedAt,
	}
	if !r.connectedAt.IsZero() {
		t := r.connectedAt
		record.ConnectedAt = &t
	}
	if !r.endedAt.IsZero() {
		t := r.endedAt
		record.EndedAt = &t
	}
	return record
}

func reasonColumns(reason *domain.FailureReason) (int, string, string) {
	if reason == nil {
		return 0, "", ""
	}
	return reason.Code, reason.Status, reason.Message
}

func reasonFromColumns(code int, status, message string) *domain.FailureReason {
	if code == 0 && status == "" && message == "" {
		return nil
	}
	return &domain.FailureReason{Code: code, Status: status, Message: message}
}
