package loadtest

import "github.com/acme/voice-load-test/internal/domain"

// Report is the per-call outcome of a run.
type Report struct {
	Run   domain.Run
	Stats domain.RunStats
	Calls []CallOutcome
	// Totals counts calls by state. Calls that never reported are NotReported.
	Totals      map[domain.CallState]int
	NotReported int
	// Failures counts failed calls by reason, e.g. "486 Busy Here".
	Failures map[string]int
}

// CallOutcome is one line of the report.
type CallOutcome struct {
	CallIndex int
	Room      string
	State     domain.CallState
	Trigger   domain.EndTrigger
	Reason    *domain.FailureReason
	TalkTime  *int64 // milliseconds between connected and ended
}

// Summarize folds call records into a report. Every call index of the run
// appears exactly once, in order.
func Summarize(run domain.Run, records []domain.CallRecord) Report {
	byIndex := make(map[int]domain.CallRecord, len(records))
	for _, r := range records {
		byIndex[r.CallIndex] = r
	}

	report := Report{
		Run:      run,
		Totals:   make(map[domain.CallState]int),
		Failures: make(map[string]int),
	}

	for idx := 0; idx < run.CallCount; idx++ {
		outcome := CallOutcome{CallIndex: idx, Room: domain.RoomName(run.RunID, idx)}
		record, ok := byIndex[idx]
		if !ok {
			report.NotReported++
			report.Calls = append(report.Calls, outcome)
			continue
		}

		outcome.State = record.State
		outcome.Trigger = record.Trigger
		outcome.Reason = record.Reason
		if record.ConnectedAt != nil && record.EndedAt != nil {
			ms := record.EndedAt.Sub(*record.ConnectedAt).Milliseconds()
			outcome.TalkTime = &ms
		}

		report.Totals[record.State]++
		if record.State == domain.CallStateFailed {
			reason := "unknown"
			if record.Reason != nil {
				reason = record.Reason.String()
			}
			report.Failures[reason]++
		}
		report.Calls = append(report.Calls, outcome)
	}

	return report
}
