package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunStatus enumerates lifecycle states of a load test run.
type RunStatus string

const (
	RunStatusDispatching RunStatus = "dispatching"
	RunStatusDispatched  RunStatus = "dispatched"
	RunStatusAborted     RunStatus = "aborted"
)

// LoadTestRun is one invocation of the dispatch scheduler. It is immutable once created.
type LoadTestRun struct {
	RunID        string
	PhoneNumber  string
	TrunkID      string
	AgentName    string
	CallCount    int
	Interval     time.Duration
	CallDuration time.Duration
	CreatedAt    time.Time
}

// NewRunID returns an opaque token used to namespace room names of a run.
func NewRunID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// RoomName derives the room a call of the run is placed into.
func RoomName(runID string, callIndex int) string {
	return fmt.Sprintf("load_test_%s_%d", runID, callIndex)
}

// RoomPrefix is the common prefix of every room of a run, handy for log searches.
func RoomPrefix(runID string) string {
	return fmt.Sprintf("load_test_%s_", runID)
}

// CallDispatch records a dispatch issued by the scheduler for one call index.
type CallDispatch struct {
	RunID      string
	CallIndex  int
	RoomName   string
	DispatchID string
}

// DispatchResult is one element of the scheduler's output sequence.
type DispatchResult struct {
	CallDispatch
	SubmittedAt time.Time
	Err         error
}

// OK reports whether the platform acknowledged the dispatch.
func (r DispatchResult) OK() bool {
	return r.Err == nil
}

// Trunk describes a configured telephony route.
type Trunk struct {
	ID        string
	Name      string
	Numbers   []string
	Address   string
	Direction TrunkDirection
}

// TrunkDirection distinguishes inbound from outbound trunks.
type TrunkDirection string

const (
	TrunkInbound  TrunkDirection = "inbound"
	TrunkOutbound TrunkDirection = "outbound"
)

// PrimaryNumber returns the first number associated with the trunk.
func (t Trunk) PrimaryNumber() string {
	if len(t.Numbers) == 0 {
		return ""
	}
	return t.Numbers[0]
}

// TrunkDetails pairs the outbound trunk used to dial with the inbound trunk that answers.
type TrunkDetails struct {
	Outbound Trunk
	Inbound  Trunk
}

// Run is the persisted view of a load test run.
type Run struct {
	LoadTestRun
	Status    RunStatus
	UpdatedAt time.Time
}

// RunStats aggregates per-run counters.
type RunStats struct {
	Dispatched     int64 `db:"dispatched" json:"dispatched"`
	DispatchFailed int64 `db:"dispatch_failed" json:"dispatch_failed"`
	Connected      int64 `db:"connected" json:"connected"`
	Failed         int64 `db:"failed" json:"failed"`
	Ended          int64 `db:"ended" json:"ended"`
}
