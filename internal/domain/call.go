package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// CallState enumerates the lifecycle of a single call attempt.
type CallState string

const (
	CallStateDialing   CallState = "dialing"
	CallStateConnected CallState = "connected"
	CallStateFailed    CallState = "failed"
	CallStateEnded     CallState = "ended"
)

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallStateFailed || s == CallStateEnded
}

// EndTrigger names what ended a connected call.
type EndTrigger string

const (
	TriggerDurationElapsed EndTrigger = "duration_elapsed"
	TriggerDisconnected    EndTrigger = "participant_disconnected"
	TriggerSessionClosed   EndTrigger = "session_closed"
	TriggerShutdown        EndTrigger = "shutdown"
	TriggerDialFailed      EndTrigger = "dial_failed"
	TriggerNoCallSlot      EndTrigger = "no_call_slot"
)

// FailureReason captures why a call never connected.
type FailureReason struct {
	Code    int    `json:"sip_status_code,omitempty"`
	Status  string `json:"sip_status,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r FailureReason) String() string {
	if r.Code == 0 && r.Status == "" {
		return r.Message
	}
	return fmt.Sprintf("%d %s", r.Code, r.Status)
}

// CallDirection selects who speaks first and which noise filter is used.
type CallDirection string

const (
	DirectionOutbound CallDirection = "outbound"
	DirectionInbound  CallDirection = "inbound"
)

// ParseDirection maps a config value to a CallDirection.
func ParseDirection(value string) (CallDirection, error) {
	switch CallDirection(value) {
	case DirectionOutbound, "":
		return DirectionOutbound, nil
	case DirectionInbound:
		return DirectionInbound, nil
	default:
		return "", fmt.Errorf("unknown call direction %q", value)
	}
}

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// ValidPhoneNumber reports whether number looks like an E.164 destination.
func ValidPhoneNumber(number string) bool {
	return phonePattern.MatchString(number)
}

// DialInfo is the metadata payload carried by an outbound dispatch.
type DialInfo struct {
	PhoneNumber string `json:"phone_number"`
	TrunkID     string `json:"trunk_id"`
	Duration    int    `json:"duration"`
}

// CallDuration converts the payload's seconds into a duration.
func (d DialInfo) CallDuration() time.Duration {
	return time.Duration(d.Duration) * time.Second
}

// Encode serializes the payload for a dispatch request.
func (d DialInfo) Encode() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode dial info: %w", err)
	}
	return string(raw), nil
}

// ParseDialInfo decodes and validates dispatch metadata.
func ParseDialInfo(metadata string) (DialInfo, error) {
	var info DialInfo
	if metadata == "" {
		return info, fmt.Errorf("dial info: empty metadata")
	}
	if err := json.Unmarshal([]byte(metadata), &info); err != nil {
		return info, fmt.Errorf("dial info: %w", err)
	}
	if info.PhoneNumber == "" {
		return info, fmt.Errorf("dial info: phone_number is required")
	}
	if !ValidPhoneNumber(info.PhoneNumber) {
		return info, fmt.Errorf("dial info: malformed phone_number %q", info.PhoneNumber)
	}
	if info.Duration < 0 {
		return info, fmt.Errorf("dial info: negative duration %d", info.Duration)
	}
	return info, nil
}

// CallJob is a dispatched unit of work as seen by the agent that picks it up.
type CallJob struct {
	DispatchID string
	AgentName  string
	Room       string
	RunID      string
	CallIndex  int
	Metadata   string
	ReceivedAt time.Time
}

// CallEvent is emitted on every state transition of a call.
type CallEvent struct {
	RunID      string         `json:"run_id"`
	CallIndex  int            `json:"call_index"`
	Room       string         `json:"room"`
	DispatchID string         `json:"dispatch_id"`
	State      CallState      `json:"state"`
	Trigger    EndTrigger     `json:"trigger,omitempty"`
	Reason     *FailureReason `json:"reason,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// CallRecord is the latest known outcome of a call, keyed by run and index.
type CallRecord struct {
	RunID       string
	CallIndex   int
	Room        string
	DispatchID  string
	State       CallState
	Trigger     EndTrigger
	Reason      *FailureReason
	ConnectedAt *time.Time
	EndedAt     *time.Time
	UpdatedAt   time.Time
}
