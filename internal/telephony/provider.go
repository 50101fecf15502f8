package telephony

import (
	"context"
	"errors"
	"fmt"
)

// ErrRoomNotFound is returned by DeleteRoom when the room is already gone.
var ErrRoomNotFound = errors.New("telephony: room not found")

// PlaceCallRequest asks the platform to dial a number into a room.
type PlaceCallRequest struct {
	Room                string
	TrunkID             string
	To                  string
	ParticipantIdentity string
	// WaitUntilAnswered blocks PlaceCall until the callee answers or the carrier
	// reports a definitive failure. Ringing is not an answer.
	WaitUntilAnswered bool
}

// Participant is the callee joined to a room.
type Participant struct {
	Identity string
	Room     string
	// Disconnected is closed when the participant leaves the room. A nil channel
	// means the platform does not report disconnects.
	Disconnected <-chan struct{}
}

// Platform abstracts the telephony integration.
type Platform interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (*Participant, error)
	DeleteRoom(ctx context.Context, room string) error
}

// SIPError is a carrier level failure to connect a call.
type SIPError struct {
	Code    int
	Status  string
	Message string
}

func (e *SIPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sip %d %s", e.Code, e.Status)
	}
	return fmt.Sprintf("sip %d %s: %s", e.Code, e.Status, e.Message)
}

// Carrier outcomes commonly reported by trunks.
func Busy() *SIPError { return &SIPError{Code: 486, Status: "Busy Here", Message: "callee busy"} }

func NoAnswer() *SIPError {
	return &SIPError{Code: 480, Status: "Temporarily Unavailable", Message: "no answer"}
}

func Declined() *SIPError { return &SIPError{Code: 603, Status: "Decline", Message: "call rejected"} }

func Canceled() *SIPError {
	return &SIPError{Code: 487, Status: "Request Terminated", Message: "call canceled"}
}

func ServerFailure(msg string) *SIPError {
	return &SIPError{Code: 500, Status: "Server Internal Error", Message: msg}
}
