package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	twilio "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"

	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/internal/telephony"
)

const (
	statusCanceled  = "canceled"
	statusCompleted = "completed"

	errorCodeResourceNotFound = 20404
	defaultTwiml              = `<Response><Pause length="3600"/></Response>`
)

// callsAPI is the subset of the Twilio REST API used to drive a call.
type callsAPI interface {
	CreateCall(params *twilioapi.CreateCallParams) (*twilioapi.ApiV2010Call, error)
	FetchCall(sid string, params *twilioapi.FetchCallParams) (*twilioapi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioapi.UpdateCallParams) (*twilioapi.ApiV2010Call, error)
}

// RoomIndex maps room names to the Twilio call carrying the participant.
type RoomIndex interface {
	Bind(ctx context.Context, room, callSID string) error
	Lookup(ctx context.Context, room string) (string, error)
	Remove(ctx context.Context, room string) error
}

// Platform places calls through the Twilio Voice REST API. Twilio has no notion
// of rooms, so each room is represented by the single call dialed into it.
type Platform struct {
	api     callsAPI
	rooms   RoomIndex
	cfg     config.TwilioConfig
	creates *rate.Limiter
}

// NewPlatform builds a Twilio backed platform from credentials.
func NewPlatform(cfg config.TwilioConfig, rooms RoomIndex) (*Platform, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio: account_sid and auth_token are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio: from_number is required")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newPlatform(rest.Api, rooms, cfg), nil
}

func newPlatform(api callsAPI, rooms RoomIndex, cfg config.TwilioConfig) *Platform {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Twiml == "" {
		cfg.Twiml = defaultTwiml
	}
	creates := rate.NewLimiter(rate.Inf, 1)
	if cfg.CallsPerSecond > 0 {
		creates = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), 1)
	}
	return &Platform{api: api, rooms: rooms, cfg: cfg, creates: creates}
}

// PlaceCall dials req.To through the BYOC trunk named by req.TrunkID and, when
// asked to, polls the call until it is answered or reaches a terminal carrier
// status. Once Twilio has assigned a call SID, every error return hangs that
// call up first so nothing is left ringing or connected without a room.
func (p *Platform) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (*telephony.Participant, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(p.cfg.FromNumber)
	params.SetTwiml(p.cfg.Twiml)
	if req.TrunkID != "" {
		params.SetByoc(req.TrunkID)
	}
	if p.cfg.AnswerTimeout > 0 {
		params.SetTimeout(int(p.cfg.AnswerTimeout / time.Second))
	}

	if err := p.creates.Wait(ctx); err != nil {
		return nil, telephony.Canceled()
	}
	call, err := p.api.CreateCall(params)
	if err != nil {
		return nil, translateCreateError(err)
	}
	if call.Sid == nil {
		return nil, fmt.Errorf("twilio: create call returned no sid")
	}
	sid := *call.Sid

	if req.WaitUntilAnswered {
		if err := p.awaitAnswer(ctx, sid); err != nil {
			return nil, err
		}
	}

	if err := p.rooms.Bind(ctx, req.Room, sid); err != nil {
		bindErr := fmt.Errorf("twilio: bind room: %w", err)
		if req.WaitUntilAnswered {
			return nil, errors.Join(bindErr, p.hangUp(sid, statusCompleted))
		}
		return nil, errors.Join(bindErr, p.abandon(sid))
	}

	disconnected := make(chan struct{})
	go p.watch(context.WithoutCancel(ctx), req.Room, sid, disconnected)

	return &telephony.Participant{
		Identity:     req.ParticipantIdentity,
		Room:         req.Room,
		Disconnected: disconnected,
	}, nil
}

// DeleteRoom hangs up the call bound to room.
func (p *Platform) DeleteRoom(ctx context.Context, room string) error {
	sid, err := p.rooms.Lookup(ctx, room)
	if err != nil {
		return err
	}
	defer func() { _ = p.rooms.Remove(ctx, room) }()

	if err := p.hangUp(sid, statusCompleted); err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) && restErr.Code == errorCodeResourceNotFound {
			return telephony.ErrRoomNotFound
		}
		return err
	}
	return nil
}

// awaitAnswer polls sid until it is answered or fails at the carrier. A fetch
// error or cancellation abandons the call before returning.
func (p *Platform) awaitAnswer(ctx context.Context, sid string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := p.status(sid)
		if err != nil {
			return errors.Join(err, p.abandon(sid))
		}
		if answered, sipErr := classify(status); answered {
			return nil
		} else if sipErr != nil {
			return sipErr
		}

		select {
		case <-ctx.Done():
			return errors.Join(telephony.Canceled(), p.abandon(sid))
		case <-ticker.C:
		}
	}
}

// abandon ends a call whose state is unknown. Twilio only cancels calls that
// are still queued or ringing, so a failed cancel falls back to completing it.
func (p *Platform) abandon(sid string) error {
	cancelErr := p.hangUp(sid, statusCanceled)
	if cancelErr == nil {
		return nil
	}
	if err := p.hangUp(sid, statusCompleted); err != nil {
		return errors.Join(cancelErr, err)
	}
	return nil
}

// hangUp moves sid to status. The REST client carries no context, so the
// request goes out even when the job has already been cancelled.
func (p *Platform) hangUp(sid, status string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus(status)
	if _, err := p.api.UpdateCall(sid, params); err != nil {
		return fmt.Errorf("twilio: hang up %s (%s): %w", sid, status, err)
	}
	return nil
}

// watch closes disconnected once the call reaches a terminal status or the room
// is no longer bound to it.
func (p *Platform) watch(ctx context.Context, room, sid string, disconnected chan<- struct{}) {
	defer close(disconnected)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		bound, err := p.rooms.Lookup(ctx, room)
		if err != nil || bound != sid {
			return
		}
		status, err := p.status(sid)
		if err != nil {
			continue
		}
		if isTerminal(status) {
			_ = p.rooms.Remove(ctx, room)
			return
		}
	}
}

func (p *Platform) status(sid string) (string, error) {
	call, err := p.api.FetchCall(sid, nil)
	if err != nil {
		return "", fmt.Errorf("twilio: fetch call %s: %w", sid, err)
	}
	if call.Status == nil {
		return "", nil
	}
	return *call.Status, nil
}

// classify maps a Twilio call status onto answered / carrier failure / still pending.
func classify(status string) (bool, *telephony.SIPError) {
	switch status {
	case "in-progress", "answered", "completed":
		return true, nil
	case "busy":
		return false, telephony.Busy()
	case "no-answer":
		return false, telephony.NoAnswer()
	case "canceled":
		return false, telephony.Canceled()
	case "failed":
		return false, telephony.ServerFailure("call failed")
	default:
		return false, nil
	}
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "busy", "no-answer", "canceled", "failed":
		return true
	}
	return false
}

func translateCreateError(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) && restErr.Status == http.StatusBadRequest {
		return &telephony.SIPError{Code: 484, Status: "Address Incomplete", Message: restErr.Message}
	}
	return fmt.Errorf("twilio: create call: %w", err)
}
