package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/internal/telephony"
)

// Platform simulates a telephony platform: calls ring for a while, then are
// answered or rejected by the carrier, and answered calls live in a room until
// the room is deleted.
type Platform struct {
	cfg config.MockTelephonyConfig

	mu    sync.Mutex
	rng   *rand.Rand
	rooms map[string]chan struct{}
}

// NewPlatform constructs a simulated platform. A zero seed uses the current time.
func NewPlatform(cfg config.MockTelephonyConfig) *Platform {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.MaxAnswerDelay < cfg.MinAnswerDelay {
		cfg.MaxAnswerDelay = cfg.MinAnswerDelay
	}
	return &Platform{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		rooms: make(map[string]chan struct{}),
	}
}

// PlaceCall simulates ringing followed by an answer or a carrier failure.
func (p *Platform) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (*telephony.Participant, error) {
	delay, outcome := p.roll()

	if req.WaitUntilAnswered {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, telephony.Canceled()
		case <-timer.C:
		}
	}

	if outcome != nil {
		return nil, outcome
	}

	disconnected := make(chan struct{})
	p.mu.Lock()
	p.rooms[req.Room] = disconnected
	p.mu.Unlock()

	return &telephony.Participant{
		Identity:     req.ParticipantIdentity,
		Room:         req.Room,
		Disconnected: disconnected,
	}, nil
}

// DeleteRoom removes the room and disconnects its participant.
func (p *Platform) DeleteRoom(_ context.Context, room string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	disconnected, ok := p.rooms[room]
	if !ok {
		return telephony.ErrRoomNotFound
	}
	delete(p.rooms, room)
	close(disconnected)
	return nil
}

// ActiveRooms returns the number of rooms with a connected participant.
func (p *Platform) ActiveRooms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms)
}

func (p *Platform) roll() (time.Duration, *telephony.SIPError) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := p.cfg.MinAnswerDelay
	if spread := p.cfg.MaxAnswerDelay - p.cfg.MinAnswerDelay; spread > 0 {
		delay += time.Duration(p.rng.Int63n(int64(spread)))
	}

	total := p.cfg.AnswerRate + p.cfg.BusyRate + p.cfg.NoAnswerRate
	if total <= 0 {
		return delay, nil
	}

	pick := p.rng.Float64() * total
	switch {
	case pick < p.cfg.AnswerRate:
		return delay, nil
	case pick < p.cfg.AnswerRate+p.cfg.BusyRate:
		return delay, telephony.Busy()
	default:
		return delay, telephony.NoAnswer()
	}
}
