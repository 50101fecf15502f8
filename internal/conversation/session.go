// Package conversation defines the boundary to the speech stack that holds the
// spoken exchange once a call is connected. Speech-to-text, the language model,
// speech synthesis, voice activity detection and turn detection live behind
// Starter; this package only names them and carries the instruction profiles.
package conversation

import (
	"context"

	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/internal/domain"
)

// NoiseFilter selects the input noise-cancellation profile.
type NoiseFilter string

const (
	NoiseFilterStandard  NoiseFilter = "bvc"
	NoiseFilterTelephony NoiseFilter = "bvc_telephony"
)

// Profile is the fixed instruction set an agent runs with.
type Profile struct {
	Name         string
	Instructions string
	// Greeting is spoken as soon as the session starts. Empty means the agent
	// waits for its own first turn.
	Greeting    string
	Temperature *float64
	NoiseFilter NoiseFilter
}

var zeroTemperature = 0.0

// TriviaAsker calls the user and asks one-word trivia questions.
var TriviaAsker = Profile{
	Name: "trivia_asker",
	Instructions: "You are a trivia bot that calls a user and asks trivia questions. " +
		"The questions should all be answerable with one word. Say nothing other than the question. " +
		"Don't prompt the user for anything.",
	Temperature: &zeroTemperature,
	NoiseFilter: NoiseFilterTelephony,
}

// TriviaAnswerer picks up calls and answers questions with one word.
var TriviaAnswerer = Profile{
	Name: "trivia_answerer",
	Instructions: "You are a trivia bot that answers questions. Say nothing other than the answer to the question. " +
		"Don't prompt the user for anything. Answer all questions with one word.",
	Greeting:    "Hello, ask your question.",
	NoiseFilter: NoiseFilterStandard,
}

// ProfileFor returns the profile used for a call direction.
func ProfileFor(direction domain.CallDirection) Profile {
	if direction == domain.DirectionInbound {
		return TriviaAnswerer
	}
	return TriviaAsker
}

// Capabilities names the providers a session is assembled from.
type Capabilities struct {
	STT           string
	LLM           string
	TTS           string
	VAD           string
	TurnDetection string
}

// CapabilitiesFromConfig copies the configured provider names.
func CapabilitiesFromConfig(cfg config.ConversationConfig) Capabilities {
	return Capabilities{
		STT:           cfg.STT,
		LLM:           cfg.LLM,
		TTS:           cfg.TTS,
		VAD:           cfg.VAD,
		TurnDetection: cfg.TurnDetection,
	}
}

// Session is a running conversation bound to a room.
type Session interface {
	// Say enqueues an utterance.
	Say(ctx context.Context, text string) error
	// Done is closed when the session stops on its own.
	Done() <-chan struct{}
	// Close stops the session. It is safe to call more than once.
	Close() error
}

// Starter starts conversation sessions.
type Starter interface {
	Start(ctx context.Context, room string, profile Profile) (Session, error)
}
