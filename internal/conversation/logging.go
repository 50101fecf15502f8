package conversation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/acme/voice-load-test/pkg/logger"
)

// LoggingStarter starts sessions that only record their lifecycle. It stands in
// for the speech stack when the harness is exercising telephony alone.
type LoggingStarter struct {
	caps   Capabilities
	logger *logger.Logger
}

// NewLoggingStarter builds a starter that logs session activity.
func NewLoggingStarter(caps Capabilities, lg *logger.Logger) *LoggingStarter {
	return &LoggingStarter{caps: caps, logger: lg.Named("conversation")}
}

// Start implements Starter.
func (s *LoggingStarter) Start(_ context.Context, room string, profile Profile) (Session, error) {
	lg := s.logger.With(logger.Room(room), zap.String("profile", profile.Name))
	lg.Info("session started",
		zap.String("stt", s.caps.STT),
		zap.String("llm", s.caps.LLM),
		zap.String("tts", s.caps.TTS),
		zap.String("vad", s.caps.VAD),
		zap.String("turn_detection", s.caps.TurnDetection),
		zap.String("noise_filter", string(profile.NoiseFilter)),
	)
	return &loggingSession{logger: lg, done: make(chan struct{})}, nil
}

type loggingSession struct {
	logger *logger.Logger
	once   sync.Once
	done   chan struct{}
}

func (s *loggingSession) Say(_ context.Context, text string) error {
	s.logger.Info("session say", zap.String("text", text))
	return nil
}

func (s *loggingSession) Done() <-chan struct{} {
	return s.done
}

func (s *loggingSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.logger.Info("session closed")
	})
	return nil
}
