package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/pkg/logger"
)

func TestProfileForDirection(t *testing.T) {
	outbound := ProfileFor(domain.DirectionOutbound)
	assert.Empty(t, outbound.Greeting, "outbound agent opens with its own question")
	assert.Equal(t, NoiseFilterTelephony, outbound.NoiseFilter)
	require.NotNil(t, outbound.Temperature)
	assert.Zero(t, *outbound.Temperature)

	inbound := ProfileFor(domain.DirectionInbound)
	assert.Equal(t, "Hello, ask your question.", inbound.Greeting)
	assert.Equal(t, NoiseFilterStandard, inbound.NoiseFilter)
}

func TestLoggingSessionCloseIsIdempotent(t *testing.T) {
	starter := NewLoggingStarter(Capabilities{STT: "stt"}, logger.NewNop())
	session, err := starter.Start(context.Background(), "load_test_a_0", TriviaAsker)
	require.NoError(t, err)

	require.NoError(t, session.Say(context.Background(), "hi"))
	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	select {
	case <-session.Done():
	default:
		t.Fatal("closed session should report done")
	}
}
