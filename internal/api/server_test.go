package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-load-test/internal/api/handlers"
	"github.com/acme/voice-load-test/internal/config"
	"github.com/acme/voice-load-test/pkg/logger"
)

func TestServerHealthWithoutChecks(t *testing.T) {
	h := handlers.NewHandlerSet(nil, nil, nil, logger.NewNop())
	s := NewServer(config.HTTPConfig{Port: 0}, h)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
