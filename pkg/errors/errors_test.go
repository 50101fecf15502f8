package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationMarksAndHints(t *testing.T) {
	base := fmt.Errorf("trunk lookup: %w", ErrNotFound)
	err := Configuration(base, "check --trunk_id")

	require.Error(t, err)
	assert.True(t, Is(err, ErrConfiguration))
	assert.True(t, Is(err, ErrNotFound), "original cause must stay inspectable")
	assert.Contains(t, FlattenHints(err), "check --trunk_id")
}

func TestNilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "ignored"))
	assert.NoError(t, Configuration(nil, "ignored"))
}
