package loadtest

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

// Page tokens carry the Scylla paging state of the previous page. They are
// opaque to API callers and safe to put in a query string.

func encodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

func decodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(state) == 0 {
		return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
	}
	return state, nil
}
