package util

import (
	"context"
	"encoding/json"
	"fmt"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubersystem/pkg/circuitbreaker"
)

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}
	cases := []struct {
		name      string
		err       error
		retryable bool
		errType   string
	}{
		{"nil", nil, false, ""},
		{"json", fmt.Errorf("decode: %w", syntaxErr), false, "json_decode_error"},
		{"smtp 421", &textproto.Error{Code: 421, Msg: "try later"}, true, "smtp_transient"},
		{"smtp 550", fmt.Errorf("send: %w", &textproto.Error{Code: 550, Msg: "no such user"}), false, "smtp_permanent"},
		{"breaker", circuitbreaker.ErrCircuitBreakerOpen, true, "circuit_open"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"dial", fmt.Errorf("dial tcp: connection refused"), true, "connection_error"},
		{"other", fmt.Errorf("boom"), false, "unknown_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, errType := IsRetryableError(tc.err)
			assert.Equal(t, tc.retryable, retryable)
			assert.Equal(t, tc.errType, errType)
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(1, 3, true))
	assert.False(t, ShouldRetry(4, 3, true))
	assert.False(t, ShouldRetry(0, 3, false))
}

func TestAdminJWTRoundTrip(t *testing.T) {
	token, err := GenerateAdminJWT("ops@example.com", "admin", "secret", time.Minute)
	require.NoError(t, err)

	claims, err := ParseAdminJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "ops@example.com", claims.Subject)

	_, err = ParseAdminJWT(token, "other-secret")
	assert.Error(t, err)
}
