package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "no subject",
			err:  New(ErrorTypeNetwork, 0, "connection refused"),
			want: "network error (code 0): connection refused",
		},
		{
			name: "user",
			err:  New(ErrorTypeNotFound, 404, "user not found").WithUser("ghost"),
			want: "not_found error (code 404) for ghost: user not found",
		},
		{
			name: "repository",
			err:  New(ErrorTypeDownload, 502, "bad gateway").WithRepository("octocat", "Hello-World"),
			want: "download error (code 502) for octocat/Hello-World: bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapAndType(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("listing: %w", Wrap(ErrorTypeTimeout, 0, cause, "request timed out"))

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsType(err, ErrorTypeTimeout))
	assert.False(t, IsType(err, ErrorTypeNetwork))
	assert.Equal(t, ErrorTypeTimeout, TypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(ErrorTypeNetwork, 0, "reset"), true},
		{"timeout", New(ErrorTypeTimeout, 0, "idle"), true},
		{"server", New(ErrorTypeServerError, 503, "unavailable"), true},
		{"not found", New(ErrorTypeNotFound, 404, "missing"), false},
		{"rate limit", New(ErrorTypeRateLimit, 429, "slow down"), false},
		{"retryable download", &Error{Type: ErrorTypeDownload, Retryable: true}, true},
		{"terminal download", &Error{Type: ErrorTypeDownload}, false},
		{"untyped", errors.New("boom"), false},
		{"wrapped", fmt.Errorf("attempt 1: %w", New(ErrorTypeNetwork, 0, "eof")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}

func TestTypeForStatus(t *testing.T) {
	assert.Equal(t, ErrorTypeNotFound, TypeForStatus(404))
	assert.Equal(t, ErrorTypeRateLimit, TypeForStatus(429))
	assert.Equal(t, ErrorTypeAuth, TypeForStatus(401))
	assert.Equal(t, ErrorTypeServerError, TypeForStatus(502))
	assert.Equal(t, ErrorTypeUnknown, TypeForStatus(418))
}
