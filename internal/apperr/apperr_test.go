package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOfUnwrapsWrappedErrors(t *testing.T) {
	t.Parallel()

	base := External("embedding request failed", errors.New("503"))
	wrapped := fmt.Errorf("upsert page: %w", base)

	require.Equal(t, CodeExternalService, CodeOf(wrapped))
	require.Equal(t, "embedding request failed", MessageOf(wrapped))
	require.ErrorIs(t, wrapped, base)
}

func TestCodeOfDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, Code(""), CodeOf(nil))
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("crawl: %w", context.DeadlineExceeded)))
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Code]int{
		CodeInvalidInput:    http.StatusBadRequest,
		CodeTimeout:         http.StatusGatewayTimeout,
		CodeExternalService: http.StatusBadGateway,
		CodeRateLimited:     http.StatusTooManyRequests,
		CodeConfiguration:   http.StatusInternalServerError,
		CodeInternal:        http.StatusInternalServerError,
		CodeNotFound:        http.StatusNotFound,
		CodeConflict:        http.StatusConflict,
		CodeUnauthorized:    http.StatusUnauthorized,
		CodeUnavailable:     http.StatusServiceUnavailable,
	}
	for code, want := range cases {
		require.Equal(t, want, HTTPStatus(code), code)
	}
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := InvalidInput("maxDepth must be 2 or 3, got %d", 4)
	require.Equal(t, "INVALID_INPUT: maxDepth must be 2 or 3, got 4", err.Error())
	require.Contains(t, Internal("store", errors.New("down")).Error(), "down")
}
