package errors_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

func TestHTTPStatusForCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code   errors.ErrorCode
		status int
	}{
		{errors.ErrCodeMissingArgument, http.StatusBadRequest},
		{errors.ErrCodeNoPoses, http.StatusUnprocessableEntity},
		{errors.ErrCodeJoinMismatch, http.StatusInternalServerError},
		{errors.ErrCodeModelNotAvailable, http.StatusServiceUnavailable},
		{errors.ErrCodeNotImplemented, http.StatusNotImplemented},
		{errors.ErrorCode("BOGUS_999"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, errors.HTTPStatusForCode(tc.code), string(tc.code))
	}
}

func TestEveryCodeHasMessageAndStatus(t *testing.T) {
	t.Parallel()

	for code := range errors.ErrorCodeHTTPStatus {
		_, ok := errors.ErrorCodeMessage[code]
		assert.True(t, ok, "missing message for %s", code)
	}
	for code := range errors.ErrorCodeMessage {
		_, ok := errors.ErrorCodeHTTPStatus[code]
		assert.True(t, ok, "missing status for %s", code)
	}
	assert.Equal(t, "unknown error", errors.DefaultMessageForCode("NOPE"))
}

func TestClientServerClassification(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsClientError(errors.ErrCodeFilterInvalid))
	assert.False(t, errors.IsServerError(errors.ErrCodeFilterInvalid))
	assert.True(t, errors.IsServerError(errors.ErrCodeSinkWriteFailed))
	assert.False(t, errors.IsClientError(errors.ErrCodeSinkWriteFailed))
}

func TestModuleForCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SCORE", errors.ModuleForCode(errors.ErrCodeNoPoses))
	assert.Equal(t, "MODEL", errors.ModuleForCode(errors.ErrCodeInferenceFailed))
	assert.Equal(t, "DOCK", errors.ModuleForCode(errors.ErrCodeDockingFailed))
	assert.Equal(t, "UNKNOWN", errors.ModuleForCode(""))
}

func TestIsInputError(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.IsInputError(errors.ErrCodeNoPoses))
	assert.True(t, errors.IsInputError(errors.ErrCodeSchemaMismatch))
	assert.False(t, errors.IsInputError(errors.ErrCodeInferenceFailed))
	assert.False(t, errors.IsInputError(errors.ErrCodeSinkWriteFailed))
}
