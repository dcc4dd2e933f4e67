package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodesAreComplete(t *testing.T) {
	for c := CodeNoToken; c <= CodePermissionCheckError; c++ {
		info, ok := codes[c]
		require.True(t, ok, "code %d has no entry", c)
		assert.NotEmpty(t, info.wire)
		assert.NotEmpty(t, info.message)
		assert.GreaterOrEqual(t, info.status, 400)
	}
}

func TestCodeStatuses(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, CodeInvalidCredentials.Status())
	assert.Equal(t, http.StatusForbidden, CodeInsufficientPermissions.Status())
	assert.Equal(t, http.StatusForbidden, CodeSuperAdminRequired.Status())
	assert.Equal(t, http.StatusBadRequest, CodeTokenMismatch.Status())
	assert.Equal(t, http.StatusBadGateway, CodeEmailDeliveryFailed.Status())
	assert.Equal(t, http.StatusInternalServerError, CodePermissionCheckError.Status())
	assert.Equal(t, http.StatusInternalServerError, Code(999).Status())

	// истёкший токен подтверждения и истёкший JWT разделяют wire-код, но не статус
	assert.Equal(t, CodeTokenExpired.Wire(), CodeVerificationExpired.Wire())
	assert.NotEqual(t, CodeTokenExpired.Status(), CodeVerificationExpired.Status())
}

func TestErrorIsComparesCode(t *testing.T) {
	cause := errors.New("row changed")
	err := fmt.Errorf("update: %w", newError(CodeTokenMismatch, cause))

	assert.ErrorIs(t, err, ErrTokenMismatch)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNoStoredToken)

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeTokenMismatch, code)

	_, ok = CodeOf(cause)
	assert.False(t, ok)
}

func TestErrorMessages(t *testing.T) {
	e := newError(CodeAuthError, errors.New("db down"))
	assert.Equal(t, "Authentication error", e.PublicMessage())
	assert.Contains(t, e.Error(), "AUTH_ERROR")
	assert.Contains(t, e.Error(), "db down")

	custom := &Error{Code: CodeTokenMismatch, Message: "try again"}
	assert.Equal(t, "try again", custom.PublicMessage())
}
