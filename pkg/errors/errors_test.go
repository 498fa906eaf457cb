package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTaken = errors.New("identity already registered")

func TestAppError_Error(t *testing.T) {
	err := NewInvalidInputError("peer id is required")
	assert.Equal(t, "INVALID_INPUT: peer id is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	wrapped := WrapError(errTaken, ErrCodeConflict, "peer id in use", http.StatusConflict)
	assert.Equal(t, "CONFLICT: peer id in use (caused by: identity already registered)", wrapped.Error())
	assert.ErrorIs(t, wrapped, errTaken)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("peer").WithContext("peer_id", "alice-1a2b")
	assert.Equal(t, "peer not found", err.Message)
	assert.Equal(t, "alice-1a2b", err.Context["peer_id"])
}

func TestGetAppError(t *testing.T) {
	appErr := NewRateLimitError()
	chained := fmt.Errorf("handling request: %w", appErr)

	assert.Same(t, appErr, GetAppError(chained))
	assert.True(t, IsAppError(chained))
	assert.Nil(t, GetAppError(errTaken))
	assert.Nil(t, GetAppError(nil))
}

func TestClassify(t *testing.T) {
	rules := []Rule{
		{Target: errTaken, Build: func(error) *AppError { return NewConflictError("peer id in use") }},
	}

	assert.Nil(t, Classify(nil, rules...))

	conflict := Classify(fmt.Errorf("register: %w", errTaken), rules...)
	require.NotNil(t, conflict)
	assert.Equal(t, ErrCodeConflict, conflict.Code)
	assert.ErrorIs(t, conflict, errTaken)

	existing := NewUnauthorizedError("token expired")
	assert.Same(t, existing, Classify(existing, rules...))

	internal := Classify(errors.New("boom"), rules...)
	assert.Equal(t, ErrCodeInternal, internal.Code)
	assert.Equal(t, http.StatusInternalServerError, internal.HTTPStatus)
}
