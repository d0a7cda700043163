package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataFor(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeOutOfStock, http.StatusConflict},
		{CodeRemoteUnavailable, http.StatusServiceUnavailable},
		{CodeInvalidSignature, http.StatusBadRequest},
		{CodeDuplicateKey, http.StatusConflict},
		{CodeStateConflict, http.StatusUnprocessableEntity},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, MetadataFor(tt.code).HTTPStatus)
		})
	}
}

func TestAsFindsWrappedError(t *testing.T) {
	cause := stdErrors.New("sheet offline")
	typed := Wrap(CodeRemoteUnavailable, cause, "fetch inventory")
	wrapped := fmt.Errorf("reserve: %w", typed)

	got := As(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeRemoteUnavailable, got.Code())
	assert.True(t, IsCode(wrapped, CodeRemoteUnavailable))
	assert.False(t, IsCode(wrapped, CodeNotFound))
	assert.ErrorIs(t, wrapped, cause)
}

func TestNilSafety(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Nil(t, e.Details())
	assert.Nil(t, As(nil))
	assert.False(t, IsCode(nil, CodeNotFound))
}
