package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := NotFound("song")
	wrapped := fmt.Errorf("listen failed: %w", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
	assert.Equal(t, "song not found", Message(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("database is locked")
	err := Wrap(KindUnavailable, cause, "upsert song")

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindUnavailable))
	assert.Contains(t, err.Error(), "database is locked")
}

func TestUnclassifiedErrors(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal server error", Message(err))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindForbidden, http.StatusForbidden},
		{KindInvalidArgument, http.StatusBadRequest},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindConflict, http.StatusConflict},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindCanceled, http.StatusRequestTimeout},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
