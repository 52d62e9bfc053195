package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"songmap/internal/apperr"
)

func TestIsSafe(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"mood", true},
		{"G_u1_0f8fad5bcf1d4c2a9a3b", true},
		{"Play_Count_2", true},
		{"", false},
		{"mood-x", false},
		{"a b", false},
		{"x') DELETE", false},
		{"$.key", false},
		{"ключ", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSafe(tt.in))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("key", "mood"))

	err := Validate("key", "mo od")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
}
