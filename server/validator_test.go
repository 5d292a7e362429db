package server

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idHolder struct {
	ID string `validate:"required,entity_id"`
}

func TestValidatorEntityID(t *testing.T) {
	v := NewValidator()
	require.NotNil(t, v)

	for _, id := range []string{"a1", "3f2504e0-4f89-11d3-9a0c-0305e82c3301", "track_42"} {
		assert.NoError(t, v.Validate(&idHolder{ID: id}), id)
	}

	for _, id := range []string{"", "a/b", "a*", "what?", "[x]", "with space", strings.Repeat("x", 65)} {
		err := v.Validate(&idHolder{ID: id})
		require.Error(t, err, id)

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Len(t, ve.Errors, 1)
		assert.Equal(t, "ID", ve.Errors[0].Field)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidator().Validate(&idHolder{ID: "a*"})
	assert.Equal(t, "validation failed: ID must be a single path segment without glob characters", err.Error())
}

type pageHolder struct {
	Limit int    `validate:"lte=100"`
	Type  string `validate:"required,oneof=SINGLE ALBUM EP"`
}

func TestValidatorMessages(t *testing.T) {
	err := NewValidator().Validate(&pageHolder{Limit: 500, Type: "LP"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Errors, 2)
	assert.Equal(t, "Limit must be 100 or less", ve.Errors[0].Message)
	assert.Equal(t, "Type must be one of: SINGLE, ALBUM, EP", ve.Errors[1].Message)
	assert.Equal(t, "validation failed: 2 errors", err.Error())
}
