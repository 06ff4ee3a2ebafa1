package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("direct code match", func(t *testing.T) {
		err := New(CodeForbidden, "nope")
		assert.True(t, HasCode(err, CodeForbidden))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("wrapped coded error keeps inner code visible", func(t *testing.T) {
		inner := New(CodeNotFound, "no such mandat")
		outer := Wrap(inner, CodeInternal, "lookup failed")
		assert.True(t, HasCode(outer, CodeInternal))
		assert.True(t, HasCode(outer, CodeNotFound))
	})

	t.Run("plain error has no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil passthrough", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
	})

	t.Run("preserves cause chain", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(fmt.Errorf("query: %w", cause), CodeInternal, "store failure")
		assert.ErrorIs(t, err, cause)
	})
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, CodeValidation, CodeOf(New(CodeValidation, "bad input")))
	require.Equal(t, CodeInternal, CodeOf(errors.New("untyped")))
}

func TestMessageOf(t *testing.T) {
	require.Equal(t, "bad input", MessageOf(New(CodeValidation, "bad input")))
	require.Equal(t, "", MessageOf(errors.New("untyped")))
}
