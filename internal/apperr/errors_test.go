package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, Code(""), CodeOf(nil))
	})

	t.Run("typed error", func(t *testing.T) {
		assert.Equal(t, CodeConflict, CodeOf(New(CodeConflict, "stale version")))
	})

	t.Run("plain error maps to internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})

	t.Run("wrapped in fmt chain", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NotFound("account", "acc-1"))
		assert.Equal(t, CodeNotFound, CodeOf(err))
	})
}

func TestIsCode(t *testing.T) {
	err := Newf(CodeContention, "retries exhausted after %d attempts", 3)
	assert.True(t, IsCode(err, CodeContention))
	assert.False(t, IsCode(err, CodeConflict))
	assert.False(t, IsCode(nil, CodeContention))
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeInternal, "failed to load record")

	assert.Equal(t, CodeInternal, err.Code)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "failed to load record")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestHelpers(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		err := NotFound("job_card", "jc-9")
		require.Equal(t, CodeNotFound, err.Code)
		assert.Equal(t, `NOT_FOUND: job_card "jc-9" not found`, err.Error())
	})

	t.Run("InvalidInput", func(t *testing.T) {
		err := InvalidInput("note", "a rejection requires a reason")
		require.Equal(t, CodeValidationFailed, err.Code)
		assert.Contains(t, err.Error(), "note: a rejection requires a reason")
	})
}
