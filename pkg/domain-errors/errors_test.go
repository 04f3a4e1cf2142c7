package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesCode(t *testing.T) {
	err := New(CodeBadRequest, "invalid timestamp")
	assert.Equal(t, "invalid timestamp", err.Error())
	assert.Equal(t, CodeBadRequest, CodeOf(err))
	assert.True(t, Is(err, CodeBadRequest))
	assert.False(t, Is(err, CodeInternal))
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeInternal, "enqueue batch")

	require.Error(t, err)
	assert.Equal(t, "enqueue batch: connection refused", err.Error())
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOfReadsThroughPlainWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(CodeNotFound, "no such user"))
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}
