package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeEmptyMessage, "message is empty")
	assert.Equal(t, "message is empty", err.Error())

	wrapped := Wrap(ErrCodeIndexUnavailable, "search failed", errors.New("connection refused"))
	assert.Equal(t, "search failed: connection refused", wrapped.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeIndexUnavailable, "search failed", cause)

	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidConfig, CodeOf(New(ErrCodeInvalidConfig, "bad config")))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain error")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestCodeOf_WrappedChain(t *testing.T) {
	// fmt.Errorf包装后仍能取到错误码
	inner := New(ErrCodeEmbeddingUnavailable, "embedding down")
	outer := fmt.Errorf("摄取失败: %w", inner)

	assert.Equal(t, ErrCodeEmbeddingUnavailable, CodeOf(outer))
	assert.True(t, HasCode(outer, ErrCodeEmbeddingUnavailable))
	assert.False(t, HasCode(outer, ErrCodeGenerationTimeout))
}

func TestWithCause(t *testing.T) {
	base := New(ErrCodeGenerationUnavailable, "provider error")
	cause := errors.New("http 503")

	err := base.WithCause(cause)
	require.NotSame(t, base, err)
	assert.Nil(t, base.Cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeGenerationUnavailable, err.Code)
}
