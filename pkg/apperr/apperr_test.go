package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := WrapErrorWithReason("Op", CodeNavigationFailed, "goto_failed")
	assert.Equal(t, CodeNavigationFailed, CodeOf(err))

	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestCodeOfWrappedChain(t *testing.T) {
	inner := WrapErrorWithReason("inner", CodeInvalidPayload, "bad_bytes")
	outer := Wrap("outer", CodeInternal, inner, nil)

	// The outermost code wins for classification.
	assert.Equal(t, CodeInternal, CodeOf(outer))

	// But membership checks see the whole chain.
	assert.True(t, IsCode(outer, CodeInvalidPayload))
	assert.True(t, IsCode(outer, CodeInternal))
	assert.False(t, IsCode(outer, CodeTimeout))
}

func TestIsCodeThroughForeignWrapping(t *testing.T) {
	err := WrapErrorWithReason("Op", CodeElementNotFound, "element_not_found")
	wrapped := fmt.Errorf("phase failed: %w", err)

	assert.True(t, IsCode(wrapped, CodeElementNotFound))
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("Resolve", "generate control")

	assert.True(t, IsCode(err, CodeElementNotFound))
	assert.Contains(t, err.Error(), "generate control")

	var appErr *Error
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, "generate control", appErr.Metadata[MetaTarget])
}

func TestErrorStringAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap("Launch", CodeLaunchFailed, cause, nil)

	assert.Equal(t, "Launch: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}
