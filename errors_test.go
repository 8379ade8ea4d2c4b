package bundletest

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	base := errors.New("boom")

	runtimeErr := NewRuntimeError(base)
	assert.Equal(t, "runtime error: boom", runtimeErr.Error())
	assert.ErrorIs(t, runtimeErr, base)
	assert.True(t, IsRuntimeError(fmt.Errorf("wrapped: %w", runtimeErr)))
	assert.False(t, IsRuntimeError(base))
	assert.False(t, IsRuntimeError(nil))

	testErr := NewTestFailureError(3)
	assert.Equal(t, "tests failed: 3", testErr.Error())
	assert.True(t, IsTestFailureError(errors.Join(base, testErr)))
	assert.False(t, IsTestFailureError(runtimeErr))
	assert.False(t, IsTestFailureError(nil))

	removalErr := &UnsafeRemovalError{File: "src/_test.js", Dir: "tmp"}
	assert.Contains(t, removalErr.Error(), `file "_test.js" is outside of the output directory "tmp"`)
	assert.Contains(t, removalErr.Error(), `File: "src/_test.js"`)
	assert.True(t, IsUnsafeRemovalError(fmt.Errorf("cleanup: %w", removalErr)))
	assert.False(t, IsUnsafeRemovalError(base))
}
