package errno_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mentos32/kernel/internal/errno"
)

func TestOkReportsZeroAsSuccess(t *testing.T) {
	assert.True(t, errno.Errno(0).Ok())
	assert.False(t, errno.ENOENT.Ok())
}

func TestNegatedFlipsSignExceptZero(t *testing.T) {
	assert.EqualValues(t, -errno.ENOENT, errno.ENOENT.Negated())
	assert.EqualValues(t, 0, errno.Errno(0).Negated())
}

func TestErrorReturnsKnownNameOrFallback(t *testing.T) {
	assert.Equal(t, "no such file or directory", errno.ENOENT.Error())
	assert.Equal(t, "errno 999", errno.Errno(999).Error())
}

func TestErrnoComposesWithFmtErrorf(t *testing.T) {
	err := fmt.Errorf("open failed: %w", errno.EACCES)
	assert.ErrorIs(t, err, errno.EACCES)
	assert.Contains(t, err.Error(), "permission denied")
}
