package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeErrorIsMatchesByCode(t *testing.T) {
	err := ErrPoolSaturated.WrapMsg("queue full", "size", 8)

	assert.True(t, errors.Is(err, &ErrPoolSaturated))
	assert.False(t, errors.Is(err, &ErrPoolClosed))
	assert.Contains(t, err.Error(), "PoolSaturated")
	assert.Contains(t, err.Error(), "size=8")

	wrapped := fmt.Errorf("submit: %w", err)
	assert.True(t, errors.Is(wrapped, &ErrPoolSaturated))
}

func TestWrapMsgNil(t *testing.T) {
	assert.Nil(t, WrapMsg(nil, "ignored"))
	assert.Nil(t, Wrap(nil))

	err := WrapMsg(errors.New("boom"), "dial", "addr", "127.0.0.1:6379")
	assert.Equal(t, "dial, addr=127.0.0.1:6379: boom", err.Error())
}

func TestErrPanic(t *testing.T) {
	assert.Nil(t, ErrPanic(nil))
	err := ErrPanic("kaboom")
	assert.True(t, errors.Is(err, &ErrInternalServer))
	assert.Contains(t, err.Error(), "kaboom")
}
