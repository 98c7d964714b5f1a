package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodedErrorMessage(t *testing.T) {
	err := New(NoEntry, "setting %q", "filename")
	assert.Equal(t, "no such entry: setting \"filename\"", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(IO, cause, "reading block")
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("lookup failed: %w", New(NoEntry, "vmlinuz"))
	assert.True(t, errors.Is(err, &CodedError{Code: NoEntry}))
	assert.False(t, errors.Is(err, &CodedError{Code: Permission}))
}

func TestCodeOf(t *testing.T) {
	t.Run("ExtractsWrappedCode", func(t *testing.T) {
		err := fmt.Errorf("boot failed: %w", New(TimedOut, "retransmit ceiling"))
		code, ok := CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, TimedOut, code)
	})

	t.Run("OpaqueErrorDefaultsToIO", func(t *testing.T) {
		code, ok := CodeOf(errors.New("opaque"))
		assert.False(t, ok)
		assert.Equal(t, IO, code)
	})
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "verification failed", VerifyFailed.String())
	assert.Contains(t, Code(99).String(), "errcode(99)")
}
