package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableCategories(t *testing.T) {
	retryable := []ErrorCategory{ErrorTimeout, ErrorProviderOutage, ErrorNotConnected}
	for _, category := range retryable {
		err := NewError(category, TypeCloudTSE, "boom", nil)
		assert.True(t, IsRetryable(err), string(category))
	}

	terminal := []ErrorCategory{ErrorAuthentication, ErrorDeviceState, ErrorBadData, ErrorInternal}
	for _, category := range terminal {
		err := NewError(category, TypeCloudTSE, "boom", nil)
		assert.False(t, IsRetryable(err), string(category))
	}

	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestCategoryOf(t *testing.T) {
	err := NewError(ErrorDeviceState, TypeLANHSM, "storage full", nil)
	assert.Equal(t, ErrorDeviceState, CategoryOf(err))

	wrapped := fmt.Errorf("finish: %w", err)
	assert.Equal(t, ErrorDeviceState, CategoryOf(wrapped))

	assert.Equal(t, ErrorInternal, CategoryOf(errors.New("plain")))
}

func TestAdapterErrorUnwrap(t *testing.T) {
	err := NewError(ErrorDeviceState, TypeUSBTSE, "transaction 9", ErrUnknownTransaction)
	require.ErrorIs(t, err, ErrUnknownTransaction)
	assert.Contains(t, err.Error(), "usb_tse")
	assert.Contains(t, err.Error(), "device_state")
}

func TestTxRegistry(t *testing.T) {
	reg := NewTxRegistry()
	reg.Put(&TxContext{TransactionNumber: 1, ProcessType: "receipt", ProcessData: []byte("a")})
	reg.Put(&TxContext{TransactionNumber: 2, ProcessType: "receipt"})
	assert.Equal(t, 2, reg.Len())

	reg.Update(1, []byte("b"))
	tx, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), tx.ProcessData)

	reg.Remove(1)
	_, ok = reg.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Len())
}
