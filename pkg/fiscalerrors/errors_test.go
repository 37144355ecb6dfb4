package fiscalerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := New(CodeNotConfigured, "site has no adapter")
		assert.True(t, HasCode(err, CodeNotConfigured))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("matches through wrapping", func(t *testing.T) {
		inner := New(CodeAlreadyExists, "report exists")
		err := fmt.Errorf("generate: %w", inner)
		assert.True(t, HasCode(err, CodeAlreadyExists))
	})

	t.Run("plain error carries no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeBadRequest, CodeOf(New(CodeBadRequest, "bad")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("unclassified")))
	assert.Equal(t, CodeInternal, CodeOf(nil))
}

func TestWrapPreservesUnderlying(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(CodeRecordFailed, "device call", inner)

	require.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "RECORD_FAILED")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:         http.StatusBadRequest,
		CodeUnsupportedCountry: http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeAlreadyExists:      http.StatusConflict,
		CodeNotConfigured:      http.StatusPreconditionFailed,
		CodeRecordFailed:       http.StatusBadGateway,
		CodeInternal:           http.StatusInternalServerError,
		Code("SOMETHING_NEW"):  http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
