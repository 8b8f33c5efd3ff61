package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindCapacityBusy, http.StatusServiceUnavailable},
		{KindUpstreamError, http.StatusBadGateway},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		assert.Equal(t, c.want, StatusCode(err))
	}
}

func TestStatusCodeDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindLoadFailed, "failed to load", cause)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
}

func TestToEnvelopeModelInvalidated(t *testing.T) {
	err := &Error{Kind: KindUpstreamError, Message: "engine rejected", ModelInvalidated: true}
	env := ToEnvelope(err)
	assert.Equal(t, "model_invalidated", env.Error.Code)
	assert.Equal(t, string(KindUpstreamError), env.Error.Type)
}

func TestIs(t *testing.T) {
	err := New(KindCapacityBusy, "busy")
	assert.True(t, Is(err, KindCapacityBusy))
	assert.False(t, Is(err, KindNotFound))
}
