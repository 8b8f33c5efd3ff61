package supervisor

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailBufferRetainsOnlyTail(t *testing.T) {
	b := NewTailBuffer(5)
	_, err := b.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, "defgh", b.String())
}

func TestTailBufferReadDrainsAndEOFs(t *testing.T) {
	b := NewTailBuffer(16)
	_, _ = b.Write([]byte("hello"))

	buf := make([]byte, 16)
	n, err := b.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = b.Read(buf)
	assert.Equal(t, io.EOF, err)
}
