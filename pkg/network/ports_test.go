package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoosePortReturnsBindable(t *testing.T) {
	port, err := ChoosePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
	assert.True(t, IsAvailable(port))
}

func TestChooseAvailablePortSucceedsOnRepeatedCalls(t *testing.T) {
	p1, err := ChooseAvailablePort(5)
	require.NoError(t, err)
	p2, err := ChooseAvailablePort(5)
	require.NoError(t, err)
	assert.NotEqual(t, 0, p1)
	assert.NotEqual(t, 0, p2)
}
