package midiendpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDummyProviderListsNoEndpoints(t *testing.T) {
	names, err := NewDummyProvider().List()
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestDummyEndpointAlwaysWouldBlock(t *testing.T) {
	ep, err := NewDummyProvider().Open("synth-1", DirectionIn)
	require.NoError(t, err)
	require.Equal(t, "synth-1", ep.Name())

	buf := make([]byte, MaxChunk)
	n, err := ep.Read(buf)
	require.Equal(t, 0, n)
	require.True(t, errors.Is(err, ErrWouldBlock))
	require.NoError(t, ep.Close())
}
