package midi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func evBytes(e Event) []byte {
	return e.Bytes[:e.Size]
}

func TestRunningStatus(t *testing.T) {
	d := NewDecoder()
	out := NewMap(16)

	d.Feed([]byte{0x80, 0x01, 0x02, 0x03, 0x04, 0x05}, out, 0)
	require.Equal(t, 2, out.Len())
	require.Equal(t, []byte{0x80, 0x01, 0x02}, evBytes(out.Events()[0]))
	require.Equal(t, []byte{0x80, 0x03, 0x04}, evBytes(out.Events()[1]))

	out.Reset()
	d.Feed([]byte{0x06, 0xC0, 0x01, 0x02}, out, 1)
	require.Equal(t, 3, out.Len())
	require.Equal(t, []byte{0x80, 0x05, 0x06}, evBytes(out.Events()[0]))
	require.Equal(t, []byte{0xC0, 0x01}, evBytes(out.Events()[1]))
	require.Equal(t, []byte{0xC0, 0x02}, evBytes(out.Events()[2]))
}

func TestSystemRealtimeTransparency(t *testing.T) {
	d := NewDecoder()
	out := NewMap(16)

	d.Feed([]byte{0x90, 0xF8, 0x3C, 0xFA, 0x7F}, out, 0)
	require.Equal(t, 1, out.Len())
	require.Equal(t, []byte{0x90, 0x3C, 0x7F}, evBytes(out.Events()[0]))
}

func TestSysExDiscardedAcrossBoundaries(t *testing.T) {
	d := NewDecoder()
	out := NewMap(16)

	d.Feed([]byte{0xF0, 0x76, 0x3B}, out, 0)
	require.Equal(t, 0, out.Len())

	d.Feed([]byte{0x77, 0xF7, 0x90, 0x40, 0x50}, out, 1)
	require.Equal(t, 1, out.Len())
	require.Equal(t, []byte{0x90, 0x40, 0x50}, evBytes(out.Events()[0]))
}

func TestMapOverflowDropsSilently(t *testing.T) {
	d := NewDecoder()
	out := NewMap(1)

	d.Feed([]byte{0x90, 0x01, 0x02, 0x03, 0x04}, out, 0)
	require.Equal(t, 1, out.Len())
}

func TestStrayDataByteWithoutRunningStatusIgnored(t *testing.T) {
	d := NewDecoder()
	out := NewMap(16)

	d.Feed([]byte{0x01, 0x02, 0x90, 0x3C, 0x40}, out, 0)
	require.Equal(t, 1, out.Len())
	require.Equal(t, []byte{0x90, 0x3C, 0x40}, evBytes(out.Events()[0]))
}
