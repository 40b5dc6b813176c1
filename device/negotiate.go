package device

import "github.com/pedalcore/audiocore/pcm"

// candidateFormats builds the format preference order for one direction:
// native endian first, then descending precision, per §4.C.
//
//	F32 -> S32 -> S24-in-4 -> S24-packed-3 -> S16
func candidateFormats() []pcm.Format {
	native := pcm.NativeEndian()
	other := pcm.LittleEndian
	if native == pcm.LittleEndian {
		other = pcm.BigEndian
	}
	var out []pcm.Format
	for _, enc := range pcm.NegotiationOrder {
		out = append(out, pcm.Format{Encoding: enc, Endianness: native})
		out = append(out, pcm.Format{Encoding: enc, Endianness: other})
	}
	return out
}

// negotiateChannels applies §4.C's channel-count heuristic: prefer
// stereo when the device's range brackets it or when the device reports
// an absurd maximum (virtual devices advertising >1024 channels).
func negotiateChannels(requested, deviceMin, deviceMax int) int {
	if deviceMax > 1024 {
		return 2
	}
	if deviceMax > 2 && deviceMin <= 2 {
		return 2
	}
	if requested > 0 {
		return requested
	}
	return deviceMin
}

// checkPeriodsInvariant enforces §3's configuration invariant: if the
// negotiated periods-per-buffer came back smaller than requested,
// configuration fails outright rather than silently degrading latency.
func checkPeriodsInvariant(requestedPeriods, negotiatedPeriods int) error {
	if negotiatedPeriods < requestedPeriods {
		return newErr(ConfigRejected, "", "periods_per_buffer negotiated below request", nil)
	}
	return nil
}

// SuggestPeriodFrames maps a coarse latency preference to a period size
// in frames, the ALSA analogue of the teacher's AVAudioEngine buffer
// size table (session/latency.go MapLatencyToBuffer), supplemented from
// original_source/ per SPEC_FULL.md.
type LatencyClass int

const (
	LatencyLow LatencyClass = iota
	LatencyMedium
	LatencyHigh
)

func SuggestPeriodFrames(c LatencyClass) int {
	switch c {
	case LatencyLow:
		return 128
	case LatencyHigh:
		return 1024
	default:
		return 256
	}
}
