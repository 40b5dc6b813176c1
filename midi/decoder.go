package midi

// Decoder converts a raw MIDI byte stream from one endpoint into Events,
// appended to a caller-supplied Map. It is stateful across calls via its
// embedded State so running status and split SysEx survive buffer
// boundaries (§4.B).
type Decoder struct {
	state *State
}

// NewDecoder creates a Decoder with a fresh per-endpoint State.
func NewDecoder() *Decoder {
	return &Decoder{state: NewState()}
}

// Feed appends fully-reconstructed Voice messages found in bytes to out,
// each tagged with frame. No runtime failures: malformed input is
// absorbed, never aborts (§4.B, §7 MalformedMidi).
func (d *Decoder) Feed(bytes []byte, out *Map, frame uint32) {
	s := d.state
	for _, b := range bytes {
		switch {
		case b < 0x80:
			d.feedData(b, out, frame)

		case b < 0xF0:
			// Voice status.
			n, ok := dataLenForStatus[b>>4]
			if !ok {
				continue
			}
			s.inSysex = false
			s.runningStatus = b
			s.hasRunning = true
			s.expectedDataLen = n
			s.dataIndex = 0

		case b == 0xF0:
			// SysEx begin.
			s.inSysex = true
			s.hasRunning = false
			s.expectedDataLen = -1
			s.sysexLen = 0

		case b <= 0xF7:
			// System Common. Bytes absent from the table (F4, F5) are
			// ignored entirely and disturb no state.
			n, ok := systemCommonLen[b]
			if !ok {
				continue
			}
			// Flushes any open SysEx, malformed or not (§4.B invariant).
			s.inSysex = false
			s.sysexLen = 0
			s.runningStatus = b
			s.hasRunning = true
			s.expectedDataLen = n
			s.dataIndex = 0

		default:
			// 0xF8..0xFF System Realtime: must not disturb any state.
		}
	}
}

func (d *Decoder) feedData(b byte, out *Map, frame uint32) {
	s := d.state

	if s.inSysex {
		if s.sysexLen < len(s.sysexScratch) {
			s.sysexScratch[s.sysexLen] = b
			s.sysexLen++
		}
		return
	}

	if !s.hasRunning {
		return
	}

	switch s.dataIndex {
	case 0:
		s.data0 = b
	case 1:
		s.data1 = b
	default:
		return
	}
	s.dataIndex++

	if s.dataIndex == s.expectedDataLen {
		e := Event{Time: frame, Size: 1 + s.expectedDataLen}
		e.Bytes[0] = s.runningStatus
		if s.expectedDataLen >= 1 {
			e.Bytes[1] = s.data0
		}
		if s.expectedDataLen >= 2 {
			e.Bytes[2] = s.data1
		}
		out.Append(e)
		s.dataIndex = 0 // reset to support running status
	}
}
