// Package midi decodes a raw MIDI byte stream from one endpoint into a
// sequence of timestamped events, handling running status and split
// SysEx across buffer boundaries (spec component B).
package midi

// Event is one fully-reconstructed MIDI message, timestamped with a
// frame offset within the period it was decoded in. SysEx is accepted
// but never emitted (§9 design note: intentional policy, not a bug).
type Event struct {
	Time  uint32
	Size  int
	Bytes [3]byte
}

// Map is a fixed-capacity, realtime-safe sink for Events written during
// one period. Overflow drops new events silently so the audio thread
// never allocates or blocks (§3).
type Map struct {
	events []Event
	cursor int
}

// NewMap allocates a Map with room for capacity events. Called once at
// configuration time; reused every period via Reset.
func NewMap(capacity int) *Map {
	return &Map{events: make([]Event, capacity)}
}

// Reset clears the write cursor at the start of a new period without
// releasing the backing array.
func (m *Map) Reset() {
	m.cursor = 0
}

// Append adds an event, silently dropping it if the Map is at capacity.
func (m *Map) Append(e Event) {
	if m.cursor >= len(m.events) {
		return
	}
	m.events[m.cursor] = e
	m.cursor++
}

// Events returns the events written so far this period, in arrival
// order. The returned slice aliases internal storage and is only valid
// until the next Reset.
func (m *Map) Events() []Event {
	return m.events[:m.cursor]
}

// Len reports how many events have been appended this period.
func (m *Map) Len() int {
	return m.cursor
}

// dataLenForStatus is the Voice-message data-length table indexed by the
// high nibble of a status byte (§4.B).
var dataLenForStatus = map[byte]int{
	0x8: 2, // Note Off
	0x9: 2, // Note On
	0xA: 2, // Polyphonic Aftertouch
	0xB: 2, // Control Change
	0xC: 1, // Program Change
	0xD: 1, // Channel Aftertouch
	0xE: 2, // Pitch Bend
}

// systemCommonLen is the System Common data-length table (§4.B). Status
// bytes absent from this table (0xF4, 0xF5) are ignored.
var systemCommonLen = map[byte]int{
	0xF1: 1,
	0xF2: 2,
	0xF3: 1,
	0xF6: 0,
	0xF7: 0,
}

const sysexScratchCap = 256

// State is the persistent decoder state for one MIDI endpoint (§3). It
// outlives individual Feed calls so running status and split SysEx
// survive buffer boundaries.
type State struct {
	runningStatus   byte
	hasRunning      bool
	expectedDataLen int
	dataIndex       int
	data0, data1    byte
	inSysex         bool
	sysexScratch    [sysexScratchCap]byte
	sysexLen        int
}

// NewState constructs a fresh decoder state for one endpoint.
func NewState() *State {
	return &State{}
}
