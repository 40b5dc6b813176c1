package device

import (
	"errors"

	"github.com/pedalcore/audiocore/pcm"
)

// Requested carries the caller's negotiation request for one endpoint
// direction (§4.C format negotiation, §3 DeviceConfig invariants).
type Requested struct {
	SampleRate       int
	PeriodFrames     int
	PeriodsPerBuffer int
	Channels         int
	// Candidates is the ordered list of formats to try, native endian
	// first (pcm.NegotiationOrder expanded with the host's native
	// Endianness, then the other); the first the device accepts wins.
	Candidates []pcm.Format
}

// Negotiated is what the device actually agreed to. Per §3's invariant,
// every field must be >= the corresponding Requested field (periods in
// particular: a smaller negotiated PeriodsPerBuffer is a hard failure,
// enforced by the caller in negotiate.go, not by the transport).
type Negotiated struct {
	SampleRate       int
	PeriodFrames     int
	PeriodsPerBuffer int
	Channels         int
	Format           pcm.Format
}

// Endpoint is one half (capture or playback) of a full-duplex device
// connection. Implementations: alsa (linux, real hardware) and dummy
// (silence generator, used when hardware is absent).
type Endpoint interface {
	// Configure negotiates hardware parameters. It does not prepare the
	// endpoint; the caller moves it to PREPARED with a separate Prepare.
	Configure(req Requested) (Negotiated, error)

	Prepare() error
	Start() error

	// Read/Write transfer exactly `frames` frames, blocking until done
	// or an error. Implementations resume internally on partial
	// transfers; callers never see a short read/write without an error.
	Read(raw []byte, frames int) error
	Write(raw []byte, frames int) error

	// Avail reports how many frames of buffer space are currently free
	// (used to detect when playback pre-fill has reached zero avail).
	Avail() (int, error)

	Drop() error
	Unlink() error
	Link(other Endpoint) error

	// Resume attempts to bring a SUSPENDED endpoint back to RUNNING.
	// Returns ErrRetry itself (not wrapped) while the device is still
	// reclaimed by power management.
	Resume() error

	Close() error
}

// Provider is the pluggable transport abstraction named in §6: the real
// implementation speaks to the OS sound API, a Dummy implementation
// generates silence at the requested rate and period.
type Provider interface {
	OpenCapture(name string) (Endpoint, error)
	OpenPlayback(name string) (Endpoint, error)
}

// ErrRetry is returned by Resume while the device is still reclaimed by
// power management; the §4.C suspend loop retries on this exact value.
var ErrRetry = errors.New("device: suspended, retry")
