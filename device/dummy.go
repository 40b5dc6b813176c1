package device

import (
	"github.com/pedalcore/audiocore/pcm"
)

// DummyProvider generates silence at the requested rate and period,
// used when hardware is absent (§6 AudioDevice provider).
type DummyProvider struct{}

func NewDummyProvider() *DummyProvider { return &DummyProvider{} }

func (DummyProvider) OpenCapture(name string) (Endpoint, error) {
	return &dummyEndpoint{}, nil
}

func (DummyProvider) OpenPlayback(name string) (Endpoint, error) {
	return &dummyEndpoint{}, nil
}

// dummyEndpoint accepts any negotiation request as-is (it has no
// hardware constraints) and always reports zero avail, so prefill
// returns on its first check without writing.
type dummyEndpoint struct {
	neg    Negotiated
	state  State
	linked Endpoint
}

func (d *dummyEndpoint) Configure(req Requested) (Negotiated, error) {
	format := pcm.Format{Encoding: pcm.F32, Endianness: pcm.NativeEndian()}
	if len(req.Candidates) > 0 {
		format = req.Candidates[0]
	}
	d.neg = Negotiated{
		SampleRate:       req.SampleRate,
		PeriodFrames:     req.PeriodFrames,
		PeriodsPerBuffer: req.PeriodsPerBuffer,
		Channels:         req.Channels,
		Format:           format,
	}
	return d.neg, nil
}

func (d *dummyEndpoint) Prepare() error { d.state = Prepared; return nil }
func (d *dummyEndpoint) Start() error   { d.state = Running; return nil }

func (d *dummyEndpoint) Read(raw []byte, frames int) error {
	for i := range raw {
		raw[i] = 0
	}
	return nil
}

func (d *dummyEndpoint) Write(raw []byte, frames int) error { return nil }

func (d *dummyEndpoint) Avail() (int, error) { return 0, nil }

func (d *dummyEndpoint) Drop() error    { return nil }
func (d *dummyEndpoint) Unlink() error  { d.linked = nil; return nil }
func (d *dummyEndpoint) Link(other Endpoint) error {
	d.linked = other
	return nil
}
func (d *dummyEndpoint) Resume() error { d.state = Running; return nil }
func (d *dummyEndpoint) Close() error  { d.state = Closed; return nil }
