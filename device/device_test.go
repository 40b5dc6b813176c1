package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pedalcore/audiocore/pcm"
)

// fakeEndpoint lets tests inject a bounded number of Read/Write failures
// before succeeding, to exercise XRUN recovery without real hardware.
type fakeEndpoint struct {
	neg Negotiated

	failReadsLeft  int
	failWritesLeft int

	prepares int
	starts   int
	drops    int
	closed   bool
	linked   Endpoint
}

func (e *fakeEndpoint) Configure(req Requested) (Negotiated, error) {
	format := pcm.Format{Encoding: pcm.F32, Endianness: pcm.NativeEndian()}
	if len(req.Candidates) > 0 {
		format = req.Candidates[0]
	}
	e.neg = Negotiated{
		SampleRate:       req.SampleRate,
		PeriodFrames:     req.PeriodFrames,
		PeriodsPerBuffer: req.PeriodsPerBuffer,
		Channels:         req.Channels,
		Format:           format,
	}
	return e.neg, nil
}

func (e *fakeEndpoint) Prepare() error { e.prepares++; return nil }
func (e *fakeEndpoint) Start() error   { e.starts++; return nil }

func (e *fakeEndpoint) Read(raw []byte, frames int) error {
	if e.failReadsLeft > 0 {
		e.failReadsLeft--
		return errors.New("simulated capture xrun")
	}
	return nil
}

func (e *fakeEndpoint) Write(raw []byte, frames int) error {
	if e.failWritesLeft > 0 {
		e.failWritesLeft--
		return errors.New("simulated playback xrun")
	}
	return nil
}

func (e *fakeEndpoint) Avail() (int, error) { return 0, nil }

func (e *fakeEndpoint) Drop() error { e.drops++; return nil }
func (e *fakeEndpoint) Unlink() error {
	e.linked = nil
	return nil
}
func (e *fakeEndpoint) Link(other Endpoint) error {
	e.linked = other
	return nil
}
func (e *fakeEndpoint) Resume() error { return nil }
func (e *fakeEndpoint) Close() error  { e.closed = true; return nil }

type fakeProvider struct {
	capture  *fakeEndpoint
	playback *fakeEndpoint
}

func (p *fakeProvider) OpenCapture(name string) (Endpoint, error)  { return p.capture, nil }
func (p *fakeProvider) OpenPlayback(name string) (Endpoint, error) { return p.playback, nil }

func testConfigRequest() ConfigRequest {
	return ConfigRequest{
		SampleRate:       48000,
		PeriodFrames:     128,
		PeriodsPerBuffer: 2,
		CaptureChannels:  2,
		PlaybackChannels: 2,
	}
}

func TestOpenNegotiatesAndPrepares(t *testing.T) {
	provider := &fakeProvider{capture: &fakeEndpoint{}, playback: &fakeEndpoint{}}
	dev := New("test", provider, NewProbeCache())

	cfg, err := dev.Open(testConfigRequest())
	require.NoError(t, err)
	require.Equal(t, 48000, cfg.SampleRate)
	require.Equal(t, 128, cfg.PeriodFrames)
	require.Equal(t, 1, provider.capture.prepares)
	require.Equal(t, 1, provider.playback.prepares)
	require.Equal(t, Endpoint(provider.playback), provider.capture.linked)
}

func TestOpenUsesProbeCacheBusyEntry(t *testing.T) {
	provider := &fakeProvider{capture: &fakeEndpoint{}, playback: &fakeEndpoint{}}
	cache := NewProbeCache()
	cache.Put("test", ProbeResult{Busy: true})
	dev := New("test", provider, cache)

	_, err := dev.Open(testConfigRequest())
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, Busy, derr.Kind)
}

func TestRecoverRestartsAfterCaptureXrun(t *testing.T) {
	provider := &fakeProvider{capture: &fakeEndpoint{}, playback: &fakeEndpoint{}}
	dev := New("test", provider, NewProbeCache())

	cfg, err := dev.Open(testConfigRequest())
	require.NoError(t, err)
	require.NoError(t, dev.Start())

	raw := make([]byte, cfg.PeriodFrames*cfg.CaptureChannels*cfg.CaptureFormat.BytesPerSample())

	provider.capture.failReadsLeft = 1
	err = dev.ReadCapture(raw, cfg.PeriodFrames)
	require.Error(t, err)

	require.NoError(t, dev.Recover(XrunCapture))
	require.Equal(t, uint64(1), dev.XrunCount())

	// Recovery dropped and re-prepared both endpoints.
	require.Equal(t, 2, provider.capture.prepares)
	require.Equal(t, 2, provider.playback.prepares)
	require.Equal(t, 1, provider.capture.drops)
	require.Equal(t, 1, provider.playback.drops)

	// The period can now be retried successfully.
	require.NoError(t, dev.ReadCapture(raw, cfg.PeriodFrames))
}

func TestCheckPeriodsInvariantRejectsShrinkingPeriods(t *testing.T) {
	require.NoError(t, checkPeriodsInvariant(2, 2))
	require.NoError(t, checkPeriodsInvariant(2, 3))
	err := checkPeriodsInvariant(3, 2)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, ConfigRejected, derr.Kind)
}

func TestCloseIsIdempotent(t *testing.T) {
	provider := &fakeProvider{capture: &fakeEndpoint{}, playback: &fakeEndpoint{}}
	dev := New("test", provider, NewProbeCache())
	_, err := dev.Open(testConfigRequest())
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	require.True(t, provider.capture.closed)
	require.True(t, provider.playback.closed)

	// A second close must not panic or double-close the (now nil) endpoints.
	require.NoError(t, dev.Close())
}

func TestNegotiateChannelsPrefersStereo(t *testing.T) {
	require.Equal(t, 2, negotiateChannels(1, 1, 8))
	require.Equal(t, 2, negotiateChannels(0, 1, 2048))
	require.Equal(t, 1, negotiateChannels(1, 1, 1))
	require.Equal(t, 4, negotiateChannels(4, 4, 4))
}
