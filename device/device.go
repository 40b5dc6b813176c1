// Package device implements the AudioDevice state machine (spec
// component C): open, configure, prepare, start, read/write, and XRUN
// recovery for one full-duplex capture+playback connection.
package device

import (
	"fmt"
	"time"

	"github.com/pedalcore/audiocore/pcm"
)

// ConfigRequest is the caller's negotiation request, spanning both
// directions (§3 DeviceConfig, all fields required non-zero).
type ConfigRequest struct {
	SampleRate       int
	PeriodFrames     int
	PeriodsPerBuffer int
	CaptureChannels  int
	PlaybackChannels int
}

// Config is the negotiated result, returned from Open. Per §3's
// invariant, every field is >= the corresponding request.
type Config struct {
	SampleRate       int
	PeriodFrames     int
	PeriodsPerBuffer int
	CaptureChannels  int
	PlaybackChannels int
	CaptureFormat    pcm.Format
	PlaybackFormat   pcm.Format
}

const (
	prefillRetries   = 5
	prefillRetryWait = 100 * time.Millisecond
	resumeRetryWait  = 1 * time.Second
)

// Device wraps one full-duplex sound device: one capture endpoint and
// one playback endpoint, driven as a unit per §4.C.
type Device struct {
	name     string
	provider Provider
	cache    *ProbeCache

	capture  Endpoint
	playback Endpoint

	captureState  State
	playbackState State

	config Config

	xrunCount      uint64
	lastXrunAt     time.Time
	lastXrunIsZero bool
}

// New constructs a Device bound to name, driven through provider (the
// real ALSA transport or the Dummy silence generator per §6).
func New(name string, provider Provider, cache *ProbeCache) *Device {
	return &Device{name: name, provider: provider, cache: cache, lastXrunIsZero: true}
}

// Open negotiates format/rate/period/periods for both directions and
// leaves both endpoints PREPARED and linked if the transport supports
// linking (§4.C).
func (d *Device) Open(req ConfigRequest) (Config, error) {
	if d.cache != nil {
		if probe, ok := d.cache.Get(d.name); ok && probe.Busy {
			return Config{}, newErr(Busy, d.name, "device reported busy by a previous probe", nil)
		}
	}

	capture, err := d.provider.OpenCapture(d.name)
	if err != nil {
		d.recordProbeFailure()
		return Config{}, newErr(Busy, d.name, "open capture endpoint", err)
	}
	playback, err := d.provider.OpenPlayback(d.name)
	if err != nil {
		capture.Close()
		d.recordProbeFailure()
		return Config{}, newErr(Busy, d.name, "open playback endpoint", err)
	}

	captureReq := Requested{
		SampleRate:       req.SampleRate,
		PeriodFrames:     req.PeriodFrames,
		PeriodsPerBuffer: req.PeriodsPerBuffer,
		Channels:         req.CaptureChannels,
		Candidates:       candidateFormats(),
	}
	negCapture, err := capture.Configure(captureReq)
	if err != nil {
		capture.Close()
		playback.Close()
		return Config{}, newErr(ConfigRejected, d.name, "negotiate capture format", err)
	}
	if err := checkPeriodsInvariant(req.PeriodsPerBuffer, negCapture.PeriodsPerBuffer); err != nil {
		capture.Close()
		playback.Close()
		return Config{}, err
	}

	playbackReq := Requested{
		SampleRate:       negCapture.SampleRate,
		PeriodFrames:     negCapture.PeriodFrames,
		PeriodsPerBuffer: req.PeriodsPerBuffer,
		Channels:         req.PlaybackChannels,
		Candidates:       candidateFormats(),
	}
	negPlayback, err := playback.Configure(playbackReq)
	if err != nil {
		capture.Close()
		playback.Close()
		return Config{}, newErr(ConfigRejected, d.name, "negotiate playback format", err)
	}
	if err := checkPeriodsInvariant(req.PeriodsPerBuffer, negPlayback.PeriodsPerBuffer); err != nil {
		capture.Close()
		playback.Close()
		return Config{}, err
	}

	if err := capture.Prepare(); err != nil {
		capture.Close()
		playback.Close()
		return Config{}, newErr(CannotPrepare, d.name, "prepare capture", err)
	}
	if err := playback.Prepare(); err != nil {
		capture.Close()
		playback.Close()
		return Config{}, newErr(CannotPrepare, d.name, "prepare playback", err)
	}

	_ = capture.Link(playback) // best-effort: not all transports support linking

	d.capture = capture
	d.playback = playback
	d.captureState = Prepared
	d.playbackState = Prepared
	d.config = Config{
		SampleRate:       negCapture.SampleRate,
		PeriodFrames:     negCapture.PeriodFrames,
		PeriodsPerBuffer: negCapture.PeriodsPerBuffer,
		CaptureChannels:  negCapture.Channels,
		PlaybackChannels: negPlayback.Channels,
		CaptureFormat:    negCapture.Format,
		PlaybackFormat:   negPlayback.Format,
	}

	if d.cache != nil {
		d.cache.Put(d.name, ProbeResult{Busy: false, LastConfig: d.config})
	}

	return d.config, nil
}

// Start pre-fills playback with silence, then starts capture; playback
// auto-starts on its first write once linked (§4.C).
func (d *Device) Start() error {
	if err := d.prefillPlayback(); err != nil {
		return err
	}
	if err := d.capture.Start(); err != nil {
		return newErr(CannotStart, d.name, "start capture", err)
	}
	d.captureState = Running
	d.playbackState = Running
	return nil
}

func (d *Device) prefillPlayback() error {
	silence := make([]byte, d.config.PeriodFrames*d.config.PlaybackChannels*d.config.PlaybackFormat.BytesPerSample())
	for attempt := 0; attempt < prefillRetries; attempt++ {
		for {
			avail, err := d.playback.Avail()
			if err != nil {
				return newErr(Unrecoverable, d.name, "query playback avail during prefill", err)
			}
			if avail == 0 {
				return nil
			}
			if err := d.playback.Write(silence, d.config.PeriodFrames); err != nil {
				break // retry after the sleep below
			}
		}
		time.Sleep(prefillRetryWait)
	}
	return newErr(Unrecoverable, d.name, fmt.Sprintf("playback prefill did not reach zero avail after %d retries", prefillRetries), nil)
}

// ReadCapture blocks until frames frames have been delivered, resuming
// internally on partial reads (§4.C).
func (d *Device) ReadCapture(raw []byte, frames int) error {
	stride := d.config.CaptureChannels * d.config.CaptureFormat.BytesPerSample()
	need := frames * stride
	filled := 0
	for filled < need {
		if err := d.capture.Read(raw[filled:need], (need-filled)/stride); err != nil {
			return newErr(XrunCapture, d.name, "read capture", err)
		}
		filled = need
	}
	return nil
}

// WritePlayback blocks until all frames are queued (§4.C).
func (d *Device) WritePlayback(raw []byte, frames int) error {
	if err := d.playback.Write(raw, frames); err != nil {
		return newErr(XrunPlayback, d.name, "write playback", err)
	}
	return nil
}

// Recover runs the §4.C XRUN recovery algorithm: unlink, drop both,
// prepare both, pre-fill playback (bounded retry), relink, restart
// capture. Playback auto-starts on its first write once linked.
func (d *Device) Recover(kind Kind) error {
	d.xrunCount++
	d.lastXrunAt = time.Now()
	d.lastXrunIsZero = false

	if kind == Suspended {
		return d.recoverSuspend()
	}

	_ = d.capture.Unlink()

	if err := d.capture.Drop(); err != nil {
		return newErr(Unrecoverable, d.name, "drop capture during recovery", err)
	}
	if err := d.playback.Drop(); err != nil {
		return newErr(Unrecoverable, d.name, "drop playback during recovery", err)
	}

	if err := d.capture.Prepare(); err != nil {
		return newErr(Unrecoverable, d.name, "reprepare capture during recovery", err)
	}
	if err := d.playback.Prepare(); err != nil {
		return newErr(Unrecoverable, d.name, "reprepare playback during recovery", err)
	}

	if err := d.prefillPlayback(); err != nil {
		return err
	}

	_ = d.capture.Link(d.playback)

	if err := d.capture.Start(); err != nil {
		return newErr(Unrecoverable, d.name, "restart capture during recovery", err)
	}

	d.captureState = Running
	d.playbackState = Running
	return nil
}

// recoverSuspend loops Resume while it returns ErrRetry, sleeping
// resumeRetryWait between attempts; falls back to Prepare on ultimate
// failure (§4.C Suspend recovery).
func (d *Device) recoverSuspend() error {
	for {
		err := d.capture.Resume()
		if err == nil {
			d.captureState = Running
			d.playbackState = Running
			return nil
		}
		if err != ErrRetry {
			break
		}
		time.Sleep(resumeRetryWait)
	}

	if err := d.capture.Prepare(); err != nil {
		return newErr(Unrecoverable, d.name, "fallback prepare after failed resume", err)
	}
	if err := d.playback.Prepare(); err != nil {
		return newErr(Unrecoverable, d.name, "fallback prepare after failed resume", err)
	}
	d.captureState = Prepared
	d.playbackState = Prepared
	return nil
}

// Close frees both endpoints; it does not drain queued frames before
// closing them. Idempotent (§4.C, §8 property:
// exactly one concurrent close performs shutdown — enforced one layer up
// by control.Bridge's sync.Once).
func (d *Device) Close() error {
	if d.capture == nil && d.playback == nil {
		return nil
	}
	var firstErr error
	if d.capture != nil {
		if err := d.capture.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.capture = nil
	}
	if d.playback != nil {
		if err := d.playback.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.playback = nil
	}
	d.captureState = Closed
	d.playbackState = Closed
	return firstErr
}

// XrunCount and MsSinceLastXrun feed §6 telemetry.
func (d *Device) XrunCount() uint64 { return d.xrunCount }

func (d *Device) MsSinceLastXrun() uint64 {
	if d.lastXrunIsZero {
		return 0
	}
	return uint64(time.Since(d.lastXrunAt).Milliseconds())
}

func (d *Device) recordProbeFailure() {
	if d.cache == nil {
		return
	}
	// Stale entries are preferable to a failed re-probe (§9): only mark
	// busy if we don't already have a cached config to fall back on.
	if _, ok := d.cache.Get(d.name); !ok {
		d.cache.Put(d.name, ProbeResult{Busy: true})
	}
}
