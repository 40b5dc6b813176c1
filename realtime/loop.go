// Package realtime implements the per-period orchestrator (spec
// component D): read capture, decode, drain MIDI, invoke the effect
// graph, encode, write playback, with XRUN recovery and CPU accounting.
package realtime

import (
	"sync/atomic"
	"time"

	"github.com/pedalcore/audiocore/device"
	"github.com/pedalcore/audiocore/midi"
	"github.com/pedalcore/audiocore/midiendpoint"
	"github.com/pedalcore/audiocore/pcm"
	"github.com/pedalcore/audiocore/telemetry"
)

// Graph is the externally-owned effect graph (§1 out of scope, §6
// contract): opaque to this core beyond this one call per period.
type Graph interface {
	Process(inputs, outputs [][]float32, frames int, events []midi.Event)
}

// GraphProvider hands the loop the currently-published Graph at the top
// of every period (§5 release/acquire publication). Implemented by
// control.Bridge's atomic handle.
type GraphProvider interface {
	Current() Graph
}

// Host receives lifecycle and per-period callbacks (§6 AudioDriverHost).
type Host interface {
	OnProcess(frames int)
	OnUnderrun()
	OnAudioStopped()
	OnAudioTerminated()
}

// MidiSource is one MIDI input endpoint and its persistent decoder
// state, owned exclusively by the audio thread once the loop starts
// (§3, §5).
type MidiSource struct {
	Endpoint midiendpoint.Endpoint
	Decoder  *midi.Decoder
	scratch  [midiendpoint.MaxChunk]byte
}

// Checkpoint names the five CPU-accounting phases per period (§4.D
// step 9).
type Checkpoint int

const (
	CheckpointRead Checkpoint = iota
	CheckpointDriverIn
	CheckpointExecute
	CheckpointDriverOut
	CheckpointWrite
	checkpointCount
)

// Loop is the single long-running audio thread (§5). Construct once per
// activation via control.Bridge; Run blocks until terminate is observed.
// After an unrecoverable error it keeps driving silence until then.
type Loop struct {
	dev       *device.Device
	config    device.Config
	captureCodec  *pcm.Codec
	playbackCodec *pcm.Codec

	midiSources []*MidiSource
	midiMap     *midi.Map

	rawCapture  []byte
	rawPlayback []byte
	planarIn    [][]float32
	planarOut   [][]float32

	graphs    GraphProvider
	host      Host
	counters  *telemetry.Counters
	terminate *atomic.Bool
	commands  <-chan Command
	schedWarning func(error)

	periodDuration time.Duration
}

// Params bundles everything Loop needs beyond the Device itself.
type Params struct {
	Device        *device.Device
	DeviceConfig  device.Config
	MidiSources   []*MidiSource
	MidiCapacity  int
	Graphs        GraphProvider
	Host          Host
	Counters      *telemetry.Counters
	Terminate     *atomic.Bool
	Commands      <-chan Command
	// SchedWarning, if set, is called once at the top of Run if
	// applyRealtimeScheduling fails, per §4.D "loss of real-time
	// scheduling is logged." Called before any period work starts, so
	// it may safely log or allocate despite running on the audio
	// thread's goroutine.
	SchedWarning func(error)
}

// New allocates every per-period buffer once; they are reused every
// period of the Loop. Bridge.Activate calls New, so the buffers are
// allocated on each activation, not at Bridge.Open.
func New(p Params) (*Loop, error) {
	captureCodec, err := pcm.New(p.DeviceConfig.CaptureFormat, p.DeviceConfig.CaptureChannels)
	if err != nil {
		return nil, err
	}
	playbackCodec, err := pcm.New(p.DeviceConfig.PlaybackFormat, p.DeviceConfig.PlaybackChannels)
	if err != nil {
		return nil, err
	}

	frames := p.DeviceConfig.PeriodFrames
	planarIn := make([][]float32, p.DeviceConfig.CaptureChannels)
	for i := range planarIn {
		planarIn[i] = make([]float32, frames)
	}
	planarOut := make([][]float32, p.DeviceConfig.PlaybackChannels)
	for i := range planarOut {
		planarOut[i] = make([]float32, frames)
	}

	l := &Loop{
		dev:           p.Device,
		config:        p.DeviceConfig,
		captureCodec:  captureCodec,
		playbackCodec: playbackCodec,
		midiSources:   p.MidiSources,
		midiMap:       midi.NewMap(p.MidiCapacity),
		rawCapture:    make([]byte, frames*p.DeviceConfig.CaptureChannels*p.DeviceConfig.CaptureFormat.BytesPerSample()),
		rawPlayback:   make([]byte, frames*p.DeviceConfig.PlaybackChannels*p.DeviceConfig.PlaybackFormat.BytesPerSample()),
		planarIn:      planarIn,
		planarOut:     planarOut,
		graphs:        p.Graphs,
		host:          p.Host,
		counters:      p.Counters,
		terminate:     p.Terminate,
		commands:      p.Commands,
		schedWarning:  p.SchedWarning,
		periodDuration: time.Duration(float64(frames)/float64(p.DeviceConfig.SampleRate)*1e9) * time.Nanosecond,
	}
	return l, nil
}

// Run is the realtime loop entry point (§4.D). It never returns an
// error across its own boundary: every failure is categorised, acted
// on, and if fatal, converted into termination plus a Host callback.
func (l *Loop) Run() {
	if err := applyRealtimeScheduling(); err != nil && l.schedWarning != nil {
		l.schedWarning(err)
	}
	l.counters.SetRunning(true)

	externallyRequested := l.runPeriods()

	l.host.OnAudioStopped()
	l.counters.SetRunning(false)

	if !externallyRequested {
		l.driveSilenceUntilTerminate()
	}

	l.host.OnAudioTerminated()
}

// runPeriods executes periods until terminate is observed or recovery
// gives up. Returns true if termination was the caller's own request
// (terminate was already set when the loop exited cleanly).
func (l *Loop) runPeriods() bool {
	var checkpoints [checkpointCount]time.Time

	for {
		if l.terminate.Load() {
			return true
		}

		l.midiMap.Reset()
		l.drainMidi()

		checkpoints[CheckpointRead] = time.Now()
		retry, fatal := l.readCaptureWithRecovery()
		if fatal != nil {
			return false
		}
		if retry {
			continue
		}
		checkpoints[CheckpointDriverIn] = time.Now()

		l.captureCodec.Decode(l.rawCapture, l.planarIn, l.config.PeriodFrames)

		checkpoints[CheckpointExecute] = time.Now()
		graph := l.graphs.Current()
		l.drainCommands(graph)
		if graph != nil {
			graph.Process(l.planarIn, l.planarOut, l.config.PeriodFrames, l.midiMap.Events())
		}
		l.host.OnProcess(l.config.PeriodFrames)
		checkpoints[CheckpointDriverOut] = time.Now()

		l.playbackCodec.Encode(l.planarOut, l.rawPlayback, l.config.PeriodFrames)

		checkpoints[CheckpointWrite] = time.Now()
		retry, fatal = l.writePlaybackWithRecovery()
		if fatal != nil {
			return false
		}
		if retry {
			continue
		}
		done := time.Now()

		l.updateCPUUse(checkpoints[CheckpointRead], done)
	}
}

// drainCommands applies every control-plane command queued since the
// last period to graph, if it accepts them, without blocking (§4.E,
// §5: lock-free control-to-audio handoff).
func (l *Loop) drainCommands(graph Graph) {
	if l.commands == nil {
		return
	}
	sink, ok := graph.(CommandSink)
	for {
		select {
		case cmd := <-l.commands:
			if ok {
				sink.ApplyCommand(cmd)
			}
		default:
			return
		}
	}
}

func (l *Loop) drainMidi() {
	for _, src := range l.midiSources {
		for {
			n, err := src.Endpoint.Read(src.scratch[:])
			if err != nil {
				break // WouldBlock or any other error terminates this drain
			}
			if n == 0 {
				break
			}
			// §9: all MIDI events are timestamped at time=0 within the
			// period, set before any capture frames have been read.
			src.Decoder.Feed(src.scratch[:n], l.midiMap, 0)
		}
	}
}

// readCaptureWithRecovery returns (retry=true, nil) when an XRUN was
// recovered and the caller should restart the period from the top, or
// (false, err) when recovery itself failed and the loop must exit.
func (l *Loop) readCaptureWithRecovery() (bool, error) {
	if err := l.dev.ReadCapture(l.rawCapture, l.config.PeriodFrames); err != nil {
		l.counters.RecordXrun(time.Now())
		l.host.OnUnderrun()
		if recErr := l.dev.Recover(device.XrunCapture); recErr != nil {
			return false, recErr
		}
		return true, nil
	}
	return false, nil
}

func (l *Loop) writePlaybackWithRecovery() (bool, error) {
	if err := l.dev.WritePlayback(l.rawPlayback, l.config.PeriodFrames); err != nil {
		l.counters.RecordXrun(time.Now())
		l.host.OnUnderrun()
		if recErr := l.dev.Recover(device.XrunPlayback); recErr != nil {
			return false, recErr
		}
		return true, nil
	}
	return false, nil
}

func (l *Loop) updateCPUUse(start, end time.Time) {
	used := end.Sub(start)
	if l.periodDuration <= 0 {
		return
	}
	frac := float64(used) / float64(l.periodDuration)
	l.counters.SetCPUUse(frac)
	// Overhead approximates scheduling jitter: how much of the period
	// budget elapsed beyond the measured work itself would require a
	// wall-clock reference point this single-threaded loop doesn't
	// have; we report the same fraction as a conservative upper bound
	// supplemented from original_source/ (see SPEC_FULL.md).
	l.counters.SetCPUOverhead(frac)
}

// driveSilenceUntilTerminate keeps producing output silence at the
// configured period rate after the loop has died unexpectedly, so
// downstream consumers see continuous silence rather than a stall
// (§4.D Termination).
func (l *Loop) driveSilenceUntilTerminate() {
	for !l.terminate.Load() {
		for i := range l.planarIn {
			for j := range l.planarIn[i] {
				l.planarIn[i][j] = 0
			}
		}
		graph := l.graphs.Current()
		if graph != nil {
			graph.Process(l.planarIn, l.planarOut, l.config.PeriodFrames, nil)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
