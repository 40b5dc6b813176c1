package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pedalcore/audiocore/device"
	"github.com/pedalcore/audiocore/midi"
	"github.com/pedalcore/audiocore/telemetry"
)

type countingGraph struct {
	calls atomic.Int64
}

func (g *countingGraph) Process(inputs, outputs [][]float32, frames int, events []midi.Event) {
	g.calls.Add(1)
	for ch := range outputs {
		for i := 0; i < frames; i++ {
			outputs[ch][i] = inputs[ch][i]
		}
	}
}

type staticGraphProvider struct{ g Graph }

func (p staticGraphProvider) Current() Graph { return p.g }

type recordingHost struct {
	processed  atomic.Int64
	underruns  atomic.Int64
	stopped    atomic.Int64
	terminated chan struct{}
}

func newRecordingHost() *recordingHost {
	return &recordingHost{terminated: make(chan struct{})}
}

func (h *recordingHost) OnProcess(frames int)    { h.processed.Add(1) }
func (h *recordingHost) OnUnderrun()             { h.underruns.Add(1) }
func (h *recordingHost) OnAudioStopped()         { h.stopped.Add(1) }
func (h *recordingHost) OnAudioTerminated()      { close(h.terminated) }

func newTestLoop(t *testing.T) (*Loop, *atomic.Bool, *recordingHost) {
	provider := device.NewDummyProvider()
	dev := device.New("dummy", provider, device.NewProbeCache())

	cfg, err := dev.Open(device.ConfigRequest{
		SampleRate:       48000,
		PeriodFrames:      64,
		PeriodsPerBuffer:  2,
		CaptureChannels:   2,
		PlaybackChannels:  2,
	})
	require.NoError(t, err)
	require.NoError(t, dev.Start())

	var terminate atomic.Bool
	host := newRecordingHost()
	graph := &countingGraph{}

	loop, err := New(Params{
		Device:       dev,
		DeviceConfig: cfg,
		MidiCapacity: 32,
		Graphs:       staticGraphProvider{graph},
		Host:         host,
		Counters:     &telemetry.Counters{},
		Terminate:    &terminate,
	})
	require.NoError(t, err)
	return loop, &terminate, host
}

func TestLoopRunsAndTerminates(t *testing.T) {
	loop, terminate, host := newTestLoop(t)

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	terminate.Store(true)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after terminate was set")
	}

	select {
	case <-host.terminated:
	case <-time.After(time.Second):
		t.Fatal("OnAudioTerminated was not called")
	}

	require.GreaterOrEqual(t, host.processed.Load(), int64(1))
	require.Equal(t, int64(1), host.stopped.Load())
}
