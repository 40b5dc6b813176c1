// Command dummyrig wires a Bridge to the Dummy device and MIDI
// transports and runs it until interrupted, demonstrating the open /
// set_graph / activate / deactivate / close lifecycle without any real
// hardware present.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pedalcore/audiocore"
	"github.com/pedalcore/audiocore/device"
	"github.com/pedalcore/audiocore/midi"
	"github.com/pedalcore/audiocore/midiendpoint"
)

// passthroughGraph copies capture straight to playback, ignoring MIDI.
type passthroughGraph struct {
	periods atomic.Int64
}

func (g *passthroughGraph) Process(inputs, outputs [][]float32, frames int, events []midi.Event) {
	g.periods.Add(1)
	for ch := range outputs {
		if ch >= len(inputs) {
			continue
		}
		copy(outputs[ch][:frames], inputs[ch][:frames])
	}
}

type stdoutHost struct{}

func (stdoutHost) OnProcess(frames int)  {}
func (stdoutHost) OnUnderrun()           { fmt.Println("underrun") }
func (stdoutHost) OnAudioStopped()       { fmt.Println("audio stopped") }
func (stdoutHost) OnAudioTerminated()    { fmt.Println("audio terminated") }

func main() {
	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zapLogger.Sync()

	bridge := audiocore.NewBridge(
		device.NewDummyProvider(),
		device.NewProbeCache(),
		midiendpoint.NewDummyProvider(),
		audiocore.NewZapLogger(zapLogger),
	)

	err = bridge.Open("dummy", device.ConfigRequest{
		SampleRate:       48000,
		PeriodFrames:     128,
		PeriodsPerBuffer: 3,
		CaptureChannels:  2,
		PlaybackChannels: 2,
	}, []audiocore.MidiEndpointRequest{{Name: "dummy-in"}}, stdoutHost{})
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer bridge.Close()

	graph := &passthroughGraph{}
	bridge.SetGraph(graph)

	if err := bridge.Activate(); err != nil {
		log.Fatalf("activate: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			fmt.Println("shutting down")
			bridge.Deactivate()
			return
		case <-ticker.C:
			snap := bridge.Telemetry()
			fmt.Printf("periods=%d running=%v cpu_use=%.3f xruns=%d\n",
				graph.periods.Load(), snap.Running, snap.CPUUse, snap.XrunCount)
		}
	}
}
