package audiocore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pedalcore/audiocore/device"
	"github.com/pedalcore/audiocore/midi"
	"github.com/pedalcore/audiocore/midiendpoint"
	"github.com/pedalcore/audiocore/realtime"
	"github.com/pedalcore/audiocore/telemetry"
)

// MidiEndpointRequest names one MIDI input to open alongside the device
// (§4.E open contract: "opens MIDI endpoints first, tolerating
// individual failures with a log").
type MidiEndpointRequest struct {
	Name string
}

// PatchRequest is one get/set operation against a specific effect,
// handled by the current graph and answered on a non-realtime goroutine
// via Callback (§4.E send_patch_request).
type PatchRequest struct {
	ID       uuid.UUID
	PluginID string
	Symbol   string
	Set      bool
	Value    float64
	Callback func(PatchResponse)
}

// PatchResponse answers a PatchRequest by ID.
type PatchResponse struct {
	ID    uuid.UUID
	Value float64
	Err   error
}

// PatchHandler is implemented by the Graph when it wants to answer
// PatchRequests; like CommandSink, this is an optional capability on an
// otherwise opaque graph.
type PatchHandler interface {
	HandlePatch(PatchRequest) PatchResponse
}

var (
	errAlreadyOpen     = fmt.Errorf("audiocore: already open")
	errNotOpen         = fmt.Errorf("audiocore: not open")
	errAlreadyActive   = fmt.Errorf("audiocore: already active")
)

// Bridge is the non-realtime control surface (spec component E). One
// Bridge owns at most one Device, one realtime.Loop, and the set of
// MIDI sources it opened. Every method is safe to call from any
// control-thread goroutine; internal state is protected by mu, which
// the audio thread never touches (§5).
type Bridge struct {
	mu sync.Mutex

	deviceProvider device.Provider
	deviceCache    *device.ProbeCache
	midiProvider   midiendpoint.Provider

	log *asyncLog

	dev         *device.Device
	deviceName  string
	config      device.Config
	midiSources []*realtime.MidiSource

	graph    graphHandle
	commands chan realtime.Command

	counters  telemetry.Counters
	terminate atomic.Bool

	loopDone   chan struct{}
	open       bool
	active     bool
	closeOnce  sync.Once

	host Host
}

// Host mirrors realtime.Host, named at this layer per §6 AudioDriverHost
// so callers of this package don't need to import realtime directly.
type Host = realtime.Host

// NewBridge constructs a Bridge bound to the given device and MIDI
// transports and a logging sink. logger may be nil, in which case a
// no-op zap logger is used (mirrors the teacher's tolerance for a nil
// ErrorHandler).
func NewBridge(deviceProvider device.Provider, deviceCache *device.ProbeCache, midiProvider midiendpoint.Provider, logger Logger) *Bridge {
	if logger == nil {
		logger = NewZapLogger(zap.NewNop())
	}
	return &Bridge{
		deviceProvider: deviceProvider,
		deviceCache:    deviceCache,
		midiProvider:   midiProvider,
		log:            newAsyncLog(logger, 128),
		commands:       make(chan realtime.Command, 64),
	}
}

// Open negotiates the device and opens every requested MIDI endpoint
// (§4.E open). Idempotent check: returns errAlreadyOpen if already
// open. On any failure every resource acquired so far is released.
func (b *Bridge) Open(deviceName string, req device.ConfigRequest, midiReqs []MidiEndpointRequest, host Host) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		return errAlreadyOpen
	}

	var sources []*realtime.MidiSource
	for _, mr := range midiReqs {
		ep, err := b.midiProvider.Open(mr.Name, midiendpoint.DirectionIn)
		if err != nil {
			b.log.warnf("midi endpoint open failed, continuing without it",
				zap.String("endpoint", mr.Name), zap.Error(err))
			continue
		}
		sources = append(sources, &realtime.MidiSource{
			Endpoint: ep,
			Decoder:  midi.NewDecoder(),
		})
	}

	dev := device.New(deviceName, b.deviceProvider, b.deviceCache)
	cfg, err := dev.Open(req)
	if err != nil {
		for _, s := range sources {
			s.Endpoint.Close()
		}
		b.log.errorf("device open failed", zap.String("device", deviceName), zap.Error(err))
		return err
	}

	b.dev = dev
	b.deviceName = deviceName
	b.config = cfg
	b.midiSources = sources
	b.host = host
	b.open = true
	b.terminate.Store(false)
	b.log.infof("device opened", zap.String("device", b.deviceName), zap.Int("period_frames", cfg.PeriodFrames))
	return nil
}

// Activate spawns the audio thread (§4.E activate). Returns
// errAlreadyActive if already active.
func (b *Bridge) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return errNotOpen
	}
	if b.active {
		return errAlreadyActive
	}

	if err := b.dev.Start(); err != nil {
		return err
	}

	totalMidiCapacity := 256 * (len(b.midiSources) + 1)
	loop, err := realtime.New(realtime.Params{
		Device:       b.dev,
		DeviceConfig: b.config,
		MidiSources:  b.midiSources,
		MidiCapacity: totalMidiCapacity,
		Graphs:       &b.graph,
		Host:         b.host,
		Counters:     &b.counters,
		Terminate:    &b.terminate,
		Commands:     b.commands,
		SchedWarning: func(err error) {
			b.log.warnf("realtime scheduling unavailable, continuing at default priority", zap.Error(err))
		},
	})
	if err != nil {
		return err
	}

	b.loopDone = make(chan struct{})
	done := b.loopDone
	go func() {
		loop.Run()
		close(done)
	}()
	b.active = true
	return nil
}

// Deactivate sets terminate and joins the audio thread (§4.E
// deactivate). Idempotent.
func (b *Bridge) Deactivate() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.terminate.Store(true)
	done := b.loopDone
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
}

// Close deactivates, releases the device and MIDI endpoints, and is
// idempotent and safe after a failed Open (§4.E close).
func (b *Bridge) Close() error {
	var retErr error
	b.closeOnce.Do(func() {
		b.Deactivate()

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.dev != nil {
			retErr = b.dev.Close()
			if retErr != nil {
				b.log.errorf("device close failed", zap.String("device", b.deviceName), zap.Error(retErr))
			}
			b.dev = nil
		}
		for _, s := range b.midiSources {
			s.Endpoint.Close()
		}
		b.midiSources = nil
		b.open = false
		b.log.close()
	})
	return retErr
}

// SetGraph publishes a new effect graph to the audio thread using
// release/acquire handoff (§5). The previously-active graph, if the
// caller needs to free it, should only be dropped after the caller
// observes the audio thread has advanced past this store — e.g. by
// waiting for one OnProcess callback, or until Deactivate/Close returns.
func (b *Bridge) SetGraph(g realtime.Graph) {
	b.graph.Store(g)
}

// SetBypass, SetControl, and SetVolume forward control-plane operations
// to the audio thread via the lock-free command queue (§4.E, §5). They
// never block: if the queue is full the command is dropped, matching
// the audio thread's own non-blocking drain discipline.
func (b *Bridge) SetBypass(channelID string, on bool) {
	b.postCommand(realtime.Command{Kind: realtime.CommandSetBypass, ChannelID: channelID, Bypass: on})
}

func (b *Bridge) SetControl(pluginID, symbol string, value float64) {
	b.postCommand(realtime.Command{Kind: realtime.CommandSetControl, PluginID: pluginID, Symbol: symbol, Value: value})
}

func (b *Bridge) SetVolume(direction string, db float64) {
	b.postCommand(realtime.Command{Kind: realtime.CommandSetVolume, Direction: direction, Value: db})
}

func (b *Bridge) postCommand(cmd realtime.Command) {
	select {
	case b.commands <- cmd:
	default:
		b.log.warnf("command queue full, dropping", zap.Int("kind", int(cmd.Kind)))
	}
}

// SendPatchRequest starts a goroutine that hands the patch get/set to the
// currently published graph's HandlePatch and answers it by callback on
// that goroutine (§4.E send_patch_request). The request does not pass
// through the audio thread or its command queue. If req.ID is the zero
// UUID one is generated.
func (b *Bridge) SendPatchRequest(req PatchRequest) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	go func() {
		graph := b.graph.Current()
		handler, ok := graph.(PatchHandler)
		if !ok {
			if req.Callback != nil {
				req.Callback(PatchResponse{ID: req.ID, Err: fmt.Errorf("audiocore: graph does not implement patch handling")})
			}
			return
		}
		resp := handler.HandlePatch(req)
		resp.ID = req.ID
		if req.Callback != nil {
			req.Callback(resp)
		}
	}()
}

// Telemetry returns a point-in-time snapshot of the counters exposed to
// the host (§6).
func (b *Bridge) Telemetry() telemetry.Snapshot {
	return b.counters.Snapshot()
}

// DeviceXrunStats supplements the loop-local counters with the
// device's own view, exposed for callers that want both (they agree in
// practice: both are incremented from the same recovery call).
func (b *Bridge) DeviceXrunStats() (count uint64, msSinceLast uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dev == nil {
		return 0, 0
	}
	return b.dev.XrunCount(), b.dev.MsSinceLastXrun()
}
