package audiocore

import (
	"sync/atomic"

	"github.com/pedalcore/audiocore/realtime"
)

// graphHandle publishes the active effect graph using release/acquire
// semantics (§5): the control thread stores a new handle, the audio
// thread loads it at the top of each period via Current. The old
// handle is only dropped after the caller confirms the audio thread has
// advanced past the store (see Bridge.SetGraph).
type graphHandle struct {
	ptr atomic.Pointer[realtime.Graph]
}

func (h *graphHandle) Current() realtime.Graph {
	p := h.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (h *graphHandle) Store(g realtime.Graph) {
	h.ptr.Store(&g)
}
