// Package telemetry holds the counters exposed to the host per §6:
// running, cpu_use, cpu_overhead, xrun_count, ms_since_last_xrun.
// Single-writer (the audio thread) / multi-reader (the control plane),
// using relaxed atomics — readers accept slight staleness (§5).
package telemetry

import (
	"math"
	"sync/atomic"
	"time"
)

// Counters is embedded by control.Bridge and updated once per period by
// RealtimeLoop; never locked, never allocated on the hot path.
type Counters struct {
	running       atomic.Bool
	cpuUseBits    atomic.Uint64 // float64 bits, fraction of period budget
	overheadBits  atomic.Uint64
	xrunCount     atomic.Uint64
	lastXrunNanos atomic.Int64 // unix nanos, 0 means "never"
}

func (c *Counters) SetRunning(v bool) { c.running.Store(v) }
func (c *Counters) Running() bool     { return c.running.Load() }

func (c *Counters) SetCPUUse(frac float64) {
	c.cpuUseBits.Store(math.Float64bits(frac))
}
func (c *Counters) CPUUse() float64 { return math.Float64frombits(c.cpuUseBits.Load()) }

func (c *Counters) SetCPUOverhead(frac float64) {
	c.overheadBits.Store(math.Float64bits(frac))
}
func (c *Counters) CPUOverhead() float64 { return math.Float64frombits(c.overheadBits.Load()) }

func (c *Counters) RecordXrun(at time.Time) {
	c.xrunCount.Add(1)
	c.lastXrunNanos.Store(at.UnixNano())
}

func (c *Counters) XrunCount() uint64 { return c.xrunCount.Load() }

func (c *Counters) MsSinceLastXrun() uint64 {
	nanos := c.lastXrunNanos.Load()
	if nanos == 0 {
		return 0
	}
	return uint64(time.Since(time.Unix(0, nanos)).Milliseconds())
}

// Snapshot is a point-in-time read of every counter, handed to control
// plane callers.
type Snapshot struct {
	Running         bool
	CPUUse          float64
	CPUOverhead     float64
	XrunCount       uint64
	MsSinceLastXrun uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Running:         c.Running(),
		CPUUse:          c.CPUUse(),
		CPUOverhead:     c.CPUOverhead(),
		XrunCount:       c.XrunCount(),
		MsSinceLastXrun: c.MsSinceLastXrun(),
	}
}
