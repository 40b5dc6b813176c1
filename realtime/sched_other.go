//go:build !linux

package realtime

// applyRealtimeScheduling is a no-op off Linux; the Dummy transport is
// meant to run anywhere the engine is developed or tested.
func applyRealtimeScheduling() error { return nil }
