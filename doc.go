// Package audiocore is the non-realtime control surface for the audio
// engine (spec component E, ControlBridge): open/close the device,
// activate/deactivate the audio thread, and hand off effect-graph and
// control changes to it without ever blocking the realtime path.
package audiocore
