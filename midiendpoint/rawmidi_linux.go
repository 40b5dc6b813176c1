//go:build linux

package midiendpoint

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	midi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// RawProvider opens ALSA rawmidi character devices directly for the
// hot-path byte transport, and uses gomidi/v2's RtMidi driver only to
// enumerate port names (§6 "MIDI endpoint transport") — never to decode
// messages; decoding bytes is this core's own job (component B).
type RawProvider struct {
	driver *rtmididrv.Driver
}

func NewRawProvider() (*RawProvider, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("midiendpoint: open rtmidi driver for enumeration: %w", err)
	}
	return &RawProvider{driver: drv}, nil
}

func (p *RawProvider) List() ([]string, error) {
	ins, err := midi.InPorts()
	if err != nil {
		return nil, fmt.Errorf("midiendpoint: enumerate input ports: %w", err)
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

func (p *RawProvider) Open(name string, dir Direction) (Endpoint, error) {
	suffix := "i"
	if dir == DirectionOut {
		suffix = "o"
	}
	path := fmt.Sprintf("/dev/snd/midiC%sD0%s", cardIndexFromName(name), suffix)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("midiendpoint: open %s: %w", path, err)
	}
	return &rawEndpoint{file: f, name: name}, nil
}

// cardIndexFromName resolves an opaque device name of the form
// "hw:<card>" (§6 device identification) to the card index used to
// build the rawmidi device path; unresolved names fall back to card 0.
func cardIndexFromName(name string) string {
	if len(name) > 3 && name[:3] == "hw:" {
		return name[3:]
	}
	return "0"
}

type rawEndpoint struct {
	file *os.File
	name string
}

func (e *rawEndpoint) Name() string { return e.name }

func (e *rawEndpoint) Read(buf []byte) (int, error) {
	if len(buf) > MaxChunk {
		buf = buf[:MaxChunk]
	}
	n, err := e.file.Read(buf)
	if err != nil {
		// os.File wraps the syscall errno in *fs.PathError; unwrap with
		// errors.As rather than asserting on err directly.
		var errno unix.Errno
		if errors.As(err, &errno) && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (e *rawEndpoint) Close() error {
	return e.file.Close()
}
