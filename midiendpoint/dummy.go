package midiendpoint

// DummyProvider exposes no endpoints; used when no MIDI hardware is
// present, mirroring device.DummyProvider's role for audio (§6).
type DummyProvider struct{}

func NewDummyProvider() *DummyProvider { return &DummyProvider{} }

func (DummyProvider) List() ([]string, error) { return nil, nil }

func (DummyProvider) Open(name string, dir Direction) (Endpoint, error) {
	return &dummyEndpoint{name: name}, nil
}

type dummyEndpoint struct{ name string }

func (e *dummyEndpoint) Name() string { return e.name }

func (e *dummyEndpoint) Read(buf []byte) (int, error) { return 0, ErrWouldBlock }

func (e *dummyEndpoint) Close() error { return nil }
