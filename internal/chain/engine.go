package chain

// Engine builds the audio graph behind a chain. The chain package never
// touches audio directly; it asks the engine for a Voice and toggles it.
type Engine interface {
	Voice(name string, roles []Role) (Voice, error)
}

// Voice is one built signal path.
type Voice interface {
	Start()
	Stop()
	Close()
}

// NopEngine builds voices that do nothing. Used when audio is disabled.
type NopEngine struct{}

// Voice implements Engine.
func (NopEngine) Voice(string, []Role) (Voice, error) { return nopVoice{}, nil }

type nopVoice struct{}

func (nopVoice) Start() {}
func (nopVoice) Stop()  {}
func (nopVoice) Close() {}
