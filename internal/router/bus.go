package router

// Message is one incoming command as delivered by a transport.
type Message struct {
	Address string
	Args    []any
}

// Listener receives messages for one installed address.
type Listener func(Message)

// Handle identifies one installed listener. It is returned by Bus.Install and
// handed back to Bus.Uninstall.
type Handle struct {
	ID      uint64
	Address string
	Key     string
}

// Bus is the listener table a router installs its routes into. Keys are
// unique across the bus; Install rejects a key that is already present.
type Bus interface {
	Install(address, key string, fn Listener) (Handle, error)
	Uninstall(h Handle) bool
}
