package exportstream

// Listener consumes decoded stream events.
//
// OnWrite is called for every decoded value, whatever its address; a
// listener filters for the addresses it owns and ignores the rest.
// OnFrameSync is called at each frame boundary. Listeners that do not buffer
// can implement it as a no-op.
//
// Both methods run on the parser's goroutine and must not block.
type Listener interface {
	OnWrite(address, value uint16)
	OnFrameSync()
}

// WriteFunc adapts a plain function to a Listener with no frame sync handling.
type WriteFunc func(address, value uint16)

// OnWrite calls f(address, value).
func (f WriteFunc) OnWrite(address, value uint16) { f(address, value) }

// OnFrameSync does nothing.
func (f WriteFunc) OnFrameSync() {}

// SyncFunc adapts a plain function to a Listener that only handles frame syncs.
type SyncFunc func()

// OnWrite does nothing.
func (f SyncFunc) OnWrite(uint16, uint16) {}

// OnFrameSync calls f().
func (f SyncFunc) OnFrameSync() { f() }

// Registry is the set of Listeners a Parser dispatches to.
//
// Listeners are notified in registration order. Registering the same
// listener twice notifies it twice. There is no unregister.
//
// Registration must finish before dispatch starts; the Registry is not
// safe for concurrent use.
type Registry struct {
	listeners []Listener
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds l to the registry.
func (r *Registry) Register(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return len(r.listeners)
}

// DispatchWrite delivers one decoded value to every listener.
func (r *Registry) DispatchWrite(address, value uint16) {
	for _, l := range r.listeners {
		l.OnWrite(address, value)
	}
}

// DispatchFrameSync delivers a frame boundary to every listener.
func (r *Registry) DispatchFrameSync() {
	for _, l := range r.listeners {
		l.OnFrameSync()
	}
}
