// Package input samples panel controls and emits command messages.
//
// A Source compares the current reading of its control with the last one it
// reported and, on change, hands exactly one Message to its Sender. The
// Registry polls every Source once per tick from the bridge run loop.
package input

import (
	"fmt"
	"sync"
)

// Message is an outgoing command: a control name and its argument.
type Message struct {
	Name string `json:"name"`
	Arg  string `json:"arg"`
}

// String returns the line form "NAME ARG".
func (m Message) String() string {
	return fmt.Sprintf("%s %s", m.Name, m.Arg)
}

// Sender carries messages away from the panel.
//
// Send must not block for long; it runs inside PollAll. Implementations log
// and count their own delivery failures.
type Sender interface {
	Send(msg Message)
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(msg Message)

// Send calls f(msg).
func (f SenderFunc) Send(msg Message) { f(msg) }

// MultiSender fans each message out to several senders in order.
type MultiSender []Sender

// Send delivers msg to every sender.
func (m MultiSender) Send(msg Message) {
	for _, s := range m {
		s.Send(msg)
	}
}

// Source is a sampled input control.
type Source interface {
	Poll()
}

// Registry is the set of Sources sampled by PollAll.
//
// Sources are polled in registration order. Registration must finish before
// polling starts; the Registry is not safe for concurrent use.
type Registry struct {
	sources []Source
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds s to the registry. Registering the same source twice polls it twice.
func (r *Registry) Register(s Source) {
	r.sources = append(r.sources, s)
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return len(r.sources)
}

// PollAll samples every source once, synchronously.
func (r *Registry) PollAll() {
	for _, s := range r.sources {
		s.Poll()
	}
}

// Recorder is a Sender that keeps every message it receives.
// It is safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

// Send appends msg.
func (r *Recorder) Send(msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Reset discards recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}
