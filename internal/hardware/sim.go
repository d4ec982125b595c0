package hardware

import (
	"fmt"
	"sync"
)

// Sim is an in-memory Driver.
//
// Inputs are set by the test or dry-run harness with SetDigital and
// SetAnalog; outputs are observed with Digital and Pulse. Unset digital
// inputs with pull-up enabled read High, matching an open switch to ground.
type Sim struct {
	mu      sync.Mutex
	closed  bool
	digital map[int]Level
	analog  map[int]uint16
	pulses  map[int]int
}

// NewSim creates an empty simulated driver.
func NewSim() *Sim {
	return &Sim{
		digital: make(map[int]Level),
		analog:  make(map[int]uint16),
		pulses:  make(map[int]int),
	}
}

// SetDigital sets the level a digital input on pin reads.
func (s *Sim) SetDigital(pin int, level Level) {
	s.mu.Lock()
	s.digital[pin] = level
	s.mu.Unlock()
}

// SetAnalog sets the value an analog channel reads, clamped to AnalogMax.
func (s *Sim) SetAnalog(channel int, value uint16) {
	if value > AnalogMax {
		value = AnalogMax
	}
	s.mu.Lock()
	s.analog[channel] = value
	s.mu.Unlock()
}

// Digital returns the level last written to or set on pin.
func (s *Sim) Digital(pin int) Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digital[pin]
}

// Pulse returns the last pulse width written to pin and whether the pin was
// ever opened as a pulse output.
func (s *Sim) Pulse(pin int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.pulses[pin]
	return us, ok
}

func (s *Sim) check(pin int) error {
	if s.closed {
		return ErrClosed
	}
	if pin < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	return nil
}

// DigitalInput opens pin as an input.
func (s *Sim) DigitalInput(pin int, pullUp bool) (DigitalInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(pin); err != nil {
		return nil, err
	}
	if _, ok := s.digital[pin]; !ok && pullUp {
		s.digital[pin] = High
	}
	return simDigital{sim: s, pin: pin}, nil
}

// DigitalOutput opens pin as an output, initially Low.
func (s *Sim) DigitalOutput(pin int) (DigitalOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(pin); err != nil {
		return nil, err
	}
	s.digital[pin] = Low
	return simDigital{sim: s, pin: pin}, nil
}

// AnalogInput opens an ADC channel.
func (s *Sim) AnalogInput(channel int) (AnalogInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(channel); err != nil {
		return nil, err
	}
	return simAnalog{sim: s, channel: channel}, nil
}

// PulseOutput opens pin as a servo output.
func (s *Sim) PulseOutput(pin int) (PulseOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(pin); err != nil {
		return nil, err
	}
	s.pulses[pin] = 0
	return simPulse{sim: s, pin: pin}, nil
}

// Close marks the driver closed. Pins already opened keep working.
func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type simDigital struct {
	sim *Sim
	pin int
}

func (d simDigital) Read() Level {
	return d.sim.Digital(d.pin)
}

func (d simDigital) Write(level Level) {
	d.sim.SetDigital(d.pin, level)
}

type simAnalog struct {
	sim     *Sim
	channel int
}

func (a simAnalog) Read() uint16 {
	a.sim.mu.Lock()
	defer a.sim.mu.Unlock()
	return a.sim.analog[a.channel]
}

type simPulse struct {
	sim *Sim
	pin int
}

func (p simPulse) WriteMicroseconds(us int) {
	p.sim.mu.Lock()
	p.sim.pulses[p.pin] = us
	p.sim.mu.Unlock()
}
