package devices

import (
	"strconv"

	"github.com/nerrad567/simpit-core/internal/hardware"
	"github.com/nerrad567/simpit-core/internal/input"
)

// ActionButton sends a fixed argument when its button is pressed.
//
// The button shorts a pulled-up pin to ground, so a press is a High to Low
// edge. Releases send nothing.
type ActionButton struct {
	name string
	arg  string
	pin  hardware.DigitalInput
	out  input.Sender
	last hardware.Level
}

// NewActionButton creates a button sending "name arg" on each press.
func NewActionButton(name, arg string, pin hardware.DigitalInput, out input.Sender) *ActionButton {
	return &ActionButton{name: name, arg: arg, pin: pin, out: out, last: pin.Read()}
}

// Poll implements input.Source.
func (b *ActionButton) Poll() {
	state := b.pin.Read()
	if state != b.last && b.last == hardware.High && state == hardware.Low {
		b.out.Send(input.Message{Name: b.name, Arg: b.arg})
	}
	b.last = state
}

// Switch2Pos is an on/off toggle on one pulled-up pin.
// Closed (Low) sends "1", open sends "0"; reverse swaps them.
type Switch2Pos struct {
	name    string
	pin     hardware.DigitalInput
	reverse bool
	out     input.Sender
	last    hardware.Level
}

// NewSwitch2Pos creates a two position switch.
func NewSwitch2Pos(name string, pin hardware.DigitalInput, reverse bool, out input.Sender) *Switch2Pos {
	s := &Switch2Pos{name: name, pin: pin, reverse: reverse, out: out}
	s.last = s.read()
	return s
}

func (s *Switch2Pos) read() hardware.Level {
	state := s.pin.Read()
	if s.reverse {
		if state == hardware.High {
			return hardware.Low
		}
		return hardware.High
	}
	return state
}

// Poll implements input.Source.
func (s *Switch2Pos) Poll() {
	state := s.read()
	if state != s.last {
		arg := "1"
		if state == hardware.High {
			arg = "0"
		}
		s.out.Send(input.Message{Name: s.name, Arg: arg})
	}
	s.last = state
}

// Switch3Pos is an on/off/on toggle on two pulled-up pins.
// pinA closed is position 0, pinB closed is 2, neither is 1.
type Switch3Pos struct {
	name    string
	pinA    hardware.DigitalInput
	pinB    hardware.DigitalInput
	reverse bool
	out     input.Sender
	last    int
}

// NewSwitch3Pos creates a three position switch. reverse swaps positions 0 and 2.
func NewSwitch3Pos(name string, pinA, pinB hardware.DigitalInput, reverse bool, out input.Sender) *Switch3Pos {
	s := &Switch3Pos{name: name, pinA: pinA, pinB: pinB, reverse: reverse, out: out}
	s.last = s.read()
	return s
}

func (s *Switch3Pos) read() int {
	first, second := 0, 2
	if s.reverse {
		first, second = 2, 0
	}
	if s.pinA.Read() == hardware.Low {
		return first
	}
	if s.pinB.Read() == hardware.Low {
		return second
	}
	return 1
}

// Poll implements input.Source.
func (s *Switch3Pos) Poll() {
	state := s.read()
	if state != s.last {
		s.out.Send(input.Message{Name: s.name, Arg: strconv.Itoa(state)})
	}
	s.last = state
}

// SwitchMultiPos is a rotary selector with one pulled-up pin per position.
//
// The position is the index of the first closed pin. A nil entry in pins
// marks the position reported when no pin is closed, for selectors with an
// unwired detent; without one, position 0 is reported.
type SwitchMultiPos struct {
	name string
	pins []hardware.DigitalInput
	out  input.Sender
	last int
}

// NewSwitchMultiPos creates a multi position selector.
func NewSwitchMultiPos(name string, pins []hardware.DigitalInput, out input.Sender) *SwitchMultiPos {
	s := &SwitchMultiPos{name: name, pins: pins, out: out}
	s.last = s.read()
	return s
}

func (s *SwitchMultiPos) read() int {
	def := 0
	for i, p := range s.pins {
		if p == nil {
			def = i
			continue
		}
		if p.Read() == hardware.Low {
			return i
		}
	}
	return def
}

// Poll implements input.Source.
func (s *SwitchMultiPos) Poll() {
	state := s.read()
	if state != s.last {
		s.out.Send(input.Message{Name: s.name, Arg: strconv.Itoa(state)})
	}
	s.last = state
}

// SwitchMultiPosPot is a rotary selector read through a resistor ladder.
//
// levels are thresholds in descending order; the position is the index of
// the first threshold the reading exceeds, or len(levels) if none.
type SwitchMultiPosPot struct {
	name   string
	pin    hardware.AnalogInput
	levels []uint16
	out    input.Sender
	last   int
}

// NewSwitchMultiPosPot creates a resistor ladder selector.
func NewSwitchMultiPosPot(name string, pin hardware.AnalogInput, levels []uint16, out input.Sender) *SwitchMultiPosPot {
	s := &SwitchMultiPosPot{name: name, pin: pin, levels: levels, out: out}
	s.last = s.read()
	return s
}

func (s *SwitchMultiPosPot) read() int {
	val := s.pin.Read()
	for i, level := range s.levels {
		if val > level {
			return i
		}
	}
	return len(s.levels)
}

// Poll implements input.Source.
func (s *SwitchMultiPosPot) Poll() {
	state := s.read()
	if state != s.last {
		s.out.Send(input.Message{Name: s.name, Arg: strconv.Itoa(state)})
	}
	s.last = state
}

// Potentiometer sends an analog reading scaled to 0..65535.
type Potentiometer struct {
	name string
	pin  hardware.AnalogInput
	out  input.Sender
	last uint16
}

// NewPotentiometer creates a potentiometer input.
func NewPotentiometer(name string, pin hardware.AnalogInput, out input.Sender) *Potentiometer {
	p := &Potentiometer{name: name, pin: pin, out: out}
	p.last = p.read()
	return p
}

func (p *Potentiometer) read() uint16 {
	return uint16(mapRange(int64(p.pin.Read()), 0, hardware.AnalogMax, 0, 65535))
}

// Poll implements input.Source.
func (p *Potentiometer) Poll() {
	state := p.read()
	if state != p.last {
		p.out.Send(input.Message{Name: p.name, Arg: strconv.FormatUint(uint64(state), 10)})
	}
	p.last = state
}

// Quadrature accumulation.
const (
	// detentSteps is the number of quadrature transitions in one detent.
	detentSteps = 4
)

// RotaryEncoder turns quadrature transitions into increment and decrement
// commands, one per detent.
//
// The phase state is A<<1 | B. One clockwise detent walks 3, 2, 0, 1, 3;
// counter-clockwise walks 3, 1, 0, 2, 3. Each valid step moves the delta by
// one; a command is sent when it reaches ±4 and the delta resets. Invalid
// jumps (a missed sample) leave the delta unchanged.
type RotaryEncoder struct {
	name   string
	decArg string
	incArg string
	pinA   hardware.DigitalInput
	pinB   hardware.DigitalInput
	out    input.Sender
	last   uint8
	delta  int8
}

// NewRotaryEncoder creates an encoder sending decArg or incArg per detent.
func NewRotaryEncoder(name, decArg, incArg string, pinA, pinB hardware.DigitalInput, out input.Sender) *RotaryEncoder {
	e := &RotaryEncoder{name: name, decArg: decArg, incArg: incArg, pinA: pinA, pinB: pinB, out: out}
	e.last = e.read()
	return e
}

func (e *RotaryEncoder) read() uint8 {
	return uint8(e.pinA.Read())<<1 | uint8(e.pinB.Read())
}

// quadratureStep gives the delta for a transition from one phase state to
// another: +1 clockwise, -1 counter-clockwise, 0 otherwise.
var quadratureStep = [4][4]int8{
	0: {1: +1, 2: -1},
	1: {0: -1, 3: +1},
	2: {0: +1, 3: -1},
	3: {1: -1, 2: +1},
}

// Poll implements input.Source.
func (e *RotaryEncoder) Poll() {
	state := e.read()
	e.delta += quadratureStep[e.last][state]
	e.last = state

	switch e.delta {
	case detentSteps:
		e.out.Send(input.Message{Name: e.name, Arg: e.incArg})
		e.delta = 0
	case -detentSteps:
		e.out.Send(input.Message{Name: e.name, Arg: e.decArg})
		e.delta = 0
	}
}

// Delta returns the accumulated steps toward the next detent.
func (e *RotaryEncoder) Delta() int8 {
	return e.delta
}
