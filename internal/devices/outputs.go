package devices

import (
	"bytes"

	"github.com/nerrad567/simpit-core/internal/hardware"
)

// Logger defines the logging interface used by the adapters.
// This allows the adapters to be tested without a real logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// mapRange is integer linear interpolation of x from [inMin,inMax] to
// [outMin,outMax]. x is not clamped.
func mapRange(x, inMin, inMax, outMin, outMax int64) int64 {
	if inMax == inMin {
		return outMin
	}
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

// LED drives one output pin from a single bit field of one address.
type LED struct {
	address uint16
	mask    uint16
	pin     hardware.DigitalOutput
}

// NewLED creates an LED lit while address & mask is non-zero.
// The pin is driven Low until the first matching write.
func NewLED(address, mask uint16, pin hardware.DigitalOutput) *LED {
	pin.Write(hardware.Low)
	return &LED{address: address, mask: mask, pin: pin}
}

// OnWrite implements exportstream.Listener.
func (l *LED) OnWrite(address, value uint16) {
	if address != l.address {
		return
	}
	if value&l.mask != 0 {
		l.pin.Write(hardware.High)
	} else {
		l.pin.Write(hardware.Low)
	}
}

// OnFrameSync implements exportstream.Listener.
func (l *LED) OnFrameSync() {}

// PulseOpener opens servo outputs. hardware.Driver implements it.
type PulseOpener interface {
	PulseOutput(pin int) (hardware.PulseOutput, error)
}

// ServoRange maps stream values to pulse widths.
type ServoRange struct {
	InputMin int
	InputMax int
	MinPulse int
	MaxPulse int
}

// DefaultServoRange covers the full 16-bit value range with standard hobby
// servo pulse limits.
var DefaultServoRange = ServoRange{
	InputMin: 0,
	InputMax: 65535,
	MinPulse: 544,
	MaxPulse: 2400,
}

// ServoOutput positions a servo from one address.
//
// The pulse output is opened on the first matching write so an unused gauge
// never claims its PWM channel. If opening fails the servo stays inert and
// the failure is logged once.
type ServoOutput struct {
	address uint16
	pinNum  int
	opener  PulseOpener
	rng     ServoRange
	logger  Logger

	out    hardware.PulseOutput
	failed bool
}

// NewServoOutput creates a servo on pin driven from address.
// An input or pulse range with both ends zero is replaced by the
// DefaultServoRange one; Build rejects other flat ranges.
func NewServoOutput(address uint16, pin int, opener PulseOpener, rng ServoRange) *ServoOutput {
	if rng.InputMin == 0 && rng.InputMax == 0 {
		rng.InputMin, rng.InputMax = DefaultServoRange.InputMin, DefaultServoRange.InputMax
	}
	if rng.MinPulse == 0 && rng.MaxPulse == 0 {
		rng.MinPulse, rng.MaxPulse = DefaultServoRange.MinPulse, DefaultServoRange.MaxPulse
	}
	return &ServoOutput{
		address: address,
		pinNum:  pin,
		opener:  opener,
		rng:     rng,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for attach failures.
func (s *ServoOutput) SetLogger(logger Logger) {
	s.logger = logger
}

// Pulse returns the pulse width in microseconds for a stream value.
func (s *ServoOutput) Pulse(value uint16) int {
	return int(mapRange(int64(value),
		int64(s.rng.InputMin), int64(s.rng.InputMax),
		int64(s.rng.MinPulse), int64(s.rng.MaxPulse)))
}

// OnWrite implements exportstream.Listener.
func (s *ServoOutput) OnWrite(address, value uint16) {
	if address != s.address || s.failed {
		return
	}
	if s.out == nil {
		out, err := s.opener.PulseOutput(s.pinNum)
		if err != nil {
			s.failed = true
			s.logger.Error("servo attach failed", "pin", s.pinNum, "address", address, "error", err)
			return
		}
		s.out = out
	}
	s.out.WriteMicroseconds(s.Pulse(value))
}

// OnFrameSync implements exportstream.Listener.
func (s *ServoOutput) OnFrameSync() {}

// updateCounterAddress carries the frame counter the exporter writes at the
// end of every frame.
const updateCounterAddress uint16 = 0xFFFE

// StringBuffer assembles a fixed-length string from consecutive addresses.
//
// Each address holds two characters, low byte first. The callback receives
// the text up to the first NUL, and only when it changed since the last
// call. Flushes happen at frame sync and when the frame counter address is
// written, so a display never shows half a frame's update.
type StringBuffer struct {
	address  uint16
	buf      []byte
	dirty    bool
	onChange func(text string)
}

// NewStringBuffer creates a buffer of length characters starting at address.
func NewStringBuffer(address uint16, length int, onChange func(text string)) *StringBuffer {
	return &StringBuffer{
		address:  address,
		buf:      make([]byte, length),
		onChange: onChange,
	}
}

// OnWrite implements exportstream.Listener.
func (b *StringBuffer) OnWrite(address, value uint16) {
	if address >= b.address {
		index := int(address - b.address)
		if index < len(b.buf) {
			b.setChar(index, byte(value))
			if index+1 < len(b.buf) {
				b.setChar(index+1, byte(value>>8))
			}
		}
	}
	if address == updateCounterAddress {
		b.flush()
	}
}

// OnFrameSync implements exportstream.Listener.
func (b *StringBuffer) OnFrameSync() {
	b.flush()
}

// Text returns the current buffer contents up to the first NUL.
func (b *StringBuffer) Text() string {
	if i := bytes.IndexByte(b.buf, 0); i >= 0 {
		return string(b.buf[:i])
	}
	return string(b.buf)
}

func (b *StringBuffer) setChar(index int, c byte) {
	if b.buf[index] == c {
		return
	}
	b.buf[index] = c
	b.dirty = true
}

func (b *StringBuffer) flush() {
	if !b.dirty {
		return
	}
	b.dirty = false
	if b.onChange != nil {
		b.onChange(b.Text())
	}
}
