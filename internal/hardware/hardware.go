// Package hardware provides the pin primitives device adapters drive.
//
// Two drivers are available:
//   - RPIO: Raspberry Pi GPIO, hardware PWM and an MCP3008 ADC on SPI0
//   - Sim:  in-memory pins for tests and dry runs
//
// Adapters only see the small DigitalInput, DigitalOutput, AnalogInput and
// PulseOutput interfaces, so a panel definition runs unchanged on either.
package hardware

import (
	"errors"
	"fmt"
)

// Level is a digital pin level.
type Level uint8

// Pin levels.
const (
	Low Level = iota
	High
)

// String returns "low" or "high".
func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// AnalogMax is the largest value an AnalogInput returns (10-bit ADC).
const AnalogMax = 1023

// DigitalInput reads one digital pin.
type DigitalInput interface {
	Read() Level
}

// DigitalOutput drives one digital pin.
type DigitalOutput interface {
	Write(level Level)
}

// AnalogInput reads one ADC channel as 0..AnalogMax.
type AnalogInput interface {
	Read() uint16
}

// PulseOutput drives a servo-style pulse train.
type PulseOutput interface {
	WriteMicroseconds(us int)
}

// Driver opens pins. Pins returned by a Driver are valid until Close.
type Driver interface {
	DigitalInput(pin int, pullUp bool) (DigitalInput, error)
	DigitalOutput(pin int) (DigitalOutput, error)
	AnalogInput(channel int) (AnalogInput, error)
	PulseOutput(pin int) (PulseOutput, error)
	Close() error
}

// Domain errors for the hardware package.
var (
	// ErrInvalidPin is returned for a pin or channel the driver cannot serve.
	ErrInvalidPin = errors.New("hardware: invalid pin")

	// ErrClosed is returned when opening a pin on a closed driver.
	ErrClosed = errors.New("hardware: driver closed")

	// ErrUnknownDriver is returned by Open for an unrecognised driver name.
	ErrUnknownDriver = errors.New("hardware: unknown driver")
)

// Options configures Open.
type Options struct {
	// ADCChipSelect is the SPI0 chip select wired to the MCP3008.
	ADCChipSelect int

	// ADCSpeed is the SPI clock in Hz.
	ADCSpeed int
}

// Open returns the driver registered under name ("rpio" or "sim").
func Open(name string, opts Options) (Driver, error) {
	switch name {
	case "rpio":
		d, err := OpenRPIO(opts)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "sim":
		return NewSim(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
}
