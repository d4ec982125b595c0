package devices

import (
	"errors"
	"fmt"

	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/hardware"
	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
	"github.com/nerrad567/simpit-core/internal/input"
)

// Device type names used in the devices configuration section.
const (
	TypeLED               = "led"
	TypeServo             = "servo"
	TypeStringBuffer      = "string"
	TypeActionButton      = "actionbutton"
	TypeSwitch2Pos        = "switch2pos"
	TypeSwitch3Pos        = "switch3pos"
	TypeSwitchMultiPos    = "switchmultipos"
	TypeSwitchMultiPosPot = "switchmultipospot"
	TypePotentiometer     = "potentiometer"
	TypeRotaryEncoder     = "rotaryencoder"
)

// UnwiredPin marks a SwitchMultiPos position with no pin.
const UnwiredPin = 255

// ErrInvalidDevice is returned by Build for an unusable device entry.
var ErrInvalidDevice = errors.New("devices: invalid device")

// DisplayFunc receives StringBuffer updates with the device name.
type DisplayFunc func(name, text string)

// Targets are the registries and sinks Build wires adapters into.
type Targets struct {
	Listeners *exportstream.Registry
	Inputs    *input.Registry
	Sender    input.Sender
	Display   DisplayFunc
	Logger    Logger
}

// Summary counts what Build registered.
type Summary struct {
	Listeners int
	Inputs    int
}

// Build constructs every configured device and registers it exactly once in
// the matching registry.
//
// The first failing entry stops the build and is reported with its index.
// Devices before it stay registered; callers treat the error as fatal.
func Build(specs []config.DeviceConfig, drv hardware.Driver, t Targets) (Summary, error) {
	if t.Logger == nil {
		t.Logger = noopLogger{}
	}
	if t.Display == nil {
		t.Display = func(string, string) {}
	}

	var sum Summary
	for i, spec := range specs {
		listener, source, err := build(spec, drv, t)
		if err != nil {
			return sum, fmt.Errorf("devices[%d] %s %q: %w", i, spec.Type, spec.Name, err)
		}
		if listener != nil {
			t.Listeners.Register(listener)
			sum.Listeners++
		}
		if source != nil {
			t.Inputs.Register(source)
			sum.Inputs++
		}
		t.Logger.Debug("device registered", "type", spec.Type, "name", spec.Name)
	}
	return sum, nil
}

func build(spec config.DeviceConfig, drv hardware.Driver, t Targets) (exportstream.Listener, input.Source, error) {
	needName := func() error {
		if spec.Name == "" {
			return fmt.Errorf("%w: name is required", ErrInvalidDevice)
		}
		return nil
	}

	switch spec.Type {
	case TypeLED:
		if spec.Mask == 0 {
			return nil, nil, fmt.Errorf("%w: mask is required", ErrInvalidDevice)
		}
		pin, err := drv.DigitalOutput(spec.Pin)
		if err != nil {
			return nil, nil, err
		}
		return NewLED(spec.Address, spec.Mask, pin), nil, nil

	case TypeServo:
		if err := checkServoRange(spec); err != nil {
			return nil, nil, err
		}
		s := NewServoOutput(spec.Address, spec.Pin, drv, ServoRange{
			InputMin: spec.InputMin,
			InputMax: spec.InputMax,
			MinPulse: spec.MinPulse,
			MaxPulse: spec.MaxPulse,
		})
		s.SetLogger(t.Logger)
		return s, nil, nil

	case TypeStringBuffer:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		if spec.Length < 1 {
			return nil, nil, fmt.Errorf("%w: length must be positive", ErrInvalidDevice)
		}
		name := spec.Name
		return NewStringBuffer(spec.Address, spec.Length, func(text string) {
			t.Display(name, text)
		}), nil, nil

	case TypeActionButton:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		arg := spec.Arg
		if arg == "" {
			arg = "TOGGLE"
		}
		pin, err := drv.DigitalInput(spec.Pin, true)
		if err != nil {
			return nil, nil, err
		}
		return nil, NewActionButton(spec.Name, arg, pin, t.Sender), nil

	case TypeSwitch2Pos:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		pin, err := drv.DigitalInput(spec.Pin, true)
		if err != nil {
			return nil, nil, err
		}
		return nil, NewSwitch2Pos(spec.Name, pin, spec.Reverse, t.Sender), nil

	case TypeSwitch3Pos:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		pinA, err := drv.DigitalInput(spec.PinA, true)
		if err != nil {
			return nil, nil, err
		}
		pinB, err := drv.DigitalInput(spec.PinB, true)
		if err != nil {
			return nil, nil, err
		}
		return nil, NewSwitch3Pos(spec.Name, pinA, pinB, spec.Reverse, t.Sender), nil

	case TypeSwitchMultiPos:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		if len(spec.Pins) == 0 {
			return nil, nil, fmt.Errorf("%w: pins are required", ErrInvalidDevice)
		}
		pins := make([]hardware.DigitalInput, len(spec.Pins))
		for i, p := range spec.Pins {
			if p == UnwiredPin {
				continue
			}
			pin, err := drv.DigitalInput(p, true)
			if err != nil {
				return nil, nil, err
			}
			pins[i] = pin
		}
		return nil, NewSwitchMultiPos(spec.Name, pins, t.Sender), nil

	case TypeSwitchMultiPosPot:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		if len(spec.Levels) == 0 {
			return nil, nil, fmt.Errorf("%w: levels are required", ErrInvalidDevice)
		}
		pin, err := drv.AnalogInput(spec.Channel)
		if err != nil {
			return nil, nil, err
		}
		return nil, NewSwitchMultiPosPot(spec.Name, pin, spec.Levels, t.Sender), nil

	case TypePotentiometer:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		pin, err := drv.AnalogInput(spec.Channel)
		if err != nil {
			return nil, nil, err
		}
		return nil, NewPotentiometer(spec.Name, pin, t.Sender), nil

	case TypeRotaryEncoder:
		if err := needName(); err != nil {
			return nil, nil, err
		}
		dec, inc := spec.DecArg, spec.IncArg
		if dec == "" {
			dec = "DEC"
		}
		if inc == "" {
			inc = "INC"
		}
		pinA, err := drv.DigitalInput(spec.PinA, true)
		if err != nil {
			return nil, nil, err
		}
		pinB, err := drv.DigitalInput(spec.PinB, true)
		if err != nil {
			return nil, nil, err
		}
		return nil, NewRotaryEncoder(spec.Name, dec, inc, pinA, pinB, t.Sender), nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown type", ErrInvalidDevice)
	}
}

// checkServoRange rejects ranges that would pin a servo to one position.
// A range left entirely at zero means the default and is accepted.
func checkServoRange(spec config.DeviceConfig) error {
	if spec.InputMin == spec.InputMax && spec.InputMin != 0 {
		return fmt.Errorf("%w: input_min and input_max are both %d", ErrInvalidDevice, spec.InputMin)
	}
	if spec.MinPulse < 0 || spec.MaxPulse < 0 {
		return fmt.Errorf("%w: pulse widths must not be negative", ErrInvalidDevice)
	}
	if spec.MinPulse == spec.MaxPulse && spec.MinPulse != 0 {
		return fmt.Errorf("%w: min_pulse and max_pulse are both %d", ErrInvalidDevice, spec.MinPulse)
	}
	return nil
}
