package hardware

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

const (
	// maxGPIO is the highest BCM pin on the 40-pin header.
	maxGPIO = 27

	// servoClockHz makes one PWM tick one microsecond.
	servoClockHz = 1_000_000

	// servoCycle is 20ms at servoClockHz, i.e. 50 Hz.
	servoCycle = 20_000

	// mcp3008Channels is the number of single-ended ADC inputs.
	mcp3008Channels = 8

	defaultSPISpeed = 1_000_000
)

// pwmPins are the BCM pins wired to the hardware PWM channels.
var pwmPins = map[int]bool{12: true, 13: true, 18: true, 19: true}

// RPIO drives Raspberry Pi GPIO through /dev/gpiomem.
//
// Analog inputs are read from an MCP3008 on SPI0. SPI is started on the
// first AnalogInput call, so panels with no analog controls never need it.
type RPIO struct {
	opts Options

	mu     sync.Mutex
	closed bool
	spi    bool
}

// OpenRPIO maps GPIO memory and returns a driver.
func OpenRPIO(opts Options) (*RPIO, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("opening gpio: %w", err)
	}
	if opts.ADCSpeed <= 0 {
		opts.ADCSpeed = defaultSPISpeed
	}
	return &RPIO{opts: opts}, nil
}

func (r *RPIO) checkPin(pin int) error {
	if r.closed {
		return ErrClosed
	}
	if pin < 0 || pin > maxGPIO {
		return fmt.Errorf("%w: gpio %d", ErrInvalidPin, pin)
	}
	return nil
}

// DigitalInput configures pin as an input, optionally pulled up.
func (r *RPIO) DigitalInput(pin int, pullUp bool) (DigitalInput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPin(pin); err != nil {
		return nil, err
	}

	p := rpio.Pin(pin)
	p.Input()
	if pullUp {
		p.PullUp()
	} else {
		p.PullOff()
	}
	return rpioPin{pin: p}, nil
}

// DigitalOutput configures pin as an output driven Low.
func (r *RPIO) DigitalOutput(pin int) (DigitalOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPin(pin); err != nil {
		return nil, err
	}

	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return rpioPin{pin: p}, nil
}

// PulseOutput configures pin for 50 Hz servo pulses on a hardware PWM channel.
func (r *RPIO) PulseOutput(pin int) (PulseOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPin(pin); err != nil {
		return nil, err
	}
	if !pwmPins[pin] {
		return nil, fmt.Errorf("%w: gpio %d has no hardware pwm", ErrInvalidPin, pin)
	}

	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	p.Freq(servoClockHz)
	p.DutyCycle(0, servoCycle)
	return rpioPulse{pin: p}, nil
}

// AnalogInput opens one MCP3008 channel.
func (r *RPIO) AnalogInput(channel int) (AnalogInput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if channel < 0 || channel >= mcp3008Channels {
		return nil, fmt.Errorf("%w: adc channel %d", ErrInvalidPin, channel)
	}

	if !r.spi {
		if err := rpio.SpiBegin(rpio.Spi0); err != nil {
			return nil, fmt.Errorf("starting spi: %w", err)
		}
		rpio.SpiChipSelect(uint8(r.opts.ADCChipSelect))
		rpio.SpiSpeed(r.opts.ADCSpeed)
		r.spi = true
	}
	return rpioAnalog{driver: r, channel: channel}, nil
}

// Close releases SPI and unmaps GPIO memory.
func (r *RPIO) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.spi {
		rpio.SpiEnd(rpio.Spi0)
	}
	return rpio.Close()
}

// readADC performs one MCP3008 single-ended conversion.
func (r *RPIO) readADC(channel int) uint16 {
	buf := []byte{0x01, byte(0x08|channel) << 4, 0x00}

	r.mu.Lock()
	rpio.SpiExchange(buf)
	r.mu.Unlock()

	return uint16(buf[1]&0x03)<<8 | uint16(buf[2])
}

type rpioPin struct {
	pin rpio.Pin
}

func (p rpioPin) Read() Level {
	if p.pin.Read() == rpio.High {
		return High
	}
	return Low
}

func (p rpioPin) Write(level Level) {
	if level == High {
		p.pin.High()
	} else {
		p.pin.Low()
	}
}

type rpioPulse struct {
	pin rpio.Pin
}

func (p rpioPulse) WriteMicroseconds(us int) {
	if us < 0 {
		us = 0
	}
	if us > servoCycle {
		us = servoCycle
	}
	p.pin.DutyCycle(uint32(us), servoCycle)
}

type rpioAnalog struct {
	driver  *RPIO
	channel int
}

func (a rpioAnalog) Read() uint16 {
	return a.driver.readADC(a.channel)
}
