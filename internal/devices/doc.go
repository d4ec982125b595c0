// Package devices implements the panel adapters.
//
// Output adapters are exportstream.Listeners that translate decoded writes
// into pin actions:
//   - LED:          one digital output driven from address & mask
//   - ServoOutput:  a gauge needle mapped from a 16-bit value to a pulse width
//   - StringBuffer: a character display assembled from consecutive addresses
//
// Input adapters are input.Sources that send a command on change:
//   - ActionButton, Switch2Pos, Switch3Pos, SwitchMultiPos: digital switches
//   - SwitchMultiPosPot, Potentiometer: analog readings
//   - RotaryEncoder: quadrature detents
//
// Every input adapter reads its control once at construction, so the first
// poll only reports a change that happened after startup.
//
// Build creates adapters from the devices section of the configuration and
// registers each one exactly once.
package devices
