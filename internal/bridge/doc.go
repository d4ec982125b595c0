// Package bridge connects the export stream, the panel devices and the
// outside world.
//
// Bridge.Run is the single goroutine that owns the decoder, both registries
// and every device adapter: it feeds received chunks to the parser and polls
// the inputs on a ticker. Everything that can block (MQTT publishes,
// database writes) happens on a queue drained by its own goroutine, so a
// slow broker never stalls decoding.
//
// # MQTT topics
//
//   - simpit/state/{addr}       retained decimal value, published per frame
//   - simpit/health/{panel}     retained HealthMessage JSON
//   - simpit/command/{name}     CommandEnvelope JSON for each input command
//   - simpit/input/{panel}/+    remote input, payload is the argument
package bridge
