// Package mqtt connects the panel to an MQTT broker.
//
// The broker is optional. When enabled, the panel publishes:
//   - retained decoder state per export address (simpit/state/{addr})
//   - retained panel health (simpit/health/{panel})
//   - input commands as JSON envelopes (simpit/command/{name})
//   - online/offline status with a Last Will (simpit/system/status)
//
// and accepts remote input on simpit/input/{panel}/{name}, where the
// payload is the command argument.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishRetained(mqtt.Topics{}.State(0x1234), []byte("42"))
package mqtt
