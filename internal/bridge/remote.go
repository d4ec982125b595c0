package bridge

import (
	"fmt"
	"strings"

	"github.com/nerrad567/simpit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/simpit-core/internal/input"
)

// Subscriber registers MQTT handlers. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SubscribeRemoteInput forwards messages on simpit/input/{panel}/{name} to
// sender as commands. The payload, trimmed of surrounding space, is the
// argument.
//
// The handler runs on the MQTT client's goroutines, so sender must be safe
// for concurrent use.
func SubscribeRemoteInput(sub Subscriber, panelID string, qos byte, sender input.Sender) error {
	return sub.Subscribe(mqtt.Topics{}.AllInputs(panelID), qos, RemoteInputHandler(sender))
}

// RemoteInputHandler returns the handler used by SubscribeRemoteInput.
func RemoteInputHandler(sender input.Sender) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		msg, err := parseRemoteInput(topic, payload)
		if err != nil {
			return err
		}
		sender.Send(msg)
		return nil
	}
}

func parseRemoteInput(topic string, payload []byte) (input.Message, error) {
	i := strings.LastIndexByte(topic, '/')
	name := topic[i+1:]
	arg := strings.TrimSpace(string(payload))

	switch {
	case name == "":
		return input.Message{}, fmt.Errorf("%w: empty control name in %q", ErrInvalidRemoteInput, topic)
	case strings.ContainsAny(name, " \t\r\n"):
		return input.Message{}, fmt.Errorf("%w: control name %q contains white space", ErrInvalidRemoteInput, name)
	case arg == "":
		return input.Message{}, fmt.Errorf("%w: empty argument for %s", ErrInvalidRemoteInput, name)
	case strings.ContainsAny(arg, "\r\n"):
		return input.Message{}, fmt.Errorf("%w: argument for %s spans lines", ErrInvalidRemoteInput, name)
	}
	return input.Message{Name: name, Arg: arg}, nil
}
