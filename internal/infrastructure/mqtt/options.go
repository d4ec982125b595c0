package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 30 * time.Second

	// defaultDisconnectQuiesce is in milliseconds, as paho expects.
	defaultDisconnectQuiesce = 500

	maxQoS = 2
)

// statusPayload is the retained body of the system status topic.
type statusPayload struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(clientID, status, reason string) []byte {
	p := statusPayload{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := json.Marshal(p)
	return data
}

func brokerURL(cfg config.MQTTConfig) string {
	b := cfg.Broker
	if b.TLS {
		return fmt.Sprintf("ssl://%s:%d", b.Host, b.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// buildClientOptions translates cfg into paho options. The session is clean,
// reconnects back off between the configured delays and an offline will is
// left on the status topic.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay)).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		// State topics are retained, last value wins.
		SetOrderMatters(false).
		SetBinaryWill(Topics{}.SystemStatus(),
			buildStatusPayload(cfg.Broker.ClientID, "offline", "unexpected_disconnect"), 1, true)

	if user := cfg.Auth.Username; user != "" {
		opts.SetUsername(user).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
