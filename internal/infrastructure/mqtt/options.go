package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 60 * time.Second

	// quiesceMillis lets in-flight publishes drain on Disconnect.
	quiesceMillis = 1000

	maxQoS = 2
)

// presence is the retained payload announcing whether the bridge is up.
// The same shape is used for the online message, the graceful offline
// message and the broker-held last will.
type presence struct {
	Bridge    string `json:"bridge"`
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(clientID, status, reason string) []byte {
	b, _ := json.Marshal(presence{ //nolint:errcheck // only string fields
		Bridge:    ProtocolGPIO,
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return b
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// newOptions translates the bridge configuration into paho options. The
// session is clean; subscriptions are replayed by the client itself on
// every reconnect.
func newOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Published by the broker on graylogic/health/gpio if the bridge
	// vanishes without a DISCONNECT.
	opts.SetBinaryWill(
		Topics{}.BridgeHealth(ProtocolGPIO),
		presencePayload(clientID, "offline", "unexpected_disconnect"),
		1, true,
	)

	return opts
}

// wait blocks on a paho token and converts timeout or failure into an
// error wrapping base.
func wait(token pahomqtt.Token, base error) error {
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: %w after %v", base, ErrTimeout, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", base, err)
	}
	return nil
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
