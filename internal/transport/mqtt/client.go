package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// brokerClient is the subset of a paho client the bridge drives.
type brokerClient interface {
	Connect() error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Publish(topic string, qos byte, payload []byte) error
	Disconnect()
}

type pahoClient struct {
	client  paho.Client
	timeout time.Duration
}

// dialPaho builds a clean-session client with paho's own reconnect turned
// off; the bridge schedules reconnects itself.
func dialPaho(opts Options, onLost func(error)) brokerClient {
	return &pahoClient{client: paho.NewClient(pahoOptions(opts, onLost)), timeout: opts.ConnectTimeout}
}

// Empty credentials mean an anonymous connect.
func pahoOptions(opts Options, onLost func(error)) *paho.ClientOptions {
	o := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetConnectTimeout(opts.ConnectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			onLost(err)
		})
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	return o
}

func (c *pahoClient) Connect() error {
	return wait(c.client.Connect(), c.timeout, "connect")
}

func (c *pahoClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	return wait(token, c.timeout, "subscribe "+topic)
}

func (c *pahoClient) Publish(topic string, qos byte, payload []byte) error {
	return wait(c.client.Publish(topic, qos, false, payload), c.timeout, "publish "+topic)
}

func (c *pahoClient) Disconnect() {
	c.client.Disconnect(250)
}

func wait(token paho.Token, timeout time.Duration, op string) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s: timed out after %s", op, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
