package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// v3Transport speaks MQTT 3.1.1 through paho.mqtt.golang.
type v3Transport struct {
	owner  *Client
	client pahomqtt.Client
}

func dialV3(ctx context.Context, c *Client) error {
	opts := buildClientOptions(c.cfg)
	t := &v3Transport{owner: c}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logInfo("MQTT reconnecting", "broker", brokerAddress(c.cfg))
	})

	t.client = pahomqtt.NewClient(opts)
	c.transport = t

	if err := waitToken(ctx, t.client.Connect()); err != nil {
		// paho keeps dialing after we stop waiting; abort it so a late
		// CONNACK cannot leave an auto-reconnecting client behind.
		t.client.Disconnect(0)
		c.transport = nil
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (t *v3Transport) subscribe(ctx context.Context, filter string, qos byte) error {
	token := t.client.Subscribe(filter, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		t.owner.deliver(filter, msg.Topic(), msg.Payload())
	})
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	// A granted QoS of 0x80 is the broker's refusal.
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if granted, found := st.Result()[filter]; found && granted == 0x80 {
			return fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, filter)
		}
	}
	return nil
}

func (t *v3Transport) unsubscribe(ctx context.Context, filter string) error {
	if err := waitToken(ctx, t.client.Unsubscribe(filter)); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (t *v3Transport) publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := waitToken(ctx, t.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (t *v3Transport) connected() bool {
	return t.client.IsConnectionOpen()
}

func (t *v3Transport) disconnect(_ context.Context) error {
	t.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// waitToken waits for a paho token to complete or ctx to end.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}
