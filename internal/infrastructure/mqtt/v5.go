package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// v5Transport speaks MQTT 5 through paho.golang's autopaho connection manager.
//
// autopaho exposes a single receive callback, so deliveries are routed to
// handlers by matching the topic against tracked filters.
type v5Transport struct {
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
	up     atomic.Bool

	lastErr   error
	lastErrMu sync.Mutex
}

func dialV5(ctx context.Context, c *Client) error {
	ac, err := buildV5Config(c.cfg)
	if err != nil {
		return err
	}

	t := &v5Transport{}

	ac.OnConnectionUp = func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
		t.up.Store(true)
		c.handleConnect()
	}
	ac.OnConnectError = func(err error) {
		t.setLastErr(err)
		if t.up.Swap(false) {
			c.handleDisconnect(err)
		}
	}
	ac.ClientConfig.OnClientError = func(err error) {
		if t.up.Swap(false) {
			c.handleDisconnect(err)
		}
	}
	ac.ClientConfig.OnServerDisconnect = func(d *paho.Disconnect) {
		if t.up.Swap(false) {
			c.handleDisconnect(fmt.Errorf("server disconnect: reason code %d", d.ReasonCode))
		}
	}
	ac.ClientConfig.OnPublishReceived = []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			c.deliverMatching(pr.Packet.Topic, pr.Packet.Payload)
			return true, nil
		},
	}

	// The manager outlives the dial context; Close cancels it.
	runCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	cm, err := autopaho.NewConnection(runCtx, ac)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	t.cm = cm
	c.transport = t

	if err := cm.AwaitConnection(ctx); err != nil {
		cancel()
		c.transport = nil
		if last := t.getLastErr(); last != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, errors.Join(err, last))
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (t *v5Transport) subscribe(ctx context.Context, filter string, qos byte) error {
	suback, err := t.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: filter, QoS: qos},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if suback != nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= 0x80 {
		return fmt.Errorf("%w: broker rejected %q (reason code 0x%02x)", ErrSubscribeFailed, filter, suback.Reasons[0])
	}
	return nil
}

func (t *v5Transport) unsubscribe(ctx context.Context, filter string) error {
	if _, err := t.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}}); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

func (t *v5Transport) publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if _, err := t.cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retained,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (t *v5Transport) connected() bool {
	return t.up.Load()
}

func (t *v5Transport) disconnect(ctx context.Context) error {
	defer t.cancel()
	wasUp := t.up.Swap(false)

	// Disconnect fails when the link is already down; that is not an error here.
	if err := t.cm.Disconnect(ctx); err != nil && wasUp {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}

	select {
	case <-t.cm.Done():
	case <-ctx.Done():
	}
	return nil
}

func (t *v5Transport) setLastErr(err error) {
	t.lastErrMu.Lock()
	t.lastErr = err
	t.lastErrMu.Unlock()
}

func (t *v5Transport) getLastErr() error {
	t.lastErrMu.Lock()
	defer t.lastErrMu.Unlock()
	return t.lastErr
}
