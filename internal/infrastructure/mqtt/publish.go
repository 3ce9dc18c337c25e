package mqtt

import (
	"context"
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified MQTT topic with the configured QoS.
//
// Retained messages are stored by the broker and replayed to new
// subscribers; use them for state, not for events.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	qos := byte(c.cfg.QoS) //nolint:gosec // validated 0-2 in Connect
	return c.transport.publish(ctx, topic, qos, retained, payload)
}

// publishStatus publishes a retained status message if a status topic is configured.
func (c *Client) publishStatus(status string) {
	if c.cfg.StatusTopic == "" || c.transport == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultOperationTimeout)
	defer cancel()

	payload := buildStatusPayload(c.cfg.Broker.ClientID, status)
	qos := byte(c.cfg.QoS) //nolint:gosec // validated 0-2 in Connect
	if err := c.transport.publish(ctx, c.cfg.StatusTopic, qos, true, payload); err != nil {
		c.logWarn("MQTT status publish failed", "topic", c.cfg.StatusTopic, "status", status, "error", err)
	}
}
