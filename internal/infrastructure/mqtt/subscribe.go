package mqtt

import (
	"context"
	"fmt"
	"sort"
)

// Subscribe registers a handler for messages matching filter.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "home/+/temperature"
//   - # (multi-level): "home/#"
//
// Subscribing to a filter that is already tracked replaces its handler.
// Subscriptions are restored automatically after a reconnect.
//
// The subscription uses the configured QoS (mqtt.qos).
func (c *Client) Subscribe(ctx context.Context, filter string, handler MessageHandler) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	qos := byte(c.cfg.QoS) //nolint:gosec // validated 0-2 in Connect

	// Track before subscribing: retained messages can arrive before SUBACK.
	c.subMu.Lock()
	c.subscriptions[filter] = subscription{
		filter:  filter,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	if err := c.transport.subscribe(ctx, filter, qos); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, filter)
		c.subMu.Unlock()
		return err
	}

	return nil
}

// Unsubscribe removes a subscription and stops delivering messages for it.
// Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()

	return c.transport.unsubscribe(ctx, filter)
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given filter.
//
// Note: This checks only the exact filter string, not pattern matching.
func (c *Client) HasSubscription(filter string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[filter]
	return exists
}

// Subscriptions returns the tracked filters in lexical order.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	filters := make([]string, 0, len(c.subscriptions))
	for f := range c.subscriptions {
		filters = append(filters, f)
	}
	c.subMu.RUnlock()

	sort.Strings(filters)
	return filters
}
