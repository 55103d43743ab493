package mqtt

import (
	"fmt"
	"sort"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers handler for topic, which may use + and # wildcards,
// and remembers it so it is restored after every reconnect. Subscribing
// the same filter again replaces its handler.
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.BridgeCommands("yeelight"), 1,
//	    func(topic string, payload []byte) error {
//	        return bridge.handle(topic, payload)
//	    })
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.paho.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()
	c.logger.Debug("mqtt subscribed", "topic", topic, "qos", qos)
	return nil
}

// Unsubscribe forgets topic and removes it at the broker. Messages already
// in flight may still reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if !c.IsConnected() {
		// Nothing to remove at the broker; the clean session dropped it.
		return nil
	}
	token := c.paho.Unsubscribe(topic)
	if !token.WaitTimeout(defaultAckTimeout) {
		return fmt.Errorf("%w: unsubscribe %s: timeout after %v", ErrSubscribeFailed, topic, defaultAckTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

func (c *Client) subscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscriptions)
}

// restoreSubscriptions replays every remembered filter in topic order.
// It runs on paho's on-connect goroutine, so it does not wait for acks;
// failures are logged from a watcher goroutine.
func (c *Client) restoreSubscriptions() {
	c.subMu.Lock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	subs := make([]subscription, len(topics))
	for i, topic := range topics {
		subs[i] = c.subscriptions[topic]
	}
	c.subMu.Unlock()

	for i, topic := range topics {
		token := c.paho.Subscribe(topic, subs[i].qos, c.wrapHandler(subs[i].handler))
		go func(topic string, token pahomqtt.Token) {
			if !token.WaitTimeout(defaultAckTimeout) {
				c.logger.Error("mqtt subscription not restored", "topic", topic, "error", "timeout")
				return
			}
			if err := token.Error(); err != nil {
				c.logger.Error("mqtt subscription not restored", "topic", topic, "error", err)
			}
		}(topic, token)
	}
}

// wrapHandler adapts handler to paho, logging returned errors and
// recovering panics so one bad message cannot kill paho's router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
