package mqtt

import "fmt"

// maxPayloadSize caps outgoing payloads at 1MB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgement
// (bounded by defaultPublishTimeout). The command guard calls it only after
// the target lock has been confirmed online.
//
// Parameters:
//   - topic: Destination topic, e.g. Topics().Commands()
//   - payload: Message body (JSON command, at most 1MB)
//   - qos: Delivery guarantee (0, 1, or 2)
//   - retained: Whether the broker keeps the message for late subscribers
//
// QoS Levels:
//   - 0: At most once; a lock that is reconnecting misses the command
//   - 1: At least once; locks must tolerate a repeated LOCK/UNLOCK
//   - 2: Exactly once, at the cost of an extra round trip
//
// Commands are never retained: a lock coming back online must not replay
// an old UNLOCK.
//
// Returns:
//   - error: nil once acknowledged; ErrInvalidTopic, ErrInvalidQoS,
//     ErrNotConnected, or wrapped ErrPublishFailed otherwise
//
// Example:
//
//	err := client.Publish(client.Topics().Commands(), payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
