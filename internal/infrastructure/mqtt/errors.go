package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the broker session is down.
	ErrNotConnected = errors.New("mqtt: broker session down")

	// ErrConnectionFailed wraps failures of the first broker connect.
	ErrConnectionFailed = errors.New("mqtt: cannot reach broker")

	// ErrPublishFailed wraps publish, marshal and oversize failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscribe failures.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps unsubscribe failures.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS values above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic rejects empty topics and topics outside the gpio tree.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrTimeout is wrapped when the broker does not acknowledge in time.
	ErrTimeout = errors.New("mqtt: broker did not acknowledge")
)
