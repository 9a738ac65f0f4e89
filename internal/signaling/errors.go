package signaling

import "errors"

var (
	// ErrAuthDenied means the authorization endpoint or the relay refused
	// the subscription. Room entry must not be retried with the same input.
	ErrAuthDenied = errors.New("channel authorization denied")

	// ErrPublishFailed means a single outbound message was not accepted by
	// the relay. The subscription is unaffected.
	ErrPublishFailed = errors.New("publish failed")

	// ErrMalformedMessage is returned for relay events that do not decode
	// into a signaling message.
	ErrMalformedMessage = errors.New("malformed signaling message")

	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("signaling channel closed")
)
