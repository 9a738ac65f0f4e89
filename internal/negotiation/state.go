// Package negotiation drives the offer/answer exchange for one room visit.
package negotiation

import "errors"

// State is the position of a Controller in the offer/answer exchange.
type State int

const (
	Idle State = iota
	OfferSent
	OfferReceived
	Stable
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case OfferReceived:
		return "offer-received"
	case Stable:
		return "stable"
	default:
		return "unknown"
	}
}

var (
	// ErrMalformedCandidate is returned when the transport rejects a
	// remote candidate. The negotiation state is not affected.
	ErrMalformedCandidate = errors.New("malformed candidate")

	// ErrTransportFailed is returned when the transport could not be created
	// or could not produce or apply a session description.
	ErrTransportFailed = errors.New("transport failed")
)
