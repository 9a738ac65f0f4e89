package models

import "encoding/json"

// Application events a participant may publish to a room channel.
const (
	EventUserJoined   = "user-joined"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"
)

// EventUserLeft is generated by the relay when a subscriber disconnects.
const EventUserLeft = "user-left"

// Relay control events exchanged on the subscription socket.
const (
	EventConnectionEstablished = "relay:connection_established"
	EventSubscribe             = "relay:subscribe"
	EventSubscriptionSucceeded = "relay:subscription_succeeded"
	EventSubscriptionError     = "relay:subscription_error"
	EventPing                  = "relay:ping"
	EventPong                  = "relay:pong"
)

// IsClientEvent reports whether event may be published through the trigger endpoint.
func IsClientEvent(event string) bool {
	switch event {
	case EventUserJoined, EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}

// Frame is the envelope of every message on the subscription socket.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConnectionEstablished is the data of EventConnectionEstablished.
type ConnectionEstablished struct {
	SocketID string `json:"socket_id"`
}

// SubscribeRequest is the data of EventSubscribe.
type SubscribeRequest struct {
	Channel       string `json:"channel"`
	Auth          string `json:"auth"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// ErrorData is the data of EventSubscriptionError.
type ErrorData struct {
	Error string `json:"error"`
}

// AuthRequest is the body of the channel authorization endpoint.
type AuthRequest struct {
	SocketID      string `json:"socket_id" binding:"required"`
	ChannelName   string `json:"channel_name" binding:"required"`
	ParticipantID string `json:"participant_id"`
}

// AuthResponse carries the channel credential.
type AuthResponse struct {
	Auth string `json:"auth"`
}

// TriggerRequest is the body of the publish endpoint.
type TriggerRequest struct {
	Channel string          `json:"channel" binding:"required"`
	Event   string          `json:"event" binding:"required"`
	Data    json.RawMessage `json:"data" binding:"required"`
}

// SignalPayload is the data of the application events. Only the field
// matching the event is set.
type SignalPayload struct {
	SenderID  string        `json:"senderId"`
	Offer     *SDP          `json:"offer,omitempty"`
	Answer    *SDP          `json:"answer,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// SDP is a session description as carried on the wire.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a network-path candidate as carried on the wire.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
