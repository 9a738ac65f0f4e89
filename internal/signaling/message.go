// Package signaling is the participant side of the relay: it subscribes to
// a room channel and exchanges typed signaling messages over it.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/mossy-p/roomcall/internal/models"
	"github.com/pion/webrtc/v4"
)

// Kind identifies the variant of a Message.
type Kind string

const (
	KindPresence  Kind = models.EventUserJoined
	KindOffer     Kind = models.EventOffer
	KindAnswer    Kind = models.EventAnswer
	KindCandidate Kind = models.EventICECandidate
	KindLeave     Kind = models.EventUserLeft
)

// Message is one signaling message. Description is set for offers and
// answers, Candidate for candidate messages.
type Message struct {
	Kind        Kind
	Sender      string
	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

func Presence(sender string) Message {
	return Message{Kind: KindPresence, Sender: sender}
}

func Offer(sender string, desc webrtc.SessionDescription) Message {
	return Message{Kind: KindOffer, Sender: sender, Description: &desc}
}

func Answer(sender string, desc webrtc.SessionDescription) Message {
	return Message{Kind: KindAnswer, Sender: sender, Description: &desc}
}

func Candidate(sender string, c webrtc.ICECandidateInit) Message {
	return Message{Kind: KindCandidate, Sender: sender, Candidate: &c}
}

func (m Message) String() string {
	return fmt.Sprintf("%s from %s", m.Kind, m.Sender)
}

// encode renders m as the data of a relay event.
func (m Message) encode() ([]byte, error) {
	payload := models.SignalPayload{SenderID: m.Sender}
	switch m.Kind {
	case KindPresence, KindLeave:
	case KindOffer, KindAnswer:
		if m.Description == nil {
			return nil, fmt.Errorf("%w: %s without description", ErrMalformedMessage, m.Kind)
		}
		sdp := &models.SDP{Type: m.Description.Type.String(), SDP: m.Description.SDP}
		if m.Kind == KindOffer {
			payload.Offer = sdp
		} else {
			payload.Answer = sdp
		}
	case KindCandidate:
		if m.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate message without candidate", ErrMalformedMessage)
		}
		payload.Candidate = &models.ICECandidate{
			Candidate:        m.Candidate.Candidate,
			SDPMid:           m.Candidate.SDPMid,
			SDPMLineIndex:    m.Candidate.SDPMLineIndex,
			UsernameFragment: m.Candidate.UsernameFragment,
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, m.Kind)
	}
	return json.Marshal(payload)
}

// decode parses the data of a relay event.
func decode(event string, data json.RawMessage) (Message, error) {
	var payload models.SignalPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if payload.SenderID == "" {
		return Message{}, fmt.Errorf("%w: %s without senderId", ErrMalformedMessage, event)
	}

	msg := Message{Kind: Kind(event), Sender: payload.SenderID}
	switch msg.Kind {
	case KindPresence, KindLeave:
	case KindOffer:
		desc, err := toDescription(payload.Offer, webrtc.SDPTypeOffer)
		if err != nil {
			return Message{}, err
		}
		msg.Description = &desc
	case KindAnswer:
		desc, err := toDescription(payload.Answer, webrtc.SDPTypeAnswer)
		if err != nil {
			return Message{}, err
		}
		msg.Description = &desc
	case KindCandidate:
		if payload.Candidate == nil {
			return Message{}, fmt.Errorf("%w: ice-candidate without candidate", ErrMalformedMessage)
		}
		msg.Candidate = &webrtc.ICECandidateInit{
			Candidate:        payload.Candidate.Candidate,
			SDPMid:           payload.Candidate.SDPMid,
			SDPMLineIndex:    payload.Candidate.SDPMLineIndex,
			UsernameFragment: payload.Candidate.UsernameFragment,
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown event %q", ErrMalformedMessage, event)
	}
	return msg, nil
}

func toDescription(s *models.SDP, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	if s == nil || s.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing %s description", ErrMalformedMessage, want)
	}
	if t := webrtc.NewSDPType(s.Type); t != want {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s event carries %q description", ErrMalformedMessage, want, s.Type)
	}
	return webrtc.SessionDescription{Type: want, SDP: s.SDP}, nil
}
