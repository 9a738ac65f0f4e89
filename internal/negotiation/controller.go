package negotiation

import (
	"fmt"

	"github.com/mossy-p/roomcall/internal/signaling"
	"github.com/rs/zerolog/log"
)

// Controller owns the offer/answer state machine and the transport of one
// room visit. It is not safe for concurrent use; a single goroutine must
// feed it messages and transport events.
type Controller struct {
	self    string
	factory TransportFactory
	sink    EventSink

	state      State
	peer       string
	transport  Transport
	generation uint64
	remoteSet  bool
	pending    CandidateBuffer
	closed     bool
}

// NewController returns an idle controller for participant self. Events of
// the transports it creates are tagged with their generation and passed to
// sink.
func NewController(self string, factory TransportFactory, sink EventSink) *Controller {
	return &Controller{self: self, factory: factory, sink: sink}
}

func (c *Controller) State() State { return c.state }

// Peer returns the participant being negotiated with, or "" when idle.
func (c *Controller) Peer() string { return c.peer }

// Generation identifies the current transport.
func (c *Controller) Generation() uint64 { return c.generation }

// Pending returns the number of buffered remote candidates.
func (c *Controller) Pending() int { return c.pending.Len() }

// Current reports whether ev came from the live transport.
func (c *Controller) Current(ev Event) bool {
	return c.transport != nil && ev.Generation == c.generation
}

// Handle applies one inbound message and returns the messages to publish,
// in order. A non-nil error may accompany outbound messages: errors local to
// one candidate do not prevent the rest of the transition.
func (c *Controller) Handle(msg signaling.Message) ([]signaling.Message, error) {
	if c.closed || msg.Sender == "" || msg.Sender == c.self {
		return nil, nil
	}

	if (msg.Kind == signaling.KindOffer || msg.Kind == signaling.KindAnswer) && msg.Description == nil {
		return nil, fmt.Errorf("%w: %s", signaling.ErrMalformedMessage, msg)
	}

	switch msg.Kind {
	case signaling.KindPresence:
		return c.onPresence(msg)
	case signaling.KindOffer:
		return c.onOffer(msg)
	case signaling.KindAnswer:
		return nil, c.onAnswer(msg)
	case signaling.KindCandidate:
		return nil, c.onCandidate(msg)
	case signaling.KindLeave:
		c.onLeave(msg)
	}
	return nil, nil
}

func (c *Controller) onPresence(msg signaling.Message) ([]signaling.Message, error) {
	if c.state != Idle {
		switch {
		case msg.Sender != c.peer:
			log.Info().Str("old_peer", c.peer).Str("peer", msg.Sender).Msg("New participant, restarting negotiation")
		case c.state == Stable:
			// The peer reset its side and announced itself again
			log.Info().Str("peer", msg.Sender).Msg("Peer renegotiating, restarting negotiation")
		default:
			log.Debug().Str("peer", msg.Sender).Str("state", c.state.String()).Msg("Ignoring repeated presence")
			return nil, nil
		}
		c.Reset()
	}

	tr, err := c.newTransport()
	if err != nil {
		return nil, err
	}
	offer, err := tr.CreateOffer()
	if err != nil {
		c.Reset()
		return nil, fmt.Errorf("%w: create offer: %v", ErrTransportFailed, err)
	}

	c.peer = msg.Sender
	c.state = OfferSent
	log.Debug().Str("peer", c.peer).Uint64("generation", c.generation).Msg("Offer created")
	return []signaling.Message{signaling.Offer(c.self, offer)}, nil
}

func (c *Controller) onOffer(msg signaling.Message) ([]signaling.Message, error) {
	switch c.state {
	case Idle:
	case OfferSent:
		if msg.Sender == c.peer {
			// Both sides offered: the smaller id stays offerer
			if c.self < msg.Sender {
				log.Info().Str("peer", msg.Sender).Msg("Offer collision, keeping local offer")
				return nil, nil
			}
			log.Info().Str("peer", msg.Sender).Msg("Offer collision, answering remote offer")
		}
		c.Reset()
	default:
		if msg.Sender == c.peer {
			log.Debug().Str("peer", msg.Sender).Str("state", c.state.String()).Msg("Ignoring repeated offer")
			return nil, nil
		}
		log.Info().Str("old_peer", c.peer).Str("peer", msg.Sender).Msg("Offer from new participant, restarting negotiation")
		c.Reset()
	}
	return c.answer(msg)
}

func (c *Controller) answer(msg signaling.Message) ([]signaling.Message, error) {
	tr, err := c.newTransport()
	if err != nil {
		return nil, err
	}
	if err := tr.SetRemoteDescription(*msg.Description); err != nil {
		c.Reset()
		return nil, fmt.Errorf("%w: apply offer: %v", ErrTransportFailed, err)
	}
	c.peer = msg.Sender
	c.remoteSet = true
	drainErr := c.pending.Drain(c.peer, tr.AddICECandidate)

	answer, err := tr.CreateAnswer()
	if err != nil {
		c.Reset()
		return nil, fmt.Errorf("%w: create answer: %v", ErrTransportFailed, err)
	}

	c.state = OfferReceived
	log.Debug().Str("peer", c.peer).Uint64("generation", c.generation).Msg("Answer created")
	return []signaling.Message{signaling.Answer(c.self, answer)}, drainErr
}

func (c *Controller) onAnswer(msg signaling.Message) error {
	if c.state != OfferSent || msg.Sender != c.peer {
		log.Debug().Str("sender", msg.Sender).Str("state", c.state.String()).Msg("Ignoring unexpected answer")
		return nil
	}
	if err := c.transport.SetRemoteDescription(*msg.Description); err != nil {
		return fmt.Errorf("%w: apply answer: %v", ErrTransportFailed, err)
	}
	c.remoteSet = true
	c.state = Stable
	log.Debug().Str("peer", c.peer).Msg("Negotiation stable")
	return c.pending.Drain(c.peer, c.transport.AddICECandidate)
}

func (c *Controller) onCandidate(msg signaling.Message) error {
	if msg.Candidate == nil {
		return fmt.Errorf("%w: empty candidate from %s", ErrMalformedCandidate, msg.Sender)
	}
	if !c.remoteSet {
		c.pending.Add(msg.Sender, *msg.Candidate)
		return nil
	}
	if msg.Sender != c.peer {
		log.Debug().Str("sender", msg.Sender).Msg("Dropping candidate from non-peer")
		return nil
	}
	if err := c.transport.AddICECandidate(*msg.Candidate); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCandidate, err)
	}
	return nil
}

func (c *Controller) onLeave(msg signaling.Message) {
	if c.state == Idle || msg.Sender != c.peer {
		return
	}
	log.Info().Str("peer", msg.Sender).Msg("Peer left, negotiation reset")
	c.Reset()
}

// AnswerDelivered completes the answerer's side of the exchange once the
// relay accepted the answer created for generation.
func (c *Controller) AnswerDelivered(generation uint64) {
	if c.state == OfferReceived && generation == c.generation {
		c.state = Stable
		log.Debug().Str("peer", c.peer).Msg("Negotiation stable")
	}
}

// LocalCandidate turns a candidate gathered by the live transport into an
// outbound message. Events of replaced transports yield nothing.
func (c *Controller) LocalCandidate(ev Event) []signaling.Message {
	if c.closed || ev.Kind != EventCandidate || !c.Current(ev) {
		return nil
	}
	return []signaling.Message{signaling.Candidate(c.self, ev.Candidate)}
}

// Reset discards the transport and buffered candidates and returns to Idle.
func (c *Controller) Reset() {
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			log.Warn().Err(err).Uint64("generation", c.generation).Msg("Failed to close transport")
		}
		c.transport = nil
	}
	c.pending.Clear()
	c.remoteSet = false
	c.peer = ""
	c.state = Idle
}

// Close resets the controller for good. Later messages are ignored.
func (c *Controller) Close() {
	c.Reset()
	c.closed = true
}

func (c *Controller) newTransport() (Transport, error) {
	c.generation++
	gen := c.generation
	sink := c.sink
	tr, err := c.factory(func(ev Event) {
		ev.Generation = gen
		if sink != nil {
			sink(ev)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportFailed, err)
	}
	c.transport = tr
	return tr, nil
}
