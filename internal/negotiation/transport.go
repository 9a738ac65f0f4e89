package negotiation

import "github.com/pion/webrtc/v4"

// Transport is the peer session a Controller negotiates. A fresh one is
// created for every negotiation attempt.
type Transport interface {
	// CreateOffer generates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer generates an answer and sets it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	Close() error
}

// TransportFactory creates a transport that reports its activity to sink.
type TransportFactory func(sink EventSink) (Transport, error)

// EventKind identifies what a transport reported.
type EventKind int

const (
	EventCandidate EventKind = iota
	EventConnectionState
	EventTrack
)

// Event is something a transport reported from its own goroutines.
// Generation identifies the transport that produced it so events of a
// replaced transport can be told apart.
type Event struct {
	Generation uint64
	Kind       EventKind
	Candidate  webrtc.ICECandidateInit
	State      webrtc.PeerConnectionState
	TrackKind  webrtc.RTPCodecType
}

// EventSink receives transport events. It must not block.
type EventSink func(Event)
