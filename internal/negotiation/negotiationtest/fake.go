// Package negotiationtest provides an in-memory Transport for tests.
package negotiationtest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mossy-p/roomcall/internal/negotiation"
	"github.com/pion/webrtc/v4"
)

// Transport records what a Controller does with it.
type Transport struct {
	ID int

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []string
	closed     int
	reject     string
	sink       negotiation.EventSink
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", t.ID)}
	t.local = &d
	return d, nil
}

func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", t.ID)}
	t.local = &d
	return d, nil
}

func (t *Transport) SetRemoteDescription(d webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remote = &d
	return nil
}

func (t *Transport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errors.New("remote description not set")
	}
	if t.reject != "" && c.Candidate == t.reject {
		return fmt.Errorf("cannot parse %q", c.Candidate)
	}
	t.candidates = append(t.candidates, c.Candidate)
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

// Emit reports ev as if the transport raised it.
func (t *Transport) Emit(ev negotiation.Event) {
	t.sink(ev)
}

// Candidates returns the remote candidates applied so far, in order.
func (t *Transport) Candidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.candidates...)
}

// Remote returns the applied remote description, if any.
func (t *Transport) Remote() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// Closed returns how many times Close was called.
func (t *Transport) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Factory creates Transports and keeps them for inspection.
type Factory struct {
	// RejectCandidate makes every transport refuse this candidate string.
	RejectCandidate string
	// Err, when set, is returned instead of a transport.
	Err error

	mu         sync.Mutex
	transports []*Transport
}

func (f *Factory) New(sink negotiation.EventSink) (negotiation.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	t := &Transport{ID: len(f.transports) + 1, reject: f.RejectCandidate, sink: sink}
	f.transports = append(f.transports, t)
	return t, nil
}

// Last returns the most recently created transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// Count returns how many transports were created.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}
