package negotiation

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

type pendingCandidate struct {
	sender string
	init   webrtc.ICECandidateInit
}

// CandidateBuffer holds remote candidates that arrived before a remote
// description was applied. The zero value is ready to use.
type CandidateBuffer struct {
	pending []pendingCandidate
}

// Add appends a candidate received from sender.
func (b *CandidateBuffer) Add(sender string, c webrtc.ICECandidateInit) {
	b.pending = append(b.pending, pendingCandidate{sender: sender, init: c})
}

func (b *CandidateBuffer) Len() int {
	return len(b.pending)
}

func (b *CandidateBuffer) Clear() {
	b.pending = nil
}

// Drain applies the candidates sent by peer in arrival order and empties the
// buffer. Candidates from anyone else are discarded. A rejected candidate does
// not stop the drain; every rejection is returned wrapped in
// ErrMalformedCandidate.
func (b *CandidateBuffer) Drain(peer string, apply func(webrtc.ICECandidateInit) error) error {
	pending := b.pending
	b.pending = nil

	var errs []error
	for _, p := range pending {
		if p.sender != peer {
			continue
		}
		if err := apply(p.init); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrMalformedCandidate, err))
		}
	}
	return errors.Join(errs...)
}
