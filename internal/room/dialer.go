package room

import (
	"context"

	"github.com/mossy-p/roomcall/internal/media"
	"github.com/mossy-p/roomcall/internal/negotiation"
	"github.com/mossy-p/roomcall/internal/signaling"
)

// Channel is the subscription a session signals over.
type Channel interface {
	Publish(ctx context.Context, msg signaling.Message) error
	Messages() <-chan signaling.Message
	Close() error
}

// Dialer connects a session to the relay and builds its transports.
type Dialer interface {
	// OpenChannel subscribes participant to room and announces it.
	OpenChannel(ctx context.Context, room, participant string) (Channel, error)
	// Transports returns the factory for transports carrying tracks, which
	// may be nil.
	Transports(tracks *media.Tracks) (negotiation.TransportFactory, error)
}

// RelayDialer is the Dialer used against a real relay and pion.
type RelayDialer struct {
	Options     signaling.Options
	STUNServers []string
}

func (d RelayDialer) OpenChannel(ctx context.Context, room, participant string) (Channel, error) {
	ch, err := signaling.Open(ctx, d.Options, room, participant)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (d RelayDialer) Transports(tracks *media.Tracks) (negotiation.TransportFactory, error) {
	return negotiation.NewPionFactory(negotiation.PionConfig{
		STUNServers: d.STUNServers,
		Tracks:      tracks.Locals(),
	})
}
