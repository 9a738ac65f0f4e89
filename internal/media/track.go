// Package media supplies the local tracks a room sends.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// ErrAccessDenied is returned when local media cannot be acquired.
var ErrAccessDenied = errors.New("media access denied")

// Source acquires the local tracks of one room visit. Acquire is called once.
type Source interface {
	Acquire(ctx context.Context) (*Tracks, error)
}

// Track is a local track whose samples can be switched off without
// stopping it.
type Track struct {
	local   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool

	done chan struct{}
	once sync.Once
}

// NewTrack creates an enabled track for the given codec.
func NewTrack(mimeType, id, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mimeType}, id, streamID)
	if err != nil {
		return nil, err
	}
	t := &Track{local: local, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *Track) Kind() webrtc.RTPCodecType { return t.local.Kind() }

// Local returns the track to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

// SetEnabled switches the samples on or off. The track stays attached.
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// WriteSample sends s unless the track is disabled or stopped. It reports
// whether the sample was sent.
func (t *Track) WriteSample(s pionmedia.Sample) (bool, error) {
	if !t.enabled.Load() || t.Stopped() {
		return false, nil
	}
	if err := t.local.WriteSample(s); err != nil {
		return false, err
	}
	return true, nil
}

// Stop ends the track for good. Safe to call more than once.
func (t *Track) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *Track) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed when the track is stopped.
func (t *Track) Done() <-chan struct{} { return t.done }

// Tracks are the local tracks of a room visit. Either may be nil.
type Tracks struct {
	Audio *Track
	Video *Track
}

// Locals returns the tracks to attach to a peer connection.
func (ts *Tracks) Locals() []webrtc.TrackLocal {
	if ts == nil {
		return nil
	}
	var out []webrtc.TrackLocal
	for _, t := range []*Track{ts.Audio, ts.Video} {
		if t != nil {
			out = append(out, t.Local())
		}
	}
	return out
}

// Stop stops every track.
func (ts *Tracks) Stop() {
	if ts == nil {
		return
	}
	for _, t := range []*Track{ts.Audio, ts.Video} {
		if t != nil {
			t.Stop()
		}
	}
}

// NoMedia is a Source for receive-only visits. It always denies access.
type NoMedia struct{}

func (NoMedia) Acquire(context.Context) (*Tracks, error) {
	return nil, ErrAccessDenied
}
