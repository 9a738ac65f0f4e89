// Package room runs one visit to a room: it joins the room's channel,
// negotiates a peer connection with whoever else is there and reports the
// connection status.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/roomcall/internal/media"
	"github.com/mossy-p/roomcall/internal/negotiation"
	"github.com/mossy-p/roomcall/internal/signaling"
	"github.com/mossy-p/roomcall/internal/status"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultReconnectAttempts = 3
	defaultReconnectBackoff  = 2 * time.Second
	defaultReconnectTimeout  = 10 * time.Second

	eventBuffer    = 256
	outboundBuffer = 256
)

var (
	// ErrNoTrack is returned when toggling a track the session does not send.
	ErrNoTrack = errors.New("no local track of that kind")
	// ErrLeft is returned by operations on a session that has been left.
	ErrLeft = errors.New("session already left")
)

// NewParticipantID returns a fresh random participant identity.
func NewParticipantID() string {
	return uuid.NewString()
}

// Config describes one room visit.
type Config struct {
	Room string
	// Participant is generated when empty.
	Participant string

	// ReconnectAttempts bounds how often a lost connection is renegotiated.
	// Zero uses the default, a negative value disables reconnecting.
	ReconnectAttempts int
	// ReconnectBackoff is the wait before the first attempt; it doubles
	// with every attempt.
	ReconnectBackoff time.Duration
	// ReconnectTimeout bounds one attempt. An attempt not connected by then
	// counts as failed.
	ReconnectTimeout time.Duration
}

type outbound struct {
	msg        signaling.Message
	generation uint64
}

// Session is one participant's visit to a room.
type Session struct {
	cfg     Config
	logger  zerolog.Logger
	channel Channel
	ctl     *negotiation.Controller
	monitor *status.Monitor
	tracks  *media.Tracks

	ctx    context.Context
	cancel context.CancelFunc

	events    chan negotiation.Event
	outbound  chan outbound
	delivered chan uint64
	state     atomic.Int32

	attempts int
	retry    *time.Timer
	retryC   <-chan time.Time

	loopDone chan struct{}
	pubDone  chan struct{}
	done     chan struct{}
	leave    sync.Once
	leaveErr error
}

// Join enters the room. Local media that cannot be acquired leaves the
// session receive-only with status NoLocalMedia. Any other failure, such as
// signaling.ErrAuthDenied or a canceled ctx, aborts the join and releases
// everything acquired so far. ctx only bounds joining; the session lives
// until Leave.
func Join(ctx context.Context, cfg Config, src media.Source, d Dialer) (*Session, error) {
	if cfg.Participant == "" {
		cfg.Participant = NewParticipantID()
	}
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
	if cfg.ReconnectTimeout <= 0 {
		cfg.ReconnectTimeout = defaultReconnectTimeout
	}
	logger := log.With().Str("room_id", cfg.Room).Str("participant_id", cfg.Participant).Logger()

	tracks, err := src.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, media.ErrAccessDenied) {
			return nil, err
		}
		logger.Warn().Err(err).Msg("Joining without local media")
		tracks = nil
	}
	if err := ctx.Err(); err != nil {
		tracks.Stop()
		return nil, err
	}

	factory, err := d.Transports(tracks)
	if err != nil {
		tracks.Stop()
		return nil, fmt.Errorf("prepare transport: %w", err)
	}

	channel, err := d.OpenChannel(ctx, cfg.Room, cfg.Participant)
	if err != nil {
		tracks.Stop()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		channel.Close()
		tracks.Stop()
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		logger:    logger,
		channel:   channel,
		tracks:    tracks,
		monitor:   status.NewMonitor(status.Connecting),
		events:    make(chan negotiation.Event, eventBuffer),
		outbound:  make(chan outbound, outboundBuffer),
		delivered: make(chan uint64, 8),
		loopDone:  make(chan struct{}),
		pubDone:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.ctl = negotiation.NewController(cfg.Participant, factory, s.enqueueEvent)
	s.monitor.Set(s.waitingStatus())

	go s.run()
	go s.publish()

	logger.Info().Bool("local_media", tracks != nil).Msg("Joined room")
	return s, nil
}

// Participant returns the identity the session joined with.
func (s *Session) Participant() string { return s.cfg.Participant }

func (s *Session) Room() string { return s.cfg.Room }

func (s *Session) Status() status.Status { return s.monitor.Current() }

// Updates delivers status changes, latest first.
func (s *Session) Updates() <-chan status.Status { return s.monitor.Updates() }

// State returns the negotiation state as of the last processed event.
func (s *Session) State() negotiation.State {
	return negotiation.State(s.state.Load())
}

// ToggleMute flips the audio track and returns whether it is now muted.
func (s *Session) ToggleMute() (bool, error) {
	enabled, err := s.toggle(s.audio())
	if err != nil {
		return false, err
	}
	return !enabled, nil
}

// ToggleVideo flips the video track and returns whether it is now on.
func (s *Session) ToggleVideo() (bool, error) {
	return s.toggle(s.video())
}

func (s *Session) audio() *media.Track {
	if s.tracks == nil {
		return nil
	}
	return s.tracks.Audio
}

func (s *Session) video() *media.Track {
	if s.tracks == nil {
		return nil
	}
	return s.tracks.Video
}

func (s *Session) toggle(t *media.Track) (bool, error) {
	select {
	case <-s.done:
		return false, ErrLeft
	default:
	}
	if t == nil {
		return false, ErrNoTrack
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	s.logger.Debug().Str("kind", t.Kind().String()).Bool("enabled", enabled).Msg("Track toggled")
	return enabled, nil
}

// Leave tears the session down. Every resource is released exactly once;
// concurrent callers wait for the teardown and get the same result.
func (s *Session) Leave() error {
	s.leave.Do(func() {
		s.cancel()
		<-s.loopDone
		<-s.pubDone

		s.ctl.Close()
		s.syncState()

		if err := s.channel.Close(); err != nil {
			s.leaveErr = fmt.Errorf("close channel: %w", err)
		}
		s.tracks.Stop()
		s.monitor.Set(status.Disconnected)
		close(s.done)
		s.logger.Info().Msg("Left room")
	})
	return s.leaveErr
}

// Done is closed once Leave has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueueEvent is the transport event sink. It runs on pion's goroutines
// and must not block them.
func (s *Session) enqueueEvent(ev negotiation.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Int("kind", int(ev.Kind)).Msg("Dropping transport event, queue full")
	}
}

// run owns the controller. Every state change happens on this goroutine.
func (s *Session) run() {
	defer close(s.loopDone)
	defer s.stopRetry()

	messages := s.channel.Messages()
	for {
		select {
		case <-s.ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				messages = nil
				s.signalingLost()
				continue
			}
			s.handleMessage(msg)

		case ev := <-s.events:
			s.handleEvent(ev)

		case gen := <-s.delivered:
			s.ctl.AnswerDelivered(gen)
			s.syncState()

		case <-s.retryC:
			s.retry = nil
			s.retryC = nil
			s.retryDue()
		}
	}
}

func (s *Session) handleMessage(msg signaling.Message) {
	peerLeft := msg.Kind == signaling.KindLeave && msg.Sender != "" && msg.Sender == s.ctl.Peer()

	out, err := s.ctl.Handle(msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("message", msg.String()).Msg("Signaling message not fully applied")
	}
	s.send(out)
	s.syncState()

	if peerLeft {
		s.stopRetry()
		s.attempts = 0
		s.monitor.Set(s.waitingStatus())
	}
}

func (s *Session) handleEvent(ev negotiation.Event) {
	if !s.ctl.Current(ev) {
		return
	}
	switch ev.Kind {
	case negotiation.EventCandidate:
		s.send(s.ctl.LocalCandidate(ev))

	case negotiation.EventTrack:
		s.logger.Info().Str("kind", ev.TrackKind.String()).Msg("Remote media arrived")
		s.monitor.TrackReceived()
		s.connected()

	case negotiation.EventConnectionState:
		s.monitor.Observe(ev.State)
		switch s.monitor.Current() {
		case status.Connected:
			s.connected()
		case status.Disconnected:
			s.logger.Warn().Err(negotiation.ErrTransportFailed).Str("state", ev.State.String()).Msg("Peer connection lost")
			s.scheduleReconnect()
		}
	}
}

func (s *Session) connected() {
	s.attempts = 0
	s.stopRetry()
}

// scheduleReconnect arms the retry timer unless attempts are exhausted.
func (s *Session) scheduleReconnect() {
	if s.retryC != nil || s.cfg.ReconnectAttempts < 0 {
		return
	}
	if s.attempts >= s.cfg.ReconnectAttempts {
		s.logger.Warn().Int("attempts", s.attempts).Msg("Giving up reconnecting")
		return
	}
	wait := s.cfg.ReconnectBackoff << s.attempts
	s.armRetry(wait)
	s.logger.Info().Dur("wait", wait).Int("attempt", s.attempts+1).Msg("Reconnect scheduled")
}

func (s *Session) armRetry(d time.Duration) {
	s.stopRetry()
	s.retry = time.NewTimer(d)
	s.retryC = s.retry.C
}

// retryDue starts the scheduled attempt, or fails the running one if it has
// not connected in time.
func (s *Session) retryDue() {
	switch s.monitor.Current() {
	case status.Disconnected:
		s.reconnect()
	case status.Connecting:
		s.logger.Warn().Int("attempt", s.attempts).Dur("timeout", s.cfg.ReconnectTimeout).Msg("Reconnect attempt timed out")
		s.monitor.Set(status.Disconnected)
		s.scheduleReconnect()
	}
}

func (s *Session) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = nil
	s.retryC = nil
}

// reconnect renegotiates from scratch if the connection is still down.
func (s *Session) reconnect() {
	if s.monitor.Current() != status.Disconnected {
		return
	}
	s.attempts++
	s.logger.Info().Int("attempt", s.attempts).Msg("Renegotiating")

	s.ctl.Reset()
	s.syncState()
	s.monitor.Set(status.Connecting)
	s.send([]signaling.Message{signaling.Presence(s.cfg.Participant)})
	s.armRetry(s.cfg.ReconnectTimeout)
}

// signalingLost handles the end of the relay subscription. An established
// peer connection keeps working without it.
func (s *Session) signalingLost() {
	s.logger.Warn().Msg("Relay subscription ended")
	if s.monitor.Current() != status.Connected {
		s.monitor.Set(status.Disconnected)
	}
}

func (s *Session) send(msgs []signaling.Message) {
	for _, msg := range msgs {
		select {
		case s.outbound <- outbound{msg: msg, generation: s.ctl.Generation()}:
		case <-s.ctx.Done():
			return
		}
	}
}

// publish sends outbound messages one at a time, preserving their order.
func (s *Session) publish() {
	defer close(s.pubDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case ob := <-s.outbound:
			if err := s.channel.Publish(s.ctx, ob.msg); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Warn().Err(err).Str("message", ob.msg.String()).Msg("Publish failed")
				continue
			}
			if ob.msg.Kind != signaling.KindAnswer {
				continue
			}
			select {
			case s.delivered <- ob.generation:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *Session) syncState() {
	s.state.Store(int32(s.ctl.State()))
}

func (s *Session) waitingStatus() status.Status {
	if s.tracks == nil {
		return status.NoLocalMedia
	}
	return status.WaitingForPeer
}
