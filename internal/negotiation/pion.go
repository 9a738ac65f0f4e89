package negotiation

import (
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/roomcall/internal/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

// PionConfig configures the transports built by NewPionFactory.
type PionConfig struct {
	// STUNServers are passed through to ICE gathering untouched.
	STUNServers []string
	// Tracks are attached to every transport. They are never stopped by it.
	Tracks []webrtc.TrackLocal
}

// NewPionFactory returns a TransportFactory producing PionTransports that
// share one webrtc.API.
func NewPionFactory(cfg PionConfig) (TransportFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: logging.PionFactory{}}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	pcConfig := webrtc.Configuration{}
	if len(cfg.STUNServers) > 0 {
		pcConfig.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	return func(sink EventSink) (Transport, error) {
		t, err := NewPionTransport(api, pcConfig, cfg.Tracks, sink)
		if err != nil {
			return nil, err
		}
		return t, nil
	}, nil
}

// PionTransport is a Transport over a pion PeerConnection.
type PionTransport struct {
	pc   *webrtc.PeerConnection
	sink EventSink

	done chan struct{}
	once sync.Once
}

// NewPionTransport creates a peer connection carrying tracks. With no tracks
// it still negotiates receive-only audio and video.
func NewPionTransport(api *webrtc.API, config webrtc.Configuration, tracks []webrtc.TrackLocal, sink EventSink) (*PionTransport, error) {
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	t := &PionTransport{pc: pc, sink: sink, done: make(chan struct{})}

	if err := t.attach(tracks); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.emit(Event{Kind: EventCandidate, Candidate: c.ToJSON()})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("Peer connection state changed")
		t.emit(Event{Kind: EventConnectionState, State: s})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("kind", remote.Kind().String()).Str("codec", remote.Codec().MimeType).Msg("Received remote track")
		t.emit(Event{Kind: EventTrack, TrackKind: remote.Kind()})

		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go t.requestKeyframes(remote)
		}
		go drainTrack(remote)
	})

	return t, nil
}

func (t *PionTransport) attach(tracks []webrtc.TrackLocal) error {
	kinds := map[webrtc.RTPCodecType]bool{}
	for _, track := range tracks {
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		kinds[track.Kind()] = true
		go drainRTCP(sender)
	}

	// Still ask for what we do not send
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if kinds[kind] {
			continue
		}
		if _, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

func (t *PionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (t *PionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (t *PionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *PionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// ConnectionState reports the underlying peer connection state.
func (t *PionTransport) ConnectionState() webrtc.PeerConnectionState {
	return t.pc.ConnectionState()
}

// Close closes the peer connection. Events raised afterwards are dropped.
func (t *PionTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.pc.Close()
	})
	return err
}

func (t *PionTransport) emit(ev Event) {
	select {
	case <-t.done:
		return
	default:
	}
	if t.sink != nil {
		t.sink(ev)
	}
}

// requestKeyframes sends a PLI right away and then periodically so a
// decoder joining late gets a keyframe.
func (t *PionTransport) requestKeyframes(remote *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		if err := t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		}); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-t.done:
			return
		}
	}
}

func drainTrack(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			return
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
