package status

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestObserve(t *testing.T) {
	tests := []struct {
		state webrtc.PeerConnectionState
		want  Status
	}{
		{webrtc.PeerConnectionStateNew, WaitingForPeer},
		{webrtc.PeerConnectionStateConnecting, Connecting},
		{webrtc.PeerConnectionStateConnected, Connected},
		{webrtc.PeerConnectionStateDisconnected, Disconnected},
		{webrtc.PeerConnectionStateFailed, Disconnected},
		{webrtc.PeerConnectionStateClosed, Disconnected},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m := NewMonitor(WaitingForPeer)
			m.Observe(tt.state)
			if got := m.Current(); got != tt.want {
				t.Fatalf("Observe(%s) -> %s, want %s", tt.state, got, tt.want)
			}
		})
	}
}

func TestTrackReceived(t *testing.T) {
	m := NewMonitor(Connecting)
	m.TrackReceived()
	if m.Current() != Connected {
		t.Fatalf("Current = %s, want connected", m.Current())
	}
}

func TestUpdatesKeepLatest(t *testing.T) {
	m := NewMonitor(Connecting)

	if m.Set(Connecting) {
		t.Fatal("Set reported a change for the same status")
	}
	m.Set(WaitingForPeer)
	m.Set(Connected)

	select {
	case s := <-m.Updates():
		if s != Connected {
			t.Fatalf("update = %s, want connected", s)
		}
	default:
		t.Fatal("no update delivered")
	}
	select {
	case s := <-m.Updates():
		t.Fatalf("unexpected second update %s", s)
	default:
	}
}
