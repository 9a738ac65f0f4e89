// Package status reduces peer connection activity to the status a room
// reports to its caller.
package status

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Status is the externally visible state of a room visit.
type Status int

const (
	Connecting Status = iota
	WaitingForPeer
	Connected
	Disconnected
	// NoLocalMedia means the room runs receive-only because local media
	// could not be acquired.
	NoLocalMedia
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case WaitingForPeer:
		return "waiting-for-peer"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case NoLocalMedia:
		return "no-local-media"
	default:
		return "unknown"
	}
}

// Monitor holds the current status and notifies one consumer of changes.
// Updates are level-triggered: a slow consumer sees the latest status, not
// every intermediate one.
type Monitor struct {
	mu      sync.RWMutex
	current Status
	updates chan Status
}

func NewMonitor(initial Status) *Monitor {
	return &Monitor{current: initial, updates: make(chan Status, 1)}
}

// Observe maps a peer connection state onto the status. The "new" state
// carries no information and is ignored.
func (m *Monitor) Observe(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		m.Set(Connecting)
	case webrtc.PeerConnectionStateConnected:
		m.Set(Connected)
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		m.Set(Disconnected)
	}
}

// TrackReceived records that remote media arrived.
func (m *Monitor) TrackReceived() {
	m.Set(Connected)
}

// Set changes the status and reports whether it changed.
func (m *Monitor) Set(s Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == s {
		return false
	}
	m.current = s

	// Replace an unread update with the newer one
	select {
	case <-m.updates:
	default:
	}
	m.updates <- s
	return true
}

func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Updates delivers status changes. Only the latest unread change is kept.
func (m *Monitor) Updates() <-chan Status {
	return m.updates
}
