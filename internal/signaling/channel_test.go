package signaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mossy-p/roomcall/internal/relaytest"
	"github.com/pion/webrtc/v4"
)

func openChannel(t *testing.T, relay *relaytest.Relay, room, participant string) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Open(ctx, Options{RelayURL: relay.URL}, room, participant)
	if err != nil {
		t.Fatalf("Open(%s): %v", participant, err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

// next returns the next message on ch not sent by self.
func next(t *testing.T, ch *Channel, self string) Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-ch.Messages():
			if !ok {
				t.Fatal("message stream closed")
			}
			if msg.Sender == self {
				continue
			}
			return msg
		case <-timeout:
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	idx := uint16(0)
	mid := "0"
	msgs := []Message{
		Presence("alice"),
		Offer("alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}),
		Answer("bob", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}),
		Candidate("bob", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}),
	}
	for _, msg := range msgs {
		data, err := msg.encode()
		if err != nil {
			t.Fatalf("encode %s: %v", msg, err)
		}
		got, err := decode(string(msg.Kind), data)
		if err != nil {
			t.Fatalf("decode %s: %v", msg, err)
		}
		if got.Kind != msg.Kind || got.Sender != msg.Sender {
			t.Fatalf("decoded %s, want %s", got, msg)
		}
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{"not json", "offer", `{`},
		{"no sender", "user-joined", `{}`},
		{"offer without sdp", "offer", `{"senderId":"a"}`},
		{"answer typed as offer", "answer", `{"senderId":"a","answer":{"type":"offer","sdp":"v=0"}}`},
		{"candidate missing", "ice-candidate", `{"senderId":"a"}`},
		{"unknown event", "chat", `{"senderId":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decode(tt.event, []byte(tt.data)); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("decode err = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestPresenceAndPublishOrder(t *testing.T) {
	relay := relaytest.Start(t)

	alice := openChannel(t, relay, "abcd1234", "alice")
	bob := openChannel(t, relay, "abcd1234", "bob")

	if msg := next(t, alice, "alice"); msg.Kind != KindPresence || msg.Sender != "bob" {
		t.Fatalf("alice got %s, want presence from bob", msg)
	}

	ctx := context.Background()
	offer := Offer("alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=alice\r\n"})
	if err := alice.Publish(ctx, offer); err != nil {
		t.Fatalf("Publish offer: %v", err)
	}
	for i := range 3 {
		mid := "0"
		c := webrtc.ICECandidateInit{Candidate: "candidate:" + string(rune('a'+i)), SDPMid: &mid}
		if err := alice.Publish(ctx, Candidate("alice", c)); err != nil {
			t.Fatalf("Publish candidate: %v", err)
		}
	}

	msg := next(t, bob, "bob")
	for msg.Kind == KindPresence {
		msg = next(t, bob, "bob")
	}
	if msg.Kind != KindOffer || msg.Description == nil || msg.Description.SDP != offer.Description.SDP {
		t.Fatalf("bob got %s, want the offer", msg)
	}
	for i := range 3 {
		msg := next(t, bob, "bob")
		want := "candidate:" + string(rune('a'+i))
		if msg.Kind != KindCandidate || msg.Candidate.Candidate != want {
			t.Fatalf("bob got %s %+v, want %s", msg, msg.Candidate, want)
		}
	}
}

func TestDepartureIsDelivered(t *testing.T) {
	relay := relaytest.Start(t)

	alice := openChannel(t, relay, "abcd1234", "alice")
	bob := openChannel(t, relay, "abcd1234", "bob")
	next(t, alice, "alice")

	bob.Close()
	if msg := next(t, alice, "alice"); msg.Kind != KindLeave || msg.Sender != "bob" {
		t.Fatalf("alice got %s, want bob leaving", msg)
	}
}

func TestOpenDeniedWhenRoomFull(t *testing.T) {
	relay := relaytest.Start(t)
	openChannel(t, relay, "abcd1234", "alice")
	openChannel(t, relay, "abcd1234", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Open(ctx, Options{RelayURL: relay.URL}, "abcd1234", "carol"); !errors.Is(err, ErrAuthDenied) {
		t.Fatalf("Open err = %v, want ErrAuthDenied", err)
	}
}

func TestPublishAfterClose(t *testing.T) {
	relay := relaytest.Start(t)
	ch := openChannel(t, relay, "abcd1234", "alice")

	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ch.Publish(context.Background(), Presence("alice")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish err = %v, want ErrClosed", err)
	}
}

func TestCloseWaitsForSocket(t *testing.T) {
	relay := relaytest.Start(t)
	ch := openChannel(t, relay, "abcd1234", "alice")

	ch.Close()

	// The read side has finished, so the stream is closed once drained
	for {
		select {
		case _, ok := <-ch.Messages():
			if !ok {
				return
			}
		default:
			t.Fatal("message stream still open after Close")
		}
	}
}

func TestPublishFailure(t *testing.T) {
	relay := relaytest.Start(t)
	ch := openChannel(t, relay, "abcd1234", "alice")

	// Sender must match the credential's participant
	err := ch.Publish(context.Background(), Presence("mallory"))
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Publish err = %v, want ErrPublishFailed", err)
	}
}
