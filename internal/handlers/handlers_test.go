package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/relaytest"
)

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func authorize(t *testing.T, relay *relaytest.Relay, socketID, room, participant string) (string, int) {
	t.Helper()
	resp := postJSON(t, relay.URL+"/api/relay/auth", "", models.AuthRequest{
		SocketID:      socketID,
		ChannelName:   models.ChannelName(room),
		ParticipantID: participant,
	})
	var body models.AuthResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return body.Auth, resp.StatusCode
}

// subscriber is a raw socket client speaking the subscription protocol.
type subscriber struct {
	conn     *websocket.Conn
	socketID string
	token    string
}

// connect opens a socket and reads the greeting. The socket is left waiting
// for its subscribe frame.
func connect(t *testing.T, relay *relaytest.Relay) *subscriber {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(relay.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	s := &subscriber{conn: conn}
	frame := s.next(t)
	if frame.Event != models.EventConnectionEstablished {
		t.Fatalf("first frame = %q", frame.Event)
	}
	var est models.ConnectionEstablished
	_ = json.Unmarshal(frame.Data, &est)
	s.socketID = est.SocketID
	return s
}

func (s *subscriber) sendSubscribe(t *testing.T, room, token string) {
	t.Helper()
	data, _ := json.Marshal(models.SubscribeRequest{Channel: models.ChannelName(room), Auth: token})
	if err := s.conn.WriteJSON(models.Frame{Event: models.EventSubscribe, Data: data}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
}

func subscribe(t *testing.T, relay *relaytest.Relay, room, participant string) *subscriber {
	t.Helper()
	s := connect(t, relay)

	token, status := authorize(t, relay, s.socketID, room, participant)
	if status != http.StatusOK {
		t.Fatalf("authorize status = %d", status)
	}
	s.token = token

	s.sendSubscribe(t, room, token)
	if frame := s.next(t); frame.Event != models.EventSubscriptionSucceeded {
		t.Fatalf("subscribe answer = %q %s", frame.Event, frame.Data)
	}
	return s
}

func (s *subscriber) next(t *testing.T) models.Frame {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frame models.Frame
	if err := s.conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestCreateAndGetRoom(t *testing.T) {
	relay := relaytest.Start(t)

	resp := postJSON(t, relay.URL+"/api/rooms", "", struct{}{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created models.CreateRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(created.RoomID) != 8 || created.Channel != "private-room-"+created.RoomID {
		t.Fatalf("created = %+v", created)
	}

	get, err := http.Get(relay.URL + "/api/rooms/" + created.RoomID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer get.Body.Close()
	var room models.RoomMetadata
	_ = json.NewDecoder(get.Body).Decode(&room)
	if get.StatusCode != http.StatusOK || room.ID != created.RoomID || room.MaxParticipants != 2 {
		t.Fatalf("get = %d %+v", get.StatusCode, room)
	}

	missing, err := http.Get(relay.URL + "/api/rooms/nothere1")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing room status = %d", missing.StatusCode)
	}
}

func TestAuthorizeChannel(t *testing.T) {
	relay := relaytest.Start(t)
	ctx := context.Background()
	s := connect(t, relay)

	if _, status := authorize(t, relay, s.socketID, "abcd1234", "alice"); status != http.StatusOK {
		t.Fatalf("free room status = %d", status)
	}

	resp := postJSON(t, relay.URL+"/api/relay/auth", "", models.AuthRequest{SocketID: s.socketID, ChannelName: "public-lobby", ParticipantID: "alice"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bad channel status = %d", resp.StatusCode)
	}

	for _, p := range []string{"alice", "bob"} {
		if _, err := relay.Store.JoinRoom(ctx, "abcd1234", p, 0, time.Hour); err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
	}
	if _, status := authorize(t, relay, s.socketID, "abcd1234", "carol"); status != http.StatusForbidden {
		t.Fatalf("full room status = %d, want 403", status)
	}
	if _, status := authorize(t, relay, s.socketID, "abcd1234", "alice"); status != http.StatusOK {
		t.Fatalf("rejoining participant status = %d, want 200", status)
	}
}

func TestAuthorizeRequiresSocketAndParticipant(t *testing.T) {
	relay := relaytest.Start(t)
	s := connect(t, relay)

	if _, status := authorize(t, relay, "made-up-socket", "abcd1234", "alice"); status != http.StatusForbidden {
		t.Fatalf("unknown socket status = %d, want 403", status)
	}
	if _, status := authorize(t, relay, s.socketID, "abcd1234", ""); status != http.StatusForbidden {
		t.Fatalf("missing participant status = %d, want 403", status)
	}

	// Once subscribed, the socket id cannot be authorized again
	alice := subscribe(t, relay, "abcd1234", "alice")
	if _, status := authorize(t, relay, alice.socketID, "abcd1234", "mallory"); status != http.StatusForbidden {
		t.Fatalf("subscribed socket status = %d, want 403", status)
	}
}

func TestTriggerValidation(t *testing.T) {
	relay := relaytest.Start(t)
	s := connect(t, relay)
	token, _ := authorize(t, relay, s.socketID, "abcd1234", "alice")
	channel := models.ChannelName("abcd1234")

	anonymous, err := middleware.IssueChannelToken(relaytest.Secret, middleware.ChannelClaims{SocketID: s.socketID, Channel: channel}, time.Minute)
	if err != nil {
		t.Fatalf("IssueChannelToken: %v", err)
	}

	tests := []struct {
		name  string
		token string
		body  any
		want  int
	}{
		{"no credential", "", models.TriggerRequest{Channel: channel, Event: models.EventOffer, Data: json.RawMessage(`{"senderId":"alice"}`)}, http.StatusUnauthorized},
		{"other channel", token, models.TriggerRequest{Channel: models.ChannelName("zzzz"), Event: models.EventOffer, Data: json.RawMessage(`{"senderId":"alice"}`)}, http.StatusForbidden},
		{"unknown event", token, models.TriggerRequest{Channel: channel, Event: models.EventUserLeft, Data: json.RawMessage(`{"senderId":"alice"}`)}, http.StatusBadRequest},
		{"missing sender", token, models.TriggerRequest{Channel: channel, Event: models.EventOffer, Data: json.RawMessage(`{}`)}, http.StatusBadRequest},
		{"spoofed sender", token, models.TriggerRequest{Channel: channel, Event: models.EventOffer, Data: json.RawMessage(`{"senderId":"mallory"}`)}, http.StatusForbidden},
		{"credential without participant", anonymous, models.TriggerRequest{Channel: channel, Event: models.EventOffer, Data: json.RawMessage(`{"senderId":"bob"}`)}, http.StatusForbidden},
		{"ok", token, models.TriggerRequest{Channel: channel, Event: models.EventUserJoined, Data: json.RawMessage(`{"senderId":"alice"}`)}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, relay.URL+"/api/relay/trigger", tt.token, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSubscriptionDeliveryAndDeparture(t *testing.T) {
	relay := relaytest.Start(t)

	alice := subscribe(t, relay, "abcd1234", "alice")
	bob := subscribe(t, relay, "abcd1234", "bob")

	for i, sdp := range []string{"v=0 one", "v=0 two"} {
		data, _ := json.Marshal(models.SignalPayload{SenderID: "bob", Offer: &models.SDP{Type: "offer", SDP: sdp}})
		resp := postJSON(t, relay.URL+"/api/relay/trigger", bob.token, models.TriggerRequest{
			Channel: models.ChannelName("abcd1234"),
			Event:   models.EventOffer,
			Data:    data,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("trigger %d status = %d", i, resp.StatusCode)
		}
	}

	// Both subscribers, the sender included, see the frames in publish order
	for _, s := range []*subscriber{alice, bob} {
		for _, want := range []string{"v=0 one", "v=0 two"} {
			frame := s.next(t)
			var payload models.SignalPayload
			_ = json.Unmarshal(frame.Data, &payload)
			if frame.Event != models.EventOffer || payload.Offer == nil || payload.Offer.SDP != want {
				t.Fatalf("frame = %s %s, want offer %q", frame.Event, frame.Data, want)
			}
		}
	}

	bob.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	bob.conn.Close()

	frame := alice.next(t)
	var payload models.SignalPayload
	_ = json.Unmarshal(frame.Data, &payload)
	if frame.Event != models.EventUserLeft || payload.SenderID != "bob" {
		t.Fatalf("departure frame = %s %s", frame.Event, frame.Data)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, _ := relay.Store.ParticipantCount(context.Background(), "abcd1234")
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("participant count = %d after departure, want 1", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscriptionRejectsForeignCredential(t *testing.T) {
	relay := relaytest.Start(t)
	s := connect(t, relay)
	other := connect(t, relay)

	// Credential issued for a different socket
	token, status := authorize(t, relay, other.socketID, "abcd1234", "alice")
	if status != http.StatusOK {
		t.Fatalf("authorize status = %d", status)
	}
	s.sendSubscribe(t, "abcd1234", token)
	if frame := s.next(t); frame.Event != models.EventSubscriptionError {
		t.Fatalf("frame = %q, want subscription error", frame.Event)
	}
}

func TestSubscribeTakesSeatAtomically(t *testing.T) {
	relay := relaytest.Start(t)
	subscribe(t, relay, "abcd1234", "alice")

	// carol is authorized while a seat is still free
	carol := connect(t, relay)
	token, status := authorize(t, relay, carol.socketID, "abcd1234", "carol")
	if status != http.StatusOK {
		t.Fatalf("authorize carol status = %d", status)
	}

	subscribe(t, relay, "abcd1234", "bob")

	carol.sendSubscribe(t, "abcd1234", token)
	if frame := carol.next(t); frame.Event != models.EventSubscriptionError {
		t.Fatalf("carol got %q, want subscription error", frame.Event)
	}
	if n, _ := relay.Store.ParticipantCount(context.Background(), "abcd1234"); n != 2 {
		t.Fatalf("participant count = %d, want 2", n)
	}
}

func TestOriginFilter(t *testing.T) {
	relay := relaytest.Start(t)

	for origin, want := range map[string]int{
		"":                       http.StatusOK,
		"http://allowed.example": http.StatusOK,
		"http://evil.example":    http.StatusForbidden,
	} {
		req, _ := http.NewRequest(http.MethodGet, relay.URL+"/health", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("origin %q: status %d, want %d", origin, resp.StatusCode, want)
		}
	}
}
