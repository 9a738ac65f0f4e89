package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/models"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Connect(context.Background(), config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRoomRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	room := models.RoomMetadata{ID: "abcd1234", CreatedAt: time.Now().UTC(), MaxParticipants: 2}
	if err := c.SaveRoom(ctx, room, time.Hour); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if ok, err := c.JoinRoom(ctx, room.ID, "alice", 2, time.Hour); err != nil || !ok {
		t.Fatalf("JoinRoom = %v, %v", ok, err)
	}

	got, err := c.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.ParticipantCount != 1 || got.MaxParticipants != 2 {
		t.Fatalf("GetRoom = %+v", got)
	}
	if ttl := mr.TTL("room:abcd1234"); ttl != time.Hour {
		t.Fatalf("room TTL = %v, want 1h", ttl)
	}

	ok, err := c.HasParticipant(ctx, room.ID, "alice")
	if err != nil || !ok {
		t.Fatalf("HasParticipant = %v, %v", ok, err)
	}
	if err := c.RemoveParticipant(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("RemoveParticipant: %v", err)
	}
	if n, _ := c.ParticipantCount(ctx, room.ID); n != 0 {
		t.Fatalf("ParticipantCount = %d after removal", n)
	}
}

func TestJoinRoomCapacity(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for _, p := range []string{"alice", "bob"} {
		if ok, err := c.JoinRoom(ctx, "abcd1234", p, 2, time.Hour); err != nil || !ok {
			t.Fatalf("JoinRoom(%s) = %v, %v", p, ok, err)
		}
	}
	if ok, _ := c.JoinRoom(ctx, "abcd1234", "carol", 2, time.Hour); ok {
		t.Fatal("carol admitted to a full room")
	}
	if ok, _ := c.JoinRoom(ctx, "abcd1234", "alice", 2, time.Hour); !ok {
		t.Fatal("alice refused while already present")
	}
	if ttl := mr.TTL("room:abcd1234:peers"); ttl != time.Hour {
		t.Fatalf("presence TTL = %v, want 1h", ttl)
	}
}

func TestJoinRoomConcurrent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.JoinRoom(ctx, "abcd1234", fmt.Sprintf("p%d", i), 2, time.Hour)
			if err != nil {
				t.Errorf("JoinRoom: %v", err)
			}
			if ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := admitted.Load(); n != 2 {
		t.Fatalf("%d participants admitted, want 2", n)
	}
	if n, _ := c.ParticipantCount(ctx, "abcd1234"); n != 2 {
		t.Fatalf("ParticipantCount = %d, want 2", n)
	}
}

func TestSocketRegistration(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if ok, _ := c.SocketPending(ctx, "sock-1"); ok {
		t.Fatal("unknown socket reported pending")
	}
	if err := c.RegisterSocket(ctx, "sock-1", time.Minute); err != nil {
		t.Fatalf("RegisterSocket: %v", err)
	}
	if ok, err := c.SocketPending(ctx, "sock-1"); err != nil || !ok {
		t.Fatalf("SocketPending = %v, %v", ok, err)
	}
	if err := c.ReleaseSocket(ctx, "sock-1"); err != nil {
		t.Fatalf("ReleaseSocket: %v", err)
	}
	if ok, _ := c.SocketPending(ctx, "sock-1"); ok {
		t.Fatal("released socket still pending")
	}
}

func TestGetRoomNotFound(t *testing.T) {
	c, _ := newTestClient(t)
	if _, err := c.GetRoom(context.Background(), "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("GetRoom err = %v, want ErrRoomNotFound", err)
	}
}

func TestPublishSubscribeOrder(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	sub, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	channel := models.ChannelName("abcd1234")
	events := []string{models.EventUserJoined, models.EventOffer, models.EventICECandidate}
	for _, ev := range events {
		if err := c.Publish(ctx, models.Frame{Event: ev, Channel: channel, Data: []byte(`{"senderId":"a"}`)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	for i, want := range events {
		select {
		case frame := <-sub.Frames():
			if frame.Event != want || frame.Channel != channel {
				t.Fatalf("frame %d = %+v, want event %q", i, frame, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}
