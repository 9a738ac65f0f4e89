package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mossy-p/roomcall/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrRoomNotFound is returned when no metadata exists for a room.
var ErrRoomNotFound = errors.New("room not found")

func roomKey(roomID string) string     { return "room:" + roomID }
func peersKey(roomID string) string    { return "room:" + roomID + ":peers" }
func socketKey(socketID string) string { return "socket:" + socketID }

// SaveRoom stores room metadata with a TTL.
func (c *Client) SaveRoom(ctx context.Context, room models.RoomMetadata, ttl time.Duration) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	if err := c.rdb.Set(ctx, roomKey(room.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store room %s: %w", room.ID, err)
	}
	return nil
}

// GetRoom loads room metadata and fills in the current participant count.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error) {
	data, err := c.rdb.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("parse room %s: %w", roomID, err)
	}

	count, err := c.ParticipantCount(ctx, roomID)
	if err != nil {
		return nil, err
	}
	room.ParticipantCount = count
	return &room, nil
}

// joinScript adds ARGV[1] to the presence set KEYS[1] unless the set already
// holds ARGV[2] other members. A limit of 0 means no limit.
var joinScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[2])
if redis.call('SISMEMBER', key, ARGV[1]) == 0 then
	if limit > 0 and redis.call('SCARD', key) >= limit then
		return 0
	end
	redis.call('SADD', key, ARGV[1])
end
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

// JoinRoom records participantID in the room's presence set if the room has
// fewer than limit participants. A participant already present is always
// admitted. It reports whether the participant is in the room.
func (c *Client) JoinRoom(ctx context.Context, roomID, participantID string, limit int, ttl time.Duration) (bool, error) {
	n, err := joinScript.Run(ctx, c.rdb, []string{peersKey(roomID)}, participantID, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("add participant to %s: %w", roomID, err)
	}
	return n == 1, nil
}

// RemoveParticipant drops a subscriber from the room's presence set.
func (c *Client) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	if err := c.rdb.SRem(ctx, peersKey(roomID), participantID).Err(); err != nil {
		return fmt.Errorf("remove participant from %s: %w", roomID, err)
	}
	return nil
}

// HasParticipant reports whether participantID is present in the room.
func (c *Client) HasParticipant(ctx context.Context, roomID, participantID string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, peersKey(roomID), participantID).Result()
	if err != nil {
		return false, fmt.Errorf("check participant in %s: %w", roomID, err)
	}
	return ok, nil
}

// ParticipantCount returns the size of the room's presence set.
func (c *Client) ParticipantCount(ctx context.Context, roomID string) (int, error) {
	n, err := c.rdb.SCard(ctx, peersKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count participants in %s: %w", roomID, err)
	}
	return int(n), nil
}

// RegisterSocket marks socketID as connected and waiting to subscribe. The
// mark expires after ttl.
func (c *Client) RegisterSocket(ctx context.Context, socketID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, socketKey(socketID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("register socket %s: %w", socketID, err)
	}
	return nil
}

func (c *Client) ReleaseSocket(ctx context.Context, socketID string) error {
	if err := c.rdb.Del(ctx, socketKey(socketID)).Err(); err != nil {
		return fmt.Errorf("release socket %s: %w", socketID, err)
	}
	return nil
}

// SocketPending reports whether socketID is connected to some relay instance
// and has not finished subscribing.
func (c *Client) SocketPending(ctx context.Context, socketID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, socketKey(socketID)).Result()
	if err != nil {
		return false, fmt.Errorf("check socket %s: %w", socketID, err)
	}
	return n == 1, nil
}
