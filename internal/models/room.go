package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const channelPrefix = "private-room-"

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RoomMetadata stores information about a room
type RoomMetadata struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID  string `json:"roomId"`
	Channel string `json:"channel"`
}

// NewRoomID returns a short shareable room identifier.
func NewRoomID() string {
	return uuid.New().String()[:8]
}

// ValidRoomID reports whether id can name a room channel.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ChannelName returns the access-controlled channel for a room.
func ChannelName(roomID string) string {
	return channelPrefix + roomID
}

// RoomFromChannel extracts the room identifier from a channel name.
func RoomFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || !ValidRoomID(id) {
		return "", false
	}
	return id, true
}
