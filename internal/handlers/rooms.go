package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/redis"
	"github.com/rs/zerolog/log"
)

// CreateRoom allocates a short room identifier and records its metadata.
// Joining does not require a created room; this only reserves a shareable id.
func (h *Handler) CreateRoom(c *gin.Context) {
	room := models.RoomMetadata{
		ID:              models.NewRoomID(),
		CreatedAt:       time.Now().UTC(),
		MaxParticipants: h.cfg.MaxParticipants,
	}

	if err := h.store.SaveRoom(c.Request.Context(), room, h.cfg.RoomTTL); err != nil {
		log.Error().Err(err).Msg("Failed to store room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	log.Info().Str("room_id", room.ID).Msg("Room created")

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID:  room.ID,
		Channel: models.ChannelName(room.ID),
	})
}

// GetRoom returns room metadata with the live participant count.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	if !models.ValidRoomID(roomID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return
	}

	ctx := c.Request.Context()
	room, err := h.store.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, redis.ErrRoomNotFound):
		// Rooms joined by URL alone have presence but no metadata
		count, err := h.store.ParticipantCount(ctx, roomID)
		if err != nil || count == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		room = &models.RoomMetadata{
			ID:               roomID,
			MaxParticipants:  h.cfg.MaxParticipants,
			ParticipantCount: count,
		}
	case err != nil:
		log.Error().Err(err).Str("room_id", roomID).Msg("Failed to load room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	c.JSON(http.StatusOK, room)
}
