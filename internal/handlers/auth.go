package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/redis"
	"github.com/rs/zerolog/log"
)

var errRoomFull = errors.New("room is full")

// AuthorizeChannel is the authorization endpoint: given a socket id and a
// channel name it returns a credential for subscribing to and publishing on
// that channel, or 403.
func (h *Handler) AuthorizeChannel(c *gin.Context) {
	var req models.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	roomID, ok := models.RoomFromChannel(req.ChannelName)
	if !ok || req.ParticipantID == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	ctx := c.Request.Context()
	pending, err := h.store.SocketPending(ctx, req.SocketID)
	if err != nil {
		log.Error().Err(err).Str("socket_id", req.SocketID).Msg("Authorization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authorization failed"})
		return
	}
	if !pending {
		log.Info().Str("socket_id", req.SocketID).Msg("Authorization denied, unknown socket")
		c.JSON(http.StatusForbidden, gin.H{"error": "Unknown socket"})
		return
	}

	if err := h.admit(ctx, roomID, req.ParticipantID); err != nil {
		if errors.Is(err, errRoomFull) {
			log.Info().Str("room_id", roomID).Str("participant_id", req.ParticipantID).Msg("Authorization denied, room full")
			c.JSON(http.StatusForbidden, gin.H{"error": "Room is full"})
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("Authorization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authorization failed"})
		return
	}

	token, err := middleware.IssueChannelToken(h.cfg.JWTSecret, middleware.ChannelClaims{
		SocketID:      req.SocketID,
		Channel:       req.ChannelName,
		ParticipantID: req.ParticipantID,
	}, h.cfg.CredentialTTL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue channel credential")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, models.AuthResponse{Auth: token})
}

// roomLimit returns the participant limit of a room. Rooms without metadata
// use the configured default.
func (h *Handler) roomLimit(ctx context.Context, roomID string) (int, error) {
	room, err := h.store.GetRoom(ctx, roomID)
	switch {
	case err == nil && room.MaxParticipants > 0:
		return room.MaxParticipants, nil
	case err == nil, errors.Is(err, redis.ErrRoomNotFound):
		return h.cfg.MaxParticipants, nil
	default:
		return 0, err
	}
}

// admit checks the room still has space for participantID. A participant
// already present is always admitted. The seat itself is only taken on
// subscribe.
func (h *Handler) admit(ctx context.Context, roomID, participantID string) error {
	limit, err := h.roomLimit(ctx, roomID)
	if err != nil {
		return err
	}

	present, err := h.store.HasParticipant(ctx, roomID, participantID)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	count, err := h.store.ParticipantCount(ctx, roomID)
	if err != nil {
		return err
	}
	if limit > 0 && count >= limit {
		return fmt.Errorf("%w: %d/%d", errRoomFull, count, limit)
	}
	return nil
}
