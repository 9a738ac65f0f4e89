package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/rs/zerolog/log"
)

// Trigger is the publish endpoint. The credential must have been issued for
// the target channel, and it may only publish under its own participant id.
func (h *Handler) Trigger(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Channel != claims.Channel {
		c.JSON(http.StatusForbidden, gin.H{"error": "Credential not valid for channel"})
		return
	}
	if !models.IsClientEvent(req.Event) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown event"})
		return
	}

	var envelope struct {
		SenderID string `json:"senderId"`
	}
	if err := json.Unmarshal(req.Data, &envelope); err != nil || envelope.SenderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be an object with a senderId"})
		return
	}
	if claims.ParticipantID == "" || envelope.SenderID != claims.ParticipantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "senderId does not match credential"})
		return
	}

	frame := models.Frame{Event: req.Event, Channel: req.Channel, Data: req.Data}
	if err := h.store.Publish(c.Request.Context(), frame); err != nil {
		log.Error().Err(err).Str("channel", req.Channel).Str("event", req.Event).Msg("Failed to publish")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to publish"})
		return
	}

	log.Debug().Str("channel", req.Channel).Str("event", req.Event).Str("sender", envelope.SenderID).Msg("Event published")
	c.JSON(http.StatusOK, gin.H{})
}
