package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/redis"
	"github.com/rs/zerolog/log"
)

// Handler serves the relay endpoints of one relay instance.
type Handler struct {
	cfg   *config.Config
	store *redis.Client
	hub   *Hub
}

// New creates a Handler backed by the given Redis client.
func New(cfg *config.Config, store *redis.Client) *Handler {
	return &Handler{
		cfg:   cfg,
		store: store,
		hub:   NewHub(),
	}
}

// NewRouter wires the relay routes.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	router.GET("/health", h.Health)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/rooms", h.CreateRoom)
		apiGroup.GET("/rooms/:roomId", h.GetRoom)

		// Authorization endpoint: exchanges a socket id for a channel credential
		apiGroup.POST("/relay/auth", h.AuthorizeChannel)

		// Publish endpoint (requires a channel credential)
		apiGroup.POST("/relay/trigger", middleware.ChannelAuth(h.cfg.JWTSecret), h.Trigger)
	}

	router.GET("/ws", h.HandleSubscription)

	return router
}

// Run delivers frames from Redis to the local subscribers until ctx is done.
// ready, if non-nil, is closed once the Redis subscription is confirmed.
func (h *Handler) Run(ctx context.Context, ready chan<- struct{}) error {
	sub, err := h.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	log.Info().Msg("Relay fanout subscribed")

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()

	for frame := range sub.Frames() {
		h.hub.Deliver(frame)
	}
	h.hub.CloseAll()
	return nil
}

// Health reports whether Redis is reachable.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
