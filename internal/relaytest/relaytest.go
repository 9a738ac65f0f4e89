// Package relaytest runs an in-process relay backed by miniredis.
package relaytest

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/handlers"
	"github.com/mossy-p/roomcall/internal/redis"
)

// Secret signs the channel credentials of test relays.
const Secret = "relaytest-secret"

// Relay is a running test relay.
type Relay struct {
	URL    string
	Config *config.Config
	Store  *redis.Client
	Redis  *miniredis.Miniredis
}

// Start launches a relay whose lifetime is bound to t.
func Start(t testing.TB) *Relay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	cfg := &config.Config{
		Environment:     "test",
		AllowedOrigins:  []string{"http://allowed.example"},
		JWTSecret:       Secret,
		CredentialTTL:   time.Minute,
		RoomTTL:         time.Hour,
		MaxParticipants: 2,
		Redis:           config.RedisConfig{Host: mr.Host(), Port: mr.Port()},
	}

	store, err := redis.Connect(context.Background(), cfg.Redis)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}

	h := handlers.New(cfg, store)
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := h.Run(ctx, ready); err != nil {
			t.Errorf("relay fanout: %v", err)
		}
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("relay fanout did not subscribe")
	}

	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
		_ = store.Close()
	})

	return &Relay{URL: srv.URL, Config: cfg, Store: store, Redis: mr}
}
