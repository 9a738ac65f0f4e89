package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/roomcall/internal/middleware"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	subscribeWait  = 10 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Topic holds the local subscribers of one channel.
type Topic struct {
	Name  string
	Peers map[string]*Client
	mu    sync.RWMutex
}

// Client represents a subscription socket.
type Client struct {
	SocketID      string
	ParticipantID string
	RoomID        string
	Channel       string
	Conn          *websocket.Conn
	Send          chan []byte

	mu     sync.Mutex
	closed bool
}

// Hub tracks the topics with at least one local subscriber.
type Hub struct {
	topics map[string]*Topic
	mu     sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*Topic)}
}

// HandleSubscription upgrades the request and runs the subscription
// handshake: connection_established, subscribe, subscription_succeeded.
func (h *Handler) HandleSubscription(c *gin.Context) {
	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &Client{
		SocketID: uuid.New().String(),
		Conn:     conn,
		Send:     make(chan []byte, 256),
	}
	go client.writePump()

	ctx := c.Request.Context()
	// Registered before the greeting so authorization can find it
	if err := h.store.RegisterSocket(ctx, client.SocketID, subscribeWait); err != nil {
		log.Error().Err(err).Str("socket_id", client.SocketID).Msg("Failed to register socket")
		client.close()
		return
	}

	client.sendFrame("", models.EventConnectionEstablished, models.ConnectionEstablished{SocketID: client.SocketID})

	if err := h.subscribe(ctx, client); err != nil {
		log.Info().Err(err).Str("socket_id", client.SocketID).Msg("Subscription rejected")
		client.sendFrame(client.Channel, models.EventSubscriptionError, models.ErrorData{Error: err.Error()})
		client.close()
		return
	}

	log.Info().
		Str("socket_id", client.SocketID).
		Str("participant_id", client.ParticipantID).
		Str("room_id", client.RoomID).
		Msg("Participant subscribed")

	go client.readPump(h)
}

// subscribe reads the subscribe frame and verifies its credential.
func (h *Handler) subscribe(ctx context.Context, c *Client) error {
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(subscribeWait))

	var frame models.Frame
	err := c.Conn.ReadJSON(&frame)
	// The socket takes no further authorizations once it has answered
	if relErr := h.store.ReleaseSocket(ctx, c.SocketID); relErr != nil {
		log.Warn().Err(relErr).Str("socket_id", c.SocketID).Msg("Failed to release socket")
	}
	if err != nil {
		return fmt.Errorf("read subscribe: %w", err)
	}
	if frame.Event != models.EventSubscribe {
		return fmt.Errorf("expected %s, got %q", models.EventSubscribe, frame.Event)
	}

	var req models.SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return fmt.Errorf("invalid subscribe data: %w", err)
	}
	c.Channel = req.Channel

	claims, err := middleware.ParseChannelToken(h.cfg.JWTSecret, req.Auth)
	if err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}
	if claims.SocketID != c.SocketID || claims.Channel != req.Channel {
		return fmt.Errorf("credential not issued for this socket and channel")
	}
	if claims.ParticipantID == "" {
		return fmt.Errorf("credential not bound to a participant")
	}

	roomID, ok := models.RoomFromChannel(req.Channel)
	if !ok {
		return fmt.Errorf("invalid channel %q", req.Channel)
	}
	c.RoomID = roomID
	c.ParticipantID = claims.ParticipantID

	limit, err := h.roomLimit(ctx, roomID)
	if err != nil {
		return err
	}
	joined, err := h.store.JoinRoom(ctx, roomID, c.ParticipantID, limit, h.cfg.RoomTTL)
	if err != nil {
		return err
	}
	if !joined {
		return fmt.Errorf("%w: limit %d", errRoomFull, limit)
	}

	// Acknowledge before joining the topic so no event overtakes the ack
	c.sendFrame(c.Channel, models.EventSubscriptionSucceeded, nil)
	h.hub.addClient(c)
	return nil
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, exists := h.topics[c.Channel]
	if !exists {
		topic = &Topic{Name: c.Channel, Peers: make(map[string]*Client)}
		h.topics[c.Channel] = topic
		log.Debug().Str("channel", c.Channel).Msg("Created topic")
	}

	topic.mu.Lock()
	topic.Peers[c.SocketID] = c
	topic.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, exists := h.topics[c.Channel]
	if !exists {
		return
	}

	topic.mu.Lock()
	delete(topic.Peers, c.SocketID)
	empty := len(topic.Peers) == 0
	topic.mu.Unlock()

	// Clean up topic if empty
	if empty {
		delete(h.topics, c.Channel)
		log.Debug().Str("channel", c.Channel).Msg("Removed empty topic")
	}
}

// Deliver sends a frame to every local subscriber of its channel.
func (h *Hub) Deliver(frame models.Frame) {
	h.mu.RLock()
	topic, exists := h.topics[frame.Channel]
	h.mu.RUnlock()
	if !exists {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal frame")
		return
	}
	topic.broadcast(data)
}

// CloseAll disconnects every local subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, topic := range h.topics {
		topic.mu.Lock()
		for _, c := range topic.Peers {
			c.close()
		}
		topic.Peers = map[string]*Client{}
		topic.mu.Unlock()
		delete(h.topics, name)
	}
}

func (t *Topic) broadcast(data []byte) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, client := range t.Peers {
		client.enqueue(data)
	}
}

func (c *Client) readPump(h *Handler) {
	defer func() {
		h.hub.removeClient(c)
		c.close()

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()

		if err := h.store.RemoveParticipant(ctx, c.RoomID, c.ParticipantID); err != nil {
			log.Error().Err(err).Str("participant_id", c.ParticipantID).Msg("Failed to remove participant")
		}

		// Notify other peers
		data, _ := json.Marshal(models.SignalPayload{SenderID: c.ParticipantID})
		if err := h.store.Publish(ctx, models.Frame{
			Event:   models.EventUserLeft,
			Channel: c.Channel,
			Data:    data,
		}); err != nil {
			log.Error().Err(err).Str("participant_id", c.ParticipantID).Msg("Failed to publish departure")
		}

		log.Info().Str("participant_id", c.ParticipantID).Str("room_id", c.RoomID).Msg("Participant left")
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame models.Frame
		if err := c.Conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("socket_id", c.SocketID).Msg("WebSocket error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		switch frame.Event {
		case models.EventPing:
			c.sendFrame("", models.EventPong, nil)
		default:
			// Publishing goes through the trigger endpoint
			log.Debug().Str("event", frame.Event).Str("socket_id", c.SocketID).Msg("Ignoring client frame")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("socket_id", c.SocketID).Msg("Failed to write frame")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendFrame(channel, event string, data any) {
	frame := models.Frame{Event: event, Channel: channel}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal frame data")
			return
		}
		frame.Data = raw
	}

	msg, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal frame")
		return
	}

	c.enqueue(msg)
}

// enqueue hands a frame to the write pump without blocking.
func (c *Client) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		log.Warn().Str("socket_id", c.SocketID).Str("channel", c.Channel).Msg("Failed to send frame, buffer full")
	}
}

// close stops the write pump after the queued frames are written.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
