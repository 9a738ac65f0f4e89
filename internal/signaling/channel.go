package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxMessageSize   = 64 * 1024
)

// Options configures how a Channel reaches the relay.
type Options struct {
	// RelayURL is the HTTP base of the relay, e.g. https://relay.example.
	RelayURL string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

func (o Options) socketURL() string {
	base := strings.TrimSuffix(o.RelayURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func (o Options) endpoint(path string) string {
	return strings.TrimSuffix(o.RelayURL, "/") + path
}

// Channel is a subscription to one room channel.
type Channel struct {
	opts     Options
	conn     *websocket.Conn
	channel  string
	self     string
	socketID string
	token    string

	incoming chan Message
	done     chan struct{}
	once     sync.Once
	pumps    sync.WaitGroup
}

// Open subscribes participant to the room's channel. The relay must
// authorize the subscription; a refusal is reported as ErrAuthDenied.
// On success a presence announcement is published so participants already
// in the room learn about the new peer.
func Open(ctx context.Context, opts Options, room, participant string) (*Channel, error) {
	if !models.ValidRoomID(room) {
		return nil, fmt.Errorf("%w: invalid room id %q", ErrAuthDenied, room)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: handshakeTimeout}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	conn, _, err := opts.Dialer.DialContext(ctx, opts.socketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Channel{
		opts:     opts,
		conn:     conn,
		channel:  models.ChannelName(room),
		self:     participant,
		incoming: make(chan Message, 64),
		done:     make(chan struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	c.pumps.Add(2)
	go c.readPump()
	go c.writePump()

	log.Debug().Str("channel", c.channel).Str("socket_id", c.socketID).Msg("Subscribed")

	if err := c.Publish(ctx, Presence(participant)); err != nil {
		log.Warn().Err(err).Str("channel", c.channel).Msg("Presence announcement failed")
	}
	return c, nil
}

// handshake runs connection_established, authorization and subscribe.
func (c *Channel) handshake(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	c.conn.SetReadLimit(maxMessageSize)

	frame, err := c.readFrame(ctx)
	if err != nil {
		return err
	}
	if frame.Event != models.EventConnectionEstablished {
		return fmt.Errorf("unexpected relay greeting %q", frame.Event)
	}
	var est models.ConnectionEstablished
	if err := json.Unmarshal(frame.Data, &est); err != nil || est.SocketID == "" {
		return fmt.Errorf("relay greeting without socket id")
	}
	c.socketID = est.SocketID

	token, err := c.authorize(ctx)
	if err != nil {
		return err
	}
	c.token = token

	data, _ := json.Marshal(models.SubscribeRequest{Channel: c.channel, Auth: token, ParticipantID: c.self})
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(models.Frame{Event: models.EventSubscribe, Data: data}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	frame, err = c.readFrame(ctx)
	if err != nil {
		return err
	}
	switch frame.Event {
	case models.EventSubscriptionSucceeded:
		return nil
	case models.EventSubscriptionError:
		var e models.ErrorData
		_ = json.Unmarshal(frame.Data, &e)
		return fmt.Errorf("%w: %s", ErrAuthDenied, e.Error)
	default:
		return fmt.Errorf("unexpected subscribe answer %q", frame.Event)
	}
}

func (c *Channel) readFrame(ctx context.Context) (models.Frame, error) {
	var frame models.Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		if ctx.Err() != nil {
			return frame, ctx.Err()
		}
		return frame, fmt.Errorf("read from relay: %w", err)
	}
	return frame, nil
}

// authorize asks the authorization endpoint for a channel credential.
func (c *Channel) authorize(ctx context.Context) (string, error) {
	body, _ := json.Marshal(models.AuthRequest{
		SocketID:      c.socketID,
		ChannelName:   c.channel,
		ParticipantID: c.self,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.endpoint("/api/relay/auth"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorization request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s", ErrAuthDenied, errorBody(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("authorization endpoint returned %d: %s", resp.StatusCode, errorBody(resp.Body))
	}

	var out models.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Auth == "" {
		return "", fmt.Errorf("authorization endpoint returned no credential")
	}
	return out.Auth, nil
}

// Publish sends msg to everyone else on the channel. A failure is reported
// as ErrPublishFailed and leaves the subscription intact.
func (c *Channel) Publish(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := msg.encode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	body, _ := json.Marshal(models.TriggerRequest{Channel: c.channel, Event: string(msg.Kind), Data: data})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.endpoint("/api/relay/trigger"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublishFailed, msg.Kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s: relay returned %d: %s", ErrPublishFailed, msg.Kind, resp.StatusCode, errorBody(resp.Body))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Messages returns the inbound messages in relay delivery order. The channel
// is closed when the subscription ends.
func (c *Channel) Messages() <-chan Message {
	return c.incoming
}

// Close releases the subscription and returns once the socket is closed.
// It is safe to call more than once.
func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.pumps.Wait()
	})
	return nil
}

// readPump reads frames from the relay until the connection ends.
func (c *Channel) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
		c.pumps.Done()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame models.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				log.Warn().Err(err).Str("channel", c.channel).Msg("Relay connection lost")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if frame.Channel != c.channel {
			continue
		}
		msg, err := decode(frame.Event, frame.Data)
		if err != nil {
			log.Warn().Err(err).Str("event", frame.Event).Msg("Dropping relay event")
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump keeps the connection alive and sends the close frame.
func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.pumps.Done()
	}()

	for {
		select {
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func errorBody(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
