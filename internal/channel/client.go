package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// CredentialProvider returns the caller's current authentication credential,
// or empty when none is available.
type CredentialProvider func() string

// Client is the process-wide event channel connection. It connects lazily on
// first use, joins at most one room at a time, and keeps its own handler
// registry so every session listener can be removed in bulk without the
// caller retaining function references.
//
// Transient connection loss triggers a bounded reconnect with incremental
// delay; an explicit Disconnect never does.
type Client struct {
	url    string
	cred   CredentialProvider
	dialer *websocket.Dialer
	logger zerolog.Logger

	maxReconnects  uint64
	reconnectDelay time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	currentRoom string
	closed      bool
	handlers    map[string]map[string]Handler // event -> listener name -> handler

	wmu sync.Mutex // serializes writes on conn
}

// Config configures a channel client.
type Config struct {
	URL            string
	Credential     CredentialProvider
	MaxReconnects  uint64
	ReconnectDelay time.Duration
	Logger         zerolog.Logger
}

// New creates a client. No connection is made until Connect.
func New(cfg Config) *Client {
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 5
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Client{
		url:            cfg.URL,
		cred:           cfg.Credential,
		dialer:         websocket.DefaultDialer,
		logger:         cfg.Logger.With().Str("component", "channel").Logger(),
		maxReconnects:  maxReconnects,
		reconnectDelay: delay,
		handlers:       make(map[string]map[string]Handler),
	}
}

// Connect returns immediately when a live connection exists, otherwise dials
// with the current credential. Fails with AuthError when no credential is
// available.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	var cred string
	if c.cred != nil {
		cred = c.cred()
	}
	if cred == "" {
		return &AuthError{Reason: "no credential available"}
	}

	conn, err := c.dial(ctx, cred)
	if err != nil {
		return errors.Wrap(err, "dial event channel")
	}

	c.conn = conn
	c.closed = false
	go c.readLoop(conn)
	c.logger.Info().Str("url", c.url).Msg("event channel connected")
	return nil
}

func (c *Client) dial(ctx context.Context, cred string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred)
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	return conn, err
}

// JoinRoom joins the room scoped to sessionID and records it as the current
// room for later teardown.
func (c *Client) JoinRoom(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.send(Envelope{Event: eventJoin, Room: sessionID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.currentRoom = sessionID
	c.mu.Unlock()
	c.logger.Info().Str("room", sessionID).Msg("joined room")
	return nil
}

// LeaveRoom emits a leave notification and clears the current-room
// bookkeeping when it matches.
func (c *Client) LeaveRoom(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.send(Envelope{Event: eventLeave, Room: sessionID})
	c.mu.Lock()
	if c.currentRoom == sessionID {
		c.currentRoom = ""
	}
	c.mu.Unlock()
	return err
}

// SendChat emits a chat message into the room. Delivery is fire-and-forget.
func (c *Client) SendChat(ctx context.Context, sessionID, text string) error {
	return c.emit(ctx, eventChat, sessionID, ChatMessage{ID: uuid.NewString(), Text: text})
}

// SendGift emits a gift notification into the room.
func (c *Client) SendGift(ctx context.Context, sessionID string, gift Gift) error {
	if gift.ID == "" {
		gift.ID = uuid.NewString()
	}
	return c.emit(ctx, eventGift, sessionID, gift)
}

// SendReaction emits an emoji reaction into the room.
func (c *Client) SendReaction(ctx context.Context, sessionID, emoji string) error {
	return c.emit(ctx, eventReaction, sessionID, struct {
		Emoji string `json:"emoji"`
	}{Emoji: emoji})
}

// SendTyping emits a typing indicator into the room.
func (c *Client) SendTyping(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(Envelope{Event: eventTyping, Room: sessionID})
}

func (c *Client) emit(ctx context.Context, event, sessionID string, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s payload", event)
	}
	return c.send(Envelope{Event: event, Room: sessionID, Payload: raw})
}

func (c *Client) send(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(env)
}

// On registers a named handler for an inbound event. Registering the same
// event and name again replaces the previous handler, so delivery is never
// duplicated.
func (c *Client) On(event, name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byName, ok := c.handlers[event]
	if !ok {
		byName = make(map[string]Handler)
		c.handlers[event] = byName
	}
	byName[name] = handler
}

// Off removes one named handler. Unknown names are ignored.
func (c *Client) Off(event, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byName, ok := c.handlers[event]; ok {
		delete(byName, name)
		if len(byName) == 0 {
			delete(c.handlers, event)
		}
	}
}

// RemoveSessionListeners unregisters every handler for the fixed set of
// session event kinds, whether or not the caller still has references.
func (c *Client) RemoveSessionListeners() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range SessionEvents {
		delete(c.handlers, event)
	}
}

// Disconnect leaves the current room, tears the connection down, and clears
// the handler registry. Safe to call when not connected, and it suppresses
// any further auto-reconnect.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	room := c.currentRoom
	c.conn = nil
	c.currentRoom = ""
	c.handlers = make(map[string]map[string]Handler)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.wmu.Lock()
	if room != "" {
		conn.WriteJSON(Envelope{Event: eventLeave, Room: room}) // best effort
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteMessage(websocket.CloseMessage, msg)
	c.wmu.Unlock()

	c.logger.Info().Msg("event channel disconnected")
	return conn.Close()
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// CurrentRoom returns the joined room's session id, or empty.
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		c.dispatch(env)
	}

	c.mu.Lock()
	if c.closed || c.conn != conn {
		// Explicit disconnect, or a newer connection took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	room := c.currentRoom
	c.mu.Unlock()

	c.logger.Warn().Msg("event channel connection lost")
	c.reconnect(room)
}

// reconnect re-dials with incremental delay up to the configured attempt
// cap, then re-joins the room that was live when the connection dropped.
func (c *Client) reconnect(room string) {
	policy := backoff.WithMaxRetries(c.newBackOff(), c.maxReconnects)

	attempt := func() error {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return backoff.Permanent(errors.New("explicitly disconnected"))
		}

		var cred string
		if c.cred != nil {
			cred = c.cred()
		}
		if cred == "" {
			return backoff.Permanent(&AuthError{Reason: "no credential available"})
		}

		conn, err := c.dial(context.Background(), cred)
		if err != nil {
			return err
		}

		// Disconnect may have run while the dial was in flight; the closed
		// check and the install must share one critical section or the late
		// dial leaks a live connection past the explicit disconnect.
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return backoff.Permanent(errors.New("explicitly disconnected"))
		}
		c.conn = conn
		c.mu.Unlock()
		return nil
	}

	if err := backoff.Retry(attempt, policy); err != nil {
		c.logger.Error().Err(err).Msg("event channel reconnect failed")
		c.synthesizeError("connection lost: " + err.Error())
		return
	}

	c.logger.Info().Msg("event channel reconnected")
	if room != "" {
		if err := c.send(Envelope{Event: eventJoin, Room: room}); err != nil {
			c.logger.Error().Err(err).Str("room", room).Msg("rejoin after reconnect failed")
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		go c.readLoop(conn)
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectDelay
	bo.MaxElapsedTime = 0 // the retry count is the bound
	return bo
}

// synthesizeError delivers a local failure through the same path as a
// server-pushed error event so the UI hears about it.
func (c *Client) synthesizeError(message string) {
	raw, err := json.Marshal(ErrorEvent{Message: message})
	if err != nil {
		return
	}
	c.dispatch(Envelope{Event: EventError, Payload: raw})
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	byName := c.handlers[env.Event]
	snapshot := make([]Handler, 0, len(byName))
	for _, h := range byName {
		snapshot = append(snapshot, h)
	}
	c.mu.Unlock()

	for _, h := range snapshot {
		h(env.Payload)
	}
}
