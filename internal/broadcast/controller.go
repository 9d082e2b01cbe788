package broadcast

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"stagecast/internal/channel"
	"stagecast/internal/media"
	"stagecast/internal/session"
)

// SessionAPI is the backend that creates and ends broadcast records and
// issues room-access tokens.
type SessionAPI interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (*session.BroadcastSession, error)
	GetRoomToken(ctx context.Context, sessionID string) (*session.RoomAccess, error)
	EndSession(ctx context.Context, sessionID string) (*session.SessionSummary, error)
}

// Preview is the pre-broadcast camera preview.
type Preview interface {
	StartPreview(ctx context.Context) error
	StopPreview()
	HandOff() *media.LocalMediaHandle
	Active() bool
}

// EventChannel is the room-scoped realtime channel carrying chat, gifts and
// lifecycle events.
type EventChannel interface {
	Connect(ctx context.Context) error
	JoinRoom(ctx context.Context, sessionID string) error
	LeaveRoom(ctx context.Context, sessionID string) error
	SendChat(ctx context.Context, sessionID, text string) error
	SendReaction(ctx context.Context, sessionID, emoji string) error
	On(event, name string, handler channel.Handler)
	RemoveSessionListeners()
	Disconnect() error
}

// Settings are the creator's choices from the session-configuration form.
// Nil toggles default to enabled, a missing category defaults to music.
type Settings struct {
	Title        string
	Description  string
	Category     session.Category
	ChatEnabled  *bool
	GiftsEnabled *bool
}

// listenerName keys every handler this controller registers on the event
// channel, so teardown can remove exactly what Starting added.
const listenerName = "broadcast-controller"

// Controller sequences one live broadcast: validate input, create the
// session record, hand the camera from preview to the transport room,
// publish, join the event channel room, and tear everything down in the
// reverse order when the session ends. It exclusively owns the room
// connection and the local media handle while live.
type Controller struct {
	api     SessionAPI
	preview Preview
	device  media.CaptureDevice
	rooms   media.RoomDialer
	events  EventChannel
	view    *ChatLog
	logger  zerolog.Logger
	onState func(State)

	mu         sync.Mutex
	state      State
	sess       *session.BroadcastSession
	room       media.RoomConnection
	summary    *session.SessionSummary
	lastErr    error
	micEnabled bool
	camEnabled bool
}

// Config wires a controller's collaborators.
type Config struct {
	API           SessionAPI
	Preview       Preview
	Device        media.CaptureDevice
	Rooms         media.RoomDialer
	Events        EventChannel
	Logger        zerolog.Logger
	OnStateChange func(State) // called outside the controller lock
}

// NewController creates an idle controller.
func NewController(cfg Config) *Controller {
	return &Controller{
		api:     cfg.API,
		preview: cfg.Preview,
		device:  cfg.Device,
		rooms:   cfg.Rooms,
		events:  cfg.Events,
		view:    NewChatLog(),
		logger:  cfg.Logger.With().Str("component", "controller").Logger(),
		onState: cfg.OnStateChange,
		state:   StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the chat/gift view model for the current session.
func (c *Controller) View() *ChatLog {
	return c.view
}

// Err returns the last reported error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Summary returns the terminal stats of the last ended session. It stays
// available until DismissSummary.
func (c *Controller) Summary() *session.SessionSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// DismissSummary drops the retained summary.
func (c *Controller) DismissSummary() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary = nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	notify := c.onState
	c.mu.Unlock()
	if notify != nil {
		notify(s)
	}
}

// OpenPreview starts the local camera preview for the configuration form.
// No network call happens here.
func (c *Controller) OpenPreview(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	if err := c.preview.StartPreview(ctx); err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.setState(StatePreviewing)
	return nil
}

// ClosePreview releases the camera and returns to idle without starting a
// broadcast.
func (c *Controller) ClosePreview() {
	c.mu.Lock()
	if c.state != StatePreviewing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.preview.StopPreview()
	c.setState(StateIdle)
}

// Start runs the full starting sequence and transitions to Live. On failure
// at any step the resources acquired so far are released, the session record
// is best-effort ended if it was already created, and the controller returns
// to Idle. The preview is not restarted after a failure.
func (c *Controller) Start(ctx context.Context, settings Settings) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StatePreviewing {
		c.mu.Unlock()
		return ErrBusy
	}
	if strings.TrimSpace(settings.Title) == "" {
		// Fail fast: no network call, state unchanged.
		err := &session.ValidationError{Field: "title", Reason: "title must not be empty"}
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.setState(StateStarting)

	sess, err := c.api.CreateSession(ctx, session.CreateSessionRequest{
		Title:        settings.Title,
		Description:  settings.Description,
		Category:     settings.Category,
		ChatEnabled:  settings.ChatEnabled,
		GiftsEnabled: settings.GiftsEnabled,
	})
	if err != nil {
		return c.failStart(err, "")
	}

	access, err := c.api.GetRoomToken(ctx, sess.ID)
	if err != nil {
		return c.failStart(err, sess.ID)
	}

	// The preview must let go of the device before the room takes it. The
	// handle moves over directly, so the camera is opened exactly once.
	handle := c.preview.HandOff()
	if handle == nil {
		handle, err = c.device.Open(ctx)
		if err != nil {
			return c.failStart(&media.DeviceError{Err: err}, sess.ID)
		}
	}

	room, err := c.rooms.Dial(ctx, access.URL, access.Token, handle)
	if err != nil {
		handle.Release()
		return c.failStart(err, sess.ID)
	}

	if err := c.events.Connect(ctx); err != nil {
		room.Disconnect()
		return c.failStart(err, sess.ID)
	}

	// Listeners go in before the join so the initial-state snapshot cannot
	// slip past them.
	c.view.Reset()
	c.registerListeners()
	if err := c.events.JoinRoom(ctx, sess.ID); err != nil {
		c.events.RemoveSessionListeners()
		room.Disconnect()
		return c.failStart(err, sess.ID)
	}

	c.mu.Lock()
	c.sess = sess
	c.room = room
	c.micEnabled = true
	c.camEnabled = true
	c.lastErr = nil
	c.mu.Unlock()
	c.setState(StateLive)

	c.logger.Info().Str("session_id", sess.ID).Str("title", sess.Title).Msg("broadcast live")
	return nil
}

// failStart records the error, best-effort ends an already-created session
// so the backend does not keep an orphan live, and returns to Idle.
func (c *Controller) failStart(cause error, createdSessionID string) error {
	c.logger.Error().Err(cause).Msg("starting broadcast failed")

	if createdSessionID != "" {
		if _, err := c.api.EndSession(context.Background(), createdSessionID); err != nil {
			c.logger.Warn().Err(err).Str("session_id", createdSessionID).Msg("orphaned session cleanup failed")
		}
	}

	c.mu.Lock()
	c.lastErr = cause
	c.mu.Unlock()
	c.setState(StateIdle)
	return cause
}

// End runs the ending sequence: report the end to the session API first so
// the backend is never left believing a session is live, then disconnect the
// room and the event channel. Local teardown always runs, even when the API
// call fails; that failure is returned after teardown completes.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return ErrNotLive
	}
	sess := c.sess
	room := c.room
	c.mu.Unlock()

	c.setState(StateEnding)

	summary, apiErr := c.api.EndSession(ctx, sess.ID)
	if apiErr != nil {
		c.logger.Error().Err(apiErr).Str("session_id", sess.ID).Msg("end session call failed, tearing down anyway")
	}

	if err := room.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("room disconnect failed")
	}

	c.events.RemoveSessionListeners()
	if err := c.events.LeaveRoom(ctx, sess.ID); err != nil {
		c.logger.Warn().Err(err).Msg("leave room failed")
	}
	if err := c.events.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("channel disconnect failed")
	}

	c.mu.Lock()
	c.sess = nil
	c.room = nil
	c.summary = summary
	c.lastErr = apiErr
	c.mu.Unlock()
	c.setState(StateIdle)

	return apiErr
}

// Close is the forced teardown for when the controller is discarded, e.g.
// on navigation away. It runs from any state, releases everything that can
// be released, and never fails.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	room := c.room
	c.sess = nil
	c.room = nil
	c.mu.Unlock()

	if room != nil {
		if err := room.Disconnect(); err != nil {
			c.logger.Warn().Err(err).Msg("room disconnect failed during close")
		}
	}

	c.events.RemoveSessionListeners()
	if sess != nil {
		if err := c.events.LeaveRoom(ctx, sess.ID); err != nil {
			c.logger.Warn().Err(err).Msg("leave room failed during close")
		}
	}
	if err := c.events.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("channel disconnect failed during close")
	}

	c.preview.StopPreview()
	c.setState(StateIdle)
}

// ToggleMicrophone flips the published audio while live. It does not change
// the lifecycle state.
func (c *Controller) ToggleMicrophone() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive || c.room == nil {
		return false, ErrNotLive
	}
	next := !c.micEnabled
	if err := c.room.SetMicrophoneEnabled(next); err != nil {
		return c.micEnabled, err
	}
	c.micEnabled = next
	return next, nil
}

// ToggleCamera flips the published video while live.
func (c *Controller) ToggleCamera() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive || c.room == nil {
		return false, ErrNotLive
	}
	next := !c.camEnabled
	if err := c.room.SetCameraEnabled(next); err != nil {
		return c.camEnabled, err
	}
	c.camEnabled = next
	return next, nil
}

// SendChat emits a chat message into the room. Empty messages and messages
// outside the live state are rejected before any network call.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != StateLive || c.sess == nil {
		c.mu.Unlock()
		return ErrNotLive
	}
	sessionID := c.sess.ID
	c.mu.Unlock()

	return c.events.SendChat(ctx, sessionID, trimmed)
}

// SendReaction emits an emoji reaction while live.
func (c *Controller) SendReaction(ctx context.Context, emoji string) error {
	c.mu.Lock()
	if c.state != StateLive || c.sess == nil {
		c.mu.Unlock()
		return ErrNotLive
	}
	sessionID := c.sess.ID
	c.mu.Unlock()

	return c.events.SendReaction(ctx, sessionID, emoji)
}
