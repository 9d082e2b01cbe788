package channel

import (
	"encoding/json"
	"time"
)

// Inbound event kinds pushed by the server into a joined room.
const (
	EventInitialState    = "initial-state"
	EventChatMessage     = "chat-message"
	EventGiftReceived    = "gift-received"
	EventViewerJoined    = "viewer-joined"
	EventViewerLeft      = "viewer-left"
	EventSessionEnded    = "session-ended"
	EventSettingsUpdated = "settings-updated"
	EventError           = "error"
)

// SessionEvents is the fixed set of inbound kinds a broadcast session cares
// about. RemoveSessionListeners clears handlers for exactly this set.
var SessionEvents = []string{
	EventInitialState,
	EventChatMessage,
	EventGiftReceived,
	EventViewerJoined,
	EventViewerLeft,
	EventSessionEnded,
	EventSettingsUpdated,
	EventError,
}

// Outbound event kinds.
const (
	eventJoin     = "join"
	eventLeave    = "leave"
	eventChat     = "chat"
	eventGift     = "gift"
	eventReaction = "reaction"
	eventTyping   = "typing"
)

// Envelope is the wire frame for every channel message, in either direction.
type Envelope struct {
	Event   string          `json:"event"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatMessage is the payload of chat-message events.
type ChatMessage struct {
	ID          string `json:"id"`
	SenderID    string `json:"sender_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Text        string `json:"text"`
}

// Gift is the payload of gift-received events. Value is in the platform's
// virtual currency; payment handling lives elsewhere.
type Gift struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Value       int    `json:"value"`
	Message     string `json:"message,omitempty"`
	SenderID    string `json:"sender_id"`
	DisplayName string `json:"display_name"`
}

// ViewerUpdate is the payload of viewer-joined and viewer-left events.
// CurrentViewers is the authoritative count and replaces any previous value.
type ViewerUpdate struct {
	DisplayName    string `json:"display_name,omitempty"`
	CurrentViewers int    `json:"current_viewers"`
}

// SessionSettings mirrors the toggles a settings-updated event carries.
type SessionSettings struct {
	ChatEnabled  bool `json:"chat_enabled"`
	GiftsEnabled bool `json:"gifts_enabled"`
}

// InitialState is sent once per successful room join.
type InitialState struct {
	CurrentViewers int             `json:"current_viewers"`
	Settings       SessionSettings `json:"settings"`
	RecentChat     []ChatMessage   `json:"recent_chat,omitempty"`
}

// ErrorEvent is a server-pushed error. It is surfaced to the user but does
// not by itself tear the session down.
type ErrorEvent struct {
	Message string `json:"message"`
}

// EventKind discriminates the ChannelEvent union.
type EventKind string

const (
	KindChat   EventKind = "chat"
	KindGift   EventKind = "gift"
	KindSystem EventKind = "system"
	KindJoin   EventKind = "join"
	KindLeave  EventKind = "leave"
)

// ChannelEvent is one entry in the live event log. Events are immutable once
// received; exactly one of Chat/Gift/Text is meaningful depending on Kind.
type ChannelEvent struct {
	Kind       EventKind
	ReceivedAt time.Time
	Chat       *ChatMessage
	Gift       *Gift
	Text       string
}
