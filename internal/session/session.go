package session

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryMusic  Category = "music"
	CategoryGaming Category = "gaming"
	CategoryTalk   Category = "talk"
	CategoryArt    Category = "art"
	CategoryOther  Category = "other"
)

// DefaultCategory is applied when a session is created without one.
const DefaultCategory = CategoryMusic

// BroadcastSession is one live broadcast, from creation to end. The id is
// assigned by the session API and is opaque to this client.
type BroadcastSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Category     Category  `json:"category"`
	ChatEnabled  bool      `json:"chat_enabled"`
	GiftsEnabled bool      `json:"gifts_enabled"`
	StartedAt    time.Time `json:"started_at"`
}

// CreateSessionRequest carries the creator's settings for a new session.
// ChatEnabled and GiftsEnabled are pointers so that "unset" can default to
// enabled instead of the bool zero value.
type CreateSessionRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Category     Category `json:"category,omitempty"`
	ChatEnabled  *bool    `json:"chat_enabled,omitempty"`
	GiftsEnabled *bool    `json:"gifts_enabled,omitempty"`
}

// Normalize applies the creation defaults: category falls back to music,
// chat and gifts default to enabled.
func (r *CreateSessionRequest) Normalize() {
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.ChatEnabled == nil {
		enabled := true
		r.ChatEnabled = &enabled
	}
	if r.GiftsEnabled == nil {
		enabled := true
		r.GiftsEnabled = &enabled
	}
}

// Validate checks the parts of the request that must be right before any
// network call is made.
func (r *CreateSessionRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Reason: "title must not be empty"}
	}
	return nil
}

// RoomAccess is the credential pair for the media transport room.
type RoomAccess struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// SessionSummary is the terminal stats record returned when a session ends.
// Duration is in seconds.
type SessionSummary struct {
	Duration           int64 `json:"duration"`
	TotalViewers       int   `json:"total_viewers"`
	PeakViewers        int   `json:"peak_viewers"`
	TotalGiftsReceived int   `json:"total_gifts_received"`
	TotalGiftValue     int   `json:"total_gift_value"`
}
