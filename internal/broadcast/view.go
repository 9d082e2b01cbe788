package broadcast

import (
	"sync"
	"time"

	"stagecast/internal/channel"
)

// ChatLog is the in-memory view of everything that happened in the room:
// an append-only log of channel events in strict arrival order, plus the
// derived counters the UI shows. It lives only for one session and is
// discarded when the room is left.
type ChatLog struct {
	mu           sync.Mutex
	events       []channel.ChannelEvent
	viewerCount  int
	giftCount    int
	chatEnabled  bool
	giftsEnabled bool
	onGift       func(channel.Gift)
}

// NewChatLog creates an empty log with chat and gifts enabled.
func NewChatLog() *ChatLog {
	return &ChatLog{chatEnabled: true, giftsEnabled: true}
}

// OnGift registers a callback for the transient gift acknowledgment the UI
// shows on top of the persistent log entry.
func (l *ChatLog) OnGift(fn func(channel.Gift)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onGift = fn
}

// Append adds one event at the end of the log. Arrival order is
// authoritative; embedded timestamps are never used for sorting.
func (l *ChatLog) Append(ev channel.ChannelEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	var ack func(channel.Gift)
	var gift *channel.Gift
	if ev.Kind == channel.KindGift && ev.Gift != nil {
		l.giftCount++
		ack = l.onGift
		gift = ev.Gift
	}
	l.mu.Unlock()

	if ack != nil {
		ack(*gift)
	}
}

// ApplySnapshot handles the initial-state event the server sends once per
// successful join: the viewer count is replaced, the settings are adopted,
// and any server-supplied recent history seeds the log. Live events keep
// appending after it.
func (l *ChatLog) ApplySnapshot(st channel.InitialState, receivedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.viewerCount = st.CurrentViewers
	l.chatEnabled = st.Settings.ChatEnabled
	l.giftsEnabled = st.Settings.GiftsEnabled
	for i := range st.RecentChat {
		msg := st.RecentChat[i]
		l.events = append(l.events, channel.ChannelEvent{
			Kind:       channel.KindChat,
			ReceivedAt: receivedAt,
			Chat:       &msg,
		})
	}
}

// SetViewerCount replaces the viewer count. Counts are pushed by the
// channel, never accumulated locally.
func (l *ChatLog) SetViewerCount(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.viewerCount = n
}

// SetSettings adopts a settings-updated event.
func (l *ChatLog) SetSettings(s channel.SessionSettings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chatEnabled = s.ChatEnabled
	l.giftsEnabled = s.GiftsEnabled
}

// Reset discards the log for a new session.
func (l *ChatLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.viewerCount = 0
	l.giftCount = 0
	l.chatEnabled = true
	l.giftsEnabled = true
}

// Events returns a copy of the log in arrival order.
func (l *ChatLog) Events() []channel.ChannelEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]channel.ChannelEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *ChatLog) ViewerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewerCount
}

func (l *ChatLog) GiftCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.giftCount
}

// MessageCount is the length of the event log.
func (l *ChatLog) MessageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *ChatLog) ChatEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chatEnabled
}

func (l *ChatLog) GiftsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.giftsEnabled
}
