package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"stagecast/internal/channel"
	"stagecast/internal/media"
	"stagecast/internal/session"
)

// callLog records calls across all fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) indexOf(name string) int {
	for i, c := range l.list() {
		if c == name {
			return i
		}
	}
	return -1
}

type fakeAPI struct {
	log       *callLog
	createErr error
	tokenErr  error
	endErr    error
	summary   *session.SessionSummary
	created   []session.CreateSessionRequest
	ended     []string
}

func (a *fakeAPI) CreateSession(ctx context.Context, req session.CreateSessionRequest) (*session.BroadcastSession, error) {
	a.log.add("api.create")
	if a.createErr != nil {
		return nil, a.createErr
	}
	req.Normalize()
	a.created = append(a.created, req)
	return &session.BroadcastSession{
		ID:           "session-1",
		Title:        req.Title,
		Category:     req.Category,
		ChatEnabled:  *req.ChatEnabled,
		GiftsEnabled: *req.GiftsEnabled,
	}, nil
}

func (a *fakeAPI) GetRoomToken(ctx context.Context, sessionID string) (*session.RoomAccess, error) {
	a.log.add("api.token")
	if a.tokenErr != nil {
		return nil, a.tokenErr
	}
	return &session.RoomAccess{Token: "room-token", URL: "https://rooms.example/" + sessionID}, nil
}

func (a *fakeAPI) EndSession(ctx context.Context, sessionID string) (*session.SessionSummary, error) {
	a.log.add("api.end")
	a.ended = append(a.ended, sessionID)
	if a.endErr != nil {
		return nil, a.endErr
	}
	return a.summary, nil
}

type fakePreview struct {
	log      *callLog
	active   bool
	releases int
}

func (p *fakePreview) StartPreview(ctx context.Context) error {
	p.log.add("preview.start")
	p.active = true
	return nil
}

func (p *fakePreview) StopPreview() {
	p.log.add("preview.stop")
	p.active = false
}

func (p *fakePreview) HandOff() *media.LocalMediaHandle {
	p.log.add("preview.handoff")
	if !p.active {
		return nil
	}
	p.active = false
	return media.NewLocalMediaHandle(nil, nil, func() { p.releases++ })
}

func (p *fakePreview) Active() bool { return p.active }

type fakeCaptureDevice struct {
	log      *callLog
	openErr  error
	releases int
}

func (d *fakeCaptureDevice) Open(ctx context.Context) (*media.LocalMediaHandle, error) {
	d.log.add("device.open")
	if d.openErr != nil {
		return nil, d.openErr
	}
	return media.NewLocalMediaHandle(nil, nil, func() { d.releases++ }), nil
}

type fakeRoom struct {
	log         *callLog
	connected   bool
	disconnects int
	mic         []bool
	cam         []bool
}

func (r *fakeRoom) SetMicrophoneEnabled(enabled bool) error {
	r.mic = append(r.mic, enabled)
	return nil
}

func (r *fakeRoom) SetCameraEnabled(enabled bool) error {
	r.cam = append(r.cam, enabled)
	return nil
}

func (r *fakeRoom) Connected() bool { return r.connected }

func (r *fakeRoom) Disconnect() error {
	if r.connected {
		r.log.add("room.disconnect")
		r.disconnects++
		r.connected = false
	}
	return nil
}

type fakeDialer struct {
	log     *callLog
	dialErr error
	room    *fakeRoom
	handle  *media.LocalMediaHandle
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string, handle *media.LocalMediaHandle) (media.RoomConnection, error) {
	d.log.add("room.dial")
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.handle = handle
	d.room = &fakeRoom{log: d.log, connected: true}
	return d.room, nil
}

type fakeChannel struct {
	log        *callLog
	connectErr error
	joinErr    error
	connected  bool
	joined     string
	handlers   map[string]map[string]channel.Handler
	chats      []string
	reactions  []string
}

func newFakeChannel(log *callLog) *fakeChannel {
	return &fakeChannel{log: log, handlers: make(map[string]map[string]channel.Handler)}
}

func (c *fakeChannel) Connect(ctx context.Context) error {
	c.log.add("channel.connect")
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeChannel) JoinRoom(ctx context.Context, sessionID string) error {
	c.log.add("channel.join")
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joined = sessionID
	return nil
}

func (c *fakeChannel) LeaveRoom(ctx context.Context, sessionID string) error {
	c.log.add("channel.leave")
	if c.joined == sessionID {
		c.joined = ""
	}
	return nil
}

func (c *fakeChannel) SendChat(ctx context.Context, sessionID, text string) error {
	c.log.add("channel.sendchat")
	c.chats = append(c.chats, text)
	return nil
}

func (c *fakeChannel) SendReaction(ctx context.Context, sessionID, emoji string) error {
	c.log.add("channel.sendreaction")
	c.reactions = append(c.reactions, emoji)
	return nil
}

func (c *fakeChannel) On(event, name string, handler channel.Handler) {
	byName, ok := c.handlers[event]
	if !ok {
		byName = make(map[string]channel.Handler)
		c.handlers[event] = byName
	}
	byName[name] = handler
}

func (c *fakeChannel) RemoveSessionListeners() {
	c.log.add("channel.removelisteners")
	for _, event := range channel.SessionEvents {
		delete(c.handlers, event)
	}
}

func (c *fakeChannel) Disconnect() error {
	c.log.add("channel.disconnect")
	c.connected = false
	c.joined = ""
	return nil
}

// deliver pushes an inbound event through the registered handlers, the way
// the real client's read loop would.
func (c *fakeChannel) deliver(t *testing.T, event string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	byName, ok := c.handlers[event]
	if !ok {
		t.Fatalf("no handler registered for %s", event)
	}
	for _, h := range byName {
		h(raw)
	}
}

type fixture struct {
	log     *callLog
	api     *fakeAPI
	preview *fakePreview
	device  *fakeCaptureDevice
	dialer  *fakeDialer
	events  *fakeChannel
	ctrl    *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := &callLog{}
	f := &fixture{
		log:     log,
		api:     &fakeAPI{log: log},
		preview: &fakePreview{log: log},
		device:  &fakeCaptureDevice{log: log},
		dialer:  &fakeDialer{log: log},
		events:  newFakeChannel(log),
	}
	f.ctrl = NewController(Config{
		API:     f.api,
		Preview: f.preview,
		Device:  f.device,
		Rooms:   f.dialer,
		Events:  f.events,
		Logger:  zerolog.Nop(),
	})
	return f
}

func (f *fixture) startLive(t *testing.T) {
	t.Helper()
	err := f.ctrl.Start(context.Background(), Settings{Title: "Friday Jam"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.ctrl.State() != StateLive {
		t.Fatalf("state = %s, want live", f.ctrl.State())
	}
}

func TestController_StartEmptyTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.ctrl.Start(context.Background(), Settings{Title: tt.title})

			var vErr *session.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Start() error = %v, want ValidationError", err)
			}
			if f.ctrl.State() != StateIdle {
				t.Errorf("state = %s, want idle", f.ctrl.State())
			}
			if calls := f.log.list(); len(calls) != 0 {
				t.Errorf("no call should have happened, got %v", calls)
			}
		})
	}
}

func TestController_StartOrderingWithPreview(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.OpenPreview(context.Background()); err != nil {
		t.Fatalf("OpenPreview() error = %v", err)
	}
	f.startLive(t)

	want := []string{"preview.start", "api.create", "api.token", "preview.handoff", "room.dial", "channel.connect", "channel.join"}
	got := f.log.list()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}

	// The ordering invariant: the preview lets go of the device strictly
	// before the room connect is issued.
	if f.log.indexOf("preview.handoff") > f.log.indexOf("room.dial") {
		t.Error("preview must be stopped before the room dial")
	}
	if f.events.joined != "session-1" {
		t.Errorf("joined room = %q, want session-1", f.events.joined)
	}
}

func TestController_StartWithoutPreviewOpensDevice(t *testing.T) {
	f := newFixture(t)
	f.startLive(t)

	if f.log.indexOf("device.open") == -1 {
		t.Error("device should be opened directly when no preview is active")
	}
	if f.log.indexOf("preview.handoff") > f.log.indexOf("device.open") {
		t.Error("hand-off must be attempted before a fresh device open")
	}
}

func TestController_StartWhileBusy(t *testing.T) {
	f := newFixture(t)
	f.startLive(t)

	if err := f.ctrl.Start(context.Background(), Settings{Title: "Another"}); err != ErrBusy {
		t.Errorf("Start() while live error = %v, want ErrBusy", err)
	}
}

func TestController_CreateFailure(t *testing.T) {
	f := newFixture(t)
	f.api.createErr = errors.New("backend down")

	if err := f.ctrl.Start(context.Background(), Settings{Title: "Friday Jam"}); err == nil {
		t.Fatal("Start() expected an error")
	}
	if f.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.ctrl.State())
	}
	if len(f.api.ended) != 0 {
		t.Error("nothing to clean up when creation itself failed")
	}
	if f.log.indexOf("room.dial") != -1 {
		t.Error("no dial should happen after a failed create")
	}
}

func TestController_DialFailureCleansUpOrphan(t *testing.T) {
	f := newFixture(t)
	f.dialer.dialErr = errors.New("ice failed")

	err := f.ctrl.Start(context.Background(), Settings{Title: "Friday Jam"})
	if err == nil {
		t.Fatal("Start() expected an error")
	}
	if f.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.ctrl.State())
	}
	// The already-created session must not be left live on the backend.
	if len(f.api.ended) != 1 || f.api.ended[0] != "session-1" {
		t.Errorf("orphan cleanup calls = %v, want [session-1]", f.api.ended)
	}
	// The freshly opened device is released again.
	if f.device.releases != 1 {
		t.Errorf("device releases = %d, want 1", f.device.releases)
	}
	// The preview is deliberately not restarted after a failure.
	if f.preview.active {
		t.Error("preview must not be restarted after a failed start")
	}
}

func TestController_JoinFailureUnwindsRoom(t *testing.T) {
	f := newFixture(t)
	f.events.joinErr = errors.New("room full")

	if err := f.ctrl.Start(context.Background(), Settings{Title: "Friday Jam"}); err == nil {
		t.Fatal("Start() expected an error")
	}
	if f.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.ctrl.State())
	}
	if f.dialer.room == nil || f.dialer.room.connected {
		t.Error("room must be disconnected when the channel join fails")
	}
	if f.log.indexOf("channel.removelisteners") == -1 {
		t.Error("listeners registered during the attempt must be removed")
	}
	if len(f.api.ended) != 1 {
		t.Errorf("orphan cleanup calls = %v, want one", f.api.ended)
	}
}

func TestController_EndSequence(t *testing.T) {
	f := newFixture(t)
	f.api.summary = &session.SessionSummary{
		Duration:           125,
		TotalViewers:       10,
		PeakViewers:        7,
		TotalGiftsReceived: 2,
		TotalGiftValue:     15,
	}
	f.startLive(t)

	if err := f.ctrl.End(context.Background()); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	// The authoritative end call goes out first, then local teardown.
	endIdx := f.log.indexOf("api.end")
	for _, call := range []string{"room.disconnect", "channel.removelisteners", "channel.leave", "channel.disconnect"} {
		idx := f.log.indexOf(call)
		if idx == -1 {
			t.Errorf("%s never happened", call)
			continue
		}
		if idx < endIdx {
			t.Errorf("%s happened before the end API call", call)
		}
	}

	if f.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.ctrl.State())
	}
	if f.dialer.room.connected || f.events.connected || f.events.joined != "" {
		t.Error("room and channel must both report not connected after ending")
	}

	// The summary is retained for display until dismissed.
	summary := f.ctrl.Summary()
	if summary == nil || summary.Duration != 125 || summary.PeakViewers != 7 {
		t.Errorf("Summary() = %+v", summary)
	}
	f.ctrl.DismissSummary()
	if f.ctrl.Summary() != nil {
		t.Error("Summary() should be nil after dismissal")
	}
}

func TestController_EndAPIFailureStillTearsDown(t *testing.T) {
	f := newFixture(t)
	f.api.endErr = errors.New("backend gone")
	f.startLive(t)

	err := f.ctrl.End(context.Background())
	if err == nil {
		t.Fatal("End() should report the API failure")
	}

	// Failure-independent teardown: local resources are released anyway.
	if f.ctrl.State() != StateIdle {
		t.Errorf("state = %s, want idle", f.ctrl.State())
	}
	if f.dialer.room.connected {
		t.Error("room still connected after End with API failure")
	}
	if f.events.connected || f.events.joined != "" {
		t.Error("channel still connected after End with API failure")
	}
}

func TestController_EndWhenNotLive(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.End(context.Background()); err != ErrNotLive {
		t.Errorf("End() error = %v, want ErrNotLive", err)
	}
}

func TestController_CloseFromAnyState(t *testing.T) {
	t.Run("from live", func(t *testing.T) {
		f := newFixture(t)
		f.startLive(t)

		f.ctrl.Close(context.Background())

		if f.ctrl.State() != StateIdle {
			t.Errorf("state = %s, want idle", f.ctrl.State())
		}
		if f.dialer.room.connected || f.events.connected {
			t.Error("forced teardown must release the room and the channel")
		}
		if f.log.indexOf("preview.stop") == -1 {
			t.Error("forced teardown must stop the preview")
		}
	})

	t.Run("from idle", func(t *testing.T) {
		f := newFixture(t)
		f.ctrl.Close(context.Background())
		if f.ctrl.State() != StateIdle {
			t.Errorf("state = %s, want idle", f.ctrl.State())
		}
	})

	t.Run("from previewing", func(t *testing.T) {
		f := newFixture(t)
		if err := f.ctrl.OpenPreview(context.Background()); err != nil {
			t.Fatalf("OpenPreview() error = %v", err)
		}
		f.ctrl.Close(context.Background())
		if f.preview.active {
			t.Error("preview still active after forced teardown")
		}
	})
}

func TestController_SendChatGuards(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.SendChat(context.Background(), "hello"); err != ErrNotLive {
		t.Errorf("SendChat() before live error = %v, want ErrNotLive", err)
	}

	f.startLive(t)

	if err := f.ctrl.SendChat(context.Background(), "   "); err != ErrEmptyMessage {
		t.Errorf("SendChat() with whitespace error = %v, want ErrEmptyMessage", err)
	}
	if len(f.events.chats) != 0 {
		t.Errorf("no outbound call expected, got %v", f.events.chats)
	}

	if err := f.ctrl.SendChat(context.Background(), "  hello  "); err != nil {
		t.Fatalf("SendChat() error = %v", err)
	}
	if len(f.events.chats) != 1 || f.events.chats[0] != "hello" {
		t.Errorf("chats = %v, want [hello]", f.events.chats)
	}
}

func TestController_Toggles(t *testing.T) {
	f := newFixture(t)

	if _, err := f.ctrl.ToggleMicrophone(); err != ErrNotLive {
		t.Errorf("ToggleMicrophone() before live error = %v, want ErrNotLive", err)
	}

	f.startLive(t)

	on, err := f.ctrl.ToggleMicrophone()
	if err != nil || on {
		t.Errorf("first toggle = (%v, %v), want muted", on, err)
	}
	on, err = f.ctrl.ToggleMicrophone()
	if err != nil || !on {
		t.Errorf("second toggle = (%v, %v), want unmuted", on, err)
	}
	if len(f.dialer.room.mic) != 2 || f.dialer.room.mic[0] || !f.dialer.room.mic[1] {
		t.Errorf("mic calls = %v, want [false true]", f.dialer.room.mic)
	}

	if _, err := f.ctrl.ToggleCamera(); err != nil {
		t.Errorf("ToggleCamera() error = %v", err)
	}
	if len(f.dialer.room.cam) != 1 || f.dialer.room.cam[0] {
		t.Errorf("cam calls = %v, want [false]", f.dialer.room.cam)
	}

	// Toggling never changes the lifecycle state.
	if f.ctrl.State() != StateLive {
		t.Errorf("state = %s, want live", f.ctrl.State())
	}
}

func TestController_LiveEventFlow(t *testing.T) {
	f := newFixture(t)
	f.startLive(t)
	view := f.ctrl.View()

	f.events.deliver(t, channel.EventInitialState, channel.InitialState{
		CurrentViewers: 1,
		Settings:       channel.SessionSettings{ChatEnabled: true, GiftsEnabled: true},
	})
	f.events.deliver(t, channel.EventViewerJoined, channel.ViewerUpdate{DisplayName: "ana", CurrentViewers: 3})
	if view.ViewerCount() != 3 {
		t.Errorf("ViewerCount() = %d, want 3", view.ViewerCount())
	}

	f.events.deliver(t, channel.EventChatMessage, channel.ChatMessage{ID: "m1", DisplayName: "ana", Text: "hi"})
	f.events.deliver(t, channel.EventGiftReceived, channel.Gift{ID: "g1", Name: "rose", Value: 5, DisplayName: "ana"})
	if view.GiftCount() != 1 {
		t.Errorf("GiftCount() = %d, want 1", view.GiftCount())
	}

	f.events.deliver(t, channel.EventSettingsUpdated, channel.SessionSettings{ChatEnabled: false, GiftsEnabled: true})
	if view.ChatEnabled() {
		t.Error("settings update should have disabled chat")
	}

	// A server-pushed error is surfaced but does not end the session.
	f.events.deliver(t, channel.EventError, channel.ErrorEvent{Message: "slow down"})
	if f.ctrl.State() != StateLive {
		t.Errorf("state = %s after channel error, want live", f.ctrl.State())
	}
	var chErr *channel.ChannelError
	if !errors.As(f.ctrl.Err(), &chErr) {
		t.Errorf("Err() = %v, want ChannelError", f.ctrl.Err())
	}
}

func TestController_RoundTripLeavesNothingConnected(t *testing.T) {
	// Live → Ending → Idle always yields roomConnected == false and
	// channelJoined == false, with or without an API failure.
	for _, apiFails := range []bool{false, true} {
		name := "api ok"
		if apiFails {
			name = "api fails"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			if apiFails {
				f.api.endErr = errors.New("boom")
			}
			f.startLive(t)

			_ = f.ctrl.End(context.Background())

			if f.dialer.room.connected {
				t.Error("roomConnected = true after ending")
			}
			if f.events.joined != "" || f.events.connected {
				t.Error("channelJoined = true after ending")
			}
			if f.ctrl.State() != StateIdle {
				t.Errorf("state = %s, want idle", f.ctrl.State())
			}
		})
	}
}
