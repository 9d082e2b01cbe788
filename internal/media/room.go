package media

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RoomConnection is the active media transport connection. It exists only
// while a session is live and is exclusively owned by one controller.
// Disconnect must be called exactly once per session attempt; a second call
// is a no-op, not an error.
type RoomConnection interface {
	SetMicrophoneEnabled(enabled bool) error
	SetCameraEnabled(enabled bool) error
	Connected() bool
	Disconnect() error
}

// RoomDialer establishes transport room connections. On success the returned
// connection takes ownership of the media handle and releases it on
// Disconnect; on failure the handle stays with the caller.
type RoomDialer interface {
	Dial(ctx context.Context, url, token string, handle *LocalMediaHandle) (RoomConnection, error)
}

// WebRTCDialer connects to the transport room over WebRTC. Signaling is a
// single HTTP exchange: the local SDP offer is posted to the room URL with
// the bearer token and the response body is the answer.
type WebRTCDialer struct {
	api        *webrtc.API
	surface    PreviewSurface
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWebRTCDialer creates a dialer with the default codec set registered.
func NewWebRTCDialer(surface PreviewSurface, logger zerolog.Logger) (*WebRTCDialer, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "register codecs")
	}

	return &WebRTCDialer{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(engine)),
		surface:    surface,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "room").Logger(),
	}, nil
}

// Dial connects to the room, publishes both local tracks, and attaches the
// published video back to the preview surface.
func (d *WebRTCDialer) Dial(ctx context.Context, url, token string, handle *LocalMediaHandle) (RoomConnection, error) {
	pc, err := d.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	audioSender, err := pc.AddTrack(handle.AudioTrack())
	if err != nil {
		pc.Close()
		return nil, &TransportError{Op: "publish", Err: err}
	}
	videoSender, err := pc.AddTrack(handle.VideoTrack())
	if err != nil {
		pc.Close()
		return nil, &TransportError{Op: "publish", Err: err}
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, &TransportError{Op: "signal", Err: err}
	}

	gatherDone := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, &TransportError{Op: "signal", Err: err}
	}
	select {
	case <-gatherDone:
	case <-ctx.Done():
		pc.Close()
		return nil, &TransportError{Op: "signal", Err: ctx.Err()}
	}

	answer, err := d.exchangeSDP(ctx, url, token, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return nil, &TransportError{Op: "signal", Err: err}
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}
	if err := pc.SetRemoteDescription(desc); err != nil {
		pc.Close()
		return nil, &TransportError{Op: "signal", Err: err}
	}

	// The broadcast is publishing now; show the published video where the
	// preview used to be.
	d.surface.Attach(handle.VideoTrack())
	d.logger.Info().Str("url", url).Msg("room connected, publishing local media")

	return &webrtcRoom{
		pc:          pc,
		handle:      handle,
		audioSender: audioSender,
		videoSender: videoSender,
		surface:     d.surface,
		logger:      d.logger,
		connected:   true,
	}, nil
}

func (d *WebRTCDialer) exchangeSDP(ctx context.Context, url, token, offer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("room rejected offer: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// webrtcRoom is the live peer connection plus the published senders.
type webrtcRoom struct {
	pc          *webrtc.PeerConnection
	handle      *LocalMediaHandle
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	surface     PreviewSurface
	logger      zerolog.Logger

	mu        sync.Mutex
	connected bool

	disconnectOnce sync.Once
}

// SetMicrophoneEnabled mutes or unmutes the published audio by swapping the
// track out of the sender.
func (r *webrtcRoom) SetMicrophoneEnabled(enabled bool) error {
	if enabled {
		return r.audioSender.ReplaceTrack(r.handle.AudioTrack())
	}
	return r.audioSender.ReplaceTrack(nil)
}

// SetCameraEnabled mutes or unmutes the published video.
func (r *webrtcRoom) SetCameraEnabled(enabled bool) error {
	if enabled {
		return r.videoSender.ReplaceTrack(r.handle.VideoTrack())
	}
	return r.videoSender.ReplaceTrack(nil)
}

func (r *webrtcRoom) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// Disconnect closes the peer connection and releases the capture device.
// Only the first call does anything.
func (r *webrtcRoom) Disconnect() error {
	var closeErr error
	r.disconnectOnce.Do(func() {
		r.mu.Lock()
		r.connected = false
		r.mu.Unlock()

		r.surface.Detach()
		closeErr = r.pc.Close()
		r.handle.Release()
		r.logger.Info().Msg("room disconnected")
	})
	return closeErr
}
