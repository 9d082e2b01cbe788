package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
)

// CaptureDevice opens the local camera and microphone. Opening is exclusive
// at the OS level, so a second Open while a handle is still held will fail on
// real hardware; callers must release or hand off the current handle first.
type CaptureDevice interface {
	Open(ctx context.Context) (*LocalMediaHandle, error)
}

// PreviewSurface is where the UI layer renders the local video. Attach
// replaces whatever track was attached before.
type PreviewSurface interface {
	Attach(track webrtc.TrackLocal)
	Detach()
}

// LocalMediaHandle owns one open capture of the local camera and microphone.
// Exactly one producer (the preview manager or the room connection) holds it
// at a time; ownership moves by passing the handle, never by reopening the
// device.
type LocalMediaHandle struct {
	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	releaseOnce sync.Once
	release     func()
}

// NewLocalMediaHandle wraps freshly created local tracks together with the
// function that stops the underlying capture.
func NewLocalMediaHandle(video, audio *webrtc.TrackLocalStaticSample, release func()) *LocalMediaHandle {
	return &LocalMediaHandle{video: video, audio: audio, release: release}
}

func (h *LocalMediaHandle) VideoTrack() *webrtc.TrackLocalStaticSample {
	return h.video
}

func (h *LocalMediaHandle) AudioTrack() *webrtc.TrackLocalStaticSample {
	return h.audio
}

// Release stops the capture and frees the physical device. Calling it a
// second time does nothing.
func (h *LocalMediaHandle) Release() {
	h.releaseOnce.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}
