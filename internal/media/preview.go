package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// PreviewManager runs the pre-broadcast camera preview. It acquires the
// capture device, shows the local video on the preview surface, and either
// releases the device or hands it off to the room connection when the
// broadcast starts.
type PreviewManager struct {
	device  CaptureDevice
	surface PreviewSurface
	logger  zerolog.Logger

	mu     sync.Mutex
	handle *LocalMediaHandle
}

// NewPreviewManager creates a preview manager. It does not touch the device
// until StartPreview is called.
func NewPreviewManager(device CaptureDevice, surface PreviewSurface, logger zerolog.Logger) *PreviewManager {
	return &PreviewManager{
		device:  device,
		surface: surface,
		logger:  logger.With().Str("component", "preview").Logger(),
	}
}

// StartPreview acquires the camera and microphone and attaches the local
// video to the preview surface. If a preview is already active it does
// nothing. A failed acquisition leaves previous state untouched.
func (p *PreviewManager) StartPreview(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil {
		return nil
	}

	handle, err := p.device.Open(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("preview capture failed")
		return &DeviceError{Err: err}
	}

	p.handle = handle
	p.surface.Attach(handle.VideoTrack())
	p.logger.Info().Msg("preview started")
	return nil
}

// StopPreview stops the preview and releases the physical device. It is
// idempotent and safe to call from any state.
func (p *PreviewManager) StopPreview() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return
	}

	p.surface.Detach()
	p.handle.Release()
	p.handle = nil
	p.logger.Info().Msg("preview stopped")
}

// HandOff ends the preview without releasing the device and returns the live
// handle, transferring ownership to the caller. Returns nil when no preview
// is active. The single-open invariant holds because the device is never
// reopened, only passed along.
func (p *PreviewManager) HandOff() *LocalMediaHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return nil
	}

	p.surface.Detach()
	handle := p.handle
	p.handle = nil
	p.logger.Info().Msg("preview handed off to room connection")
	return handle
}

// Active reports whether a preview currently holds the device.
func (p *PreviewManager) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle != nil
}
