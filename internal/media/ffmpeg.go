package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/rs/zerolog"
)

// FFmpegDevice captures the local camera and microphone through ffmpeg child
// processes. Video comes out as H264 Annex-B on stdout and is split into
// access units that feed the local video track. When an audio input is
// configured a second process encodes it to Ogg/Opus and its pages feed the
// audio track; without one the audio track is published but stays silent.
type FFmpegDevice struct {
	ffmpegPath string
	videoInput string // e.g. /dev/video0 or an input file for testing
	audioInput string
	frameRate  int
	logger     zerolog.Logger
}

// FFmpegDeviceConfig configures the capture process.
type FFmpegDeviceConfig struct {
	FFmpegPath string
	VideoInput string
	AudioInput string
	FrameRate  int
	Logger     zerolog.Logger
}

// NewFFmpegDevice creates a device that shells out to ffmpeg. It assumes
// ffmpeg is in PATH unless a path is given.
func NewFFmpegDevice(cfg FFmpegDeviceConfig) *FFmpegDevice {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	rate := cfg.FrameRate
	if rate <= 0 {
		rate = 30
	}
	return &FFmpegDevice{
		ffmpegPath: path,
		videoInput: cfg.VideoInput,
		audioInput: cfg.AudioInput,
		frameRate:  rate,
		logger:     cfg.Logger.With().Str("component", "capture").Logger(),
	}
}

// CheckAvailable checks that ffmpeg is installed and runnable.
func (d *FFmpegDevice) CheckAvailable() error {
	output, err := exec.Command(d.ffmpegPath, "-version").Output()
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	if !strings.Contains(string(output), "ffmpeg version") {
		return fmt.Errorf("ffmpeg not properly installed")
	}
	return nil
}

// Open starts the capture process and returns a handle whose tracks are fed
// until the handle is released.
func (d *FFmpegDevice) Open(ctx context.Context) (*LocalMediaHandle, error) {
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "stagecast")
	if err != nil {
		return nil, err
	}
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stagecast")
	if err != nil {
		return nil, err
	}

	captureCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(captureCtx, d.ffmpegPath, d.videoArgs()...)
	cmd.Stderr = nil // ffmpeg writes progress to stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start capture: %w", err)
	}

	go d.pumpVideo(stdout, videoTrack)
	go func() {
		// Reap the process once the capture is cancelled.
		cmd.Wait()
	}()

	if d.audioInput != "" {
		audioCmd := exec.CommandContext(captureCtx, d.ffmpegPath, d.audioArgs()...)
		audioCmd.Stderr = nil

		audioOut, err := audioCmd.StdoutPipe()
		if err != nil {
			cancel()
			return nil, err
		}
		if err := audioCmd.Start(); err != nil {
			cancel()
			return nil, fmt.Errorf("start audio capture: %w", err)
		}

		go d.pumpAudio(audioOut, audioTrack)
		go func() {
			audioCmd.Wait()
		}()
	}

	d.logger.Info().Str("input", d.videoInput).Str("audio_input", d.audioInput).Msg("capture started")

	release := func() {
		cancel()
		d.logger.Info().Msg("capture released")
	}
	return NewLocalMediaHandle(videoTrack, audioTrack, release), nil
}

func (d *FFmpegDevice) videoArgs() []string {
	return []string{
		"-hide_banner",
		"-i", d.videoInput,
		"-an",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-r", fmt.Sprint(d.frameRate),
		"-f", "h264",
		"-",
	}
}

func (d *FFmpegDevice) audioArgs() []string {
	return []string{
		"-hide_banner",
		"-i", d.audioInput,
		"-vn",
		"-c:a", "libopus",
		"-page_duration", "20000",
		"-f", "ogg",
		"-",
	}
}

// pumpVideo splits the Annex-B stream on start codes and writes one sample
// per access unit.
func (d *FFmpegDevice) pumpVideo(r io.Reader, track *webrtc.TrackLocalStaticSample) {
	frameDuration := time.Second / time.Duration(d.frameRate)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 8*1024*1024)
	scanner.Split(splitAnnexB)

	for scanner.Scan() {
		nal := scanner.Bytes()
		if len(nal) == 0 {
			continue
		}
		sample := media.Sample{Data: nal, Duration: frameDuration}
		if err := track.WriteSample(sample); err != nil {
			d.logger.Warn().Err(err).Msg("dropping video sample")
			return
		}
	}
}

// pumpAudio reads Ogg pages off the audio process and writes one sample per
// page. Page durations come from the Opus granule positions at 48kHz.
func (d *FFmpegDevice) pumpAudio(r io.Reader, track *webrtc.TrackLocalStaticSample) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		d.logger.Warn().Err(err).Msg("bad ogg stream from audio capture")
		return
	}

	var lastGranule uint64
	for {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if err != nil {
			return
		}
		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration((sampleCount/48000)*1000) * time.Millisecond

		sample := media.Sample{Data: pageData, Duration: duration}
		if err := track.WriteSample(sample); err != nil {
			d.logger.Warn().Err(err).Msg("dropping audio sample")
			return
		}
	}
}

var annexBStartCode = []byte{0, 0, 0, 1}

// splitAnnexB tokenizes an H264 elementary stream on 4-byte start codes.
func splitAnnexB(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, annexBStartCode)
	if start == -1 {
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	next := bytes.Index(data[start+len(annexBStartCode):], annexBStartCode)
	if next == -1 {
		if atEOF {
			return len(data), data[start:], nil
		}
		return 0, nil, nil
	}
	end := start + len(annexBStartCode) + next
	return end, data[start:end], nil
}
