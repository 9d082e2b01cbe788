package media

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFFmpegDevice_Args(t *testing.T) {
	device := NewFFmpegDevice(FFmpegDeviceConfig{
		VideoInput: "/dev/video0",
		AudioInput: "hw:0",
		FrameRate:  24,
		Logger:     zerolog.Nop(),
	})

	video := strings.Join(device.videoArgs(), " ")
	for _, want := range []string{"-i /dev/video0", "-r 24", "-f h264", "-an"} {
		if !strings.Contains(video, want) {
			t.Errorf("video args %q missing %q", video, want)
		}
	}

	audio := strings.Join(device.audioArgs(), " ")
	for _, want := range []string{"-i hw:0", "-c:a libopus", "-f ogg", "-vn"} {
		if !strings.Contains(audio, want) {
			t.Errorf("audio args %q missing %q", audio, want)
		}
	}
}

func TestSplitAnnexB(t *testing.T) {
	start := []byte{0, 0, 0, 1}
	first := append(append([]byte{}, start...), 0x67, 0xAA)
	second := append(append([]byte{}, start...), 0x68, 0xBB, 0xCC)

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, first...), second...)))
	scanner.Split(splitAnnexB)

	var units [][]byte
	for scanner.Scan() {
		units = append(units, append([]byte{}, scanner.Bytes()...))
	}
	if len(units) != 2 {
		t.Fatalf("units = %d, want 2", len(units))
	}
	if !bytes.Equal(units[0], first) {
		t.Errorf("units[0] = %x, want %x", units[0], first)
	}
	if !bytes.Equal(units[1], second) {
		t.Errorf("units[1] = %x, want %x", units[1], second)
	}
}
