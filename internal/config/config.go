package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	// Load .env files automatically.
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	API     APIConfig     `json:"api"`
	Channel ChannelConfig `json:"channel"`
	Media   MediaConfig   `json:"media"`
	Log     LogConfig     `json:"log"`
}

type APIConfig struct {
	BaseURL   string        `json:"base_url"`
	AuthToken string        `json:"auth_token"`
	Timeout   time.Duration `json:"timeout"`
}

type ChannelConfig struct {
	URL            string        `json:"url"`
	MaxReconnects  uint64        `json:"max_reconnects"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
}

type MediaConfig struct {
	FFmpegPath string `json:"ffmpeg_path"`
	VideoInput string `json:"video_input"`
	AudioInput string `json:"audio_input"`
	FrameRate  int    `json:"frame_rate"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Load reads configuration from environment variables and any .env file.
func Load() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:   getEnv("SESSION_API_URL", "http://localhost:8080"),
			AuthToken: getEnv("SESSION_API_TOKEN", ""),
			Timeout:   getDurationEnv("SESSION_API_TIMEOUT", 15*time.Second),
		},
		Channel: ChannelConfig{
			URL:            getEnv("EVENT_CHANNEL_URL", "ws://localhost:8081/ws"),
			MaxReconnects:  uint64(getIntEnv("EVENT_CHANNEL_MAX_RECONNECTS", 5)),
			ReconnectDelay: getDurationEnv("EVENT_CHANNEL_RECONNECT_DELAY", 500*time.Millisecond),
		},
		Media: MediaConfig{
			FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
			VideoInput: getEnv("VIDEO_INPUT", "/dev/video0"),
			AudioInput: getEnv("AUDIO_INPUT", ""),
			FrameRate:  getIntEnv("VIDEO_FRAME_RATE", 30),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getBoolEnv("LOG_PRETTY", true),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("session api url is required")
	}
	if c.Channel.URL == "" {
		return fmt.Errorf("event channel url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("invalid api timeout: %s", c.API.Timeout)
	}
	if c.Media.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate: %d", c.Media.FrameRate)
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
