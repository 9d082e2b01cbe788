package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"stagecast/internal/broadcast"
	"stagecast/internal/channel"
	"stagecast/internal/config"
	"stagecast/internal/media"
	"stagecast/internal/session"
)

// logSurface stands in for a UI preview surface in this headless demo.
type logSurface struct {
	logger zerolog.Logger
}

func (s *logSurface) Attach(track webrtc.TrackLocal) {
	s.logger.Info().Str("track", track.ID()).Msg("preview surface attached")
}

func (s *logSurface) Detach() {
	s.logger.Info().Msg("preview surface detached")
}

func main() {
	title := flag.String("title", "", "broadcast title (required)")
	description := flag.String("description", "", "broadcast description")
	category := flag.String("category", "", "broadcast category, defaults to music")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	surface := &logSurface{logger: logger}

	device := media.NewFFmpegDevice(media.FFmpegDeviceConfig{
		FFmpegPath: cfg.Media.FFmpegPath,
		VideoInput: cfg.Media.VideoInput,
		AudioInput: cfg.Media.AudioInput,
		FrameRate:  cfg.Media.FrameRate,
		Logger:     logger,
	})
	if err := device.CheckAvailable(); err != nil {
		logger.Fatal().Err(err).Msg("capture device unavailable")
	}

	dialer, err := media.NewWebRTCDialer(surface, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("room dialer setup failed")
	}

	api := session.NewAPIClient(session.APIClientConfig{
		BaseURL:   cfg.API.BaseURL,
		AuthToken: cfg.API.AuthToken,
		Timeout:   cfg.API.Timeout,
		Logger:    logger,
	})

	events := channel.New(channel.Config{
		URL:            cfg.Channel.URL,
		Credential:     func() string { return cfg.API.AuthToken },
		MaxReconnects:  cfg.Channel.MaxReconnects,
		ReconnectDelay: cfg.Channel.ReconnectDelay,
		Logger:         logger,
	})

	controller := broadcast.NewController(broadcast.Config{
		API:     api,
		Preview: media.NewPreviewManager(device, surface, logger),
		Device:  device,
		Rooms:   dialer,
		Events:  events,
		Logger:  logger,
		OnStateChange: func(s broadcast.State) {
			logger.Info().Str("state", string(s)).Msg("state changed")
		},
	})

	controller.View().OnGift(func(gift channel.Gift) {
		logger.Info().Str("gift", gift.Name).Int("value", gift.Value).Msg("gift received")
	})

	ctx := context.Background()
	err = controller.Start(ctx, broadcast.Settings{
		Title:       *title,
		Description: *description,
		Category:    session.Category(*category),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start broadcast")
	}

	// Broadcast until interrupted.
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info().Msg("ending broadcast")
	endCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := controller.End(endCtx); err != nil {
		logger.Error().Err(err).Msg("end reported an error, resources were still released")
	}
	controller.Close(endCtx)

	if summary := controller.Summary(); summary != nil {
		logger.Info().
			Int64("duration", summary.Duration).
			Int("total_viewers", summary.TotalViewers).
			Int("peak_viewers", summary.PeakViewers).
			Int("gifts", summary.TotalGiftsReceived).
			Int("gift_value", summary.TotalGiftValue).
			Msg("broadcast summary")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
