package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rackscan/camera"
	"rackscan/config"
	"rackscan/health"
	"rackscan/lifecycle"
	"rackscan/metrics"
	"rackscan/permission"
	"rackscan/queues"
	qpubsub "rackscan/queues/pubsub"
	"rackscan/scanner"
	"rackscan/screen"
	"rackscan/vacancy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func hasCamera(cfg *config.Config) bool {
	return cfg.FrameDir != "" || cfg.CaptureCommand != ""
}

// deviceProvider builds a fresh camera for every mounted session.
func deviceProvider(cfg *config.Config) screen.DeviceProvider {
	return func() camera.Device {
		switch {
		case cfg.CaptureCommand != "":
			src, err := camera.NewCommandSource(cfg.CaptureCommand, filepath.Join(os.TempDir(), "rackscan-frames"))
			if err != nil {
				log.Error().Err(err).Msg("invalid capture command")
				return nil
			}
			return camera.NewFrameDevice("capture", src, cfg.FrameRate)
		case cfg.FrameDir != "":
			return camera.NewFrameDevice("frames:"+cfg.FrameDir, camera.NewDirSource(cfg.FrameDir), cfg.FrameRate)
		}
		return nil
	}
}

func main() {
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting rackscan version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	// Preflight required configuration
	if cfg.AuthEmail == "" || cfg.AuthPassword == "" {
		log.Fatal().Msg("missing API credentials; set RACKSCAN_AUTH_EMAIL and RACKSCAN_AUTH_PASSWORD or RACKSCAN_CREDENTIALS_FILE")
	}
	if cfg.EmployeeDocument == "" {
		log.Fatal().Msg("missing employee document; set RACKSCAN_EMPLOYEE_DOCUMENT")
	}
	if (cfg.IntentSubscription != "" || cfg.EventTopic != "") && cfg.GoogleProjectID == "" {
		log.Fatal().Msg("missing Google project id; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or RACKSCAN_PUBSUB_PROJECT_ID")
	}
	answer, err := permission.ParseOutcome(cfg.CameraPermission)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid RACKSCAN_CAMERA_PERMISSION")
	}

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := lifecycle.NewTracker(lifecycle.Active)
	go lifecycle.WatchSignals(ctx, tracker, syscall.SIGUSR1, syscall.SIGUSR2)

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, func() bool { return hasCamera(cfg) })

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	var publisher queues.Publisher
	if cfg.EventTopic != "" {
		p := qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.EventTopic, cfg.CredentialsFile)
		defer p.Close()
		publisher = p
	}

	idle := screen.NewIdleSignal()
	ctrl := screen.New(screen.Config{
		BikeRackID:       cfg.BikeRackID,
		EmployeeDocument: cfg.EmployeeDocument,
		SettingsTarget:   cfg.SettingsTarget(),
		Scanner: scanner.Options{
			WarmupDelay: cfg.WarmupDelay,
			SettleDelay: cfg.SettleDelay,
			Startup:     scanner.StartupPolicy{TorchOn: cfg.TorchOnStartup, AssumeReady: cfg.AssumeReady},
		},
	}, screen.Deps{
		Gate:      permission.NewDeviceGate(func() bool { return hasCamera(cfg) }, permission.StaticPrompter{Answer: answer}, cfg.MaxDenials),
		Observer:  tracker,
		Devices:   deviceProvider(cfg),
		Reporter:  vacancy.NewClient(cfg.APIBaseURL, vacancy.Credentials{Email: cfg.AuthEmail, Password: cfg.AuthPassword}, &http.Client{Timeout: cfg.HTTPTimeout}),
		Publisher: publisher,
		Navigator: idle,
		Alerter:   screen.LogAlerter{},
	})

	if cfg.IntentSubscription != "" {
		subscriber := qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.IntentSubscription, cfg.StationID, cfg.CredentialsFile)
		go func() {
			log.Info().Str("subscription", cfg.IntentSubscription).Msg("starting intent subscriber loop")
			if err := subscriber.Start(ctx, ctrl.HandleIntent); err != nil {
				// Non-recoverable: if we can't receive from Pub/Sub, terminate the process
				log.Fatal().Err(err).Msg("subscriber exited with fatal error; shutting down")
			}
		}()
	} else {
		// Without an intent source the station scans continuously: every
		// return to idle arms the next scan.
		go rearm(ctx, ctrl, idle)
	}

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scan screen shutdown failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}

func rearm(ctx context.Context, ctrl *screen.Controller, idle *screen.IdleSignal) {
	for {
		err := ctrl.StartScan(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, screen.ErrPermissionDenied):
			// Denied stays retryable; ask again later.
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		case err != nil:
			log.Error().Err(err).Msg("scan cannot start; waiting for shutdown")
			return
		default:
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
		}
	}
}
