package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/voxlabs/voxchat/internal/capture"
	"github.com/voxlabs/voxchat/internal/config"
	"github.com/voxlabs/voxchat/internal/controller"
	"github.com/voxlabs/voxchat/internal/exchange"
	"github.com/voxlabs/voxchat/internal/httpapi"
	"github.com/voxlabs/voxchat/internal/observability"
	"github.com/voxlabs/voxchat/internal/protocol"
	"github.com/voxlabs/voxchat/internal/transcript"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	if err := portaudio.Initialize(); err != nil {
		logger.Fatal("portaudio init failed", zap.Error(err))
	}
	defer portaudio.Terminate()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	store := transcript.NewStore()
	client := exchange.NewClient(exchange.Config{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.ExchangeTimeout,
	}, logger)

	hub := httpapi.NewHub(metrics)
	notifier := httpapi.NewNotifier(hub, logger)

	recorder := capture.NewRecorder(capture.Config{
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, logger)
	recorder.SetLevelHook(func(level float64, elapsed time.Duration) {
		hub.Publish(protocol.RecordingLevel{
			Type:           protocol.TypeRecordingLevel,
			Level:          level,
			ElapsedSeconds: int(elapsed.Seconds()),
		})
	})

	ctrl := controller.New(store, recorder, client, notifier, hub, metrics, cfg.DefaultLanguage, logger)

	api := httpapi.New(cfg, ctrl, client, hub, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	// Startup capability probe. Failure is reported, not fatal; the panel
	// can retry once the backend comes up.
	go func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		st, err := client.GetStatus(probeCtx)
		if err != nil {
			logger.Warn("backend status probe failed", zap.Error(err))
			notifier.Notify("error", "Backend Disconnected", err.Error())
			return
		}
		logger.Info("backend connected",
			zap.Bool("groq_configured", st.GroqConfigured),
			zap.Bool("google_cloud_configured", st.GoogleCloudConfigured),
			zap.Strings("supported_languages", st.SupportedLanguages),
			zap.Strings("features", st.Features))
		notifier.Notify("info", "Backend Connected", "All systems operational")
	}()

	go func() {
		logger.Info("panel listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	// A recording still running at shutdown is finalized and discarded so
	// the input stream is released before portaudio terminates.
	if _, err := recorder.Stop(); err != nil {
		logger.Warn("recorder stop failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
