package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veridict/fact-gateway/internal/auditlog"
	"github.com/veridict/fact-gateway/internal/config"
	"github.com/veridict/fact-gateway/internal/events"
	"github.com/veridict/fact-gateway/internal/observability"
	"github.com/veridict/fact-gateway/internal/session"
	"github.com/veridict/fact-gateway/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		logger := observability.GetLogger()
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("transcribe_model", cfg.TranscribeModel).
		Str("verify_model", cfg.VerifyModel).
		Str("language", cfg.TranscribeLanguage).
		Msg("Starting fact gateway")

	verifier := verify.NewOpenAIVerifier(cfg)
	audit := auditlog.NewClient(cfg, logger)
	publisher := events.NewPublisher(cfg, logger)
	defer publisher.Close()

	handler := session.NewHandler(cfg, verifier, audit, publisher, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/live", handler.HandleLiveStream)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"audit_log": auditCheck(audit),
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Streaming connections stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		endpoint := "ws://localhost:" + cfg.Port + "/streams/live"
		if cfg.GatewayURL != "" {
			endpoint = cfg.GatewayURL + "/streams/live"
		}
		logger.Info().Str("endpoint", endpoint).Msg("Capture endpoint listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Forced shutdown")
	}
	logger.Info().Msg("Server stopped")
}

// auditCheck reports the audit collaborator as healthy when it is disabled
// or reachable
func auditCheck(audit *auditlog.Client) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if !audit.Enabled() {
			return true, nil
		}
		return audit.Ping(ctx)
	}
}
