package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicebridge/voicebridge/internal/archive"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/delivery"
	"github.com/voicebridge/voicebridge/internal/httpapi"
	"github.com/voicebridge/voicebridge/internal/llm"
	"github.com/voicebridge/voicebridge/internal/logging"
	"github.com/voicebridge/voicebridge/internal/monitor"
	"github.com/voicebridge/voicebridge/internal/observability"
	"github.com/voicebridge/voicebridge/internal/pipeline"
	"github.com/voicebridge/voicebridge/internal/session"
	"github.com/voicebridge/voicebridge/internal/turn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init("info", "console")
		bootLog := logging.WithComponent("main")
		bootLog.Fatal().Err(err).Msg("config error")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	log := logging.WithComponent("main")

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := archive.NewStore(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("archive init failed")
	}
	defer store.Close()

	backend, err := llm.NewClient(llm.Config{
		URL:           cfg.LLMBackendURL,
		SentinelToken: cfg.LLMSentinelToken,
		DialTimeout:   cfg.LLMDialTimeout,
		DialRetries:   cfg.LLMDialRetries,
		WriteTimeout:  cfg.LLMWriteTimeout,
	}, logging.WithComponent("llm"))
	if err != nil {
		log.Fatal().Err(err).Msg("llm client init failed")
	}

	monitorPub := monitor.New(monitor.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaMonitorTopic,
	}, metrics, logging.WithComponent("monitor"))
	defer monitorPub.Close()

	registry := session.NewRegistry(cfg.HistoryLimit)
	fanout := delivery.NewFanout()

	coordinator := pipeline.New(pipeline.Config{
		ResponseDirective:  cfg.ResponseDirective,
		SentenceBoundaries: cfg.SentenceBoundaries,
		MaxActiveTurns:     cfg.MaxActiveTurns,
	}, registry, backend, fanout, monitorPub, store, metrics, logging.WithComponent("pipeline"))

	detector := turn.NewDetector(registry, cfg.FillerPhrases)
	buffer := turn.NewBuffer(detector, coordinator, metrics, logging.WithComponent("turn"), cfg.TurnQueueSize)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go buffer.Run(runCtx)

	api := httpapi.New(cfg, buffer, fanout, registry, store, monitorPub, metrics, logging.WithComponent("httpapi"))
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	// Stop the turn loop, cancel in-flight generations, wait for workers to
	// emit their terminal records, then close the listener.
	runCancel()
	coordinator.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
