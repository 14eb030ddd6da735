// Command server runs the MeetingScribe streaming-transcription backend:
// the /ws/streaming-audio WebSocket endpoint, the SessionManager, and the
// post-meeting processing pipeline, all behind one HTTP listener plus a
// separate Prometheus /metrics listener.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askidmobile/meetingscribe/internal/alignment"
	"github.com/askidmobile/meetingscribe/internal/asr"
	"github.com/askidmobile/meetingscribe/internal/config"
	"github.com/askidmobile/meetingscribe/internal/logging"
	"github.com/askidmobile/meetingscribe/internal/metrics"
	"github.com/askidmobile/meetingscribe/internal/modelfetch"
	"github.com/askidmobile/meetingscribe/internal/postprocess"
	"github.com/askidmobile/meetingscribe/internal/session"
	"github.com/askidmobile/meetingscribe/internal/store"
	"github.com/askidmobile/meetingscribe/internal/wsserver"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		logger.Error("failed to create data root", "error", err.Error(), "path", cfg.DataRoot)
		os.Exit(1)
	}

	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	err = modelfetch.EnsureAll(bootstrapCtx, []modelfetch.Spec{
		{Name: "silero_vad", Path: cfg.SileroModelPath, URL: cfg.SileroModelURL},
		{Name: "sherpa_segmentation", Path: cfg.SherpaSegmentationModelPath, URL: cfg.SherpaSegmentationModelURL},
		{Name: "sherpa_embedding", Path: cfg.SherpaEmbeddingModelPath, URL: cfg.SherpaEmbeddingModelURL},
	}, logger.With("component", "modelfetch"))
	bootstrapCancel()
	if err != nil {
		logger.Error("model bootstrap failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open database", "error", err.Error())
		os.Exit(1)
	}

	meetings := store.NewMeetingStore(db)
	versions := store.NewVersionStore(db)
	liveVersions := store.NewLiveVersionWriter(db)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	streamingASR := asr.NewHTTPStreamingASR(cfg.StreamingAsrURL, cfg.StreamingAsrKey, cfg.StreamingAsrModel, cfg.SampleRateHz)
	accurateASR := asr.NewHTTPAccurateASR(cfg.AccurateAsrURL, cfg.AccurateAsrKey)

	var diarizingASR asr.DiarizingASR
	if cfg.SherpaSegmentationModelPath != "" && cfg.SherpaEmbeddingModelPath != "" {
		sherpaASR, err := asr.NewSherpaDiarizingASR(cfg.SherpaSegmentationModelPath, cfg.SherpaEmbeddingModelPath)
		if err != nil {
			logger.Warn("sherpa diarization unavailable, falling back to HTTP", "error", err.Error())
			diarizingASR = asr.NewHTTPDiarizingASR(cfg.DiarizingAsrURL, cfg.DiarizingAsrKey)
		} else {
			diarizingASR = sherpaASR
		}
	} else {
		diarizingASR = asr.NewHTTPDiarizingASR(cfg.DiarizingAsrURL, cfg.DiarizingAsrKey)
	}

	alignEngine := alignment.New()
	alignEngine.OverlapAcceptThreshold = cfg.AlignmentOverlapThreshold
	alignEngine.DensityAcceptThreshold = cfg.AlignmentDensityThreshold

	postProcessor := postprocess.New(
		cfg.DataRoot, cfg.SampleRateHz,
		accurateASR, diarizingASR, alignEngine,
		versions, meetings, cfg.AutoPromoteAvgConf,
		logger.With("component", "postprocess"),
	)

	sessCfg := session.Config{
		SampleRateHz:        cfg.SampleRateHz,
		WindowSec:           cfg.WindowSec,
		OverlapSec:          cfg.OverlapSec,
		MaxWindowSec:        cfg.MaxWindowSec,
		SilenceCommitSec:    cfg.SilenceCommitSec,
		ChunkDurationSec:    cfg.ChunkDurationSec,
		MaxAudioQueue:       cfg.MaxAudioQueue,
		HeartbeatTimeout:    cfg.HeartbeatTimeout(),
		SessionLinger:       cfg.SessionLinger(),
		AsrWorkerPool:       cfg.AsrWorkerPool,
		StreamingAsrTimeout: cfg.StreamingAsrTimeout(),
		MaxPendingTriggers:  session.DefaultConfig().MaxPendingTriggers,
	}

	manager := session.NewManager(sessCfg, cfg.DataRoot, cfg.SampleRateHz, streamingASR, liveVersions, meetings, logger.With("component", "session_manager"))
	manager.SetOnMeetingEnded(func(meetingID string) {
		if err := meetings.MarkAudioRecorded(meetingID); err != nil {
			logger.Warn("failed to mark audio recorded", "error", err.Error(), "meeting_id", meetingID)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DiarizingAsrTimeout()+cfg.AccurateAsrTimeout())
		defer cancel()
		if err := postProcessor.Run(ctx, meetingID); err != nil {
			logger.Warn("postprocess run failed", "error", err.Error(), "meeting_id", meetingID)
		}
	})

	wsHandler := wsserver.NewHandler(manager, logger.With("component", "wsserver"))

	mux := http.NewServeMux()
	mux.Handle("/ws/streaming-audio", wsHandler)
	mux.HandleFunc("/sessions/", wsHandler.AssignMeeting)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err.Error())
		}
	}()

	go func() {
		logger.Info("websocket server listening", "addr", cfg.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err.Error())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	manager.Stop(30 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}
