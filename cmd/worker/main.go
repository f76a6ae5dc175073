// Command worker runs the ingestion pipeline: it consumes queued jobs from
// the configured broker, drives each job through the stage table, and
// optionally serves the REST surface over the same process, grounded on
// library_service/main.go's wiring order (config -> dependencies -> server
// -> signal-driven graceful shutdown).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mbarrow/framewatch/internal/api"
	"github.com/mbarrow/framewatch/internal/broker"
	"github.com/mbarrow/framewatch/internal/broker/inprocess"
	"github.com/mbarrow/framewatch/internal/broker/redisbroker"
	"github.com/mbarrow/framewatch/internal/capability/discovery"
	"github.com/mbarrow/framewatch/internal/capability/ocr"
	"github.com/mbarrow/framewatch/internal/capability/openvocab"
	"github.com/mbarrow/framewatch/internal/capability/transcribe"
	"github.com/mbarrow/framewatch/internal/capability/yolo"
	"github.com/mbarrow/framewatch/internal/config"
	"github.com/mbarrow/framewatch/internal/detect"
	"github.com/mbarrow/framewatch/internal/extractor"
	"github.com/mbarrow/framewatch/internal/jobstore"
	"github.com/mbarrow/framewatch/internal/orchestrator"
	"github.com/mbarrow/framewatch/internal/searchindex"
	"github.com/mbarrow/framewatch/internal/watcher"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg := config.Load()

	dbPath := cfg.StateDBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "state.db")
	}
	store, err := jobstore.Open(dbPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open job store")
	}
	defer store.Close()

	var bro broker.Broker
	if cfg.BrokerURL == "" {
		bro = inprocess.New(cfg.QueueCapacity)
		logger.Info("using in-process broker")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rb, err := redisbroker.New(ctx, cfg.BrokerURL)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis broker")
		}
		bro = rb
		logger.Info("using redis broker")
	}
	defer bro.Close()

	lex, err := detect.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		logger.WithError(err).Warn("failed to load lexicon config, using defaults")
		lex = detect.DefaultLexicon()
	}

	caps := buildCapabilities(cfg, logger)

	index := searchindex.New(nil)
	if err := index.Rebuild(filepath.Join(cfg.DataDir, "reports")); err != nil {
		logger.WithError(err).Error("search index rebuild failed")
	}

	orch := orchestrator.New(store, bro, cfg, lex, caps, index, logger, workerID())

	if err := orch.RecoverStale(context.Background()); err != nil {
		logger.WithError(err).Error("stale job recovery failed")
	}

	ctx, stop := context.WithCancel(context.Background())

	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.WithError(err).Error("pipeline consumer loop exited")
		}
	}()

	if cfg.WatchIncomingEnabled {
		incomingDir := filepath.Join(cfg.DataDir, "incoming")
		if err := os.MkdirAll(incomingDir, 0o755); err != nil {
			logger.WithError(err).Warn("failed to create incoming directory, watch disabled")
		} else {
			w := watcher.New(incomingDir, logger, func(ctx context.Context, path string) error {
				filename := filepath.Base(path)
				videoID, err := orch.CreateJob(ctx, filename, cfg.DefaultIntervalSec, "", path)
				if err != nil {
					return err
				}
				os.Remove(path)
				logger.WithField("video_id", videoID).WithField("path", path).Info("created job from incoming file")
				return nil
			}, cfg.IncomingSettle)
			go func() {
				if err := w.Run(ctx); err != nil {
					logger.WithError(err).Error("incoming directory watcher exited")
				}
			}()
		}
	}

	h := api.NewHandlers(orch, logger)
	router := api.NewRouter(h)
	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("ingestion worker starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down ingestion worker...")

	stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
	}
	logger.Info("ingestion worker stopped")
}

// buildCapabilities constructs every capability handle, probing each
// external binary and leaving the field nil (Unavailable) when the binary
// cannot be resolved, per §4.2.
func buildCapabilities(cfg *config.Config, logger *logrus.Logger) orchestrator.Capabilities {
	caps := orchestrator.Capabilities{
		Extractor: extractor.New(logger, cfg.FFmpegBin, cfg.SmartSamplingDiffThresh, cfg.SmartSamplingMinKeep),
	}

	if err := yolo.Probe(cfg.YOLOBin); err != nil {
		logger.WithError(err).Warn("yolo capability unavailable")
	} else {
		caps.YOLO = yolo.New(cfg.YOLOBin)
	}

	if cfg.DiscoveryEnabled {
		if err := discovery.Probe(cfg.DiscoveryBin); err != nil {
			logger.WithError(err).Warn("discovery capability unavailable")
		} else {
			caps.Discovery = discovery.New(cfg.DiscoveryBin)
		}
	}

	if cfg.OpenVocabEnabled || cfg.VerifyEnabled {
		if err := openvocab.Probe(cfg.OpenVocabBin); err != nil {
			logger.WithError(err).Warn("open_vocab capability unavailable")
		} else {
			caps.OpenVocab = openvocab.New(cfg.OpenVocabBin)
		}
	}

	if cfg.OCREnabled {
		if err := ocr.Probe(cfg.OCRBin); err != nil {
			logger.WithError(err).Warn("ocr capability unavailable")
		} else {
			caps.OCR = ocr.New(cfg.OCRBin)
		}
	}

	if err := transcribe.Probe(cfg.TranscribeBin); err != nil {
		logger.WithError(err).Warn("transcribe capability unavailable")
	} else {
		caps.Transcriber = transcribe.New(cfg.TranscribeBin)
	}

	return caps
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-1"
	}
	return host
}
