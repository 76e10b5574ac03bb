package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/eventdrift/internal/config"
	"github.com/rewired-gh/eventdrift/internal/logger"
	"github.com/rewired-gh/eventdrift/internal/monitor"
	"github.com/rewired-gh/eventdrift/internal/price"
	"github.com/rewired-gh/eventdrift/internal/source"
	"github.com/rewired-gh/eventdrift/internal/stats"
	"github.com/rewired-gh/eventdrift/internal/storage"
	"github.com/rewired-gh/eventdrift/internal/telegram"
	"github.com/rewired-gh/eventdrift/internal/tracker"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxRecords, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if err := store.RotateRecords(); err != nil {
		logger.Warn("Failed to rotate records: %v", err)
	}
	if n, err := store.Count(); err == nil {
		logger.Debug("Storage holds %d recorded outcomes", n)
	}

	statsStore := stats.New()
	if cfg.Storage.RestoreHistory {
		records, err := store.LoadRecords()
		if err != nil {
			logger.Warn("Failed to load persisted history: %v", err)
		} else {
			statsStore.Restore(records)
			logger.Info("Restored %d persisted outcomes", len(records))
		}
	}

	events := source.NewCommand(cfg.Events.Command, cfg.Events.Target, cfg.Events.Limit, cfg.Events.Timeout)
	prices := price.NewClient(cfg.Price.URL, cfg.Price.Timeout)
	sessions := tracker.New(prices, tracker.Config{
		SampleCount:    cfg.Tracking.SampleCount,
		SampleInterval: cfg.Tracking.SampleInterval,
	})

	opts := []monitor.Option{monitor.WithRecords(store)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
		telegramClient.ListenForCommands(ctx, statsStore, store)
		opts = append(opts, monitor.WithNotifier(telegramClient))
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	mon := monitor.New(events, sessions, statsStore, monitor.Config{
		PollInterval: cfg.Events.PollInterval,
		InitialSkew:  cfg.Events.InitialSkew,
		MaxSessions:  cfg.Tracking.MaxSessions,
	}, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	logger.Info("Tracking %s (samples: %d every %v, price: %s)",
		cfg.Events.Target,
		cfg.Tracking.SampleCount,
		cfg.Tracking.SampleInterval,
		cfg.Price.URL,
	)

	if err := mon.Run(ctx); err != nil {
		logger.Error("Monitor stopped with error: %v", err)
	}

	snap := statsStore.Snapshot()
	logger.Info("Service stopped: %d events, success rate %.3f%%", snap.Total, snap.SuccessRate*100)
}
