// Package main provides the snapshot worker entry point.
// With "run" it takes one snapshot and prints its status; otherwise it takes
// a snapshot every -interval until interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/snapshot-refresher/internal/app"
	"github.com/snapshot-refresher/internal/config"
	"github.com/snapshot-refresher/internal/logging"
	"github.com/snapshot-refresher/internal/service"
)

func main() {
	var (
		interval = flag.Duration("interval", time.Hour, "Time between scheduled snapshots")
		quote    = flag.String("quote", "", "Quote currency (defaults to DEFAULT_QUOTE_CURRENCY)")
		sources  = flag.String("sources", "", "Comma-separated source keys; empty enables all")
	)
	flag.Parse()

	fmt.Println("Snapshot Worker")
	log.Println("Worker starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)
	logger := logging.GetGlobalLogger()

	opts := service.RefreshOptions{QuoteCurrency: *quote}
	if *sources != "" {
		opts.EnabledSources = strings.Split(*sources, ",")
	}
	if _, err := service.ValidateOptions(opts); err != nil {
		logger.WithError(err).Fatal("Invalid options")
	}

	logger.Info("Connecting to databases...")
	application, err := app.New(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	// One-time run mode
	if flag.Arg(0) == "run" {
		view, err := runOnce(context.Background(), application.Refresh, opts)
		if err != nil {
			logger.WithError(err).Error("Snapshot failed")
			return
		}
		out, _ := json.MarshalIndent(view, "", "  ")
		fmt.Println(string(out))
		return
	}

	logger.WithField("interval", interval.String()).Info("Starting snapshot scheduler...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runScheduler(ctx, application.Refresh, opts, *interval, logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down snapshot worker...")
	cancel()
	<-done
	logger.Info("Worker stopped")
}

// runOnce takes one snapshot synchronously and returns its final status
func runOnce(ctx context.Context, refresh *service.RefreshService, opts service.RefreshOptions) (*service.StatusView, error) {
	snapshot, err := refresh.Refresh(ctx, opts)
	if err != nil {
		return nil, err
	}
	return refresh.GetStatus(ctx, snapshot.ID)
}

// runScheduler takes a snapshot immediately and then every interval
func runScheduler(ctx context.Context, refresh *service.RefreshService, opts service.RefreshOptions, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// A started run finishes even after ctx is cancelled
		view, err := runOnce(context.WithoutCancel(ctx), refresh, opts)
		if err != nil {
			logger.WithError(err).Error("Scheduled snapshot failed")
		} else {
			logger.WithFields(map[string]interface{}{
				"snapshot_id": view.SnapshotID,
				"status":      view.SnapshotStatus,
			}).Info("Scheduled snapshot complete")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
