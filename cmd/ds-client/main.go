package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dsgrid/ds-client/internal/api"
	"github.com/dsgrid/ds-client/internal/config"
	"github.com/dsgrid/ds-client/internal/logger"
	"github.com/dsgrid/ds-client/internal/protocol"
	"github.com/dsgrid/ds-client/internal/scheduler"
	"github.com/dsgrid/ds-client/internal/session"
	"github.com/dsgrid/ds-client/internal/watchdog"
	"github.com/dsgrid/ds-client/pkg/httpserver"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to configuration file")
	host := flag.String("host", "", "simulator host (overrides config)")
	port := flag.Int("port", 0, "simulator port (overrides config)")
	user := flag.String("user", "", "authentication username (overrides config)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("info", "text").Error("failed to load configuration",
			"error", err.Error(),
		)
		os.Exit(1)
	}

	if *host != "" {
		cfg.Simulator.Host = *host
	}
	if *port != 0 {
		cfg.Simulator.Port = *port
	}
	if *user != "" {
		cfg.Simulator.Username = *user
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	log.Info("connecting to simulator",
		"addr", cfg.Simulator.Addr(),
		"username", cfg.Simulator.Username,
	)

	// Connect with exponential backoff
	var conn net.Conn
	dial := func() error {
		var err error
		conn, err = net.DialTimeout("tcp", cfg.Simulator.Addr(), cfg.Simulator.DialTimeout)
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.Simulator.DialRetries)
	if err := backoff.Retry(dial, policy); err != nil {
		log.Error("failed to connect to simulator",
			"addr", cfg.Simulator.Addr(),
			"error", err.Error(),
		)
		os.Exit(1)
	}
	defer conn.Close()

	// Wire the session
	directory := scheduler.NewDirectory(cfg.Directory.TTL)
	engine := scheduler.NewEngine(cfg.Scheduler, directory, log)
	stats := session.NewStats()
	transport := protocol.NewTransport(conn, cfg.Simulator.ReadTimeout, log)
	controller := session.New(transport, engine, cfg.Simulator.Username, cfg.Scheduler.QueryMode, stats, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A cancelled context cannot interrupt a blocked read; close the
	// connection as well so the session loop wakes up.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	// Stall detector
	wd := watchdog.New(&cfg.Watchdog, stats, conn, log)
	wd.Start(ctx)
	defer wd.Stop()

	// Optional diagnostic status listener
	if cfg.Status.Enabled {
		handler := api.NewHandler(stats, directory, log)
		srv := httpserver.New(
			cfg.Status.Addr,
			handler.Router(),
			cfg.Status.ReadTimeout,
			cfg.Status.WriteTimeout,
			log,
		)

		go func() {
			if err := srv.Run(); err != nil {
				log.Error("status server error",
					"error", err.Error(),
				)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	// Run the session end-to-end
	if err := controller.Run(ctx); err != nil {
		log.Error("session failed",
			"error", err.Error(),
		)
		os.Exit(1)
	}

	status := stats.Snapshot()
	log.Info("session complete",
		"jobs_seen", status.JobsSeen,
		"jobs_placed", status.JobsPlaced,
		"backfill_placed", status.BackfillPlaced,
		"fallback_placed", status.FallbackPlaced,
		"parse_failures", status.ParseFailures,
	)
}
