package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	hive "github.com/everbots/hive"
	"github.com/everbots/hive/serve"
)

// serveCmd runs the host daemon: admin API, audit store, background sweeper,
// and the optional Telegram admin bot.
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")

	fs.Usage = func() {
		fmt.Println(`Usage: hive serve [options]

Run the host daemon. Recovers persisted tenants, serves the admin REST API
and Prometheus metrics, and runs background maintenance.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Examples:
  hive serve
  hive serve --addr :8420
  hive serve --config /etc/hive/config.yaml`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	srv := serve.New(nil, serve.Config{
		Addr:   cfg.Listen,
		DBPath: cfg.DBPath,
	})
	if err := srv.OpenStore(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mgr, err := buildManager(cfg,
		hive.WithRecorder(srv.Recorder()),
		hive.WithQuotaPolicy(srv.RecordViolations),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	srv.SetManager(mgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reconcile persisted state with whatever survived the restart.
	mgr.Recover(ctx)

	sweeper := hive.NewSweeper(mgr)
	go func() {
		if err := sweeper.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Sweeper failed: %v\n", err)
		}
	}()

	if cfg.Telegram.Enabled && cfg.Telegram.Token != "" {
		bot, err := serve.NewTelegramBot(cfg.Telegram.Token, mgr, cfg.Telegram.Admins, cfg.Telegram.ChatID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Telegram bot disabled: %v\n", err)
		} else {
			srv.SetNotifier(bot.Notify)
			go bot.Start(ctx)
		}
	}

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
