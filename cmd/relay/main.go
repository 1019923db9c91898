package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rbxbridge/relay/internal/config"
	"github.com/rbxbridge/relay/internal/exchange"
	"github.com/rbxbridge/relay/internal/gateway"
	"github.com/rbxbridge/relay/internal/model"
	"github.com/rbxbridge/relay/internal/registry"
	"github.com/rbxbridge/relay/internal/scanner"
	"github.com/rbxbridge/relay/internal/server"
	"github.com/rbxbridge/relay/internal/store"
)

func main() {
	configPath := pflag.String("config", "", "Optional YAML config file")
	port := pflag.IntP("port", "p", 0, "HTTP port to listen on")
	bind := pflag.StringP("bind", "b", "", "Bind address")
	console := pflag.Bool("console", false, "Print every incoming log to stdout")
	logFile := pflag.String("log-file", "", "Append every incoming log to this file")
	secret := pflag.String("secret", "", "Shared secret; gates every POST/DELETE via the X-Relay-Secret header")
	maxEntries := pflag.Int("max-entries", 0, "Maximum log entries kept in memory (oldest evicted first)")
	exchangeDir := pflag.String("exchange-dir", "", "Directory for script exchange files")
	storageDir := pflag.String("storage-dir", "", "Directory for persistent game scan storage")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[relay] %v", err)
	}

	// Flags override the config file.
	if *port != 0 {
		cfg.Port = *port
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *console {
		cfg.Console = true
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *secret != "" {
		cfg.Secret = *secret
	}
	if *maxEntries != 0 {
		cfg.MaxEntries = *maxEntries
	}
	if *exchangeDir != "" {
		cfg.ExchangeDir = *exchangeDir
	}
	if *storageDir != "" {
		cfg.StorageDir = *storageDir
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[relay] invalid configuration: %v", err)
	}

	// 1. Core state: store, registry, gateway.
	st := store.New(cfg.MaxEntries)
	st.SetConsoleEcho(cfg.Console)
	if cfg.LogFile != "" {
		if err := st.SetLogFile(cfg.LogFile); err != nil {
			log.Fatalf("[relay] failed to open log file: %v", err)
		}
	}
	reg := registry.New()
	gw := gateway.New(st, reg)

	// 2. Supporting storage: script exchange and scan data.
	exch, err := exchange.Open(cfg.ExchangeDir, cfg.Secret)
	if err != nil {
		log.Fatalf("[relay] %v", err)
	}
	scans, err := scanner.NewStore(cfg.StorageDir)
	if err != nil {
		log.Fatalf("[relay] %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Background sweep: evict clients whose heartbeat went stale.
	reg.RunSweeper(ctx, cfg.SweepInterval, cfg.StaleAfter, func(sess model.ClientSession) {
		gw.OnSessionExpired(sess, cfg.StaleAfter)
	})

	// 4. HTTP server.
	srv := server.New(gw, st, reg, scans, exch, cfg)
	srv.StartStatsTicker(ctx, time.Second)
	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)

	log.Printf("[relay] listening on %s", addr)
	log.Printf("[relay] console: %v, secret: %v, max-entries: %d", cfg.Console, cfg.Secret != "", cfg.MaxEntries)
	log.Printf("[relay] exchange: %s, storage: %s", cfg.ExchangeDir, cfg.StorageDir)

	go func() {
		if err := srv.Start(addr); err != nil {
			log.Printf("[relay] server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("[relay] received signal: %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[relay] shutdown error: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("[relay] log file close error: %v", err)
	}
	log.Println("[relay] exited gracefully")
}
