package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webssh/gateway/internal/config"
	"github.com/webssh/gateway/internal/crypto"
	"github.com/webssh/gateway/internal/gateway"
	"github.com/webssh/gateway/internal/gwerr"
	"github.com/webssh/gateway/internal/registry"
	"github.com/webssh/gateway/internal/sshconn"
)

// defaultKeyID names the single handover key registered from ENCRYPTION_KEY.
// A client learns which keyId to address out-of-band (e.g. from the page
// that embeds the gateway's public key fingerprint); this gateway serves
// exactly one active key at a time.
const defaultKeyID = "default"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	keyRing, err := crypto.NewKeyRing(defaultKeyID, cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("[gateway] failed to initialize key ring: %v", err)
	}

	reg := registry.New(cfg.DetachTTL)
	reg.StartSweeper(cfg.DetachTTL / 2)

	pending := registry.NewPendingTable(cfg.PendingConnectionTTL)
	pending.StartSweeper(cfg.PendingSweepInterval)

	connector := sshconn.NewConnector()
	counters := gwerr.NewCounters(0, 0)

	h := gateway.NewHandler(cfg, reg, pending, keyRing, connector, counters)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h,
	}

	go func() {
		log.Printf("[gateway] listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[gateway] http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[gateway] shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[gateway] forced shutdown: %v", err)
	}

	log.Println("[gateway] exited")
}
