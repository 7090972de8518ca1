package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketchat/config"
	"marketchat/crypto"
	"marketchat/httpapi"
	"marketchat/keystore"
	"marketchat/messaging"
	"marketchat/realtime"
	"marketchat/storage"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	fmt.Printf("Instance ID:     %s\n", cfg.InstanceID)
	fmt.Printf("Listen Address:  %s\n", cfg.ListenAddr)
	fmt.Printf("AEAD Suite:      %s\n", cfg.AEADSuite)
	fmt.Printf("Config File:     %s\n", cfgPath)

	dataDir, err := config.ResolveDataDir()
	if err != nil {
		log.Fatalf("startup failed while resolving data directory: %v", err)
	}

	store, dbPath, err := storage.Open(config.DatabaseDir(dataDir))
	if err != nil {
		log.Fatalf("startup failed while opening database: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}()
	fmt.Printf("Database File:   %s\n", dbPath)

	engine, err := crypto.NewEngine(crypto.Suite(cfg.AEADSuite))
	if err != nil {
		log.Fatalf("startup failed while building encryption engine: %v", err)
	}

	keys := keystore.New(store, keystore.Options{
		ModulusBits:   cfg.ModulusBits,
		KeygenWorkers: cfg.KeygenWorkers,
	})

	hub := realtime.NewHub()
	defer hub.Stop()

	registry := messaging.NewRegistry(store)
	admin := messaging.NewAdmin(store)
	service := messaging.NewService(store, registry, keys, engine, hub)

	bridge := realtime.NewBridge(hub, httpapi.AuthorizeTopic(store), cfg.AllowedOrigins)
	api := httpapi.New(registry, admin, service, keys, bridge, httpapi.Options{})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		fmt.Println("Status:          running (press Ctrl+C to stop)")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	fmt.Println("Status:          shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
}
