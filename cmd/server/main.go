package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"tabletop/internal/server"
	"tabletop/internal/storage"
	"tabletop/internal/telemetry"
)

func main() {
	port := flag.String("port", "", "listen port (overrides PORT)")
	uploadDir := flag.String("uploads", "", "upload directory (overrides UPLOAD_DIR)")
	flag.Parse()

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *uploadDir != "" {
		cfg.UploadDir = *uploadDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "tabletop", cfg.OTelEndpoint, cfg.OTelEnabled)
	if err != nil {
		log.Fatalf("failed to init telemetry: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := storage.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	srv, err := server.New(cfg, store, nil)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	if err := srv.Run(ctx); err != nil {
		log.Printf("server exited: %v", err)
	}
}
