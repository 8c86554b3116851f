package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keepsake/api/internal/app"
	"keepsake/api/internal/auth"
	"keepsake/api/internal/blob"
	"keepsake/api/internal/config"
	"keepsake/api/internal/session"
	"keepsake/api/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	client, err := store.Open(ctx, cfg.MongoURI)
	cancel()
	if err != nil {
		log.Fatalf("connect to mongodb: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}()

	dataStore := store.NewMongoStore(client, cfg.MongoDB)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("connect to redis: %v", err)
	}
	defer sessions.Close()

	blobs, err := blob.New(blob.Options{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
		PublicURL: cfg.BlobPublicURL,
	})
	if err != nil {
		log.Fatalf("configure blob store: %v", err)
	}
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = blobs.EnsureBucket(ctx)
	cancel()
	if err != nil {
		log.Fatalf("ensure blob bucket: %v", err)
	}

	google := auth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.RedirectURL)

	service := app.New(cfg, dataStore, sessions, blobs, google)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errs <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
