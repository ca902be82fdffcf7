package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elearn-edge-prototype/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "cacheworker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	store, err := core.NewRedisCacheStore(redisClient, cfg.CacheVersion)
	if err != nil {
		log.Fatalf("invalid cache version: %v", err)
	}
	origin, err := core.NewOriginClient(cfg.OriginURL)
	if err != nil {
		log.Fatalf("invalid origin url: %v", err)
	}
	precache, err := core.LoadPrecacheManifest(cfg.PrecacheManifestPath, cfg.OfflinePath)
	if err != nil {
		log.Fatalf("failed to load precache manifest: %v", err)
	}

	worker := core.NewOfflineWorker(store, origin, precache, cfg.OfflinePath, logger)
	host := core.NewWorkerHost(logger)

	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	log.Printf("cache worker started. id=%s version=%s origin=%s", workerID, cfg.CacheVersion, cfg.OriginURL)

	// Install runs in the background; the host answers 503 until activation.
	go func() {
		if err := host.Deploy(ctx, worker); err != nil {
			log.Printf("deploy failed: %v", err)
		}
	}()

	control := core.NewRedisControlChannel(redisClient, logger)
	go control.Listen(ctx, host)

	state := core.NewHeartbeatState(workerID, hostname, cfg.CacheVersion, func() (core.WorkerCounters, core.WorkerState) {
		if active := host.Active(); active != nil {
			return active.Counters(), active.State()
		}
		return worker.Counters(), worker.State()
	})
	go state.Start(ctx, redisClient)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.WorkerPort),
		Handler: host,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("serving cached traffic on :%s", cfg.WorkerPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}
