package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/sessions"

	"elearn-edge-prototype/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "gateway.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	// Gorilla cookie store for console session management.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))

	operatorRepo := core.NewPgOperatorRepository(db)
	authService := core.NewRepositoryAuthService(operatorRepo)

	if err := core.BootstrapAdmin(ctx, operatorRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	router, err := core.NewRouter(cfg, store, authService, db, redisClient, logger)
	if err != nil {
		log.Fatalf("failed to build router: %v", err)
	}

	// The gateway reports its own service session through the same usage
	// endpoints it serves. HEARTBEAT_URL can point it elsewhere.
	heartbeatBase := cfg.HeartbeatURL
	if heartbeatBase == "" {
		heartbeatBase = fmt.Sprintf("http://127.0.0.1:%s/api/v1", cfg.Port)
	}
	heartbeat := core.NewSessionHeartbeat(heartbeatBase, cfg.HeartbeatToken, cfg.HeartbeatInterval, nil, logger)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting gateway on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
