package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"

	"trip-planner/internal/di"
	"trip-planner/internal/shared/logger"
	httpadapter "trip-planner/internal/tripplanner/adapter/http"
	"trip-planner/internal/tripplanner/adapter/security"
	"trip-planner/internal/tripplanner/config"
	"trip-planner/internal/tripplanner/domain/model"
)

const version = "1.0.0"

const usage = `Trip planner sync gateway.

Serves the REST surface (<path>.json?auth=<token>) and the websocket listen
feed over the backend selected with BACKEND (memory, redis or mongodb).

Usage:
    trip-planner [serve]
    trip-planner token --uid=<uid> [--role=<role>] [--email=<email>]
    trip-planner -h | --help
    trip-planner --version

Options:
    -h --help        Show this screen.
    --version        Show version.
    --uid=<uid>      User id the token is issued for.
    --role=<role>    user, manager or admin [default: user].
    --email=<email>  Email claim.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if token, _ := opts.Bool("token"); token {
		issueToken(cfg, opts)
		return
	}
	serve(cfg)
}

func issueToken(cfg *config.Config, opts docopt.Opts) {
	uid, _ := opts.String("--uid")
	role, _ := opts.String("--role")
	email, _ := opts.String("--email")

	tokens, err := security.NewTokenService(cfg.Gateway)
	if err != nil {
		log.Fatalf("Failed to create token service: %v", err)
	}
	token, err := tokens.GenerateToken(uid, email, model.ParseUserRole(role))
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}

func serve(cfg *config.Config) {
	appLogger := logger.NewLoggerWithConfig(cfg.Log.Level, cfg.Log.Format, cfg.Log.Backend)
	appLogger.Info("Application configuration loaded successfully")

	if cfg.Backend == config.BackendGateway {
		log.Fatalf("BACKEND=%s is a client setting; the server needs memory, redis or mongodb", cfg.Backend)
	}

	container := di.NewContainer(cfg, appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Errorf("Failed to close container: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := container.InitializeBackend(ctx); err != nil {
		log.Fatalf("Failed to initialize backend: %v", err)
	}
	if err := container.InitializeSecurity(); err != nil {
		log.Fatalf("Failed to initialize security: %v", err)
	}
	gateway, err := container.NewGateway()
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	app := httpadapter.NewServer(cfg.Gateway, gateway, container.HealthCheck, appLogger)

	serverAddr := cfg.Gateway.Addr()
	appLogger.Infof("Starting sync gateway on %s (backend %s)", serverAddr, cfg.Backend)

	serverShutdown := make(chan error, 1)
	go func() {
		serverShutdown <- app.Listen(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverShutdown:
		if err != nil {
			appLogger.Errorf("Server failed to start: %v", err)
			return
		}
	case sig := <-quit:
		appLogger.Infof("Received shutdown signal: %v", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Errorf("Server forced to shutdown: %v", err)
		}
		appLogger.Info("HTTP server stopped")
	}
}
