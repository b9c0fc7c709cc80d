package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	internalhttp "github.com/sablesec/strikepoint/internal/api/http"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/correlate"
	"github.com/sablesec/strikepoint/internal/db"
	"github.com/sablesec/strikepoint/internal/dispatch"
	"github.com/sablesec/strikepoint/internal/enrollment"
	"github.com/sablesec/strikepoint/internal/store"
	"github.com/sablesec/strikepoint/internal/telemetry"
	"github.com/sablesec/strikepoint/internal/ws"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Strikepoint Server", "version", AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.RunMigrations(config.Db.Url, config.Db.Schema); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	pool, err := db.InitDB(ctx, config.Db.Url, config.Db.Schema)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)

	hub := ws.NewHub()
	go hub.Run(ctx)

	collectorService := collectors.NewService(pg, pg, config.Collectors.HeartbeatInterval)
	enrollmentService := enrollment.NewService(pg, pg, config.Collectors.TokenTTL)
	telemetryService := telemetry.NewService(enrollmentService, collectorService, pg, hub)

	if config.Collectors.StalenessSweepInterval > 0 {
		go collectorService.StartStalenessSweep(ctx, config.Collectors.StalenessSweepInterval)
	}

	correlator := correlate.NewService(pg, pg)
	queue := dispatch.NewCollectorQueue()
	workerClient := dispatch.NewHTTPWorkerClient(config.Worker.Url, config.Worker.ApiKey)
	dispatcher := dispatch.NewService(pg, correlator, workerClient, queue, pg, dispatch.DefaultGrace)

	services := &internalhttp.Services{
		Collectors: collectorService,
		Enrollment: enrollmentService,
		Telemetry:  telemetryService,
		Journeys:   pg,
		Dispatcher: dispatcher,
		Correlator: correlator,
		Queue:      queue,
		Hub:        hub,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, &config.Http, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")
	cancel()

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
	}()

	wg.Wait()
	slog.Info("Shutdown complete")
}
