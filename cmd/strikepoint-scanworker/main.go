package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sablesec/strikepoint/internal/scans"
	"github.com/sablesec/strikepoint/internal/scanworker"
	workerapi "github.com/sablesec/strikepoint/internal/scanworker/api"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Strikepoint Scan Worker", "version", AppVersion)

	callback := scanworker.NewCallbackClient(config.Server.Url, config.Server.ApiKey)
	worker := scanworker.New(config.Scan.MaxConcurrent, callback)
	worker.RegisterRunner(scans.ToolDiscovery, &scanworker.DiscoveryRunner{
		Binary: config.Scan.NmapBinary,
	})
	worker.RegisterRunner(scans.ToolNuclei, &scanworker.NucleiRunner{
		Binary:    config.Scan.NucleiBinary,
		ReportDir: config.Scan.ReportDir,
	})

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	workerapi.SetupRoute(engine, config.Http.ApiKey, worker)

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

	slog.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// In-flight scans finish and deliver their callbacks before exit.
	slog.Info("Waiting for in-flight scan jobs", "active", worker.ActiveJobs())
	worker.Wait()
	slog.Info("Shutdown complete")
}
