package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/stwalsh4118/featuresync/internal/handlers"
	"github.com/stwalsh4118/featuresync/internal/middleware"
)

const (
	shutdownTimeout = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and load endpoints over HTTP",
		Long: `Start an HTTP server that reports health and metrics and runs loads on request.

Loads triggered through POST /api/v1/loads write to DEFAULT_SINKS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	log := a.log
	log.Info("Starting featuresync server", map[string]interface{}{
		"version":     version,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"layer":       cfg.Service.QueryURL(),
	})

	writers, err := a.writers(ctx, cfg.Load.DefaultSinks)
	if err != nil {
		return fmt.Errorf("failed to build sinks: %w", err)
	}

	// Readiness only pings the database when a postgis sink opened one
	var pinger handlers.Pinger
	if a.db != nil {
		pinger = a.db
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler := handlers.NewHealthHandler(pinger, handlers.ServiceInfo{
		Env:   cfg.Server.Env,
		Layer: cfg.Service.QueryURL(),
		Sinks: cfg.Load.DefaultSinks,
	})
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	loadHandler := handlers.NewLoadHandler(a.service, writers)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", healthHandler.Info)
		v1.GET("/watermark", loadHandler.Watermark)
		v1.POST("/loads", loadHandler.Load)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("Server failed to start", err, nil)
			return err
		}
		return nil
	case <-quit.Done():
	}

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
		return err
	}

	log.Info("Server exited", nil)
	return nil
}
