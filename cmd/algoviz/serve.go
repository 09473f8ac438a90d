package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/algoviz/internal/backend"
	"github.com/chadiek/algoviz/internal/config"
	"github.com/chadiek/algoviz/internal/httpserver"
	"github.com/chadiek/algoviz/internal/metrics"
	"github.com/chadiek/algoviz/internal/playback"
	"github.com/chadiek/algoviz/internal/realtime"
	"github.com/chadiek/algoviz/internal/sessionlog"
	"github.com/chadiek/algoviz/internal/viewer"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the viewer HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.HTTPAddress = addr
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDRESS)")
	return cmd
}

func serve(cfg config.Config) error {
	svc := backend.NewClient(cfg.ServiceURL)

	sinks := sessionlog.Multi{sessionlog.Remote{Poster: svc}}
	deps := httpserver.Deps{Problems: svc}
	if cfg.SessionDBPath != "" {
		store, err := sessionlog.OpenSQLite(cfg.SessionDBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
		deps.Sessions = store
	}
	if cfg.SupabaseEnabled() {
		sb, err := sessionlog.NewSupabaseSink(sessionlog.SupabaseConfig{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, sb)
	}

	deps.Viewer = viewer.Deps{
		Backend:  svc,
		Sessions: sinks,
		Metrics:  metrics.Default(),
		Realtime: realtime.Config{
			URL:        cfg.RealtimeURL,
			Model:      cfg.RealtimeModel,
			ICEServers: realtime.ParseICEServers(cfg.ICEServersJSON),
		},
		Scheduler: playback.TickerScheduler{},
	}

	srv := httpserver.New(cfg, deps)
	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
	return nil
}
