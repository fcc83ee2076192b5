package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"userdir.org/internal/auth"
	"userdir.org/internal/config"
	"userdir.org/internal/directory"
	"userdir.org/internal/httpapi"
	"userdir.org/internal/obs"
	"userdir.org/internal/store"
	"userdir.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	st, err := store.Open(openCtx, cfg.DBDriver, cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	authSvc, err := auth.NewService(st,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithHasher(auth.NewBcryptHasher(cfg.BcryptCost)),
	)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	policy := auth.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if policy, err = auth.LoadPolicyFile(cfg.PolicyFile); err != nil {
			log.Fatalf("policy: %v", err)
		}
	}
	if err := authSvc.ApplyPolicy(ctx, policy); err != nil {
		log.Fatalf("apply policy: %v", err)
	}

	ready := httpapi.ReadyCheck{DB: st.DB}
	dir := directory.New(authSvc, directory.WithEvents(stream.New(32)))
	api := httpapi.New(ready, version, authSvc, dir,
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC health
	grpcSrv := grpc.NewServer()
	health := httpapi.NewGRPCServer(ready)
	health.Register(grpcSrv)
	go health.Run(ctx, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	// housekeeping: expired sessions
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := authSvc.PruneSessions(ctx)
				if err != nil {
					obs.Error("prune_sessions_failed", map[string]any{"error": err})
					continue
				}
				obs.Info("sessions_pruned", map[string]any{"count": n})
			}
		}
	}()

	obs.Info("server_starting", map[string]any{
		"version":   version,
		"http_addr": cfg.HTTPAddr,
		"grpc_addr": cfg.GRPCAddr,
		"driver":    cfg.DBDriver,
	})

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("server_stopping", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	obs.Info("server_stopped", nil)
}
