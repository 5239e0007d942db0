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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/repository"
	"github.com/you/club-membership/internal/repository/memory"
	pgrepo "github.com/you/club-membership/internal/repository/pg"
	transport "github.com/you/club-membership/internal/transport/http"
	"github.com/you/club-membership/internal/transport/ws"
	uc "github.com/you/club-membership/internal/usecase"
)

const (
	appName = "club-server"
	Version = "0.1.0"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var port, logLevel string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Club membership and invitation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	serve.Flags().StringVar(&port, "port", "", "Listen port (overrides PORT)")
	serve.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			dbURL := os.Getenv("DATABASE_URL")
			if dbURL == "" {
				return errors.New("DATABASE_URL required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			pool, err := pgxpool.New(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()
			if err := pgrepo.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("schema applied")
			return nil
		},
	}

	cmd.AddCommand(serve, migrate, &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func run(ctx context.Context, cfg infra.Config) error {
	logger := infra.NewLogger(appName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	var repo repository.Repo
	switch cfg.Storage {
	case "memory":
		logger.Warnf("using in-memory storage; data is lost on restart")
		repo = memory.New()
	default:
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := pgxpool.New(cctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer pool.Close()
		repo = pgrepo.NewPGRepo(pool)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	alerters := infra.MultiAlerter{&infra.LogAlerter{Log: logger, Metrics: metrics}}
	if cfg.NATSURL != "" {
		nats, err := infra.NewNATSAlerter(cfg.NATSURL, cfg.AlertSubject)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nats.Close()
		alerters = append(alerters, nats)
	}

	hub := ws.NewHub(logger.With("component", "ws"))
	go hub.Run(ctx)

	deps := uc.Deps{
		Repo:              repo,
		Log:               logger,
		Metrics:           metrics,
		Alerter:           alerters,
		Notifier:          hub,
		Plans:             cfg.Plans,
		OperationTimeout:  cfg.OperationTimeout,
		InviteDefaultDays: cfg.InviteDefaultDays,
	}
	inv := uc.NewInvitationService(deps)
	handlers := transport.NewHandlers(inv, uc.NewMembershipService(deps, inv), uc.NewAdmissionController(deps), hub, logger)
	router := transport.NewRouter(handlers, transport.RouterConfig{
		Auth:     &transport.Auth{Secret: []byte(cfg.JWTSecret), Users: repo, Log: logger},
		Validate: transport.NewIPRateLimiter(cfg.ValidateRatePerMin, cfg.ValidateBurst),
		Metrics:  metrics,
		Gatherer: reg,
	})

	srv := &http.Server{
		Handler:      router,
		Addr:         ":" + cfg.Port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting server on :%s (storage=%s)", cfg.Port, cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Infof("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
