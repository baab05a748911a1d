package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/scheduling/internal/config"
	"github.com/ehr/scheduling/internal/platform/db"
	"github.com/ehr/scheduling/internal/platform/fhirclient"
	"github.com/ehr/scheduling/internal/platform/middleware"
	"github.com/ehr/scheduling/internal/platform/prefstore"
	"github.com/ehr/scheduling/internal/platform/telemetry"
	"github.com/ehr/scheduling/internal/searchspec"
	"github.com/ehr/scheduling/internal/web"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scheduling-server",
		Short: "Scheduling front-end search and navigation server",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(canonicalizeCmd())
	root.AddCommand(prefsCmd())
	root.AddCommand(migrateCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newEngine(cfg *config.Config, store searchspec.PreferenceStore, logger zerolog.Logger) *searchspec.Engine {
	opts := []searchspec.Option{
		searchspec.WithDefaultView(cfg.DefaultView),
		searchspec.WithLogger(logger),
	}
	if cfg.DefaultResourceType != "" {
		opts = append(opts, searchspec.WithResolver(&searchspec.Resolver{
			DefaultResourceType: cfg.DefaultResourceType,
			Fields:              searchspec.DefaultFieldTable,
		}))
	}
	return searchspec.NewEngine(store, opts...)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	store, closeStore, err := prefstore.Open(ctx, cfg.PreferenceOptions(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open preference store")
	}
	defer closeStore()

	metrics := telemetry.New(nil)

	var client *fhirclient.Client
	if cfg.FHIRBaseURL != "" {
		client, err = fhirclient.New(fhirclient.Options{
			BaseURL:  cfg.FHIRBaseURL,
			Timeout:  cfg.FHIRTimeout,
			RetryMax: cfg.FHIRRetryMax,
			Token:    cfg.FHIRToken,
			Logger:   logger.With().Str("component", "fhirclient").Logger(),
			Observer: metrics,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure FHIR client")
		}
		logger.Info().Str("base_url", cfg.FHIRBaseURL).Msg("FHIR client ready")
	} else {
		logger.Warn().Msg("FHIR_BASE_URL not set, searches will be resolved but not executed")
	}

	e := newServer(cfg, logger, store, client, metrics)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the middleware chain and routes. client may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, store prefstore.Store, client *fhirclient.Client, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Location", middleware.RequestIDHeader},
	}))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	e.Use(middleware.Audit(logger, middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		metrics.ObserveAccess(entry.Action, entry.ResourceType)
		return nil
	})))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(cfg.FHIRTimeout + 5*time.Second))

	opts := []web.Option{web.WithMetrics(metrics)}
	if client != nil {
		opts = append(opts, web.WithFHIR(client))
	}
	if p, ok := store.(prefstore.Pinger); ok {
		opts = append(opts, web.WithPinger(p))
	}

	h := web.NewHandler(newEngine(cfg, store, logger), opts...)
	h.RegisterRoutes(e)
	return e
}

func canonicalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "canonicalize <path>",
		Short: "Print the canonical URL a search path resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(store prefstore.Store) error {
				engine := newEngine(cfg, store, zerolog.Nop())
				s := engine.Resolve(cmd.Context(), searchspec.Parse(args[0]))
				fmt.Fprintln(cmd.OutOrStdout(), searchspec.CanonicalPath(s))
				return nil
			})
		},
	}
}

func prefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Inspect remembered searches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <resourceType>",
		Short: "Print the last search saved for a resource type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(store prefstore.Store) error {
				engine := newEngine(cfg, store, zerolog.Nop())
				s, ok := engine.LastSearch(cmd.Context(), args[0])
				if !ok {
					return fmt.Errorf("no saved search for %s", args[0])
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Search    searchspec.Spec `json:"search"`
					Canonical string          `json:"canonical"`
				}{s, searchspec.CanonicalPath(s)})
			})
		},
	})

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the preference table in DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.EnsurePreferenceSchema(ctx, pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Preference schema is up to date.")
			return nil
		},
	}
}

func withStore(ctx context.Context, cfg *config.Config, fn func(prefstore.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeStore, err := prefstore.Open(ctx, cfg.PreferenceOptions(), zerolog.Nop())
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(store)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
