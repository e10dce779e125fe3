package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ckdcare/ckdcare/internal/config"
	"github.com/ckdcare/ckdcare/internal/domain/dashboard"
	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/domain/labs"
	"github.com/ckdcare/ckdcare/internal/domain/notification"
	"github.com/ckdcare/ckdcare/internal/domain/report"
	"github.com/ckdcare/ckdcare/internal/domain/scheduling"
	"github.com/ckdcare/ckdcare/internal/domain/workflow"
	"github.com/ckdcare/ckdcare/internal/platform/analytics"
	"github.com/ckdcare/ckdcare/internal/platform/auth"
	"github.com/ckdcare/ckdcare/internal/platform/db"
	"github.com/ckdcare/ckdcare/internal/platform/events"
	"github.com/ckdcare/ckdcare/internal/platform/middleware"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ckd-server",
		Short:        "Chronic kidney disease follow-up API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(classifyCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")
			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, cfg.MigrationsDir)
			var count int
			if target > 0 {
				count, err = migrator.UpTo(cmd.Context(), target)
			} else {
				count, err = migrator.Up(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this version (0 applies everything)")
	cmd.AddCommand(upCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, cfg.MigrationsDir).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Print the CKD classification for an eGFR and ACR pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			egfr, _ := cmd.Flags().GetFloat64("egfr")
			acr, _ := cmd.Flags().GetFloat64("acr")
			if err := ckd.ValidateMeasurement("egfr", egfr); err != nil {
				return err
			}
			if err := ckd.ValidateMeasurement("acr", acr); err != nil {
				return err
			}

			c := ckd.Classify(egfr, acr)
			out := struct {
				ckd.Classification
				Explanation string `json:"explanation"`
			}{c, c.Risk.Explanation()}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().Float64("egfr", 0, "eGFR in mL/min/1.73m²")
	cmd.Flags().Float64("acr", 0, "Albumin-to-creatinine ratio in mg/g")
	_ = cmd.MarkFlagRequired("egfr")
	_ = cmd.MarkFlagRequired("acr")
	return cmd
}

// newLogger writes JSON to stdout, or a console format in development.
func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg == nil || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level := zerolog.InfoLevel
	if cfg != nil && cfg.LogLevel != "" {
		if l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
			level = l
		}
	}
	return logger.Level(level)
}

func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// services holds the wired domain layer shared by serve and seed.
type services struct {
	identity      *identity.Service
	workflows     *workflow.Service
	notifications *notification.Service
	labs          *labs.Service
	scheduling    *scheduling.Service
	dashboard     *dashboard.Service
	reports       *report.Service
}

func newServices(pool *pgxpool.Pool, publisher events.Publisher, logger zerolog.Logger) *services {
	tx := db.NewTransactor(pool)

	identitySvc := identity.NewService(
		identity.NewUserRepoPG(pool),
		identity.NewPatientRepoPG(pool),
		identity.NewDoctorRepoPG(pool),
		tx, logger,
	)
	workflowSvc := workflow.NewService(workflow.NewWorkflowRepoPG(pool), logger)

	notificationRepo := notification.NewNotificationRepoPG(pool)
	notificationSvc := notification.NewService(
		notificationRepo,
		notification.NewTemplateEngine(),
		notification.NewLogEmailSender(logger),
		publisher, logger,
	)

	labResults := labs.NewLabResultRepoPG(pool)
	labsSvc := labs.NewService(
		labs.NewLabTestRepoPG(pool), labResults,
		identitySvc, workflowSvc, notificationSvc,
		publisher, tx, logger,
	)

	schedulingSvc := scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), identitySvc, notificationSvc, logger)

	return &services{
		identity:      identitySvc,
		workflows:     workflowSvc,
		notifications: notificationSvc,
		labs:          labsSvc,
		scheduling:    schedulingSvc,
		dashboard:     dashboard.NewService(dashboard.NewStatsRepoPG(pool), schedulingSvc, notificationRepo, labResults, logger),
		reports:       report.NewService(identitySvc, labsSvc, workflowSvc, logger),
	}
}

func (s *services) registerRoutes(api *echo.Group) {
	identity.NewHandler(s.identity).RegisterRoutes(api)
	workflow.NewHandler(s.workflows).RegisterRoutes(api)
	notification.NewHandler(s.notifications).RegisterRoutes(api)
	labs.NewHandler(s.labs).RegisterRoutes(api)
	scheduling.NewHandler(s.scheduling).RegisterRoutes(api)
	dashboard.NewHandler(s.dashboard).RegisterRoutes(api)
	report.NewHandler(s.reports).RegisterRoutes(api)
}

// newPublisher connects to the broker when one is configured and falls back
// to logging events otherwise.
func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if !cfg.EventsEnabled() {
		return events.NewLogPublisher(logger)
	}
	p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		logger.Error().Err(err).Msg("broker unavailable, events will only be logged")
		return events.NewLogPublisher(logger)
	}
	return p
}

const auditPublishTimeout = 2 * time.Second

// auditRecorder forwards audit entries to the event bus. The request may
// already be finished, so publishing gets its own short deadline.
func auditRecorder(publisher events.Publisher) middleware.AuditRecorder {
	return middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		e, err := events.New(events.TypeAuditAccess, entry)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), auditPublishTimeout)
		defer cancel()
		return publisher.Publish(ctx, e)
	})
}

func newEcho(cfg *config.Config, logger zerolog.Logger, publisher events.Publisher) (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Dev-User", "X-Dev-Role"},
	}))

	if cfg.IsDev() && cfg.JWTSecret == "" {
		logger.Warn().Msg("development auth enabled, identities are taken from request headers")
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.Use(middleware.Audit(logger, auditRecorder(publisher)))

	usage := analytics.NewUsageTracker(1000)
	e.Use(analytics.UsageMiddleware(usage))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	analytics.NewHandler(usage).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	return e, apiV1
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(nil)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	e, apiV1 := newEcho(cfg, logger, publisher)
	newServices(pool, publisher, logger).registerRoutes(apiV1)
	e.GET("/health/db", db.HealthHandler(pool, db.NewMigrator(pool, cfg.MigrationsDir)))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
