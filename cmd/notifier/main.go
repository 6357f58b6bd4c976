// Command notifier is the MNDD push notification engine.
//
// Usage:
//
//	notifier serve
//	notifier run reminders
//	notifier run            # list evaluators
//	notifier send --all --title "Aviso" --body "Culto às 19h"
//	notifier send --owner u1 --owner u2 --title ... --body ... --id announcement-42
//	notifier migrate
//	notifier score quiz user-7 120 --label "Ana"

// @title MNDD Notifier API
// @version 1.0.0
// @description Scheduled push notification engine: idempotent evaluator triggers and ad-hoc notify requests.
// @host localhost:8000
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @contact.name MNDD
// @license.name MIT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mndd/notifier/internal/api"
	"github.com/mndd/notifier/internal/api/handler"
	"github.com/mndd/notifier/internal/config"
	"github.com/mndd/notifier/internal/db"
	"github.com/mndd/notifier/internal/kafka"
	"github.com/mndd/notifier/internal/listener"
	"github.com/mndd/notifier/internal/maintenance"
	"github.com/mndd/notifier/internal/notifications"
	"github.com/mndd/notifier/internal/registry"

	_ "github.com/mndd/notifier/docs" // swagger docs
)

const version = "1.0.0"

// logLevel is raised to Debug once config says DEBUG=true.
var (
	logLevel = new(slog.LevelVar)
	logger   = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
)

func main() {
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:           "notifier",
		Short:         "MNDD push notification engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(scoreCmd())

	if err := root.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// serve command
// --------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingress consumers and evaluator schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(migrate, serve)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending migrations before starting")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg

	if cfg.IsProduction() && cfg.TriggerToken == "" {
		logger.Warn("TRIGGER_TOKEN is empty; /api/v1 accepts unauthenticated triggers")
	}

	if cfg.ListenEnabled {
		go listener.New(cfg.DatabaseURL, a.intake, a.runner, logger).Start(ctx)
		logger.Info("Notify listener started")
	}

	if cfg.KafkaEnabled {
		consumer, err := kafka.NewConsumer(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}, a.intake, logger)
		if err != nil {
			return fmt.Errorf("create kafka consumer: %w", err)
		}
		go func() {
			if err := consumer.Start(); err != nil && ctx.Err() == nil {
				logger.Error("Kafka consumer failed to start", "error", err)
			}
		}()
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.Warn("Kafka consumer stop error", "error", err)
			}
		}()
	}

	if cfg.SchedulerEnabled {
		sched := cfg.Schedule
		scheduler := maintenance.New(a.runner, a.purger, a.store, maintenance.Config{
			Intervals:       sched.Intervals,
			CleanupInterval: sched.Cleanup.Interval,
			ClaimRetention:  sched.Cleanup.ClaimRetention,
			RunRetention:    sched.Cleanup.RunRetention,
		}, logger)
		go scheduler.Start(ctx)
	} else {
		logger.Info("Scheduler disabled; evaluators run only when triggered")
	}

	router := api.NewRouter(handler.Deps{
		Runner:  a.runner,
		Intake:  a.intake,
		RunLog:  a.store,
		DBCheck: a.pool.HealthCheck,
		Version: version,
	}, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // triggers run synchronously
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting MNDD Notifier",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}

// --------------------------------------------------------------------------
// run command
// --------------------------------------------------------------------------

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [evaluator]",
		Short: "Run one evaluator now, or list evaluators",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(false, func(ctx context.Context, a *app) error {
				if len(args) == 0 {
					for _, name := range a.runner.Names() {
						fmt.Fprintln(cmd.OutOrStdout(), name)
					}
					return nil
				}
				sum, err := a.runner.Run(ctx, args[0])
				if errors.Is(err, notifications.ErrUnknownEvaluator) {
					return fmt.Errorf("%w (available: %v)", err, a.runner.Names())
				}
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
}

// --------------------------------------------------------------------------
// send command
// --------------------------------------------------------------------------

func sendCmd() *cobra.Command {
	var (
		req     notifications.Request
		all     bool
		owners  []string
		address string
		data    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver an ad-hoc notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := selectorFromFlags(all, owners, address)
			if err != nil {
				return err
			}
			req.Selector = sel
			req.Data = dataFromFlags(data)
			if err := req.Validate(); err != nil {
				return err
			}
			return withApp(false, func(ctx context.Context, a *app) error {
				sum, err := a.intake.Handle(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "Idempotency id; repeated sends with the same id deliver once")
	cmd.Flags().StringVar(&req.Title, "title", "", "Notification title")
	cmd.Flags().StringVar(&req.Body, "body", "", "Notification body")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "Gateway priority (default, normal, high)")
	cmd.Flags().BoolVar(&all, "all", false, "Send to every logged-in device")
	cmd.Flags().StringSliceVar(&owners, "owner", nil, "Send to devices owned by these user ids")
	cmd.Flags().StringVar(&address, "address", "", "Send to one literal push address")
	cmd.Flags().StringToStringVar(&data, "data", nil, "Extra payload fields (key=value)")
	cmd.MarkFlagsMutuallyExclusive("all", "owner", "address")
	return cmd
}

// selectorFromFlags turns the audience flags into a selector. Exactly one
// audience must be given.
func selectorFromFlags(all bool, owners []string, address string) (registry.Selector, error) {
	n := 0
	var sel registry.Selector
	if all {
		n++
		sel = registry.AllLoggedIn()
	}
	if len(owners) > 0 {
		n++
		sel = registry.OwnedBy(owners...)
	}
	if address != "" {
		n++
		sel = registry.Single(address)
	}
	if n != 1 {
		return registry.Selector{}, fmt.Errorf("choose exactly one of --all, --owner or --address")
	}
	return sel, nil
}

func dataFromFlags(kv map[string]string) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := db.MigrateURL(ctx, cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			logger.Info("Migrations finished", "applied", n)
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// score command
// --------------------------------------------------------------------------

func scoreCmd() *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "score <scope> <member> <metric>",
		Short: "Record a leaderboard metric",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			metric, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("metric must be a number: %w", err)
			}
			return withApp(false, func(ctx context.Context, a *app) error {
				if err := a.scores().SetScore(ctx, args[0], args[1], label, metric); err != nil {
					return err
				}
				logger.Info("Score recorded",
					"backend", a.cfg.LeaderboardBackend,
					"scope", args[0], "member", args[1], "metric", metric)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Display name for the member")
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// withApp handles the shared lifecycle: load config, optionally migrate,
// wire components and call fn.
func withApp(migrate bool, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if migrate {
		if _, err := db.MigrateURL(ctx, cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// loadConfig loads config and applies the log level it asks for.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Debug {
		logLevel.Set(slog.LevelDebug)
	}
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
