package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/accountledger/internal/config"
	"github.com/MarkoPoloResearchLab/accountledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/accountledger/internal/locking"
	"github.com/MarkoPoloResearchLab/accountledger/internal/logging"
	"github.com/MarkoPoloResearchLab/accountledger/internal/metrics"
	"github.com/MarkoPoloResearchLab/accountledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/accountledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	flagConfig      = "config"
	flagDatabaseURL = "database-url"
	flagListenAddr  = "listen-addr"
	flagRedisAddr   = "redis-addr"
	flagDate        = "date"

	statsDateLayout = "2006-01-02"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "accountledger: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accountledger",
		Short:         "Account balances, referrals and daily platform statistics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagConfig, "", "path to a TOML config file")
	cmd.PersistentFlags().String(flagDatabaseURL, "", "database URL (postgres:// or sqlite://)")

	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newStatsCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for cross-process account locks")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, cleanup, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if err := gormstore.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the daily statistics bucket as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			day := time.Now()
			if rawDate, _ := cmd.Flags().GetString(flagDate); rawDate != "" {
				day, err = time.Parse(statsDateLayout, rawDate)
				if err != nil {
					return fmt.Errorf("parse %s: %w", flagDate, err)
				}
			}
			service, cleanup, err := openService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()
			stats, err := service.DailyStats(cmd.Context(), day)
			if err != nil {
				return err
			}
			return writeStats(cmd, stats)
		},
	}
	cmd.Flags().String(flagDate, "", "calendar date (YYYY-MM-DD), defaults to today")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return nil, err
	}
	return config.Load(config.Options{ConfigFile: configFile, Flags: cmd.Flags()})
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	policy, err := cfg.Policy.LedgerPolicy()
	if err != nil {
		return err
	}

	db, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(ctx, db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	operationMetrics, err := metrics.NewOperationMetrics(registry)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(logging.NewZapOperationLogger(logger), operationMetrics),
	}
	if cfg.Redis.Enabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locker, err := locking.NewRedisLocker(redisClient, locking.Config{
			KeyPrefix:   cfg.Redis.LockKeyPrefix,
			TTL:         cfg.Redis.LockTTL,
			WaitTimeout: cfg.Redis.LockWait,
		}, logger)
		if err != nil {
			return fmt.Errorf("redis locker init: %w", err)
		}
		options = append(options, ledger.WithAccountLocker(locker))
		logger.Info("redis account locks enabled", zap.String("addr", cfg.Redis.Addr))
	}

	service, err := ledger.NewService(gormstore.New(db), policy, time.Now, options...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	return httpapi.Run(ctx, httpapi.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  cfg.AllowedOrigins,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, service, logger, registry)
}

func openService(ctx context.Context, cfg *config.Config) (*ledger.Service, func() error, error) {
	policy, err := cfg.Policy.LedgerPolicy()
	if err != nil {
		return nil, nil, err
	}
	db, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	service, err := ledger.NewService(gormstore.New(db), policy, time.Now)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("ledger service init: %w", err)
	}
	return service, cleanup, nil
}

func writeStats(cmd *cobra.Command, stats ledger.DailyStats) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"date":                    stats.Date.Format(statsDateLayout),
		"api_calls":               stats.APICalls,
		"images_ocred":            stats.ImagesOCRed,
		"sd_images_generated":     stats.SDImagesGenerated,
		"recharged_amount_cents":  stats.RechargedAmountCents.Int64(),
		"user_usage_amount_cents": stats.UserUsageAmountCents.Int64(),
		"bonus_amount_cents":      stats.BonusAmountCents.Int64(),
		"invite_code_binds":       stats.InviteCodeBinds,
	})
}
