package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/rewardwallet/internal/metrics"
	"github.com/MarkoPoloResearchLab/rewardwallet/internal/notify"
	"github.com/MarkoPoloResearchLab/rewardwallet/internal/oplog"
	"github.com/MarkoPoloResearchLab/rewardwallet/internal/walletapi"
	"github.com/MarkoPoloResearchLab/rewardwallet/pkg/wallet"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr           = "listen-addr"
	flagDatabaseURL          = "database-url"
	flagStoreDriver          = "store-driver"
	flagAllowedOrigins       = "allowed-origins"
	flagJWTSigningKey        = "jwt-signing-key"
	flagJWTIssuer            = "jwt-issuer"
	flagJWTCookieName        = "jwt-cookie-name"
	flagRequestTimeout       = "request-timeout"
	flagLogLevel             = "log-level"
	flagSweepInterval        = "sweep-interval"
	flagMaturityWindow       = "maturity-window"
	flagStagingSlot          = "staging-slot"
	flagNotificationCapacity = "notification-capacity"
	flagNotificationLimit    = "notification-limit"
	flagRateLimit            = "rate-limit"
	flagRateBurst            = "rate-burst"
	envPrefix                = "WALLETD"

	defaultDatabaseURL = "sqlite:///tmp/rewardwallet.db"
	defaultLogLevel    = "info"
)

type runtimeConfig struct {
	API                  walletapi.Config
	DatabaseURL          string
	StoreDriver          string
	LogLevel             string
	SweepInterval        time.Duration
	MaturityWindow       time.Duration
	StagingSlot          string
	NotificationCapacity int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walletd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "walletd",
		Short:         "Reward wallet ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, ":9090", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL URL or sqlite path")
	cmd.Flags().String(flagStoreDriver, storeDriverGorm, "wallet store implementation (gorm or pgx)")
	cmd.Flags().String(flagAllowedOrigins, "http://localhost:8000", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "app_session", "JWT cookie name")
	cmd.Flags().Duration(flagRequestTimeout, 3*time.Second, "per-request store timeout")
	cmd.Flags().String(flagLogLevel, defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Duration(flagSweepInterval, wallet.DefaultSweepInterval, "pending withdrawal sweep interval, 0 disables the sweeper")
	cmd.Flags().Duration(flagMaturityWindow, wallet.DefaultMaturityWindow, "age at which pending withdrawals complete")
	cmd.Flags().String(flagStagingSlot, "", "signup bonus staging slot name")
	cmd.Flags().Int(flagNotificationCapacity, notify.DefaultCapacity, "notifications kept in memory")
	cmd.Flags().Int(flagNotificationLimit, 20, "notifications returned per request")
	cmd.Flags().Float64(flagRateLimit, 0, "API requests per second, 0 disables limiting")
	cmd.Flags().Int(flagRateBurst, 0, "API request burst size")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}
	for _, flagName := range []string{
		flagListenAddr, flagDatabaseURL, flagStoreDriver, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer,
		flagJWTCookieName, flagRequestTimeout, flagLogLevel, flagSweepInterval, flagMaturityWindow, flagStagingSlot,
		flagNotificationCapacity, flagNotificationLimit, flagRateLimit, flagRateBurst,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.API = walletapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:    walletapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
		RequestTimeout:    v.GetDuration(flagRequestTimeout),
		NotificationLimit: v.GetInt(flagNotificationLimit),
		RateLimit:         v.GetFloat64(flagRateLimit),
		RateBurst:         v.GetInt(flagRateBurst),
	}
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.SweepInterval = v.GetDuration(flagSweepInterval)
	cfg.MaturityWindow = v.GetDuration(flagMaturityWindow)
	cfg.StagingSlot = strings.TrimSpace(v.GetString(flagStagingSlot))
	cfg.NotificationCapacity = v.GetInt(flagNotificationCapacity)

	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPGX {
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	if cfg.SweepInterval < 0 || cfg.MaturityWindow < 0 {
		return fmt.Errorf("sweep interval and maturity window must not be negative")
	}
	return cfg.API.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = atomicLevel
	return loggerConfig.Build()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = backend.close() }()

	feed := notify.NewFeed(logger, cfg.NotificationCapacity)
	recorder := metrics.NewRecorder()
	session, err := wallet.NewSession(backend.store, func() time.Time { return time.Now().UTC() },
		wallet.WithOperationLogger(oplog.Fanout{oplog.NewZapLogger(logger), recorder}),
		wallet.WithNotifier(notify.Fanout{feed, recorder}),
		wallet.WithBonusStaging(backend.staging),
		wallet.WithSweepInterval(cfg.SweepInterval),
		wallet.WithMaturityWindow(cfg.MaturityWindow),
	)
	if err != nil {
		return fmt.Errorf("wallet session init: %w", err)
	}

	logger.Info("wallet store ready", zap.String("store_driver", cfg.StoreDriver), zap.String("database", backend.driver))
	return walletapi.Run(ctx, cfg.API, walletapi.Dependencies{
		Session: session,
		Staging: backend.staging,
		Feed:    feed,
		Metrics: recorder.Handler(),
		Logger:  logger,
	})
}
