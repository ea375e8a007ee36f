package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/sweetstamps/membership/internal/apiserver"
	"github.com/sweetstamps/membership/internal/gateway/sevencloud"
	"github.com/sweetstamps/membership/internal/gateway/stripepay"
	"github.com/sweetstamps/membership/internal/store/gormstore"
	"github.com/sweetstamps/membership/pkg/discount"
	"github.com/sweetstamps/membership/pkg/ledger"
	"github.com/sweetstamps/membership/pkg/ordersync"
	"github.com/sweetstamps/membership/pkg/recharge"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	flagSessionKey       = "session-signing-key"
	flagSessionIssuer    = "session-issuer"
	flagSessionCookie    = "session-cookie"
	flagAdminAccounts    = "admin-accounts"
	flagPosBaseURL       = "pos-base-url"
	flagPosUsername      = "pos-username"
	flagPosPassword      = "pos-password"
	flagPayBaseURL       = "pay-base-url"
	flagPaySecretKey     = "pay-secret-key"
	flagPayWebhookSecret = "pay-webhook-secret"
	flagSyncInterval     = "sync-interval"
	flagFullSyncInterval = "full-sync-interval"

	configKeyDatabaseURL      = "database_url"
	configKeyListenAddr       = "listen_addr"
	configKeyAllowedOrigins   = "allowed_origins"
	configKeySessionKey       = "session_signing_key"
	configKeySessionIssuer    = "session_issuer"
	configKeySessionCookie    = "session_cookie"
	configKeyAdminAccounts    = "admin_accounts"
	configKeyPosBaseURL       = "pos_base_url"
	configKeyPosUsername      = "pos_username"
	configKeyPosPassword      = "pos_password"
	configKeyPayBaseURL       = "pay_base_url"
	configKeyPaySecretKey     = "pay_secret_key"
	configKeyPayWebhookSecret = "pay_webhook_secret"
	configKeySyncInterval     = "sync_interval"
	configKeyFullSyncInterval = "full_sync_interval"

	defaultDatabaseURL  = "sqlite:///tmp/membership.db"
	defaultListenAddr   = ":8080"
	defaultSyncInterval = time.Minute
	defaultFullInterval = 24 * time.Hour
)

type runtimeConfig struct {
	DatabaseURL      string
	ListenAddr       string
	AllowedOrigins   string
	SessionKey       string
	SessionIssuer    string
	SessionCookie    string
	AdminAccounts    string
	PosBaseURL       string
	PosUsername      string
	PosPassword      string
	PayBaseURL       string
	PaySecretKey     string
	PayWebhookSecret string
	SyncInterval     time.Duration
	FullSyncInterval time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "membershipd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "membershipd",
		Short:         "Membership ledger and reconciliation server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagSessionKey, "", "session token signing key")
	cmd.Flags().String(flagSessionIssuer, "", "session token issuer")
	cmd.Flags().String(flagSessionCookie, "", "session cookie name")
	cmd.Flags().String(flagAdminAccounts, "", "comma-delimited admin account ids")
	cmd.Flags().String(flagPosBaseURL, "", "point-of-sale platform base URL")
	cmd.Flags().String(flagPosUsername, "", "point-of-sale platform username")
	cmd.Flags().String(flagPosPassword, "", "point-of-sale platform password")
	cmd.Flags().String(flagPayBaseURL, "", "payment platform base URL override")
	cmd.Flags().String(flagPaySecretKey, "", "payment platform secret key")
	cmd.Flags().String(flagPayWebhookSecret, "", "payment webhook signing secret")
	cmd.Flags().Duration(flagSyncInterval, defaultSyncInterval, "incremental order sync period")
	cmd.Flags().Duration(flagFullSyncInterval, defaultFullInterval, "full order sync period")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:      "DATABASE_URL",
		configKeyListenAddr:       "LISTEN_ADDR",
		configKeyAllowedOrigins:   "ALLOWED_ORIGINS",
		configKeySessionKey:       "SESSION_SIGNING_KEY",
		configKeySessionIssuer:    "SESSION_ISSUER",
		configKeySessionCookie:    "SESSION_COOKIE",
		configKeyAdminAccounts:    "ADMIN_ACCOUNTS",
		configKeyPosBaseURL:       "POS_BASE_URL",
		configKeyPosUsername:      "POS_USERNAME",
		configKeyPosPassword:      "POS_PASSWORD",
		configKeyPayBaseURL:       "PAY_BASE_URL",
		configKeyPaySecretKey:     "PAY_SECRET_KEY",
		configKeyPayWebhookSecret: "PAY_WEBHOOK_SECRET",
		configKeySyncInterval:     "SYNC_INTERVAL",
		configKeyFullSyncInterval: "FULL_SYNC_INTERVAL",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:      flagDatabaseURL,
		configKeyListenAddr:       flagListenAddr,
		configKeyAllowedOrigins:   flagAllowedOrigins,
		configKeySessionKey:       flagSessionKey,
		configKeySessionIssuer:    flagSessionIssuer,
		configKeySessionCookie:    flagSessionCookie,
		configKeyAdminAccounts:    flagAdminAccounts,
		configKeyPosBaseURL:       flagPosBaseURL,
		configKeyPosUsername:      flagPosUsername,
		configKeyPosPassword:      flagPosPassword,
		configKeyPayBaseURL:       flagPayBaseURL,
		configKeyPaySecretKey:     flagPaySecretKey,
		configKeyPayWebhookSecret: flagPayWebhookSecret,
		configKeySyncInterval:     flagSyncInterval,
		configKeyFullSyncInterval: flagFullSyncInterval,
	}
	for configKey, flagName := range flags {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.SessionKey = viper.GetString(configKeySessionKey)
	cfg.SessionIssuer = viper.GetString(configKeySessionIssuer)
	cfg.SessionCookie = viper.GetString(configKeySessionCookie)
	cfg.AdminAccounts = viper.GetString(configKeyAdminAccounts)
	cfg.PosBaseURL = viper.GetString(configKeyPosBaseURL)
	cfg.PosUsername = viper.GetString(configKeyPosUsername)
	cfg.PosPassword = viper.GetString(configKeyPosPassword)
	cfg.PayBaseURL = viper.GetString(configKeyPayBaseURL)
	cfg.PaySecretKey = viper.GetString(configKeyPaySecretKey)
	cfg.PayWebhookSecret = viper.GetString(configKeyPayWebhookSecret)
	cfg.SyncInterval = viper.GetDuration(configKeySyncInterval)
	cfg.FullSyncInterval = viper.GetDuration(configKeyFullSyncInterval)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.SessionKey == "" {
		return fmt.Errorf("session signing key is required")
	}
	if cfg.PosBaseURL == "" || cfg.PosUsername == "" || cfg.PosPassword == "" {
		return fmt.Errorf("point-of-sale credentials are required")
	}
	if cfg.PaySecretKey == "" {
		return fmt.Errorf("payment secret key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	store := gormstore.New(gormDB)
	if driver == "sqlite" {
		if err := store.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	clock := func() int64 { return time.Now().UTC().Unix() }

	ledgerService, err := ledger.NewService(store.Ledger(), clock,
		ledger.WithOperationLogger(zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	posClient, err := sevencloud.NewClient(sevencloud.Config{
		BaseURL:  cfg.PosBaseURL,
		Username: cfg.PosUsername,
		Password: cfg.PosPassword,
	}, logger)
	if err != nil {
		return fmt.Errorf("pos client init: %w", err)
	}

	payClient, err := stripepay.NewClient(stripepay.Config{
		BaseURL:       cfg.PayBaseURL,
		SecretKey:     cfg.PaySecretKey,
		WebhookSecret: cfg.PayWebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("payment client init: %w", err)
	}

	discountService, err := discount.NewService(store.Discount(), posClient, ledgerService, clock)
	if err != nil {
		return fmt.Errorf("discount service init: %w", err)
	}

	rechargeService, err := recharge.NewService(store.Recharge(), payClient, ledgerService, discountService, clock, logger)
	if err != nil {
		return fmt.Errorf("recharge service init: %w", err)
	}

	scheduler, err := ordersync.NewScheduler(store.OrderSync(), posClient, ledgerService, logger, clock,
		ordersync.WithIntervals(cfg.SyncInterval, cfg.FullSyncInterval))
	if err != nil {
		return fmt.Errorf("sync scheduler init: %w", err)
	}
	go scheduler.Run(ctx)

	apiConfig := apiserver.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    apiserver.ParseList(cfg.AllowedOrigins),
		SessionSigningKey: cfg.SessionKey,
		SessionIssuer:     cfg.SessionIssuer,
		SessionCookieName: cfg.SessionCookie,
		AdminAccountIDs:   apiserver.ParseList(cfg.AdminAccounts),
	}
	return apiserver.Run(ctx, apiConfig, apiserver.Services{
		Ledger:   ledgerService,
		Discount: discountService,
		Recharge: rechargeService,
		Sync:     scheduler,
		Webhook:  payClient,
	}, logger)
}

// zapOperationLogger adapts zap to the ledger's operation callback.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (adapter zapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID.String()),
		zap.String("status", entry.Status),
	}
	if entry.AmountCents != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.AmountCents.Int64()))
	}
	if entry.Stamps != 0 {
		fields = append(fields, zap.Int64("stamps", entry.Stamps.Int64()))
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("ledger operation", fields...)
		return
	}
	adapter.logger.Info("ledger operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "membership.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
