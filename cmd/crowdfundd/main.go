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

	"github.com/MarkoPoloResearchLab/crowdfund/internal/httpserver"
	"github.com/MarkoPoloResearchLab/crowdfund/internal/notify/amqpnotify"
	"github.com/MarkoPoloResearchLab/crowdfund/internal/oplog"
	"github.com/MarkoPoloResearchLab/crowdfund/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/crowdfund/internal/token"
	"github.com/MarkoPoloResearchLab/crowdfund/pkg/crowdfund"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagAMQPURL         = "amqp-url"
	flagAMQPExchange    = "amqp-exchange"
	flagAllowedOrigins  = "allowed-origins"
	flagTokenSigningKey = "token-signing-key"
	flagTokenIssuer     = "token-issuer"

	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyAMQPURL         = "amqp_url"
	configKeyAMQPExchange    = "amqp_exchange"
	configKeyAllowedOrigins  = "allowed_origins"
	configKeyTokenSigningKey = "token_signing_key"
	configKeyTokenIssuer     = "token_issuer"

	defaultDatabaseURL    = "sqlite:///tmp/crowdfund.db"
	defaultHTTPListenAddr = ":8080"
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	AMQPURL         string
	AMQPExchange    string
	AllowedOrigins  string
	TokenSigningKey string
	TokenIssuer     string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "crowdfundd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "crowdfundd",
		Short:         "Crowdfunding campaign ledger HTTP server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAMQPURL, "", "AMQP broker URL for notifications (optional)")
	cmd.Flags().String(flagAMQPExchange, "", "AMQP exchange for notifications")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().String(flagTokenSigningKey, "", "HMAC key for bearer token verification")
	cmd.Flags().String(flagTokenIssuer, "", "expected bearer token issuer")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]struct {
		flag string
		env  string
	}{
		configKeyDatabaseURL:     {flagDatabaseURL, "DATABASE_URL"},
		configKeyListenAddr:      {flagListenAddr, "HTTP_LISTEN_ADDR"},
		configKeyAMQPURL:         {flagAMQPURL, "AMQP_URL"},
		configKeyAMQPExchange:    {flagAMQPExchange, "AMQP_EXCHANGE"},
		configKeyAllowedOrigins:  {flagAllowedOrigins, "ALLOWED_ORIGINS"},
		configKeyTokenSigningKey: {flagTokenSigningKey, "TOKEN_SIGNING_KEY"},
		configKeyTokenIssuer:     {flagTokenIssuer, "TOKEN_ISSUER"},
	}
	for key, binding := range bindings {
		if err := viper.BindEnv(key, binding.env); err != nil {
			return err
		}
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.AMQPExchange = viper.GetString(configKeyAMQPExchange)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.TokenSigningKey = viper.GetString(configKeyTokenSigningKey)
	cfg.TokenIssuer = viper.GetString(configKeyTokenIssuer)
	if cfg.TokenSigningKey == "" {
		return fmt.Errorf("token signing key is required")
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
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	tokenService := token.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	options := []crowdfund.ServiceOption{
		crowdfund.WithOperationLogger(oplog.New(logger)),
	}
	if cfg.AMQPURL != "" {
		publisher, err := amqpnotify.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			return fmt.Errorf("amqp connect: %w", err)
		}
		defer func() { _ = publisher.Close() }()
		options = append(options, crowdfund.WithNotifier(publisher))
	}

	campaignService, err := crowdfund.NewService(store, tokenService, clock, options...)
	if err != nil {
		return fmt.Errorf("campaign service init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:      cfg.ListenAddr,
		AllowedOrigins:  httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		TokenSigningKey: cfg.TokenSigningKey,
		TokenIssuer:     cfg.TokenIssuer,
	}
	if err := serverConfig.Validate(); err != nil {
		return err
	}

	return httpserver.New(serverConfig, logger, campaignService, tokenService).Run(ctx)
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
			path = "crowdfund.db"
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

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := token.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate token: %w", err)
	}
	return nil
}
