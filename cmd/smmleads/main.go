package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/api"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/blob"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/config"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/flow"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/lockfile"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/messaging"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// DefaultDBFileName is the default SQLite database filename.
const DefaultDBFileName = "smmleads.db"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	initializeLogger(cfg.Debug)

	flags := parseCommandLineFlags(cfg)

	if err := flags.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One process per state directory; a second poller on the same bot token
	// would steal updates.
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	storeOpts := buildStoreOptions(flags)
	blobOpts := buildBlobOptions(flags)
	msgOpts := buildMessagingOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping lead bot with configured modules")
	slog.Debug("Module options counts",
		"store", len(storeOpts), "blob", len(blobOpts), "messaging", len(msgOpts), "api", len(apiOpts))
	if err := api.Run(storeOpts, blobOpts, msgOpts, apiOpts); err != nil {
		slog.Error("Service failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Service exited successfully")
}

// Flags holds command line flag values layered over the environment config.
type Flags struct {
	cfg config.Config

	stateDir *string
	dbDSN    *string
	apiAddr  *string
}

// initializeLogger sets up structured logging to stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(cfg config.Config) Flags {
	flags := Flags{
		cfg:      cfg,
		stateDir: flag.String("state-dir", cfg.StateDir, "state directory for service data (overrides $SMMLEADS_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", cfg.DatabaseURL, "database DSN for the lead store (overrides $DATABASE_URL)"),
		apiAddr:  flag.String("api-addr", cfg.APIAddr, "health endpoint address (overrides $API_ADDR)"),
	}
	flag.Parse()

	slog.Debug("Flags parsed",
		"state_dir", *flags.stateDir,
		"db_dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr)
	return flags
}

func (f Flags) validate() error {
	return f.cfg.Validate()
}

// dsn resolves the effective database DSN, defaulting to SQLite under the
// state directory when nothing was configured.
func (f Flags) dsn() string {
	if *f.dbDSN != "" {
		return *f.dbDSN
	}
	return filepath.Join(*f.stateDir, DefaultDBFileName)
}

// ensureDirectoriesExist creates the state directory for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	dsn := flags.dsn()
	if strings.HasPrefix(dsn, "postgres") || strings.Contains(dsn, "host=") {
		return nil
	}
	stateDir := filepath.Dir(dsn)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	return os.MkdirAll(stateDir, 0755)
}

// buildStoreOptions constructs store configuration options.
func buildStoreOptions(flags Flags) []store.Option {
	dsn := flags.dsn()
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "table", flags.cfg.TableName)
		opts := []store.Option{store.WithPostgresDSN(dsn)}
		if flags.cfg.TableName != "" {
			opts = append(opts, store.WithTableName(flags.cfg.TableName))
		}
		return opts
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// buildBlobOptions constructs blob storage options; empty when photos are off
// or no storage endpoint is configured.
func buildBlobOptions(flags Flags) []blob.Option {
	cfg := flags.cfg
	if !cfg.EnableLeadPhotos || cfg.StorageURL == "" {
		return nil
	}
	opts := []blob.Option{blob.WithBaseURL(cfg.StorageURL)}
	if cfg.StorageKey != "" {
		opts = append(opts, blob.WithAPIKey(cfg.StorageKey))
	}
	if cfg.LeadsBucket != "" {
		opts = append(opts, blob.WithBucket(cfg.LeadsBucket))
	}
	return opts
}

// buildMessagingOptions constructs Telegram service options.
func buildMessagingOptions(flags Flags) []messaging.Option {
	return []messaging.Option{messaging.WithToken(flags.cfg.BotToken)}
}

// buildAPIOptions constructs API server configuration options.
func buildAPIOptions(flags Flags) []api.Option {
	cfg := flags.cfg
	flowCfg := flow.Config{
		PINCode:          cfg.PINCode,
		FacebookFlow:     cfg.FacebookFlow,
		MinimalAddMode:   cfg.MinimalAddMode,
		PhotosEnabled:    cfg.EnableLeadPhotos && cfg.StorageURL != "",
		RateLimitEnabled: cfg.RateLimitEnabled,
	}
	apiOpts := []api.Option{
		api.WithFlowConfig(flowCfg),
		api.WithCleanupInterval(cfg.CleanupInterval),
		api.WithSessionBounds(cfg.SessionTTL, cfg.SessionCapacity),
		api.WithRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow),
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
