package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/OpenCohort/SchedulePipe/internal/api"
	"github.com/OpenCohort/SchedulePipe/internal/scheduler"
	"github.com/OpenCohort/SchedulePipe/internal/store"
	"github.com/OpenCohort/SchedulePipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SchedulePipe state data
	DefaultStateDir = "/var/lib/schedulepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "schedulepipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	schedOpts := buildSchedulerOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping SchedulePipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "scheduler", len(schedOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "max_window_days", *flags.maxWindowDays)
	if err := api.Run(storeOpts, schedOpts, apiOpts); err != nil {
		slog.Error("SchedulePipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SchedulePipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseDSN   string
	StateDir      string
	APIAddr       string
	MaxWindowDays int
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	apiAddr       *string
	maxWindowDays *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		StateDir:      os.Getenv("SCHEDULEPIPE_STATE_DIR"),
		APIAddr:       os.Getenv("API_ADDR"),
		MaxWindowDays: util.ParseIntEnv("MAX_WINDOW_DAYS", 0),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SCHEDULEPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("SCHEDULEPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Support legacy DATABASE_URL as a fallback
	if config.DatabaseDSN == "" {
		config.DatabaseDSN = os.Getenv("DATABASE_URL")
		if config.DatabaseDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	slog.Debug("environment variables loaded",
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"SCHEDULEPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"MAX_WINDOW_DAYS", config.MaxWindowDays)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for SchedulePipe data (overrides $SCHEDULEPIPE_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseDSN, "database DSN for the activity store (overrides $DATABASE_DSN or $DATABASE_URL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		maxWindowDays: flag.Int("max-window-days", config.MaxWindowDays, "maximum scheduling window in days (overrides $MAX_WINDOW_DAYS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"maxWindowDays", *flags.maxWindowDays)

	// Default to SQLite in the state directory when no DSN is given
	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildSchedulerOptions constructs scheduling engine configuration options
func buildSchedulerOptions(flags Flags) []scheduler.Option {
	var schedOpts []scheduler.Option
	if *flags.maxWindowDays > 0 {
		schedOpts = append(schedOpts, scheduler.WithMaxWindow(time.Duration(*flags.maxWindowDays)*24*time.Hour))
	}
	return schedOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}
