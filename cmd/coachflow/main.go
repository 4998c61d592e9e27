package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachflow/coachflow/internal/api"
	"github.com/coachflow/coachflow/internal/flow"
	"github.com/coachflow/coachflow/internal/genai"
	"github.com/coachflow/coachflow/internal/messaging"
	"github.com/coachflow/coachflow/internal/models"
	"github.com/coachflow/coachflow/internal/notify"
	"github.com/coachflow/coachflow/internal/recovery"
	"github.com/coachflow/coachflow/internal/report"
	"github.com/coachflow/coachflow/internal/scheduler"
	"github.com/coachflow/coachflow/internal/store"
	"github.com/coachflow/coachflow/internal/tracker"
	"github.com/coachflow/coachflow/internal/trainerize"
	"github.com/coachflow/coachflow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CoachFlow state data
	DefaultStateDir = "/var/lib/coachflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "coachflow.db"
	// DefaultTimezone is where the coaching business operates; the nightly
	// calorie reset runs at this timezone's midnight
	DefaultTimezone = "Australia/Melbourne"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping CoachFlow")
	if err := run(flags); err != nil {
		slog.Error("CoachFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CoachFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	GeminiKey       string
	OpenAIKey       string
	ManyChatKey     string
	WebhookSecret   string
	APIAddr         string
	Timezone        string
	DebounceSeconds int
	TwilioEnabled   bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	geminiKey       *string
	openaiKey       *string
	manychatKey     *string
	webhookSecret   *string
	apiAddr         *string
	timezone        *string
	debounceSeconds *int
	twilioEnabled   *bool
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
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("COACHFLOW_STATE_DIR"),
		GeminiKey:       os.Getenv("GEMINI_API_KEY"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		ManyChatKey:     os.Getenv("MANYCHAT_API_KEY"),
		WebhookSecret:   os.Getenv("MANYCHAT_WEBHOOK_SECRET"),
		APIAddr:         os.Getenv("API_ADDR"),
		Timezone:        os.Getenv("BUSINESS_TIMEZONE"),
		DebounceSeconds: util.ParseIntEnv("DEBOUNCE_SECONDS", int(messaging.DefaultDebounceWindow/time.Second)),
		TwilioEnabled:   util.ParseBoolEnv("TWILIO_ALERTS_ENABLED", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COACHFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.Timezone == "" {
		config.Timezone = DefaultTimezone
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"COACHFLOW_STATE_DIR", config.StateDir,
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"MANYCHAT_API_KEY_SET", config.ManyChatKey != "",
		"WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"API_ADDR", config.APIAddr,
		"BUSINESS_TIMEZONE", config.Timezone,
		"DEBOUNCE_SECONDS", config.DebounceSeconds,
		"TWILIO_ALERTS_ENABLED", config.TwilioEnabled)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for CoachFlow data (overrides $COACHFLOW_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		geminiKey:       flag.String("gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for the last-resort fallback (overrides $OPENAI_API_KEY)"),
		manychatKey:     flag.String("manychat-api-key", config.ManyChatKey, "ManyChat API key (overrides $MANYCHAT_API_KEY)"),
		webhookSecret:   flag.String("webhook-secret", config.WebhookSecret, "shared secret required on webhook calls (overrides $MANYCHAT_WEBHOOK_SECRET)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		timezone:        flag.String("timezone", config.Timezone, "business timezone for scheduled jobs (overrides $BUSINESS_TIMEZONE)"),
		debounceSeconds: flag.Int("debounce-seconds", config.DebounceSeconds, "message debounce window in seconds (overrides $DEBOUNCE_SECONDS)"),
		twilioEnabled:   flag.Bool("twilio-alerts", config.TwilioEnabled, "enable Twilio SMS coach alerts (overrides $TWILIO_ALERTS_ENABLED)"),
	}

	flag.Parse()

	// Follow a moved state directory when the DSN was derived from it.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	st, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	gen, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	svc, err := messaging.NewManyChatService(buildManyChatOptions(flags)...)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if *flags.twilioEnabled {
		twilioNotifier, err := notify.NewTwilioNotifier()
		if err != nil {
			slog.Warn("Twilio alerts requested but not configured, alerts disabled", "error", err)
		} else {
			notifier = twilioNotifier
		}
	}

	var automation trainerize.Client = trainerize.UnavailableClient{}
	pool := trainerize.NewPool(automation)
	defer pool.Stop()

	tr := tracker.New(st)
	states := flow.NewStoreBasedStateManager(st)
	timer := flow.NewSimpleTimer()
	defer timer.Stop()

	window := time.Duration(*flags.debounceSeconds) * time.Second
	respHandler := messaging.NewResponseHandler(nil, window)
	dispatcher := flow.NewDispatcher(st, gen, states, respHandler, pool, tr, notifier, svc,
		flow.WithTimer(timer))
	respHandler.SetProcessor(dispatcher)

	// Delivery receipts land in the store alongside the conversation log.
	go messaging.RecordReceipts(svc.Receipts(), st)

	// Pending flows persisted before the last shutdown get their hooks back.
	if err := recovery.New(st, dispatcher, respHandler).Run(context.Background()); err != nil {
		return err
	}

	sched, err := scheduler.New(*flags.timezone)
	if err != nil {
		return err
	}
	defer sched.Stop()
	if err := sched.AddDailyMidnightJob(func() {
		if err := tr.ResetDaily(context.Background()); err != nil {
			slog.Error("Daily calorie reset failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if err := sched.AddHourlyJob(func() {
		remindOpenTodos(st, notifier)
	}); err != nil {
		return err
	}

	respHandler.Start(svc.Messages())
	defer respHandler.Stop()
	defer svc.Stop()

	reviews := report.NewBuilder(st, gen, automation, nil, nil)

	server := api.NewServer(st, svc, respHandler, timer, reviews, buildAPIOptions(flags)...)
	if err := server.Start(); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// remindOpenTodos pings the coach when automation left work behind.
func remindOpenTodos(st store.Store, notifier notify.Notifier) {
	todos, err := st.ListTodos(models.TodoStatusOpen)
	if err != nil {
		slog.Error("To-do reminder sweep failed", "error", err)
		return
	}
	if len(todos) == 0 {
		return
	}
	msg := fmt.Sprintf("CoachFlow: %d open to-do item(s) need attention", len(todos))
	if err := notifier.AlertCoach(context.Background(), msg); err != nil {
		slog.Error("To-do reminder alert failed", "error", err)
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs LLM gateway configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.geminiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.geminiKey))
	}
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithOpenAIFallback(*flags.openaiKey, ""))
	}
	return genaiOpts
}

// buildManyChatOptions constructs ManyChat transport configuration options
func buildManyChatOptions(flags Flags) []messaging.Option {
	var opts []messaging.Option
	if *flags.manychatKey != "" {
		opts = append(opts, messaging.WithAPIKey(*flags.manychatKey))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.webhookSecret != "" {
		apiOpts = append(apiOpts, api.WithWebhookSecret(*flags.webhookSecret))
	}
	return apiOpts
}
