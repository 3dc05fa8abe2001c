package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/config"
	"github.com/joescharf/prreview/internal/github"
	"github.com/joescharf/prreview/internal/logging"
	"github.com/joescharf/prreview/internal/output"
	"github.com/joescharf/prreview/internal/retrieval"
	"github.com/joescharf/prreview/internal/review"
	"github.com/joescharf/prreview/internal/session"
	"github.com/joescharf/prreview/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool
	dryRun  bool
)

// Lazily built dependencies. Commands that never touch sessions (config,
// version) run without a store or log file.
var (
	appConfig    *config.Config
	appLogger    *zerolog.Logger
	closeLogger  = func() {}
	dataStore    store.Store
	orchestrator *review.Orchestrator

	// generatorReady is false when no API key is configured.
	generatorReady bool
)

var rootCmd = &cobra.Command{
	Use:   "prreview",
	Short: "PR Review Agent - LLM code review with replayable reasoning sessions",
	Long: `prreview reviews pull requests against natural-language criteria.

Every review is recorded as a session: each reasoning step is appended to
a durable log and the session snapshot can be inspected, exported or
replayed later with different criteria.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.ExecuteContext(context.Background())
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/prreview/config.yaml)")
}

func initConfig() {
	configDir, err := configDirFunc()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
		os.Exit(1)
	}

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	config.SetDefaults(viper.GetViper(), configDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// getConfig returns the validated effective configuration.
func getConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	c := config.Load(viper.GetViper())
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	appConfig = c
	return appConfig, nil
}

// getLogger returns the diagnostic logger. --verbose lowers the level to
// debug.
func getLogger() (zerolog.Logger, error) {
	if appLogger != nil {
		return *appLogger, nil
	}
	cfg, err := getConfig()
	if err != nil {
		return zerolog.Nop(), err
	}
	level := cfg.Log.Level
	if verbose && level == "info" {
		level = "debug"
	}
	l, closer, err := logging.New(level, cfg.Log.File)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("open log: %w", err)
	}
	appLogger = &l
	closeLogger = closer
	return l, nil
}

// getStore returns the shared store, initializing it on first call.
func getStore(ctx context.Context) (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, cfg.Store.Backend, cfg.StoreTarget())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	ui.VerboseLog("Using %s store at %s", cfg.Store.Backend, cfg.StoreTarget())
	dataStore = s
	return dataStore, nil
}

// getOrchestrator wires provider, retriever, generator and session
// controller together.
func getOrchestrator(ctx context.Context) (*review.Orchestrator, error) {
	if orchestrator != nil {
		return orchestrator, nil
	}
	cfg, err := getConfig()
	if err != nil {
		return nil, err
	}
	logger, err := getLogger()
	if err != nil {
		return nil, err
	}
	s, err := getStore(ctx)
	if err != nil {
		return nil, err
	}

	provider, err := github.NewMockProvider(cfg.GitHub.MockDataDir)
	if err != nil {
		return nil, fmt.Errorf("load PR fixtures: %w", err)
	}
	r, err := retrieval.New(provider, retrieval.Options{
		MaxDocs:      cfg.Review.MaxRetrievalDocs,
		ExcludePaths: cfg.Review.ExcludePaths,
	}, logger)
	if err != nil {
		return nil, err
	}

	opts := review.ReviewerOptions{
		ModelParams:      cfg.LLMParams().ModelParams(),
		MaxContextLength: cfg.Review.MaxContextLength,
	}
	if gen := generatorFunc(cfg); gen != nil {
		opts.Generator = gen
		generatorReady = true
	}

	rv := review.NewReviewer(r, opts, logger)
	orchestrator = review.NewOrchestrator(session.NewController(s, logger), provider, rv, logger)
	return orchestrator, nil
}

// requireGenerator fails commands that would call the model without one.
func requireGenerator() error {
	if !generatorReady {
		return fmt.Errorf("anthropic API key not found: set ANTHROPIC_API_KEY or %s_ANTHROPIC_API_KEY", config.EnvPrefix)
	}
	return nil
}

// cleanup releases the store and log file.
func cleanup() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
	closeLogger()
	closeLogger = func() {}
	appLogger = nil
	appConfig = nil
	orchestrator = nil
	generatorReady = false
}
