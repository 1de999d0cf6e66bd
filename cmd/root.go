package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tlarkin/revu/internal/engine"
	"github.com/tlarkin/revu/internal/models"
	"github.com/tlarkin/revu/internal/output"
	"github.com/tlarkin/revu/internal/scan"
	"github.com/tlarkin/revu/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	manager   *engine.Manager

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "revu",
	Short: "Review engine - scan documents for issues, track fixes and scores",
	Long: `revu runs review sessions over uploaded documents (CVs, cover letters).
It scans a document for issues, tracks which fixes were applied, and
keeps an append-only score history per session.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return statusRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/revu/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "revu")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REVU")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "revu")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "revu.db"))
	viper.SetDefault("owner", "")
	viper.SetDefault("service", string(models.ServiceCVReview))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("port", 8080)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Store and manager are initialized lazily, only when commands
	// actually need them. This allows config/version to run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getManager returns the shared review engine, initializing it on first call.
func getManager() (*engine.Manager, error) {
	if manager != nil {
		return manager, nil
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}

	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	// Without an API key scanning and scoring are unavailable, but
	// archive/status style operations still work.
	var scanner scan.Scanner
	var scorer scan.Scorer
	if apiKey != "" {
		client := scan.NewClient(apiKey, viper.GetString("anthropic.model"))
		scanner, scorer = client, client
	} else {
		ui.VerboseLog("no Anthropic API key configured; scan and score disabled")
	}

	manager = engine.NewManager(s, scanner, scorer)
	return manager, nil
}

// ownerAndService resolves the owner/service pair used by most commands.
func ownerAndService() (string, models.Service, error) {
	owner := viper.GetString("owner")
	if owner == "" {
		return "", "", fmt.Errorf("no owner configured (set owner in config or REVU_OWNER)")
	}
	service := models.Service(viper.GetString("service"))
	if !service.Valid() {
		return "", "", fmt.Errorf("invalid service %q (want %s or %s)", service, models.ServiceCVReview, models.ServiceCoverLetter)
	}
	return owner, service, nil
}
