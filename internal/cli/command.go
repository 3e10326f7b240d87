package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LouisLau-art/arktrans"
	"github.com/LouisLau-art/arktrans/meter"
	"github.com/LouisLau-art/arktrans/quota"
	"github.com/LouisLau-art/arktrans/transport/ark"
)

// CreateRootCommand creates and configures the root cobra command.
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arktrans",
		Short: "Batch translation client for the Volcengine Ark API",
		Long: `arktrans translates Markdown files and serves a translation HTTP API
backed by the Volcengine Ark responses API, with lane fallback across
translation models, retry with backoff, and a daily token budget.

Examples:
  arktrans md docs/ --recursive      # Translate every Markdown file under docs/
  arktrans md README.md -t en        # Translate one file to English
  arktrans serve --port 8000         # Start the HTTP API server
  arktrans usage --quota-db ark.db   # Show today's token usage`,
		Version:       arktrans.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupPersistentFlags(rootCmd, flags)

	rootCmd.AddCommand(newMdCommand(flags))
	rootCmd.AddCommand(newServeCommand(flags))
	rootCmd.AddCommand(newUsageCommand(flags))

	return rootCmd
}

func setupPersistentFlags(cmd *cobra.Command, flags *Flags) {
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&flags.APIKey, "api-key", "", "API key (defaults to ARK_API_KEY env var)")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable verbose logging")
	cmd.PersistentFlags().IntVar(&flags.MaxConcurrent, "max-concurrent", 0, "maximum concurrent requests (0 = config value)")
	cmd.PersistentFlags().Float64Var(&flags.MaxRPS, "max-rps", 0, "maximum requests per second (0 = config value)")
	cmd.PersistentFlags().StringVar(&flags.QuotaDB, "quota-db", "", "SQLite file for persistent quota tracking")

	viper.BindPFlag("api_key", cmd.PersistentFlags().Lookup("api-key"))
	viper.BindPFlag("max_concurrent", cmd.PersistentFlags().Lookup("max-concurrent"))
	viper.BindPFlag("max_rps", cmd.PersistentFlags().Lookup("max-rps"))
	viper.BindPFlag("quota_db", cmd.PersistentFlags().Lookup("quota-db"))
}

// InitConfig initializes viper configuration: the optional config file and
// ARKTRANS_-prefixed environment variables.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".arktrans")
	}

	viper.SetEnvPrefix("ARKTRANS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// buildConfig resolves the translator configuration in flag > environment >
// config file > default order.
func buildConfig(flags *Flags) (*arktrans.Config, error) {
	var cfg *arktrans.Config
	if flags.CfgFile != "" {
		var err error
		cfg, err = arktrans.LoadConfigFile(flags.CfgFile)
		if err != nil {
			return nil, err
		}
		// ARK_API_KEY still wins over a key stored in the file.
		if key := os.Getenv("ARK_API_KEY"); key != "" {
			cfg.APIKey = key
		}
	} else {
		cfg = arktrans.FromEnv()
	}

	// Viper carries the flag values and any ARKTRANS_-prefixed overrides.
	if v := viper.GetString("api_key"); v != "" {
		cfg.APIKey = v
	}
	if v := viper.GetInt("max_concurrent"); v > 0 {
		cfg.MaxConcurrent = v
	}
	if v := viper.GetFloat64("max_rps"); v > 0 {
		cfg.MaxRPS = v
	}

	return cfg, nil
}

// newQuotaTracker picks the quota backend: SQLite when --quota-db is set,
// in-memory otherwise. The returned close function is a no-op for the
// in-memory tracker.
func newQuotaTracker(cfg *arktrans.Config) (arktrans.QuotaTracker, func() error, error) {
	path := viper.GetString("quota_db")
	if path == "" {
		return arktrans.NewMemoryTracker(cfg.DailyTokenLimit), func() error { return nil }, nil
	}

	tracker, err := quota.NewSQLiteTracker(path, cfg.DailyTokenLimit)
	if err != nil {
		return nil, nil, err
	}
	return tracker, tracker.Close, nil
}

// buildTranslator wires the full client: resolved config, logger, Ark
// transport, and quota tracker. The returned close function releases the
// tracker.
func buildTranslator(flags *Flags) (*arktrans.Translator, func() error, error) {
	cfg, err := buildConfig(flags)
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(flags.Verbose || flags.Debug)
	slog.SetDefault(logger)

	tracker, closeTracker, err := newQuotaTracker(cfg)
	if err != nil {
		return nil, nil, err
	}

	translator, err := arktrans.NewTranslator(cfg, ark.NewFromConfig(cfg),
		arktrans.WithLogger(logger),
		arktrans.WithMeter(meter.NewLogMeter(logger)),
		arktrans.WithQuotaTracker(tracker),
	)
	if err != nil {
		closeTracker()
		return nil, nil, err
	}

	return translator, closeTracker, nil
}

// newLogger builds the process logger. Verbose lowers the level to Debug.
func newLogger(verbose bool) *slog.Logger {
	level := new(slog.LevelVar)
	if verbose {
		level.Set(slog.LevelDebug)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
