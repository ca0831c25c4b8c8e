package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "ringstress",
		Short: "Stress the threadring lifecycle coordinator",
		Long: `ringstress creates a random tree of threads, each of which pushes and pops
cleanups, creates and sometimes cancels children, and joins them before exiting.

Once every thread is gone, it checks that the ring holds only the main thread and
that every cleanup that wasn't popped ran exactly once.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig(v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(v)
			if err != nil {
				return err
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			report, err := Run(cfg, logger)
			printReport(cmd.OutOrStdout(), report, err)
			return err
		},
	}

	addFlags(cmd.Flags())
	bindFlags(v, cmd.Flags())
	return cmd
}

func addFlags(fs *pflag.FlagSet) {
	defaults := Default()

	fs.StringP("config", "c", "", "config file (yaml, json or toml)")
	fs.IntP("threads", "n", defaults.Threads, "total number of threads to create")
	fs.IntP("fanout", "f", defaults.Fanout, "maximum number of children per thread")
	fs.Int("max-live", defaults.MaxLive, "maximum number of live thread goroutines (0 = no limit)")
	fs.Int("cleanups", defaults.Cleanups, "number of cleanups each thread pushes")
	fs.Float64("cancel-ratio", defaults.CancelRatio, "probability of canceling each created child")
	fs.Int64("seed", defaults.Seed, "random seed")
	fs.String("log-level", defaults.Log.Level, "log level: "+strings.Join(ValidLogLevels(), ", "))
	fs.String("log-format", defaults.Log.Format, "log format: "+strings.Join(ValidLogFormats(), ", "))
}

// bindFlags maps each flag onto its configuration key
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	keys := map[string]string{
		"config":       "config",
		"threads":      "threads",
		"fanout":       "fanout",
		"max-live":     "max_live",
		"cleanups":     "cleanups",
		"cancel-ratio": "cancel_ratio",
		"seed":         "seed",
		"log-level":    "log.level",
		"log-format":   "log.format",
	}
	for flag, key := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

func initConfig(v *viper.Viper) error {
	// Set defaults first so they're available even without a config file
	SetDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("RINGSTRESS")
	// e.g. RINGSTRESS_LOG_LEVEL for log.level
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading config file %q", cfgFile)
		}
	}
	return nil
}

func newLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func printReport(w io.Writer, r Report, err error) {
	fmt.Fprintf(w, "threads created:  %d\n", r.Created)
	fmt.Fprintf(w, "spawn failures:   %d\n", r.SpawnFailures)
	fmt.Fprintf(w, "canceled:         %d\n", r.Canceled)
	fmt.Fprintf(w, "cleanups pushed:  %d (popped %d, run %d)\n", r.CleanupsPushed, r.CleanupsPopped, r.CleanupsRun)
	fmt.Fprintf(w, "max ring size:    %d\n", r.MaxRing)
	fmt.Fprintf(w, "elapsed:          %s\n", r.Elapsed)
	if err != nil {
		fmt.Fprintf(w, "result:           FAILED\n%v\n", err)
	} else {
		fmt.Fprintf(w, "result:           ok\n")
	}
}
