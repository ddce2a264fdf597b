package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/nark/internal/config"
	"github.com/Tiliavir/nark/internal/factoid"
	"github.com/Tiliavir/nark/internal/facts"
	"github.com/Tiliavir/nark/internal/logger"
	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/storage"
	"github.com/Tiliavir/nark/internal/timeline"
	"github.com/Tiliavir/nark/internal/timespec"
)

var (
	flagDB       string
	flagConfig   string
	flagLogLevel string
)

var (
	cfg     config.Config
	store   *storage.Store
	manager *facts.Manager
)

var rootCmd = &cobra.Command{
	Use:   "nark",
	Short: "nark – a factoid-driven command-line time tracker",
	Long: `nark records what you work on as facts: time spans with an
activity@category, #tags and a description, written as one-line factoids.

  nark on coding@work: #go, parser rewrite
  nark from 09:00 to 10:30 standup@work
  nark to 12:00 lunch@
  nark stop

Facts never overlap; adding one trims, splits or replaces the facts in its
way. All data is stored in a SQLite database in ~/.nark/.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: teardown,
}

// Execute is the entry point called from main.
func Execute() {
	err := rootCmd.Execute()
	teardown(nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
		os.Exit(exitCode(err))
	}
}

var (
	errUsage   = errors.New("usage error")
	errStorage = errors.New("storage error")
)

// userErrors are mistakes the user can fix by changing the command.
var userErrors = []error{
	factoid.ErrParser,
	timeline.ErrUnresolvable,
	timespec.ErrInvalidDatetime,
	timespec.ErrOutOfRange,
	model.ErrStartAfterEnd,
	model.ErrSquash,
	facts.ErrNoCurrent,
	storage.ErrNotFound,
	storage.ErrTimeframeOccupied,
	storage.ErrMinDelta,
	errUsage,
}

// classify marks every error the user cannot fix as a storage failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, userErr := range userErrors {
		if errors.Is(err, userErr) {
			return err
		}
	}
	return errors.Mark(err, errStorage)
}

// exitCode is 2 for storage failures and 1 for everything else, including
// cobra's own usage errors.
func exitCode(err error) int {
	if errors.Is(err, errStorage) {
		return 2
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Path to the SQLite database (default ~/.nark/nark.db)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to the config file (default ~/.nark/config.json)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")

	for _, c := range factoidCommands() {
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(tagsCmd)
}

// setup loads the configuration, starts logging and opens the store.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return errors.Mark(err, errUsage)
	}
	if flagDB != "" {
		cfg.DB.Path = flagDB
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if err := logger.Initialize(cfg.Log.Level, cfg.Log.JSON); err != nil {
		return errors.Mark(err, errUsage)
	}

	loc, err := cfg.Location()
	if err != nil {
		return errors.Mark(err, errUsage)
	}
	store, err = storage.Open(cfg.DB.Path, storage.Options{Location: loc, MinDelta: cfg.MinDelta()})
	if err != nil {
		return classify(err)
	}
	manager, err = facts.New(store, cfg)
	if err != nil {
		return errors.Mark(err, errUsage)
	}
	logger.Log.Debugw("ready", "db", cfg.DB.Path, "command", cmd.Name())
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Log.Warnw("closing database", "error", err)
		}
		store = nil
	}
	logger.Sync()
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
