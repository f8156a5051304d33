// Package cli implements the tagdb command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sanonone/tagdb/pkg/config"
	"github.com/sanonone/tagdb/pkg/engine"
)

// app carries the global flags and the resolved configuration.
type app struct {
	cfgFile string
	dataDir string
	backend string
	debug   bool

	cfg config.Config
}

// NewRootCommand builds a fresh command tree. Each call returns an
// independent tree, so tests can run commands side by side.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "tagdb",
		Short: "Tag files and URLs and query the tags",
		Long: `tagdb attaches human-chosen tags to files and web addresses and stores
the associations as a small graph in an embedded database.

A target that exists on disk is stored as a path; a target starting with
"http" or "www" is stored as a web address.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "tagdb.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&a.dataDir, "data-dir", "", "database directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.backend, "backend", "", "storage backend: badger or memory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		a.newTagCmd(),
		a.newCreateCmd(),
		a.newShowCmd(),
		a.newDeleteCmd(),
		a.newNeighborsCmd(),
		a.newReindexCmd(),
		a.newCompactCmd(),
	)
	return rootCmd
}

// setup loads the configuration, applies flag overrides and installs the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = a.dataDir
	}
	if flags.Changed("backend") {
		cfg.Backend = a.backend
	}
	if a.debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

// open starts the engine described by the configuration.
func (a *app) open() (*engine.Engine, error) {
	opts := a.cfg.ToOptions()
	opts.Logger = slog.Default()
	eng, err := engine.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open database in %s: %w", opts.DataDir, err)
	}
	return eng, nil
}

// withEngine opens the engine, runs fn and closes the engine again.
func (a *app) withEngine(fn func(*engine.Engine) error) (err error) {
	eng, err := a.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(eng)
}
