package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tether-dev/tether-core/config"
	"github.com/tether-dev/tether-core/logger"
	"github.com/tether-dev/tether-core/manager"
	"github.com/tether-dev/tether-core/paths"
	"github.com/tether-dev/tether-core/store"
)

var (
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "tether",
	Short:         "Drive a tether worker through streamed conversations",
	Long: `Tether manages named sessions, each backed by one long-lived worker
process. Prompts stream back as they are produced, tool invocations are
surfaced for approval, and transcripts are archived locally.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetDebug(debugFlag)
		path, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		return logger.Init(path)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the CLI application.
func Execute() {
	err := rootCmd.Execute()
	logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
}

// openManager loads the config and archive and builds a session manager
// around them. The caller owns the store handle and must close it.
func openManager() (*config.Config, *store.Store, *manager.SessionManager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	archivePath, err := paths.ArchiveFilePath()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(archivePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening archive: %w", err)
	}

	sm := manager.NewSessionManager(cfg, st)
	if _, err := sm.RestoreFromArchive(); err != nil {
		logger.WithComponent("cmd").Warn("archive restore failed", "error", err)
	}
	return cfg, st, sm, nil
}

// resolveSession finds a session by name, creating it when create is set.
func resolveSession(cfg *config.Config, sm *manager.SessionManager, name, cwd string, create bool) (*config.Session, error) {
	if sess := cfg.FindSessionByName(name); sess != nil {
		return sess, nil
	}
	if !create {
		return nil, fmt.Errorf("no session named %q (use 'tether sessions new %s' or pass --new)", name, name)
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cwd = wd
	}
	return sm.CreateSession(name, cwd)
}
