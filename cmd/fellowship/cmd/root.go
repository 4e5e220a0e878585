package cmd

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/nfrund/fellowship/internal/config"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/logging"
	"github.com/spf13/cobra"
)

var (
	memberFlag   string
	nameFlag     string
	logLevelFlag string
	logFileFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "fellowship",
	Short: "Terminal client for the fellowship member portal chat",
	Long: `fellowship talks to the member portal's chat: channels, live conversations,
typing indicators and the unread notification badge.

Configuration comes from FELLOWSHIP_* environment variables or a .env file.
Without FELLOWSHIP_REALTIME_URL the client uses an in-process loopback transport,
which is what "fellowship chat --embedded" pairs with the dev backend.

Use "fellowship [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&memberFlag, "member", "", "member id (overrides FELLOWSHIP_MEMBER_ID)")
	rootCmd.PersistentFlags().StringVar(&nameFlag, "name", "", "display name (overrides FELLOWSHIP_MEMBER_NAME)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error (overrides FELLOWSHIP_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "write logs to this file instead of stderr")
}

// loadConfig reads the environment and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if memberFlag != "" {
		cfg.MemberID = memberFlag
	}
	if nameFlag != "" {
		cfg.MemberName = nameFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	return cfg, nil
}

// newLogger builds the process logger. quiet sends logs nowhere unless a log
// file is given, which keeps full-screen commands readable.
func newLogger(cfg *config.Config, quiet bool) (*slog.Logger, func(), error) {
	if logFileFlag != "" {
		f, err := os.OpenFile(logFileFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return logging.NewWriter(f, cfg.LogFormat, cfg.LogLevel), func() { _ = f.Close() }, nil
	}
	var w io.Writer = os.Stderr
	if quiet {
		w = io.Discard
	}
	return logging.NewWriter(w, cfg.LogFormat, cfg.LogLevel), func() {}, nil
}

func identity(cfg *config.Config) (domain.Identity, error) {
	id := domain.Identity{MemberID: cfg.MemberID, DisplayName: cfg.MemberName}
	if !id.Valid() {
		return id, errors.New("no member identity: set FELLOWSHIP_MEMBER_ID or pass --member")
	}
	return id, nil
}
