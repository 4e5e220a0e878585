package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nfrund/fellowship/internal/app"
	"github.com/nfrund/fellowship/internal/storage"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change local preferences",
	Long: `prefs reads the preferences file (FELLOWSHIP_PREFS_PATH): the notification
sound flag and the liked items per gallery.

Examples:
  fellowship prefs
  fellowship prefs sound off
  fellowship prefs like summer-camp 42
  fellowship prefs watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPreferences(func(p *storage.Preferences) error {
			printPreferences(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

var prefsSoundCmd = &cobra.Command{
	Use:       "sound on|off",
	Short:     "Enable or mute the notification sound",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch strings.ToLower(args[0]) {
		case "on", "true", "yes":
			enabled = true
		case "off", "false", "no":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withPreferences(func(p *storage.Preferences) error {
			if err := p.SetSoundEnabled(enabled); err != nil {
				return err
			}
			printPreferences(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

var prefsLikeCmd = &cobra.Command{
	Use:   "like <gallery> <item>",
	Short: "Toggle the liked state of a gallery item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPreferences(func(p *storage.Preferences) error {
			liked, err := p.ToggleLike(args[0], args[1])
			if err != nil {
				return err
			}
			state := "unliked"
			if liked {
				state = "liked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s\n", args[0], args[1], state)
			return nil
		})
	},
}

var prefsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the preferences whenever the file changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withPreferences(func(p *storage.Preferences) error {
			out := cmd.OutOrStdout()
			p.OnChange(func() { printPreferences(out, p) })
			printPreferences(out, p)
			if err := p.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	},
}

func withPreferences(fn func(*storage.Preferences) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closeLog()

	root := app.NewInjector(cfg, logger)
	defer app.Shutdown(root)
	prefs, err := do.Invoke[*storage.Preferences](root)
	if err != nil {
		return err
	}
	return fn(prefs)
}

func printPreferences(w io.Writer, p *storage.Preferences) {
	sound := "on"
	if !p.SoundEnabled() {
		sound = "off"
	}
	fmt.Fprintf(w, "sound: %s\n", sound)

	for _, g := range p.Galleries() {
		fmt.Fprintf(w, "liked %s: %s\n", g, strings.Join(p.Liked(g), ", "))
	}
}

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsSoundCmd, prefsLikeCmd, prefsWatchCmd)
}
