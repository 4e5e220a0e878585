package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/nfrund/fellowship/internal/app"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/view"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var (
	unreadWatch    bool
	unreadStatus   bool
	unreadHTML     bool
	unreadMarkRead string
)

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread summary, or watch it and ring on new messages",
	Long: `Without flags, fetch the unread summary once and print it.

  --watch      keep polling (every FELLOWSHIP_UNREAD_INTERVAL, or the slower
               FELLOWSHIP_STATUS_INTERVAL with --status), refresh early on
               realtime notifications and play the notification sound when
               the count grows
  --html       print the dropdown fragment instead of text
  --mark-read  mark a channel as read before printing`,
	RunE: runUnread,
}

func runUnread(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := identity(cfg)
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
	out := cmd.OutOrStdout()

	if !unreadWatch {
		client := do.MustInvoke[*contentapi.Client](root)
		if unreadMarkRead != "" {
			if err := client.MarkRead(cmd.Context(), id.MemberID, unreadMarkRead); err != nil {
				return err
			}
		}
		summary, err := client.Unread(cmd.Context(), id.MemberID, cfg.UnreadLimit)
		if err != nil {
			return err
		}
		return printSummary(out, summary)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.SignInOption{app.WithUnreadUpdates(func(s domain.UnreadSummary) {
		if err := printSummary(out, s); err != nil {
			logger.Warn("Failed to print summary", "error", err)
		}
	})}
	if unreadStatus {
		opts = append(opts, app.WithStatusPolling())
	}
	member, err := app.SignIn(ctx, root, id, opts...)
	if err != nil {
		return err
	}
	defer member.SignOut()
	if unreadMarkRead != "" {
		member.Poller().MarkRead(ctx, unreadMarkRead)
	}

	serveMetrics(ctx, cfg.MetricsAddr, root, logger)
	<-ctx.Done()
	return nil
}

func printSummary(w io.Writer, s domain.UnreadSummary) error {
	if unreadHTML {
		if err := view.UnreadDropdown(s, view.DropdownOptions{}).Render(w); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	}
	_, err := fmt.Fprintln(w, view.UnreadText(s, time.Now()))
	return err
}

func init() {
	rootCmd.AddCommand(unreadCmd)
	unreadCmd.Flags().BoolVarP(&unreadWatch, "watch", "w", false, "keep polling and ring on new messages")
	unreadCmd.Flags().BoolVar(&unreadStatus, "status", false, "poll at the slower live-stream status interval")
	unreadCmd.Flags().BoolVar(&unreadHTML, "html", false, "print the HTML dropdown fragment")
	unreadCmd.Flags().StringVar(&unreadMarkRead, "mark-read", "", "channel id to mark as read")
}
