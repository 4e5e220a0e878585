package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nfrund/fellowship/internal/app"
	"github.com/nfrund/fellowship/internal/chat"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/storage"
	"github.com/nfrund/fellowship/internal/tui"
	"github.com/spf13/cobra"
)

var chatEmbedded bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the terminal chat",
	Long: `chat signs the member in, opens their realtime connection and shows the
channel list, the selected conversation, who is typing and the unread badge.

With --embedded the dev backend runs inside the same process on
FELLOWSHIP_DEV_ADDR and the client talks to it over the in-process bus.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id, err := identity(cfg)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	mt := metrics.New()
	opts := []app.Option{app.WithMetrics(mt)}
	if chatEmbedded {
		srv, err := newDevServer(cfg, logger, mt)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(cfg.DevAddr); err != nil {
				logger.Error("Embedded dev backend stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := waitListening(cfg.DevAddr, 2*time.Second); err != nil {
			return err
		}
		cfg.APIBaseURL = localURL(cfg.DevAddr) + "/api/"
		cfg.RealtimeURL = ""
		opts = append(opts, app.WithBus(srv.Bus()))
	}

	root := app.NewInjector(cfg, logger, opts...)
	defer app.Shutdown(root)

	feed := tui.NewFeed()
	defer feed.Stop()

	member, err := app.SignIn(ctx, root, id, app.WithUnreadUpdates(func(domain.UnreadSummary) {
		feed.Notify()
	}))
	if err != nil {
		return err
	}
	defer member.SignOut()

	unwatch := member.Connection().OnStateChange(func(realtime.State) { feed.Notify() })
	defer unwatch()

	session, err := member.NewSession(chat.WithOnChange(func(chat.Snapshot) { feed.Notify() }))
	if err != nil {
		return err
	}

	prefs := member.Preferences()
	go func() {
		if err := prefs.Watch(ctx); err != nil && !errors.Is(err, storage.ErrWatchUnsupported) && !errors.Is(err, context.Canceled) {
			logger.Warn("Preferences watch stopped", "error", err)
		}
	}()
	serveMetrics(ctx, cfg.MetricsAddr, root, logger)

	model := tui.New(tui.Options{
		Identity:    id,
		Session:     session,
		Directory:   member.Directory(),
		Unread:      member.Poller(),
		Connection:  member.Connection(),
		Preferences: prefs,
		Feed:        feed,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// localURL turns a listen address into a base URL on the loopback interface.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func waitListening(addr string, timeout time.Duration) error {
	target := strings.TrimPrefix(localURL(addr), "http://")
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", target, 200*time.Millisecond)
		if err == nil {
			return conn.Close()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("embedded dev backend did not start on %s: %w", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatEmbedded, "embedded", false, "run the dev backend in-process")
}
