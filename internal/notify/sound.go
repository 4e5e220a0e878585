package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ErrNoAsset is returned when the sound file is missing.
var ErrNoAsset = errors.New("notification sound asset not found")

// Bell rings the terminal bell.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBell writes the bell character to w.
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

func (b *Bell) Play(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := io.WriteString(b.w, "\a")
	return err
}

// Command plays an audio file with an external program such as paplay or
// afplay. Starting a new play stops the previous one so the sound restarts.
type Command struct {
	program string
	args    []string
	asset   string
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommand parses commandLine ("paplay" or "mpv --really-quiet") and plays
// asset with it.
func NewCommand(commandLine, asset string, logger *slog.Logger) (*Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("empty sound command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{program: fields[0], args: fields[1:], asset: asset, logger: logger}, nil
}

func (c *Command) Play(ctx context.Context) error {
	if _, err := os.Stat(c.asset); err != nil {
		return fmt.Errorf("%w: %s", ErrNoAsset, c.asset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	args := append(append([]string{}, c.args...), c.asset)
	cmd := exec.CommandContext(ctx, c.program, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", c.program, err)
	}
	go func() {
		defer cancel()
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			c.logger.Debug("Sound command exited", "program", c.program, "error", err)
		}
	}()
	return nil
}

// Stop interrupts the current sound, if any.
func (c *Command) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
