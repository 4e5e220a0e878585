// Package app wires the client together. A root injector holds the services
// shared by the whole process; every signed-in member gets its own scope
// holding the connection manager, the unread poller and the channel directory.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nfrund/fellowship/internal/config"
	"github.com/nfrund/fellowship/internal/contentapi"
	"github.com/nfrund/fellowship/internal/domain"
	"github.com/nfrund/fellowship/internal/metrics"
	"github.com/nfrund/fellowship/internal/notify"
	"github.com/nfrund/fellowship/internal/pubsub"
	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/storage"
	"github.com/nfrund/fellowship/internal/websocket"
	"github.com/samber/do/v2"
	"github.com/spf13/afero"
)

// TransportFactory builds a fresh realtime transport for one member.
type TransportFactory func(identity domain.Identity) (realtime.Transport, error)

// Option customizes the root injector.
type Option func(*options)

type options struct {
	fs      afero.Fs
	bus     realtime.Bus
	player  notify.Player
	metrics *metrics.Metrics
}

// WithFs sets the filesystem holding the preferences file.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithBus attaches loopback transports to an existing bus, such as the one
// of an embedded dev server. The caller keeps ownership of bus.
func WithBus(bus realtime.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithPlayer replaces the notification sound player.
func WithPlayer(p notify.Player) Option {
	return func(o *options) {
		o.player = p
	}
}

// WithMetrics shares an existing metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ownedBus marks a bus created by the injector, which closes it on Shutdown.
type ownedBus struct {
	*pubsub.WatermillBridge
}

// NewInjector registers the process-wide services. Providers are lazy; a
// command that never signs in never dials anything.
func NewInjector(cfg *config.Config, logger *slog.Logger, opts ...Option) do.Injector {
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue(i, logger)
	do.ProvideValue(i, o.fs)

	if o.metrics != nil {
		do.ProvideValue(i, o.metrics)
	} else {
		do.Provide(i, func(do.Injector) (*metrics.Metrics, error) {
			return metrics.New(), nil
		})
	}

	if o.bus != nil {
		do.ProvideValue(i, o.bus)
	} else {
		do.Provide(i, func(do.Injector) (*ownedBus, error) {
			return &ownedBus{pubsub.NewWatermillBridge()}, nil
		})
		do.Provide(i, func(i do.Injector) (realtime.Bus, error) {
			bus, err := do.Invoke[*ownedBus](i)
			if err != nil {
				return nil, err
			}
			return bus, nil
		})
	}

	if o.player != nil {
		do.ProvideValue(i, o.player)
	} else {
		do.Provide(i, newPlayer)
	}

	do.Provide(i, newContentClient)
	do.Provide(i, newPreferences)
	do.Provide(i, newTransportFactory)
	return i
}

// Shutdown releases the root services.
func Shutdown(i do.Injector) {
	if bus, err := do.Invoke[*ownedBus](i); err == nil {
		if err := bus.Close(); err != nil {
			do.MustInvoke[*slog.Logger](i).Warn("Failed to close bus", "error", err)
		}
	}
	i.Shutdown()
}

func newContentClient(i do.Injector) (*contentapi.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	paths := contentapi.DefaultPaths()
	if cfg.AuthPath != "" {
		paths.Auth = cfg.AuthPath
	}
	return contentapi.New(cfg.APIBaseURL,
		contentapi.WithPaths(paths),
		contentapi.WithTimeout(cfg.RequestTimeout),
		contentapi.WithLogger(logger.With("component", "contentapi")),
	), nil
}

func newPreferences(i do.Injector) (*storage.Preferences, error) {
	cfg := do.MustInvoke[*config.Config](i)
	fs := do.MustInvoke[afero.Fs](i)
	logger := do.MustInvoke[*slog.Logger](i)
	return storage.NewPreferences(fs, cfg.PrefsPath, logger.With("component", "storage"))
}

func newPlayer(i do.Injector) (notify.Player, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	if cfg.SoundCommand == "" {
		return notify.NewBell(os.Stderr), nil
	}
	return notify.NewCommand(cfg.SoundCommand, cfg.SoundAsset, logger.With("component", "sound"))
}

func newTransportFactory(i do.Injector) (TransportFactory, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	if cfg.UsesLoopback() {
		bus, err := do.Invoke[realtime.Bus](i)
		if err != nil {
			return nil, err
		}
		logger.Info("No realtime URL configured, using in-process loopback transport")
		return func(domain.Identity) (realtime.Transport, error) {
			return realtime.NewLoopback(bus), nil
		}, nil
	}

	wsURL, err := websocket.AppURL(cfg.RealtimeURL, cfg.RealtimeKey)
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	client, err := do.Invoke[*contentapi.Client](i)
	if err != nil {
		return nil, err
	}
	auth := Authorizer(client)
	return func(domain.Identity) (realtime.Transport, error) {
		return websocket.NewTransport(wsURL, auth,
			websocket.WithLogger(logger.With("component", "websocket")),
		), nil
	}, nil
}

// Authorizer signs broker subscriptions through the content API.
func Authorizer(client *contentapi.Client) websocket.Authorizer {
	return websocket.AuthorizerFunc(func(ctx context.Context, socketID, channel string, identity domain.Identity) (websocket.Credentials, error) {
		a, err := client.Authorize(ctx, socketID, channel, identity.MemberID)
		if err != nil {
			return websocket.Credentials{}, err
		}
		return websocket.Credentials{Auth: a.Auth, ChannelData: a.ChannelData}, nil
	})
}
