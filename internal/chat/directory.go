package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nfrund/fellowship/internal/domain"
)

// ChannelSource lists the channels a member belongs to.
type ChannelSource interface {
	Channels(ctx context.Context, memberID string) (domain.ChannelList, error)
}

// Directory caches the member's channel list.
type Directory struct {
	source   ChannelSource
	memberID string
	logger   *slog.Logger

	mu       sync.RWMutex
	channels domain.ChannelList
	loaded   bool
}

// NewDirectory creates an empty directory for memberID.
func NewDirectory(source ChannelSource, memberID string, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{source: source, memberID: memberID, logger: logger.With("component", "directory")}
}

// Load fetches the channel list. A failed load keeps the previous list.
func (d *Directory) Load(ctx context.Context) (domain.ChannelList, error) {
	list, err := d.source.Channels(ctx, d.memberID)
	if err != nil {
		d.logger.Error("Failed to load channels", "member_id", d.memberID, "error", err)
		return d.Channels(), err
	}

	d.mu.Lock()
	d.channels = list
	d.loaded = true
	d.mu.Unlock()

	d.logger.Debug("Loaded channels", "count", list.Len())
	return list, nil
}

// Channels returns the last loaded list.
func (d *Directory) Channels() domain.ChannelList {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels
}

// Find looks a channel up by id, loading the list on first use.
func (d *Directory) Find(ctx context.Context, id string) (domain.Channel, error) {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()

	if !loaded {
		if _, err := d.Load(ctx); err != nil {
			return domain.Channel{}, err
		}
	}
	ch, ok := d.Channels().Find(id)
	if !ok {
		return domain.Channel{}, domain.ErrNotFound
	}
	return ch, nil
}
