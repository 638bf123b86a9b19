package incident

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wardenbot/warden/antinuke/cachestore"
	"github.com/wardenbot/warden/antinuke/platform"
)

const channelCacheNS = "syschan"

// Names of the tenant channels a record is posted to.
type Channels struct {
	Shame string
	Logs  string
}

type Sink interface {
	Emit(ctx context.Context, tenantID string, channels Channels, rec Record) error
}

// Posts records to the tenant's shame and logs channels, creating them when missing. Channel IDs are cached.
type ChannelSink struct {
	Messenger platform.Messenger
	Cache     cachestore.Store
	Logger    *slog.Logger
}

var _ Sink = (*ChannelSink)(nil)

func NewChannelSink(m platform.Messenger, cache cachestore.Store, logger *slog.Logger) *ChannelSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelSink{
		Messenger: m,
		Cache:     cache,
		Logger:    logger.With("component", "incident-sink"),
	}
}

func cacheKey(tenantID, name string) string {
	return tenantID + "/" + name
}

// Returns the ID of the named system channel, creating it if needed.
func (s *ChannelSink) Channel(ctx context.Context, tenantID, name string) (string, error) {
	if s.Cache != nil {
		id, ok, err := s.Cache.Get(ctx, channelCacheNS, cacheKey(tenantID, name))
		if err != nil {
			s.Logger.Warn("channel cache read failed", "err", err)
		} else if ok {
			return id, nil
		}
	}
	id, err := s.Messenger.EnsureTextChannel(ctx, tenantID, name)
	if err != nil {
		return "", err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, channelCacheNS, cacheKey(tenantID, name), id); err != nil {
			s.Logger.Warn("channel cache write failed", "err", err)
		}
	}
	return id, nil
}

// Drops the cached channel ID, eg after the channel was deleted.
func (s *ChannelSink) Forget(ctx context.Context, tenantID, name string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Purge(ctx, channelCacheNS, cacheKey(tenantID, name)); err != nil {
		s.Logger.Warn("channel cache purge failed", "err", err)
	}
}

// Sends the message to the named channel. A stale cached ID is re-resolved once.
func (s *ChannelSink) Send(ctx context.Context, tenantID, name, content string) (channelID, messageID string, err error) {
	channelID, err = s.Channel(ctx, tenantID, name)
	if err != nil {
		return "", "", err
	}
	messageID, err = s.Messenger.SendMessage(ctx, channelID, content)
	if errors.Is(err, platform.ErrNotFound) {
		s.Forget(ctx, tenantID, name)
		channelID, err = s.Channel(ctx, tenantID, name)
		if err != nil {
			return "", "", err
		}
		messageID, err = s.Messenger.SendMessage(ctx, channelID, content)
	}
	if err != nil {
		return "", "", err
	}
	return channelID, messageID, nil
}

// Posts to both channels. A failure on one does not stop the other; the joined error is returned.
func (s *ChannelSink) Emit(ctx context.Context, tenantID string, channels Channels, rec Record) error {
	payload := rec.Format()
	var errs []error
	for _, name := range []string{channels.Shame, channels.Logs} {
		if name == "" {
			continue
		}
		if _, _, err := s.Send(ctx, tenantID, name, payload); err != nil {
			s.Logger.Warn("failed to post incident", "tenant", tenantID, "channel", name, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
