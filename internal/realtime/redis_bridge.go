package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-spot-reservation/internal/apperr"
	"github.com/iliyamo/parking-spot-reservation/internal/model"
)

// DefaultPrefix is prepended to the zone id to form the Redis channel.
const DefaultPrefix = "spots:zone:"

// RedisBridge carries changes between nodes over Redis Pub/Sub.  Publish
// sends to the zone channel; Run listens on every zone channel and hands
// what it hears to the local hub.
type RedisBridge struct {
	rdb    *redis.Client
	hub    *Hub
	prefix string
	log    *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewRedisBridge creates a bridge.  An empty prefix means DefaultPrefix.
func NewRedisBridge(rdb *redis.Client, hub *Hub, prefix string, log *slog.Logger) *RedisBridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBridge{
		rdb:        rdb,
		hub:        hub,
		prefix:     prefix,
		log:        log,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 15 * time.Second,
	}
}

// Channel returns the Redis channel for a zone.
func (b *RedisBridge) Channel(zoneID int64) string {
	return b.prefix + strconv.FormatInt(zoneID, 10)
}

// Publish sends ev to its zone channel.
func (b *RedisBridge) Publish(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.Channel(ev.ZoneID), string(payload)).Err(); err != nil {
		return apperr.Unavailable("redis pubsub", err)
	}
	return nil
}

// Run subscribes to every zone channel and forwards messages to the hub
// until ctx is done.  Hub health follows the subscription: CONNECTING
// while subscribing, LIVE once Redis confirms, OFFLINE after an error.
// It reconnects with exponential backoff.
func (b *RedisBridge) Run(ctx context.Context) {
	backoff := b.minBackoff
	for {
		b.hub.SetHealth(Connecting)
		err := b.listen(ctx, func() { backoff = b.minBackoff })
		if ctx.Err() != nil {
			b.hub.SetHealth(Offline)
			return
		}
		b.hub.SetHealth(Offline)
		b.log.Warn("realtime feed lost", "err", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > b.maxBackoff {
			backoff = b.maxBackoff
		}
	}
}

func (b *RedisBridge) listen(ctx context.Context, onLive func()) error {
	ps := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	b.hub.SetHealth(Live)
	onLive()
	b.log.Info("realtime feed live", "pattern", b.prefix+"*")

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		if err := b.deliver(ctx, msg.Channel, msg.Payload); err != nil {
			b.log.Warn("discarding realtime message", "channel", msg.Channel, "err", err)
		}
	}
}

// deliver decodes one message and passes it to the hub.
func (b *RedisBridge) deliver(ctx context.Context, channel, payload string) error {
	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return err
	}
	if !strings.HasPrefix(channel, b.prefix) {
		return errors.New("unexpected channel")
	}
	zoneID, err := strconv.ParseInt(strings.TrimPrefix(channel, b.prefix), 10, 64)
	if err != nil || zoneID != ev.ZoneID {
		return errors.New("event zone does not match channel")
	}
	return b.hub.Publish(ctx, ev)
}
