package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mossy-p/etherchat/config"
	"github.com/redis/go-redis/v9"
)

const updateBuffer = 1024

// Connect opens a client for cfg and checks it with a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// PeersKey is the set holding the live connection ids of a room.
func PeersKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

type update struct {
	roomID string
	connID string
	joined bool
}

// Mirror copies room membership into redis sets for outside observers. It
// is write-only: the hub never reads membership back from redis.
//
// Joined and Left never block. When the update buffer is full the update is
// dropped and logged; the set TTL bounds how long a stale entry can live.
type Mirror struct {
	client  redis.Cmdable
	ttl     time.Duration
	updates chan update
	logger  *slog.Logger
}

// NewMirror returns a mirror writing to client. Sets expire ttl after the
// last join.
func NewMirror(client redis.Cmdable, ttl time.Duration) *Mirror {
	return &Mirror{
		client:  client,
		ttl:     ttl,
		updates: make(chan update, updateBuffer),
		logger:  slog.Default().With("component", "presence"),
	}
}

// Joined queues the addition of connID to roomID.
func (m *Mirror) Joined(roomID, connID string) {
	m.enqueue(update{roomID: roomID, connID: connID, joined: true})
}

// Left queues the removal of connID from roomID.
func (m *Mirror) Left(roomID, connID string) {
	m.enqueue(update{roomID: roomID, connID: connID})
}

func (m *Mirror) enqueue(u update) {
	select {
	case m.updates <- u:
	default:
		m.logger.Warn("presence buffer full, dropping update", "room", u.roomID, "conn", u.connID)
	}
}

// Run applies queued updates until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-m.updates:
			if err := m.apply(ctx, u); err != nil {
				m.logger.Warn("presence update failed", "room", u.roomID, "conn", u.connID, "err", err)
			}
		}
	}
}

func (m *Mirror) apply(ctx context.Context, u update) error {
	key := PeersKey(u.roomID)

	if u.joined {
		pipe := m.client.TxPipeline()
		pipe.SAdd(ctx, key, u.connID)
		pipe.Expire(ctx, key, m.ttl)
		_, err := pipe.Exec(ctx)
		return err
	}

	// Redis drops a set once its last member is removed, matching the
	// directory's empty-room rule.
	return m.client.SRem(ctx, key, u.connID).Err()
}
