// Package session is the low-latency coordination cache both devices of a
// pair read and write. It only ever caches copies: the existence of an
// assignment is decided by the ledger's create-if-absent insert, never by
// this store, and every method degrades to a cache miss when Redis is
// unreachable. A nil *Store is a valid no-op store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tandemlabs/tandem/backend/internal/notify"
)

const (
	keyPrefix       = "tandem"
	defaultChannel  = "tandem:events"
	dialTimeout     = 5 * time.Second
	ttlSlack        = time.Hour
	maxTTL          = 25 * time.Hour
	assignmentField = "assignment"
	statusField     = "status"
)

var errMissingAddress = errors.New("session: redis address required")

// Config describes the Redis connection for the shared session store.
type Config struct {
	Address string
	Channel string
	Logger  *zap.Logger
}

// Store caches assignment and status documents keyed by (pair, day) and
// publishes pair events across processes.
type Store struct {
	rdb     *goredis.Client
	channel string
	logger  *zap.Logger
}

// NewStore connects to Redis and verifies the connection with a bounded ping.
func NewStore(cfg Config) (*Store, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errMissingAddress
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = defaultChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        address,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("session: redis ping: %w", err)
	}

	return &Store{rdb: rdb, channel: channel, logger: logger}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// ReadAssignment returns the cached assignment document for the pair and day.
func (s *Store) ReadAssignment(ctx context.Context, pairID, day string) ([]byte, bool) {
	return s.read(ctx, documentKey(pairID, day, assignmentField))
}

// WriteAssignment caches the assignment document until shortly after the
// next day boundary.
func (s *Store) WriteAssignment(ctx context.Context, pairID, day string, raw []byte, untilBoundary time.Duration) {
	s.write(ctx, documentKey(pairID, day, assignmentField), raw, untilBoundary)
}

// ReadStatus returns the cached status document for the pair and day.
func (s *Store) ReadStatus(ctx context.Context, pairID, day string) ([]byte, bool) {
	return s.read(ctx, documentKey(pairID, day, statusField))
}

// WriteStatus caches the status document.
func (s *Store) WriteStatus(ctx context.Context, pairID, day string, raw []byte, untilBoundary time.Duration) {
	s.write(ctx, documentKey(pairID, day, statusField), raw, untilBoundary)
}

// InvalidateStatus drops the cached status document after a mutation so the
// partner's next read goes to the ledger.
func (s *Store) InvalidateStatus(ctx context.Context, pairID, day string) {
	if s == nil || s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, documentKey(pairID, day, statusField)).Err(); err != nil {
		s.logWarn("status invalidate failed", err)
	}
}

// PublishEvent broadcasts the event to all processes subscribed to the
// session channel. Failures are logged and swallowed; event delivery is
// advisory and never gates a committed transition.
func (s *Store) PublishEvent(ctx context.Context, event notify.PairEvent) {
	if s == nil || s.rdb == nil {
		return
	}
	raw, err := json.Marshal(event)
	if err != nil {
		s.logWarn("event encode failed", err)
		return
	}
	if err := s.rdb.Publish(ctx, s.channel, raw).Err(); err != nil {
		s.logWarn("event publish failed", err)
	}
}

// StartForwarder subscribes to the session channel and forwards decoded
// events to onEvent until the context is cancelled. It is used to bridge
// cross-process events into the in-process dispatcher.
func (s *Store) StartForwarder(ctx context.Context, onEvent func(notify.PairEvent)) error {
	if s == nil || s.rdb == nil {
		return errors.New("session: store not initialized")
	}
	subscription := s.rdb.Subscribe(ctx, s.channel)
	go func() {
		defer subscription.Close()
		stream := subscription.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case message, open := <-stream:
				if !open {
					return
				}
				var event notify.PairEvent
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					s.logWarn("event decode failed", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, bool) {
	if s == nil || s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logWarn("cache read failed", err)
		return nil, false
	}
	return raw, true
}

func (s *Store) write(ctx context.Context, key string, raw []byte, untilBoundary time.Duration) {
	if s == nil || s.rdb == nil {
		return
	}
	ttl := untilBoundary + ttlSlack
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.logWarn("cache write failed", err)
	}
}

func (s *Store) logWarn(message string, err error) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Warn("session store degraded: "+message, zap.Error(err))
}

func documentKey(pairID, day, field string) string {
	return fmt.Sprintf("%s:{%s}:%s:%s", keyPrefix, pairID, day, field)
}
