// Package localcache provides the device-side embedded cache. It buffers
// the last fetched assignment and status documents for offline rendering
// and queues completion submissions for in-order replay on reconnect.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tandemlabs/tandem/backend/internal/rewardday"
)

// DefaultStaleAfter marks cached documents stale once they are older than
// this; stale documents are still returned for offline rendering.
const DefaultStaleAfter = 15 * time.Minute

var (
	// ErrCacheMiss indicates no cached document exists for the key.
	ErrCacheMiss = errors.New("localcache: cache miss")

	errMissingPath = errors.New("cache file path is required")

	noOpLogger = zap.NewNop()
)

const (
	opOpen    = "localcache.open"
	opRead    = "localcache.read"
	opWrite   = "localcache.write"
	opEnqueue = "localcache.enqueue"
	opReplay  = "localcache.replay"
	opPurge   = "localcache.purge"
)

// Document is a cached JSON payload with its freshness verdict.
type Document struct {
	PayloadJSON string
	FetchedAt   time.Time
	Stale       bool
}

// SubmitFunc delivers one queued completion to the server. Delivery must be
// idempotent on the server side; replay may hand the same entry over twice
// when a reconnect races an earlier in-flight attempt.
type SubmitFunc func(ctx context.Context, pairID, itemID, memberID string) error

// ReplayReport summarizes one replay drain.
type ReplayReport struct {
	// Applied counts entries accepted by the server.
	Applied int
	// Dropped lists entries rejected permanently; they are removed from
	// the queue and will never be retried.
	Dropped []PendingCompletion
	// Remaining counts entries still queued after a transient failure
	// stopped the drain.
	Remaining int
}

// Config describes the cache dependencies.
type Config struct {
	// Path is the sqlite file location; ":memory:" style DSNs work in tests.
	Path       string
	Clock      func() time.Time
	Logger     *zap.Logger
	StaleAfter time.Duration
}

// Cache is the embedded per-device store.
type Cache struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	staleAfter time.Duration
}

// Open creates or opens the cache file and runs its schema migration.
func Open(cfg Config) (*Cache, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s.missing_path: %w", opOpen, errMissingPath)
	}
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("%s.open_failed: %w", opOpen, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s.open_failed: %w", opOpen, err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&CachedAssignment{}, &CachedStatus{}, &PendingCompletion{}); err != nil {
		return nil, fmt.Errorf("%s.migrate_failed: %w", opOpen, err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Cache{db: db, clock: clock, logger: logger, staleAfter: staleAfter}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WriteAssignment stores the assignment document for (pair, day).
func (c *Cache) WriteAssignment(ctx context.Context, pairID, day, payloadJSON string) error {
	return c.writeDocument(ctx, &CachedAssignment{
		PairID:           pairID,
		AssignmentDay:    day,
		PayloadJSON:      payloadJSON,
		FetchedAtSeconds: c.clock().Unix(),
	})
}

// ReadAssignment returns the cached assignment document for (pair, day).
// A hit is returned even when stale; offline rendering prefers old data
// over none.
func (c *Cache) ReadAssignment(ctx context.Context, pairID, day string) (Document, error) {
	var row CachedAssignment
	err := c.db.WithContext(ctx).
		Where("pair_id = ? AND assignment_day = ?", pairID, day).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrCacheMiss
	}
	if err != nil {
		c.logError(opRead, "assignment_query_failed", err, pairID)
		return Document{}, fmt.Errorf("%s.assignment_query_failed: %w", opRead, err)
	}
	return c.toDocument(row.PayloadJSON, row.FetchedAtSeconds), nil
}

// WriteStatus stores the status document for (pair, day).
func (c *Cache) WriteStatus(ctx context.Context, pairID, day, payloadJSON string) error {
	return c.writeDocument(ctx, &CachedStatus{
		PairID:           pairID,
		AssignmentDay:    day,
		PayloadJSON:      payloadJSON,
		FetchedAtSeconds: c.clock().Unix(),
	})
}

// ReadStatus returns the cached status document for (pair, day).
func (c *Cache) ReadStatus(ctx context.Context, pairID, day string) (Document, error) {
	var row CachedStatus
	err := c.db.WithContext(ctx).
		Where("pair_id = ? AND assignment_day = ?", pairID, day).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrCacheMiss
	}
	if err != nil {
		c.logError(opRead, "status_query_failed", err, pairID)
		return Document{}, fmt.Errorf("%s.status_query_failed: %w", opRead, err)
	}
	return c.toDocument(row.PayloadJSON, row.FetchedAtSeconds), nil
}

// EnqueueCompletion records an offline completion submission for later
// replay. Queue order is preserved by the auto-incremented row id.
func (c *Cache) EnqueueCompletion(ctx context.Context, pairID, itemID, memberID string) error {
	entry := PendingCompletion{
		PairID:            pairID,
		ItemID:            itemID,
		MemberID:          memberID,
		EnqueuedAtSeconds: c.clock().Unix(),
	}
	if err := c.db.WithContext(ctx).Create(&entry).Error; err != nil {
		c.logError(opEnqueue, "insert_failed", err, pairID)
		return fmt.Errorf("%s.insert_failed: %w", opEnqueue, err)
	}
	return nil
}

// PendingCount reports how many completions await replay.
func (c *Cache) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	if err := c.db.WithContext(ctx).Model(&PendingCompletion{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%s.count_failed: %w", opReplay, err)
	}
	return count, nil
}

// Replay drains the pending-completion queue in enqueue order. Each entry
// is handed to submit; entries it rejects permanently (isPermanent returns
// true) are dropped from the queue and reported, a transient failure stops
// the drain so the next reconnect resumes from the same entry. Duplicate
// delivery is safe because completion submission is idempotent server-side.
func (c *Cache) Replay(ctx context.Context, submit SubmitFunc, isPermanent func(error) bool) (ReplayReport, error) {
	if isPermanent == nil {
		isPermanent = func(error) bool { return false }
	}
	var queue []PendingCompletion
	if err := c.db.WithContext(ctx).Order("id ASC").Find(&queue).Error; err != nil {
		c.logError(opReplay, "queue_read_failed", err, "")
		return ReplayReport{}, fmt.Errorf("%s.queue_read_failed: %w", opReplay, err)
	}

	report := ReplayReport{Remaining: len(queue)}
	for _, entry := range queue {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := submit(ctx, entry.PairID, entry.ItemID, entry.MemberID)
		if err != nil && !isPermanent(err) {
			c.logger.Warn("replay paused on transient failure",
				zap.String("operation", opReplay),
				zap.Uint64("entry_id", entry.ID),
				zap.Error(err))
			return report, nil
		}
		if err != nil {
			report.Dropped = append(report.Dropped, entry)
			c.logger.Warn("replay dropped rejected entry",
				zap.String("operation", opReplay),
				zap.Uint64("entry_id", entry.ID),
				zap.String("item_id", entry.ItemID),
				zap.Error(err))
		} else {
			report.Applied++
		}
		if deleteErr := c.db.WithContext(ctx).Delete(&PendingCompletion{}, entry.ID).Error; deleteErr != nil {
			c.logError(opReplay, "dequeue_failed", deleteErr, entry.PairID)
			return report, fmt.Errorf("%s.dequeue_failed: %w", opReplay, deleteErr)
		}
		report.Remaining--
	}
	return report, nil
}

// PurgeBefore removes cached documents older than the given reward day.
// The pending queue is never purged; it drains only through Replay.
func (c *Cache) PurgeBefore(ctx context.Context, day string) error {
	if !rewardday.ValidDay(day) {
		return fmt.Errorf("%s.invalid_day: %q", opPurge, day)
	}
	if err := c.db.WithContext(ctx).Where("assignment_day < ?", day).Delete(&CachedAssignment{}).Error; err != nil {
		c.logError(opPurge, "assignment_delete_failed", err, "")
		return fmt.Errorf("%s.assignment_delete_failed: %w", opPurge, err)
	}
	if err := c.db.WithContext(ctx).Where("assignment_day < ?", day).Delete(&CachedStatus{}).Error; err != nil {
		c.logError(opPurge, "status_delete_failed", err, "")
		return fmt.Errorf("%s.status_delete_failed: %w", opPurge, err)
	}
	return nil
}

func (c *Cache) writeDocument(ctx context.Context, row interface{}) error {
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		c.logError(opWrite, "upsert_failed", err, "")
		return fmt.Errorf("%s.upsert_failed: %w", opWrite, err)
	}
	return nil
}

func (c *Cache) toDocument(payload string, fetchedAtSeconds int64) Document {
	fetchedAt := time.Unix(fetchedAtSeconds, 0).UTC()
	return Document{
		PayloadJSON: payload,
		FetchedAt:   fetchedAt,
		Stale:       c.clock().Sub(fetchedAt) > c.staleAfter,
	}
}

func (c *Cache) logError(operation, reason string, err error, pairID string) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if pairID != "" {
		fields = append(fields, zap.String("pair_id", pairID))
	}
	c.logger.Error("local cache error", fields...)
}
