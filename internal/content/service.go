package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tandemlabs/tandem/backend/internal/notify"
	"github.com/tandemlabs/tandem/backend/internal/pairing"
	"github.com/tandemlabs/tandem/backend/internal/retry"
	"github.com/tandemlabs/tandem/backend/internal/reward"
	"github.com/tandemlabs/tandem/backend/internal/rewardday"
)

const maxCasAttempts = 5

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCatalog    = errors.New("catalog is required")
	errMissingPairs      = errors.New("pairs dependency is required")
	errMissingRewards    = errors.New("rewards dependency is required")

	// ErrItemNotFound indicates no live item state exists for the identifier.
	ErrItemNotFound = errors.New("content: item not found")
	// ErrMemberNotInPair indicates the submitting member is not one of the
	// pair's two members.
	ErrMemberNotInPair = errors.New("content: member not in pair")
	// ErrConcurrentUpdate indicates the optimistic version check lost too
	// many times in a row; the caller should retry.
	ErrConcurrentUpdate = errors.New("content: concurrent update")
	// ErrAssignmentUnavailable indicates the ledger stayed unreachable
	// through the retry budget and no cached copy exists.
	ErrAssignmentUnavailable = errors.New("content: assignment unavailable")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew       = "content.service.new"
	opGetOrCreate      = "content.get_or_create_assignment"
	opSubmitCompletion = "content.submit_completion"
	opStatus           = "content.status"
	opRetirePairState  = "content.retire_pair_state"

	fieldPairID   = "pair_id"
	fieldItemID   = "item_id"
	fieldMemberID = "member_id"
	fieldDay      = "day"
)

// ServiceError carries a stable machine-readable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new content items.
type IDProvider interface {
	NewID() (string, error)
}

// Pairs resolves pair rows; only active pairs may play.
type Pairs interface {
	LookupActive(ctx context.Context, pairID pairing.PairID) (pairing.Pair, error)
}

// Rewards is the grant service surface the content service drives.
type Rewards interface {
	Amount(contentType string) (int64, error)
	TryGrant(ctx context.Context, pairID pairing.PairID, contentType, day, sourceItemID string) (reward.GrantResult, error)
	GrantsForDay(ctx context.Context, pairID pairing.PairID, day string) ([]reward.Grant, error)
}

// Sessions is the shared coordination cache; implementations must degrade to
// cache misses instead of failing.
type Sessions interface {
	ReadAssignment(ctx context.Context, pairID, day string) ([]byte, bool)
	WriteAssignment(ctx context.Context, pairID, day string, raw []byte, untilBoundary time.Duration)
	InvalidateStatus(ctx context.Context, pairID, day string)
	PublishEvent(ctx context.Context, event notify.PairEvent)
}

// Notifier receives fire-and-forget pair events.
type Notifier interface {
	Publish(event notify.PairEvent)
}

// ServiceConfig describes the content service dependencies.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
	Catalog     Catalog
	Pairs       Pairs
	Rewards     Rewards
	Sessions    Sessions
	Notifier    Notifier
	OffsetHours int
	RetryPolicy retry.Policy
}

// Service orchestrates assignments, completion state, and progression.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	catalog     Catalog
	pairs       Pairs
	rewards     Rewards
	sessions    Sessions
	notifier    Notifier
	offsetHours int
	retryPolicy retry.Policy
}

// NewService constructs the content service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Catalog == nil {
		return nil, newServiceError(opServiceNew, "missing_catalog", errMissingCatalog)
	}
	if cfg.Pairs == nil {
		return nil, newServiceError(opServiceNew, "missing_pairs", errMissingPairs)
	}
	if cfg.Rewards == nil {
		return nil, newServiceError(opServiceNew, "missing_rewards", errMissingRewards)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:          cfg.Database,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		catalog:     cfg.Catalog,
		pairs:       cfg.Pairs,
		rewards:     cfg.Rewards,
		sessions:    cfg.Sessions,
		notifier:    cfg.Notifier,
		offsetHours: cfg.OffsetHours,
		retryPolicy: cfg.RetryPolicy,
	}, nil
}

// AssignmentResult is the outcome of a get-or-create call.
type AssignmentResult struct {
	Assignment Assignment
	Items      []AssignmentItem
	Created    bool
	Stale      bool
}

// GetOrCreateAssignment returns today's shared content set, creating it when
// absent. Creation is first-writer-wins through the ledger's uniqueness
// constraint: a loser re-reads and returns the winner's row verbatim,
// discarding its local candidate, so both devices always see identical item
// identifiers. Progression cursors are read here but never advanced.
func (s *Service) GetOrCreateAssignment(ctx context.Context, pairID pairing.PairID, memberID pairing.MemberID) (AssignmentResult, error) {
	if !pairID.Contains(memberID) {
		return AssignmentResult{}, newServiceError(opGetOrCreate, "member_not_in_pair", ErrMemberNotInPair)
	}
	if _, err := s.pairs.LookupActive(ctx, pairID); err != nil {
		return AssignmentResult{}, newServiceError(opGetOrCreate, "pair_lookup_failed", err)
	}

	now := s.clock().UTC()
	day := rewardday.RewardDay(now, s.offsetHours)

	if cached, ok := s.readCachedAssignment(ctx, pairID, day); ok {
		return cached, nil
	}

	var stored Assignment
	var created bool
	attempt := func() error {
		return s.getOrCreateLedger(ctx, pairID, memberID, day, now, &stored, &created)
	}
	if err := retry.Do(ctx, s.retryPolicy, attempt, isRetryableLedgerError); err != nil {
		// Degrade to the most recently cached copy rather than blocking;
		// the caller sees a stale flag instead of an unbounded hang.
		if cached, ok := s.readCachedAssignment(ctx, pairID, day); ok {
			cached.Stale = true
			return cached, nil
		}
		s.logError(opGetOrCreate, "ledger_unavailable", err, zap.String(fieldPairID, pairID.String()))
		return AssignmentResult{}, newServiceError(opGetOrCreate, "ledger_unavailable", fmt.Errorf("%w: %v", ErrAssignmentUnavailable, err))
	}

	items, err := stored.Items()
	if err != nil {
		s.logError(opGetOrCreate, "items_decode_failed", err, zap.String(fieldPairID, pairID.String()))
		return AssignmentResult{}, newServiceError(opGetOrCreate, "items_decode_failed", err)
	}

	if s.sessions != nil {
		if raw, marshalErr := json.Marshal(stored); marshalErr == nil {
			s.sessions.WriteAssignment(ctx, pairID.String(), day, raw, rewardday.UntilBoundary(now, s.offsetHours))
		}
	}

	return AssignmentResult{Assignment: stored, Items: items, Created: created}, nil
}

func (s *Service) readCachedAssignment(ctx context.Context, pairID pairing.PairID, day string) (AssignmentResult, bool) {
	if s.sessions == nil {
		return AssignmentResult{}, false
	}
	raw, ok := s.sessions.ReadAssignment(ctx, pairID.String(), day)
	if !ok {
		return AssignmentResult{}, false
	}
	var cached Assignment
	if err := json.Unmarshal(raw, &cached); err != nil {
		return AssignmentResult{}, false
	}
	items, err := cached.Items()
	if err != nil {
		return AssignmentResult{}, false
	}
	return AssignmentResult{Assignment: cached, Items: items}, true
}

func (s *Service) getOrCreateLedger(ctx context.Context, pairID pairing.PairID, memberID pairing.MemberID, day string, now time.Time, stored *Assignment, created *bool) error {
	var existing Assignment
	err := s.db.WithContext(ctx).
		Where("pair_id = ? AND assignment_day = ?", pairID.String(), day).
		Take(&existing).Error
	if err == nil {
		*stored = existing
		*created = false
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	candidate, states, buildErr := s.buildCandidate(ctx, pairID, memberID, day, now)
	if buildErr != nil {
		return buildErr
	}

	return s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		createResult := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
		if createResult.Error != nil {
			return createResult.Error
		}
		if createResult.RowsAffected == 0 {
			// Lost the creation race: the candidate and everything computed
			// for it is discarded, the winner's row is authoritative.
			var winner Assignment
			if readErr := transaction.
				Where("pair_id = ? AND assignment_day = ?", pairID.String(), day).
				Take(&winner).Error; readErr != nil {
				return readErr
			}
			*stored = winner
			*created = false
			return nil
		}
		for index := range states {
			if stateErr := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&states[index]).Error; stateErr != nil {
				return stateErr
			}
		}
		*stored = candidate
		*created = true
		return nil
	})
}

func (s *Service) buildCandidate(ctx context.Context, pairID pairing.PairID, memberID pairing.MemberID, day string, now time.Time) (Assignment, []ItemState, error) {
	types := s.catalog.Types()
	items := make([]AssignmentItem, 0, len(types))
	states := make([]ItemState, 0, len(types))
	expiresAt := now.Add(rewardday.UntilBoundary(now, s.offsetHours)).Unix()

	for _, contentType := range types {
		cursor, err := s.readCursor(ctx, pairID, contentType)
		if err != nil {
			return Assignment{}, nil, err
		}
		catalogItem, err := s.catalog.Pick(contentType, cursor.Branch, cursor.Position)
		if err != nil {
			return Assignment{}, nil, err
		}
		amount, err := s.rewards.Amount(contentType.String())
		if err != nil {
			return Assignment{}, nil, err
		}
		itemID, err := s.idProvider.NewID()
		if err != nil {
			return Assignment{}, nil, err
		}

		items = append(items, AssignmentItem{
			ItemID:           itemID,
			ContentType:      contentType.String(),
			Title:            catalogItem.Title,
			Payload:          catalogItem.Payload,
			RewardAmount:     amount,
			ExpiresAtSeconds: expiresAt,
		})
		states = append(states, ItemState{
			ItemID:           itemID,
			PairID:           pairID.String(),
			AssignmentDay:    day,
			ContentType:      contentType.String(),
			CompletionsJSON:  "{}",
			Status:           StatusNotStarted,
			RewardAmount:     amount,
			CreatedAtSeconds: now.Unix(),
			ExpiresAtSeconds: expiresAt,
			Version:          1,
		})
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		return Assignment{}, nil, err
	}
	assignment := Assignment{
		PairID:           pairID.String(),
		AssignmentDay:    day,
		ItemsJSON:        string(encoded),
		CreatedBy:        memberID.String(),
		CreatedAtSeconds: now.Unix(),
	}
	return assignment, states, nil
}

func (s *Service) readCursor(ctx context.Context, pairID pairing.PairID, contentType ContentType) (Cursor, error) {
	var cursor Cursor
	err := s.db.WithContext(ctx).
		Where("pair_id = ? AND content_type = ?", pairID.String(), contentType.String()).
		Take(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Cursor{
			PairID:      pairID.String(),
			ContentType: contentType.String(),
			Branch:      DefaultBranch,
			Position:    0,
		}, nil
	}
	if err != nil {
		return Cursor{}, err
	}
	return cursor, nil
}

// ItemStateResult reports the item state after a completion submission.
type ItemStateResult struct {
	ItemID      string
	ContentType string
	Day         string
	Status      ItemStatus
	Completions map[string]CompletionEntry
	NoOp        bool
	Reward      *reward.GrantResult
}

// SubmitCompletion records one member's completion of one item. Writes are
// serialized per item by an optimistic version check; a lost check re-reads
// and re-merges, so both members' completion entries always survive.
// Resubmission by an already-completed member is an idempotent no-op, which
// also makes queued offline replays safe to apply twice. When the item
// reaches BothComplete the progression cursor advances one step in the same
// transaction and the daily reward grant is attempted.
func (s *Service) SubmitCompletion(ctx context.Context, pairID pairing.PairID, itemID ItemID, memberID pairing.MemberID) (ItemStateResult, error) {
	if !pairID.Contains(memberID) {
		return ItemStateResult{}, newServiceError(opSubmitCompletion, "member_not_in_pair", ErrMemberNotInPair)
	}
	if _, err := s.pairs.LookupActive(ctx, pairID); err != nil {
		return ItemStateResult{}, newServiceError(opSubmitCompletion, "pair_lookup_failed", err)
	}

	for attempt := 0; attempt < maxCasAttempts; attempt++ {
		var state ItemState
		err := s.db.WithContext(ctx).
			Where("item_id = ? AND pair_id = ? AND retired_at_s = 0", itemID.String(), pairID.String()).
			Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ItemStateResult{}, newServiceError(opSubmitCompletion, "item_not_found", ErrItemNotFound)
		}
		if err != nil {
			s.logError(opSubmitCompletion, "state_select_failed", err,
				zap.String(fieldPairID, pairID.String()),
				zap.String(fieldItemID, itemID.String()))
			return ItemStateResult{}, newServiceError(opSubmitCompletion, "state_select_failed", err)
		}

		now := s.clock().UTC()
		if expired, due := expireIfDue(state, now); due {
			s.writeExpiry(ctx, expired, state.Version)
			return ItemStateResult{}, newServiceError(opSubmitCompletion, "item_expired",
				fmt.Errorf("%w: item expired", ErrInvalidTransition))
		}

		outcome, err := applyCompletion(state, memberID.String(), now)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				s.logError(opSubmitCompletion, "invalid_transition", err,
					zap.String(fieldPairID, pairID.String()),
					zap.String(fieldItemID, itemID.String()),
					zap.String(fieldMemberID, memberID.String()))
				return ItemStateResult{}, newServiceError(opSubmitCompletion, "invalid_transition", err)
			}
			return ItemStateResult{}, newServiceError(opSubmitCompletion, "state_decode_failed", err)
		}

		if outcome.NoOp {
			return s.finalizeSubmission(ctx, pairID, state, true, false)
		}

		committed, err := s.commitTransition(ctx, pairID, state, outcome, now)
		if err != nil {
			return ItemStateResult{}, err
		}
		if !committed {
			// Lost the optimistic version check to the other member;
			// re-read and merge both completion entries.
			continue
		}
		return s.finalizeSubmission(ctx, pairID, outcome.Updated, false, outcome.ReachedBothComplete)
	}

	return ItemStateResult{}, newServiceError(opSubmitCompletion, "cas_exhausted", ErrConcurrentUpdate)
}

func (s *Service) commitTransition(ctx context.Context, pairID pairing.PairID, previous ItemState, outcome TransitionOutcome, now time.Time) (bool, error) {
	committed := false
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		updateResult := transaction.Model(&ItemState{}).
			Where("item_id = ? AND version = ?", previous.ItemID, previous.Version).
			Updates(map[string]interface{}{
				"completions_json": outcome.Updated.CompletionsJSON,
				"status":           outcome.Updated.Status,
				"version":          outcome.Updated.Version,
			})
		if updateResult.Error != nil {
			return updateResult.Error
		}
		if updateResult.RowsAffected == 0 {
			return nil
		}
		committed = true
		if !outcome.ReachedBothComplete {
			return nil
		}
		return transaction.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "pair_id"}, {Name: "content_type"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"position":     gorm.Expr("position + 1"),
				"updated_at_s": now.Unix(),
			}),
		}).Create(&Cursor{
			PairID:           pairID.String(),
			ContentType:      previous.ContentType,
			Branch:           DefaultBranch,
			Position:         1,
			UpdatedAtSeconds: now.Unix(),
		}).Error
	})
	if transactionError != nil {
		s.logError(opSubmitCompletion, "transition_commit_failed", transactionError,
			zap.String(fieldPairID, pairID.String()),
			zap.String(fieldItemID, previous.ItemID))
		return false, newServiceError(opSubmitCompletion, "transition_commit_failed", transactionError)
	}
	return committed, nil
}

func (s *Service) finalizeSubmission(ctx context.Context, pairID pairing.PairID, state ItemState, noOp, freshBothComplete bool) (ItemStateResult, error) {
	completions, err := state.Completions()
	if err != nil {
		return ItemStateResult{}, newServiceError(opSubmitCompletion, "state_decode_failed", err)
	}
	result := ItemStateResult{
		ItemID:      state.ItemID,
		ContentType: state.ContentType,
		Day:         state.AssignmentDay,
		Status:      state.Status,
		Completions: completions,
		NoOp:        noOp,
	}

	// A resubmission against a BothComplete item re-attempts the grant:
	// the insert is a no-op on conflict, and a replay after a failed first
	// attempt heals the missing grant.
	if state.Status == StatusBothComplete {
		grantResult, grantErr := s.rewards.TryGrant(ctx, pairID, state.ContentType, state.AssignmentDay, state.ItemID)
		if grantErr != nil {
			s.logError(opSubmitCompletion, "grant_failed", grantErr,
				zap.String(fieldPairID, pairID.String()),
				zap.String(fieldItemID, state.ItemID))
		} else {
			result.Reward = &grantResult
		}
	}

	if !noOp {
		s.publishEvents(ctx, pairID, state, result, freshBothComplete)
	}
	if s.sessions != nil {
		s.sessions.InvalidateStatus(ctx, pairID.String(), state.AssignmentDay)
	}
	return result, nil
}

func (s *Service) publishEvents(ctx context.Context, pairID pairing.PairID, state ItemState, result ItemStateResult, freshBothComplete bool) {
	if freshBothComplete {
		event := notify.PairEvent{
			PairID:      pairID.String(),
			EventType:   notify.EventItemBothComplete,
			ItemID:      state.ItemID,
			ContentType: state.ContentType,
			Day:         state.AssignmentDay,
			Timestamp:   s.clock().UTC(),
		}
		s.dispatch(ctx, event)
	}
	if result.Reward != nil && result.Reward.Granted {
		event := notify.PairEvent{
			PairID:      pairID.String(),
			EventType:   notify.EventRewardGranted,
			ItemID:      state.ItemID,
			ContentType: state.ContentType,
			Day:         state.AssignmentDay,
			Amount:      result.Reward.Amount,
			Timestamp:   s.clock().UTC(),
		}
		s.dispatch(ctx, event)
	}
}

func (s *Service) dispatch(ctx context.Context, event notify.PairEvent) {
	if s.notifier != nil {
		s.notifier.Publish(event)
	}
	if s.sessions != nil {
		s.sessions.PublishEvent(ctx, event)
	}
}

func (s *Service) writeExpiry(ctx context.Context, expired ItemState, previousVersion int64) {
	// Best effort: losing this write just means the next reader expires it.
	err := s.db.WithContext(ctx).Model(&ItemState{}).
		Where("item_id = ? AND version = ?", expired.ItemID, previousVersion).
		Updates(map[string]interface{}{
			"status":  expired.Status,
			"version": expired.Version,
		}).Error
	if err != nil {
		s.logError(opSubmitCompletion, "expiry_write_failed", err, zap.String(fieldItemID, expired.ItemID))
	}
}

// ItemStatusEntry is one item of a status report.
type ItemStatusEntry struct {
	ItemID           string                     `json:"item_id"`
	ContentType      string                     `json:"content_type"`
	Status           ItemStatus                 `json:"status"`
	Completions      map[string]CompletionEntry `json:"completions"`
	RewardAmount     int64                      `json:"reward_amount"`
	ExpiresAtSeconds int64                      `json:"expires_at_s"`
}

// PairStatus aggregates a pair's items and grants for one day.
type PairStatus struct {
	PairID string            `json:"pair_id"`
	Day    string            `json:"day"`
	Items  []ItemStatusEntry `json:"items"`
	Grants []reward.Grant    `json:"rewards_granted"`
}

// Status reports the pair's item states and reward grants for the given day.
// Expiry is applied lazily while reading; there is no background sweep.
func (s *Service) Status(ctx context.Context, pairID pairing.PairID, day string) (PairStatus, error) {
	if !rewardday.ValidDay(day) {
		return PairStatus{}, newServiceError(opStatus, "invalid_day", fmt.Errorf("%w: %q", ErrInvalidDay, day))
	}

	var states []ItemState
	err := s.db.WithContext(ctx).
		Where("pair_id = ? AND assignment_day = ? AND retired_at_s = 0", pairID.String(), day).
		Order("created_at_s ASC, item_id ASC").
		Find(&states).Error
	if err != nil {
		s.logError(opStatus, "query_failed", err, zap.String(fieldPairID, pairID.String()), zap.String(fieldDay, day))
		return PairStatus{}, newServiceError(opStatus, "query_failed", err)
	}

	now := s.clock().UTC()
	entries := make([]ItemStatusEntry, 0, len(states))
	for _, state := range states {
		if expired, due := expireIfDue(state, now); due {
			s.writeExpiry(ctx, expired, state.Version)
			state = expired
		}
		completions, decodeErr := state.Completions()
		if decodeErr != nil {
			return PairStatus{}, newServiceError(opStatus, "state_decode_failed", decodeErr)
		}
		entries = append(entries, ItemStatusEntry{
			ItemID:           state.ItemID,
			ContentType:      state.ContentType,
			Status:           state.Status,
			Completions:      completions,
			RewardAmount:     state.RewardAmount,
			ExpiresAtSeconds: state.ExpiresAtSeconds,
		})
	}

	grants, err := s.rewards.GrantsForDay(ctx, pairID, day)
	if err != nil {
		return PairStatus{}, newServiceError(opStatus, "grants_query_failed", err)
	}

	return PairStatus{PairID: pairID.String(), Day: day, Items: entries, Grants: grants}, nil
}

// RetirePairState soft-deletes the pair's live item state. Assignments stay
// untouched and expire naturally; grant rows are retained for audit.
func (s *Service) RetirePairState(ctx context.Context, pairID pairing.PairID) error {
	retiredAt := s.clock().UTC().Unix()
	err := s.db.WithContext(ctx).Model(&ItemState{}).
		Where("pair_id = ? AND retired_at_s = 0", pairID.String()).
		Update("retired_at_s", retiredAt).Error
	if err != nil {
		s.logError(opRetirePairState, "update_failed", err, zap.String(fieldPairID, pairID.String()))
		return newServiceError(opRetirePairState, "update_failed", err)
	}
	return nil
}

// isRetryableLedgerError treats validation and catalog errors as permanent;
// everything else (driver timeouts, disconnects) is retried.
func isRetryableLedgerError(err error) bool {
	permanent := []error{
		ErrUnknownContentType,
		ErrInvalidContentType,
		ErrInvalidDay,
		reward.ErrUnknownContentType,
	}
	for _, sentinel := range permanent {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("content service error", attrs...)
}
