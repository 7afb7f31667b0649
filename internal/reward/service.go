package reward

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tandemlabs/tandem/backend/internal/pairing"
	"github.com/tandemlabs/tandem/backend/internal/rewardday"
)

// DefaultAmount applies to content types missing from the configured table.
const DefaultAmount = 30

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrUnknownContentType indicates no amount is configured for the type.
	ErrUnknownContentType = errors.New("reward: unknown content type")
	// ErrInvalidDay indicates a malformed reward day string.
	ErrInvalidDay = errors.New("reward: invalid reward day")

	noOpLogger = zap.NewNop()
)

const (
	opTryGrant     = "reward.try_grant"
	opStartPermit  = "reward.start_permit"
	opBalance      = "reward.balance"
	opGrantsForDay = "reward.grants_for_day"
	opPurge        = "reward.purge"

	fieldPairID      = "pair_id"
	fieldContentType = "content_type"
	fieldRewardDay   = "reward_day"
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

// GrantResult reports the outcome of a grant attempt.
type GrantResult struct {
	Granted        bool
	AlreadyGranted bool
	Amount         int64
	NextBoundaryIn time.Duration
}

// StartPermit reports whether a content type may be started now.
type StartPermit struct {
	Allowed bool
	ResetIn time.Duration
}

// ServiceConfig describes the grant service dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// OffsetHours shifts the reward-day boundary; may be negative.
	OffsetHours int
	// UnlimitedContentMode allows replaying content after today's grant.
	// When false ("content-lock"), StartPermit denies further play until
	// the boundary passes.
	UnlimitedContentMode bool
	// Amounts maps content types to their flat reward amount. Types absent
	// from the map are unknown and rejected.
	Amounts map[string]int64
}

// Service issues rewards against the durable grant ledger.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	logger        *zap.Logger
	offsetHours   int
	unlimitedMode bool
	amounts       map[string]int64
}

// NewService constructs the reward grant service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opTryGrant, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	amounts := make(map[string]int64, len(cfg.Amounts))
	for contentType, amount := range cfg.Amounts {
		amounts[contentType] = amount
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		logger:        logger,
		offsetHours:   cfg.OffsetHours,
		unlimitedMode: cfg.UnlimitedContentMode,
		amounts:       amounts,
	}, nil
}

// Amount returns the configured flat amount for the content type.
func (s *Service) Amount(contentType string) (int64, error) {
	amount, ok := s.amounts[contentType]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}
	if amount <= 0 {
		return DefaultAmount, nil
	}
	return amount, nil
}

// TryGrant attempts the once-per-day grant for (pair, content type, day).
// The insert is a single atomic conditional write that is a no-op on
// conflict; a conflict is reported as AlreadyGranted, never as an error.
// N concurrent callers for the same key yield exactly one Granted=true.
func (s *Service) TryGrant(ctx context.Context, pairID pairing.PairID, contentType, day, sourceItemID string) (GrantResult, error) {
	if !rewardday.ValidDay(day) {
		return GrantResult{}, newServiceError(opTryGrant, "invalid_day", fmt.Errorf("%w: %q", ErrInvalidDay, day))
	}
	amount, err := s.Amount(contentType)
	if err != nil {
		return GrantResult{}, newServiceError(opTryGrant, "unknown_content_type", err)
	}

	now := s.clock().UTC()
	grant := Grant{
		PairID:           pairID.String(),
		ContentType:      contentType,
		RewardDay:        day,
		Amount:           amount,
		SourceItemID:     sourceItemID,
		GrantedAtSeconds: now.Unix(),
	}

	granted := false
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		createResult := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&grant)
		if createResult.Error != nil {
			return createResult.Error
		}
		granted = createResult.RowsAffected == 1
		if !granted {
			return nil
		}
		return transaction.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "pair_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"balance":      gorm.Expr("balance + ?", amount),
				"updated_at_s": now.Unix(),
			}),
		}).Create(&Balance{
			PairID:           pairID.String(),
			Balance:          amount,
			UpdatedAtSeconds: now.Unix(),
		}).Error
	})
	if transactionError != nil {
		s.logError(opTryGrant, "insert_failed", transactionError,
			zap.String(fieldPairID, pairID.String()),
			zap.String(fieldContentType, contentType),
			zap.String(fieldRewardDay, day))
		return GrantResult{}, newServiceError(opTryGrant, "insert_failed", transactionError)
	}

	return GrantResult{
		Granted:        granted,
		AlreadyGranted: !granted,
		Amount:         amount,
		NextBoundaryIn: rewardday.UntilBoundary(now, s.offsetHours),
	}, nil
}

// CanStartNewContent reports whether the pair may start content of the given
// type now. In unlimited mode replay is always allowed; the reward is simply
// only issued once. In content-lock mode a present grant for today denies
// play until the boundary passes.
func (s *Service) CanStartNewContent(ctx context.Context, pairID pairing.PairID, contentType string) (StartPermit, error) {
	if _, err := s.Amount(contentType); err != nil {
		return StartPermit{}, newServiceError(opStartPermit, "unknown_content_type", err)
	}
	if s.unlimitedMode {
		return StartPermit{Allowed: true}, nil
	}

	now := s.clock().UTC()
	day := rewardday.RewardDay(now, s.offsetHours)
	var count int64
	err := s.db.WithContext(ctx).Model(&Grant{}).
		Where("pair_id = ? AND content_type = ? AND reward_day = ?", pairID.String(), contentType, day).
		Count(&count).Error
	if err != nil {
		s.logError(opStartPermit, "query_failed", err,
			zap.String(fieldPairID, pairID.String()),
			zap.String(fieldContentType, contentType))
		return StartPermit{}, newServiceError(opStartPermit, "query_failed", err)
	}
	if count == 0 {
		return StartPermit{Allowed: true}, nil
	}
	return StartPermit{Allowed: false, ResetIn: rewardday.UntilBoundary(now, s.offsetHours)}, nil
}

// GrantsForDay lists the pair's grants for one reward day.
func (s *Service) GrantsForDay(ctx context.Context, pairID pairing.PairID, day string) ([]Grant, error) {
	if !rewardday.ValidDay(day) {
		return nil, newServiceError(opGrantsForDay, "invalid_day", fmt.Errorf("%w: %q", ErrInvalidDay, day))
	}
	var grants []Grant
	err := s.db.WithContext(ctx).
		Where("pair_id = ? AND reward_day = ?", pairID.String(), day).
		Order("content_type ASC").
		Find(&grants).Error
	if err != nil {
		s.logError(opGrantsForDay, "query_failed", err, zap.String(fieldPairID, pairID.String()))
		return nil, newServiceError(opGrantsForDay, "query_failed", err)
	}
	return grants, nil
}

// PairBalance returns the pair's accumulated balance.
func (s *Service) PairBalance(ctx context.Context, pairID pairing.PairID) (int64, error) {
	var balance Balance
	err := s.db.WithContext(ctx).Where("pair_id = ?", pairID.String()).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opBalance, "query_failed", err, zap.String(fieldPairID, pairID.String()))
		return 0, newServiceError(opBalance, "query_failed", err)
	}
	return balance.Balance, nil
}

// PurgeGrantsBefore deletes grant rows older than the given day. Only
// today's row participates in current logic, so a retention job may trim
// the ledger without affecting correctness.
func (s *Service) PurgeGrantsBefore(ctx context.Context, day string) (int64, error) {
	if !rewardday.ValidDay(day) {
		return 0, newServiceError(opPurge, "invalid_day", fmt.Errorf("%w: %q", ErrInvalidDay, day))
	}
	result := s.db.WithContext(ctx).Where("reward_day < ?", day).Delete(&Grant{})
	if result.Error != nil {
		s.logError(opPurge, "delete_failed", result.Error, zap.String(fieldRewardDay, day))
		return 0, newServiceError(opPurge, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
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
	s.logger.Error("reward service error", attrs...)
}
