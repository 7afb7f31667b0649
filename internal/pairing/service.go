package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrPairNotFound indicates no pair row exists for the identifier.
	ErrPairNotFound = errors.New("pairing: pair not found")
	// ErrPairRetired indicates the pair exists but has been unpaired.
	ErrPairRetired = errors.New("pairing: pair retired")

	noOpLogger = zap.NewNop()
)

const (
	opEstablish = "pairing.establish"
	opRetire    = "pairing.retire"
	opLookup    = "pairing.lookup"

	fieldPairID = "pair_id"
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

// ServiceConfig describes the dependencies for pair lifecycle management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages pair rows in the durable ledger.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the pairing service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opEstablish, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Establish derives the pair identifier for the two members and records the
// pair if it does not already exist. The insert is create-if-absent, so both
// devices may call this concurrently and converge on the same row.
func (s *Service) Establish(ctx context.Context, memberA, memberB MemberID) (Pair, error) {
	pairID, err := Resolve(memberA, memberB)
	if err != nil {
		return Pair{}, newServiceError(opEstablish, "resolve_failed", err)
	}

	first, second := pairID.Members()
	candidate := Pair{
		PairID:           pairID.String(),
		MemberA:          first.String(),
		MemberB:          second.String(),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	createResult := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&candidate)
	if createResult.Error != nil {
		s.logError(opEstablish, "insert_failed", createResult.Error, zap.String(fieldPairID, pairID.String()))
		return Pair{}, newServiceError(opEstablish, "insert_failed", createResult.Error)
	}
	if createResult.RowsAffected == 0 {
		return s.Lookup(ctx, pairID)
	}
	return candidate, nil
}

// Retire soft-retires the pair. Retiring an already-retired pair is a no-op;
// content item state for the pair is soft-deleted by the content service,
// and reward grants are retained permanently.
func (s *Service) Retire(ctx context.Context, pairID PairID) error {
	retiredAt := s.clock().UTC().Unix()
	result := s.db.WithContext(ctx).Model(&Pair{}).
		Where("pair_id = ? AND retired_at_s = 0", pairID.String()).
		Update("retired_at_s", retiredAt)
	if result.Error != nil {
		s.logError(opRetire, "update_failed", result.Error, zap.String(fieldPairID, pairID.String()))
		return newServiceError(opRetire, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		var existing Pair
		err := s.db.WithContext(ctx).Where("pair_id = ?", pairID.String()).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRetire, "pair_not_found", ErrPairNotFound)
		}
		if err != nil {
			s.logError(opRetire, "lookup_failed", err, zap.String(fieldPairID, pairID.String()))
			return newServiceError(opRetire, "lookup_failed", err)
		}
	}
	return nil
}

// Lookup returns the pair row for the identifier, including retired pairs.
func (s *Service) Lookup(ctx context.Context, pairID PairID) (Pair, error) {
	var pair Pair
	err := s.db.WithContext(ctx).Where("pair_id = ?", pairID.String()).Take(&pair).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pair{}, newServiceError(opLookup, "pair_not_found", ErrPairNotFound)
	}
	if err != nil {
		s.logError(opLookup, "query_failed", err, zap.String(fieldPairID, pairID.String()))
		return Pair{}, newServiceError(opLookup, "query_failed", err)
	}
	return pair, nil
}

// LookupActive returns the pair row and rejects retired pairs.
func (s *Service) LookupActive(ctx context.Context, pairID PairID) (Pair, error) {
	pair, err := s.Lookup(ctx, pairID)
	if err != nil {
		return Pair{}, err
	}
	if !pair.Active() {
		return Pair{}, newServiceError(opLookup, "pair_retired", ErrPairRetired)
	}
	return pair, nil
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
	s.logger.Error("pairing service error", attrs...)
}
