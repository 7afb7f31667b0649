// Package pairing derives stable pair identities and manages pair lifecycle.
package pairing

import (
	"errors"
	"fmt"
	"strings"
)

// Separator joins the two sorted member identifiers into a pair identifier.
const Separator = "::"

const maxIdentifierLength = 190

var (
	// ErrInvalidMemberID indicates a member identifier is empty, contains the
	// separator, or exceeds storage bounds.
	ErrInvalidMemberID = errors.New("pairing: invalid member id")
	// ErrInvalidPairID indicates a pair identifier is malformed.
	ErrInvalidPairID = errors.New("pairing: invalid pair id")
	// ErrSameMember indicates both sides of a pair reference one member.
	ErrSameMember = errors.New("pairing: members must be distinct")
)

// MemberID represents a validated member identifier.
type MemberID string

// NewMemberID validates raw input and returns a MemberID.
func NewMemberID(rawInput string) (MemberID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMemberID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMemberID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, Separator) {
		return "", fmt.Errorf("%w: contains separator", ErrInvalidMemberID)
	}
	return MemberID(trimmed), nil
}

// String returns the underlying string identifier.
func (id MemberID) String() string {
	return string(id)
}

// PairID represents a derived pair identifier.
type PairID string

// NewPairID validates a previously derived pair identifier.
func NewPairID(rawInput string) (PairID, error) {
	trimmed := strings.TrimSpace(rawInput)
	segments := strings.SplitN(trimmed, Separator, 2)
	if len(segments) != 2 {
		return "", fmt.Errorf("%w: missing separator", ErrInvalidPairID)
	}
	first, err := NewMemberID(segments[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPairID, err)
	}
	second, err := NewMemberID(segments[1])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPairID, err)
	}
	if first.String() > second.String() {
		return "", fmt.Errorf("%w: members out of order", ErrInvalidPairID)
	}
	if first == second {
		return "", fmt.Errorf("%w: %v", ErrInvalidPairID, ErrSameMember)
	}
	return PairID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PairID) String() string {
	return string(id)
}

// Members splits the pair identifier back into its two member identifiers.
func (id PairID) Members() (MemberID, MemberID) {
	segments := strings.SplitN(string(id), Separator, 2)
	if len(segments) != 2 {
		return "", ""
	}
	return MemberID(segments[0]), MemberID(segments[1])
}

// Contains reports whether the member is one of the pair's two members.
func (id PairID) Contains(member MemberID) bool {
	first, second := id.Members()
	return member == first || member == second
}

// Resolve derives the pair identifier for two members. The derivation sorts
// the identifiers lexicographically before joining, so both devices compute
// an identical key without a coordination round trip.
func Resolve(memberA, memberB MemberID) (PairID, error) {
	if memberA == "" || memberB == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMemberID)
	}
	if memberA == memberB {
		return "", ErrSameMember
	}
	first, second := memberA, memberB
	if second.String() < first.String() {
		first, second = second, first
	}
	return PairID(first.String() + Separator + second.String()), nil
}
