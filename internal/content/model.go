// Package content manages the shared daily content set of a pair: assignment
// creation, per-item completion state, and progression cursors.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	maxIdentifierLength  = 190
	maxContentTypeLength = 64
)

var (
	// ErrInvalidItemID indicates an item identifier is empty or exceeds storage bounds.
	ErrInvalidItemID = errors.New("content: invalid item id")
	// ErrInvalidContentType indicates a content type string is malformed.
	ErrInvalidContentType = errors.New("content: invalid content type")
	// ErrInvalidDay indicates a day string is not a canonical reward day.
	ErrInvalidDay = errors.New("content: invalid day")
)

// ItemID represents a validated content item identifier.
type ItemID string

// NewItemID validates raw input and returns an ItemID.
func NewItemID(rawInput string) (ItemID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidItemID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidItemID, maxIdentifierLength)
	}
	return ItemID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ItemID) String() string {
	return string(id)
}

// ContentType identifies one kind of shared content (a quiz, a puzzle).
type ContentType string

// NewContentType validates raw input and returns a ContentType.
func NewContentType(rawInput string) (ContentType, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContentType)
	}
	if len(trimmed) > maxContentTypeLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContentType, maxContentTypeLength)
	}
	for _, character := range trimmed {
		if character >= 'a' && character <= 'z' {
			continue
		}
		if character >= '0' && character <= '9' {
			continue
		}
		if character == '_' {
			continue
		}
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, rawInput)
	}
	return ContentType(trimmed), nil
}

// String returns the underlying string value.
func (ct ContentType) String() string {
	return string(ct)
}

// ItemStatus enumerates the closed set of completion states.
type ItemStatus string

const (
	// StatusNotStarted means neither member has completed the item.
	StatusNotStarted ItemStatus = "not_started"
	// StatusOneSideComplete means exactly one member has completed the item.
	StatusOneSideComplete ItemStatus = "one_side_complete"
	// StatusBothComplete means both members have completed the item.
	StatusBothComplete ItemStatus = "both_complete"
	// StatusExpired means the item passed its expiry before completion.
	StatusExpired ItemStatus = "expired"
)

// AssignmentItem is one entry of an assignment's ordered item list, stored
// denormalized inside items_json so both devices render identical content
// without extra catalog round trips.
type AssignmentItem struct {
	ItemID           string          `json:"item_id"`
	ContentType      string          `json:"content_type"`
	Title            string          `json:"title"`
	Payload          json.RawMessage `json:"payload"`
	RewardAmount     int64           `json:"reward_amount"`
	ExpiresAtSeconds int64           `json:"expires_at_s"`
}

// Assignment is the write-once daily content set of a pair. The composite
// primary key is the uniqueness constraint that forces both devices to
// converge on a single row per day; rows are never updated after creation.
type Assignment struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390;not null"`
	AssignmentDay    string `gorm:"column:assignment_day;primaryKey;size:10;not null"`
	ItemsJSON        string `gorm:"column:items_json;type:text;not null"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Assignment) TableName() string {
	return "content_assignments"
}

// Items decodes the ordered item list.
func (a Assignment) Items() ([]AssignmentItem, error) {
	var items []AssignmentItem
	if err := json.Unmarshal([]byte(a.ItemsJSON), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CompletionEntry records one member's completion of one item.
type CompletionEntry struct {
	CompletedAtSeconds int64 `json:"completed_at_s"`
}

// ItemState tracks per-item completion. Each member only ever writes its own
// key of the completions map, and every write goes through an optimistic
// version check, so concurrent submissions merge instead of overwriting.
type ItemState struct {
	ItemID           string     `gorm:"column:item_id;primaryKey;size:190;not null"`
	PairID           string     `gorm:"column:pair_id;size:390;not null;index:idx_item_state_pair_day,priority:1"`
	AssignmentDay    string     `gorm:"column:assignment_day;size:10;not null;index:idx_item_state_pair_day,priority:2"`
	ContentType      string     `gorm:"column:content_type;size:64;not null"`
	CompletionsJSON  string     `gorm:"column:completions_json;type:text;not null;default:'{}'"`
	Status           ItemStatus `gorm:"column:status;size:32;not null"`
	RewardAmount     int64      `gorm:"column:reward_amount;not null;default:0"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
	ExpiresAtSeconds int64      `gorm:"column:expires_at_s;not null"`
	Version          int64      `gorm:"column:version;not null;default:1"`
	RetiredAtSeconds int64      `gorm:"column:retired_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (ItemState) TableName() string {
	return "content_item_state"
}

// Completions decodes the per-member completion map.
func (s ItemState) Completions() (map[string]CompletionEntry, error) {
	completions := map[string]CompletionEntry{}
	if strings.TrimSpace(s.CompletionsJSON) == "" {
		return completions, nil
	}
	if err := json.Unmarshal([]byte(s.CompletionsJSON), &completions); err != nil {
		return nil, err
	}
	return completions, nil
}

func (s *ItemState) setCompletions(completions map[string]CompletionEntry) error {
	encoded, err := json.Marshal(completions)
	if err != nil {
		return err
	}
	s.CompletionsJSON = string(encoded)
	return nil
}

// Cursor is the opaque progression position of a pair within one content
// type. It advances exactly one step per fully completed item and is read,
// never advanced, during assignment creation.
type Cursor struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390;not null"`
	ContentType      string `gorm:"column:content_type;primaryKey;size:64;not null"`
	Branch           string `gorm:"column:branch;size:64;not null;default:'main'"`
	Position         int64  `gorm:"column:position;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Cursor) TableName() string {
	return "progression_cursors"
}

// DefaultBranch is the branch assigned to cursors created implicitly.
const DefaultBranch = "main"
