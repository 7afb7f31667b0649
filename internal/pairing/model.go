package pairing

// Pair records an established pair and its lifecycle timestamps. Rows are
// never hard-deleted: unpairing sets RetiredAtSeconds so the grant ledger
// keeps a valid audit anchor.
type Pair struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390;not null"`
	MemberA          string `gorm:"column:member_a;size:190;not null"`
	MemberB          string `gorm:"column:member_b;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	RetiredAtSeconds int64  `gorm:"column:retired_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Pair) TableName() string {
	return "pairs"
}

// Active reports whether the pair has not been retired.
func (p Pair) Active() bool {
	return p.RetiredAtSeconds == 0
}
