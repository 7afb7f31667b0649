// Package reward issues the per-pair daily reward exactly once per content
// type. Correctness is delegated entirely to the ledger's uniqueness
// constraint on (pair_id, content_type, reward_day); the service never
// check-then-writes.
package reward

// Grant is one write-once-ever row of the append-only grant ledger. The
// composite primary key is the uniqueness constraint the whole design
// hangs on.
type Grant struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390;not null"`
	ContentType      string `gorm:"column:content_type;primaryKey;size:64;not null"`
	RewardDay        string `gorm:"column:reward_day;primaryKey;size:10;not null"`
	Amount           int64  `gorm:"column:amount;not null"`
	SourceItemID     string `gorm:"column:source_item_id;size:190;not null;default:''"`
	GrantedAtSeconds int64  `gorm:"column:granted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Grant) TableName() string {
	return "reward_grants"
}

// Balance accumulates granted amounts per pair.
type Balance struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390;not null"`
	Balance          int64  `gorm:"column:balance;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Balance) TableName() string {
	return "pair_balances"
}
