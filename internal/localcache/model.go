package localcache

// CachedAssignment holds the device's last known assignment document for one
// (pair, day), serialized as JSON for offline rendering.
type CachedAssignment struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390"`
	AssignmentDay    string `gorm:"column:assignment_day;primaryKey;size:10"`
	PayloadJSON      string `gorm:"column:payload_json"`
	FetchedAtSeconds int64  `gorm:"column:fetched_at_s"`
}

// TableName maps CachedAssignment to its table.
func (CachedAssignment) TableName() string {
	return "cached_assignments"
}

// CachedStatus holds the device's last known pair status document for one
// (pair, day).
type CachedStatus struct {
	PairID           string `gorm:"column:pair_id;primaryKey;size:390"`
	AssignmentDay    string `gorm:"column:assignment_day;primaryKey;size:10"`
	PayloadJSON      string `gorm:"column:payload_json"`
	FetchedAtSeconds int64  `gorm:"column:fetched_at_s"`
}

// TableName maps CachedStatus to its table.
func (CachedStatus) TableName() string {
	return "cached_statuses"
}

// PendingCompletion is a completion submission captured while offline,
// queued for in-order replay on reconnect. Replay relies on the server's
// idempotent resubmission handling, so a duplicate delivery is harmless.
type PendingCompletion struct {
	ID                uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	PairID            string `gorm:"column:pair_id;size:390;index"`
	ItemID            string `gorm:"column:item_id;size:64"`
	MemberID          string `gorm:"column:member_id;size:190"`
	EnqueuedAtSeconds int64  `gorm:"column:enqueued_at_s"`
}

// TableName maps PendingCompletion to its table.
func (PendingCompletion) TableName() string {
	return "pending_completions"
}
