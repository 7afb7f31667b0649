package content

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tandemlabs/tandem/backend/internal/reward"
)

func TestGetOrCreateAssignmentCreatesOncePerDay(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	first, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Created {
		t.Fatalf("expected first call to create the assignment")
	}
	if len(first.Items) != 2 {
		t.Fatalf("expected one item per content type, got %d", len(first.Items))
	}
	if first.Assignment.CreatedBy != "alice" {
		t.Fatalf("expected creator to be recorded, got %s", first.Assignment.CreatedBy)
	}

	second, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Created {
		t.Fatalf("expected second call to return the existing assignment")
	}
	if second.Assignment.ItemsJSON != first.Assignment.ItemsJSON {
		t.Fatalf("expected byte-identical item lists:\n%s\n%s", first.Assignment.ItemsJSON, second.Assignment.ItemsJSON)
	}
	if second.Assignment.CreatedBy != "alice" {
		t.Fatalf("loser must return the winner's row verbatim")
	}
}

func TestRacingCreatorsConverge(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	var waitGroup sync.WaitGroup
	results := make([]AssignmentResult, 2)
	failures := make([]error, 2)
	members := []string{"alice", "bob"}
	for index := 0; index < 2; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			results[slot], failures[slot] = harness.service.GetOrCreateAssignment(
				context.Background(), pairID, mustMemberID(t, members[slot]))
		}(index)
	}
	waitGroup.Wait()

	for _, err := range failures {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if results[0].Assignment.ItemsJSON != results[1].Assignment.ItemsJSON {
		t.Fatalf("racing creators must converge on identical items:\n%s\n%s",
			results[0].Assignment.ItemsJSON, results[1].Assignment.ItemsJSON)
	}
	if results[0].Assignment.CreatedBy != results[1].Assignment.CreatedBy {
		t.Fatalf("both results must report the same creator")
	}

	var count int64
	if err := harness.db.Model(&Assignment{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count assignments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one assignment row, got %d", count)
	}
}

func TestAssignmentCreationDoesNotAdvanceCursor(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	if _, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cursors []Cursor
	if err := harness.db.Find(&cursors).Error; err != nil {
		t.Fatalf("failed to load cursors: %v", err)
	}
	if len(cursors) != 0 {
		t.Fatalf("assignment creation must not advance or create cursors, got %+v", cursors)
	}
}

func TestCompletionScenarioGrantsExactlyOnce(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quiz := harness.itemOfType(t, assignment, "classic_quiz")
	itemID := mustItemID(t, quiz.ItemID)

	firstResult, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if firstResult.Status != StatusOneSideComplete {
		t.Fatalf("expected one_side_complete after first member, got %s", firstResult.Status)
	}
	if firstResult.Reward != nil {
		t.Fatalf("no reward may be attempted before both complete")
	}

	harness.clock.Advance(time.Minute)

	secondResult, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondResult.Status != StatusBothComplete {
		t.Fatalf("expected both_complete after second member, got %s", secondResult.Status)
	}
	if secondResult.Reward == nil || !secondResult.Reward.Granted {
		t.Fatalf("expected a fresh grant, got %+v", secondResult.Reward)
	}
	if secondResult.Reward.Amount != 30 {
		t.Fatalf("expected amount 30, got %d", secondResult.Reward.Amount)
	}
	if len(secondResult.Completions) != 2 {
		t.Fatalf("expected both completion entries, got %+v", secondResult.Completions)
	}

	var grants []reward.Grant
	if err := harness.db.Find(&grants).Error; err != nil {
		t.Fatalf("failed to load grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("expected exactly one grant row, got %d", len(grants))
	}
	if grants[0].Amount != 30 || grants[0].ContentType != "classic_quiz" {
		t.Fatalf("unexpected grant row: %+v", grants[0])
	}

	var cursor Cursor
	if err := harness.db.Where("pair_id = ? AND content_type = ?", pairID.String(), "classic_quiz").Take(&cursor).Error; err != nil {
		t.Fatalf("expected cursor row after completion: %v", err)
	}
	if cursor.Position != 1 {
		t.Fatalf("expected cursor advanced exactly one step, got %d", cursor.Position)
	}
}

func TestResubmissionAfterBothCompleteIsNoOp(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quiz := harness.itemOfType(t, assignment, "classic_quiz")
	itemID := mustItemID(t, quiz.ItemID)

	if _, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "alice")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	completed, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "bob"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resubmitted, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "bob"))
	if err != nil {
		t.Fatalf("resubmission must not error: %v", err)
	}
	if !resubmitted.NoOp {
		t.Fatalf("expected idempotent no-op")
	}
	if resubmitted.Status != completed.Status {
		t.Fatalf("expected identical state, got %s vs %s", resubmitted.Status, completed.Status)
	}
	if resubmitted.Reward == nil || !resubmitted.Reward.AlreadyGranted {
		t.Fatalf("expected alreadyGranted on resubmission, got %+v", resubmitted.Reward)
	}

	var count int64
	if err := harness.db.Model(&reward.Grant{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count grants: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one grant row after resubmission, got %d", count)
	}
}

func TestTwoContentTypesGrantIndependently(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, contentType := range []string{"classic_quiz", "affirmation_quiz"} {
		item := harness.itemOfType(t, assignment, contentType)
		itemID := mustItemID(t, item.ItemID)
		if _, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "alice")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "bob"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Reward == nil || !result.Reward.Granted {
			t.Fatalf("expected a grant for %s, got %+v", contentType, result.Reward)
		}
	}

	grants, err := harness.rewards.GrantsForDay(context.Background(), pairID, "2026-03-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected two independent grants, got %d", len(grants))
	}
	if grants[0].ContentType == grants[1].ContentType {
		t.Fatalf("expected distinct content type keys, got %+v", grants)
	}
	if grants[0].RewardDay != grants[1].RewardDay {
		t.Fatalf("expected the same reward day, got %+v", grants)
	}
}

func TestConcurrentSubmissionsMergeBothEntries(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quiz := harness.itemOfType(t, assignment, "classic_quiz")
	itemID := mustItemID(t, quiz.ItemID)

	var waitGroup sync.WaitGroup
	failures := make([]error, 2)
	members := []string{"alice", "bob"}
	for index := 0; index < 2; index++ {
		waitGroup.Add(1)
		go func(slot int) {
			defer waitGroup.Done()
			_, failures[slot] = harness.service.SubmitCompletion(
				context.Background(), pairID, itemID, mustMemberID(t, members[slot]))
		}(index)
	}
	waitGroup.Wait()

	for _, err := range failures {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var state ItemState
	if err := harness.db.Where("item_id = ?", quiz.ItemID).Take(&state).Error; err != nil {
		t.Fatalf("failed to load item state: %v", err)
	}
	if state.Status != StatusBothComplete {
		t.Fatalf("expected both_complete after concurrent submissions, got %s", state.Status)
	}
	completions, err := state.Completions()
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(completions) != 2 {
		t.Fatalf("both members' entries must survive the merge, got %+v", completions)
	}

	var grantCount int64
	if err := harness.db.Model(&reward.Grant{}).Count(&grantCount).Error; err != nil {
		t.Fatalf("failed to count grants: %v", err)
	}
	if grantCount != 1 {
		t.Fatalf("expected exactly one grant row, got %d", grantCount)
	}
}

func TestExpiredItemRejectsSubmission(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quiz := harness.itemOfType(t, assignment, "classic_quiz")
	itemID := mustItemID(t, quiz.ItemID)

	harness.clock.Advance(48 * time.Hour)

	if _, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "alice")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for expired item, got %v", err)
	}

	var state ItemState
	if err := harness.db.Where("item_id = ?", quiz.ItemID).Take(&state).Error; err != nil {
		t.Fatalf("failed to load item state: %v", err)
	}
	if state.Status != StatusExpired {
		t.Fatalf("expected lazy expiry to persist, got %s", state.Status)
	}
}

func TestSubmitCompletionRejectsOutsider(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quiz := harness.itemOfType(t, assignment, "classic_quiz")

	_, err = harness.service.SubmitCompletion(context.Background(), pairID, mustItemID(t, quiz.ItemID), mustMemberID(t, "mallory"))
	if !errors.Is(err, ErrMemberNotInPair) {
		t.Fatalf("expected ErrMemberNotInPair, got %v", err)
	}
}

func TestStatusReportsItemsAndGrants(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	assignment, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	quiz := harness.itemOfType(t, assignment, "classic_quiz")
	itemID := mustItemID(t, quiz.ItemID)

	if _, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "alice")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := harness.service.SubmitCompletion(context.Background(), pairID, itemID, mustMemberID(t, "bob")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := harness.service.Status(context.Background(), pairID, "2026-03-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(status.Items) != 2 {
		t.Fatalf("expected two items, got %d", len(status.Items))
	}
	if len(status.Grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(status.Grants))
	}
	foundCompleted := false
	for _, entry := range status.Items {
		if entry.ItemID == quiz.ItemID {
			foundCompleted = true
			if entry.Status != StatusBothComplete {
				t.Fatalf("expected both_complete entry, got %s", entry.Status)
			}
			if len(entry.Completions) != 2 {
				t.Fatalf("expected both completion entries, got %+v", entry.Completions)
			}
		}
	}
	if !foundCompleted {
		t.Fatalf("completed item missing from status")
	}
}

func TestStatusRejectsMalformedDay(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	if _, err := harness.service.Status(context.Background(), pairID, "14-03-2026"); !errors.Is(err, ErrInvalidDay) {
		t.Fatalf("expected ErrInvalidDay, got %v", err)
	}
}

func TestStatusExpiresItemsLazily(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	if _, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	harness.clock.Advance(48 * time.Hour)

	status, err := harness.service.Status(context.Background(), pairID, "2026-03-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, entry := range status.Items {
		if entry.Status != StatusExpired {
			t.Fatalf("expected lazy expiry on read, got %s", entry.Status)
		}
	}
}

func TestRetirePairStateHidesItems(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	if _, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := harness.service.RetirePairState(context.Background(), pairID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status, err := harness.service.Status(context.Background(), pairID, "2026-03-14")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(status.Items) != 0 {
		t.Fatalf("expected retired items to be hidden, got %d", len(status.Items))
	}
}

func TestNextDayProducesFreshAssignment(t *testing.T) {
	harness := newHarness(t, true)
	pairID := harness.establishPair(t, "alice", "bob")

	today, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	harness.clock.Advance(24 * time.Hour)

	tomorrow, err := harness.service.GetOrCreateAssignment(context.Background(), pairID, mustMemberID(t, "alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tomorrow.Created {
		t.Fatalf("expected a fresh assignment after the boundary")
	}
	if tomorrow.Assignment.AssignmentDay == today.Assignment.AssignmentDay {
		t.Fatalf("expected a new assignment day")
	}
	if tomorrow.Assignment.ItemsJSON == today.Assignment.ItemsJSON {
		t.Fatalf("expected fresh item identifiers")
	}
}
