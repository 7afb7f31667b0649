package content

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tandemlabs/tandem/backend/internal/pairing"
	"github.com/tandemlabs/tandem/backend/internal/retry"
	"github.com/tandemlabs/tandem/backend/internal/reward"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(delta)
}

type sequenceIDProvider struct {
	mu    sync.Mutex
	index int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index++
	return fmt.Sprintf("item-%04d", p.index), nil
}

type testHarness struct {
	service *Service
	rewards *reward.Service
	pairing *pairing.Service
	db      *gorm.DB
	clock   *fakeClock
}

func mustMemberID(t *testing.T, value string) pairing.MemberID {
	t.Helper()
	id, err := pairing.NewMemberID(value)
	if err != nil {
		t.Fatalf("unexpected member id error: %v", err)
	}
	return id
}

func mustContentType(t *testing.T, value string) ContentType {
	t.Helper()
	contentType, err := NewContentType(value)
	if err != nil {
		t.Fatalf("unexpected content type error: %v", err)
	}
	return contentType
}

func mustItemID(t *testing.T, value string) ItemID {
	t.Helper()
	itemID, err := NewItemID(value)
	if err != nil {
		t.Fatalf("unexpected item id error: %v", err)
	}
	return itemID
}

func mustCatalog(t *testing.T) *StaticCatalog {
	t.Helper()
	catalog, err := NewStaticCatalog(map[ContentType][]CatalogItem{
		"classic_quiz": {
			{Title: "Getting to know you", Payload: json.RawMessage(`{"questions":3}`)},
			{Title: "Favorite things", Payload: json.RawMessage(`{"questions":3}`)},
			{Title: "Future plans", Payload: json.RawMessage(`{"questions":3}`)},
		},
		"affirmation_quiz": {
			{Title: "Daily affirmation", Payload: json.RawMessage(`{"prompts":2}`)},
			{Title: "Gratitude round", Payload: json.RawMessage(`{"prompts":2}`)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	return catalog
}

func newHarness(t *testing.T, unlimitedMode bool) *testHarness {
	t.Helper()
	return newHarnessWithSessions(t, unlimitedMode, nil)
}

func newHarnessWithSessions(t *testing.T, unlimitedMode bool, sessions Sessions) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:tandem_content_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&pairing.Pair{}, &Assignment{}, &ItemState{}, &Cursor{}, &reward.Grant{}, &reward.Balance{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := newFakeClock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))

	pairingService, err := pairing.NewService(pairing.ServiceConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct pairing service: %v", err)
	}

	rewardService, err := reward.NewService(reward.ServiceConfig{
		Database:             db,
		Clock:                clock.Now,
		UnlimitedContentMode: unlimitedMode,
		Amounts: map[string]int64{
			"classic_quiz":     30,
			"affirmation_quiz": 30,
		},
	})
	if err != nil {
		t.Fatalf("failed to construct reward service: %v", err)
	}

	contentService, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
		Catalog:    mustCatalog(t),
		Pairs:      pairingService,
		Rewards:    rewardService,
		Sessions:   sessions,
		RetryPolicy: retry.Policy{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxTries:        2,
		},
	})
	if err != nil {
		t.Fatalf("failed to construct content service: %v", err)
	}

	return &testHarness{
		service: contentService,
		rewards: rewardService,
		pairing: pairingService,
		db:      db,
		clock:   clock,
	}
}

func (h *testHarness) establishPair(t *testing.T, memberA, memberB string) pairing.PairID {
	t.Helper()
	pair, err := h.pairing.Establish(context.Background(), mustMemberID(t, memberA), mustMemberID(t, memberB))
	if err != nil {
		t.Fatalf("failed to establish pair: %v", err)
	}
	pairID, err := pairing.NewPairID(pair.PairID)
	if err != nil {
		t.Fatalf("unexpected pair id error: %v", err)
	}
	return pairID
}

func (h *testHarness) itemOfType(t *testing.T, result AssignmentResult, contentType string) AssignmentItem {
	t.Helper()
	for _, item := range result.Items {
		if item.ContentType == contentType {
			return item
		}
	}
	t.Fatalf("no item of type %s in assignment", contentType)
	return AssignmentItem{}
}
