package pairing

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustMemberID(t *testing.T, value string) MemberID {
	t.Helper()
	id, err := NewMemberID(value)
	if err != nil {
		t.Fatalf("unexpected member id error: %v", err)
	}
	return id
}

func mustPairID(t *testing.T, memberA, memberB string) PairID {
	t.Helper()
	pairID, err := Resolve(mustMemberID(t, memberA), mustMemberID(t, memberB))
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	return pairID
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tandem_pairing_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Pair{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Database: newTestDatabase(t)})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}
