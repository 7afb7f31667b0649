package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tandemlabs/tandem/backend/internal/auth"
	"github.com/tandemlabs/tandem/backend/internal/content"
	"github.com/tandemlabs/tandem/backend/internal/localcache"
	"github.com/tandemlabs/tandem/backend/internal/notify"
	"github.com/tandemlabs/tandem/backend/internal/pairing"
	"github.com/tandemlabs/tandem/backend/internal/reward"
	"github.com/tandemlabs/tandem/backend/internal/server"
)

const (
	integrationSigningSecret = "integration-secret"
	jsonContentType          = "application/json"
)

type apiClient struct {
	serverURL string
	token     string
}

func (c *apiClient) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	encoded := []byte("{}")
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	request, err := http.NewRequest(http.MethodPost, c.serverURL+path, bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	buffer := new(bytes.Buffer)
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return response, buffer.Bytes()
}

func bootServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:tandem_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(
		&pairing.Pair{},
		&content.Assignment{},
		&content.ItemState{},
		&content.Cursor{},
		&reward.Grant{},
		&reward.Balance{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	pairService, err := pairing.NewService(pairing.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build pairing service: %v", err)
	}
	rewardService, err := reward.NewService(reward.ServiceConfig{
		Database:             db,
		UnlimitedContentMode: true,
		Amounts:              map[string]int64{"classic_quiz": 30, "affirmation_quiz": 30},
	})
	if err != nil {
		t.Fatalf("failed to build reward service: %v", err)
	}
	catalog, err := content.NewStaticCatalog(map[content.ContentType][]content.CatalogItem{
		"classic_quiz":     {{Title: "Quiz A"}, {Title: "Quiz B"}},
		"affirmation_quiz": {{Title: "Affirmation A"}, {Title: "Affirmation B"}},
	})
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	contentService, err := content.NewService(content.ServiceConfig{
		Database:   db,
		IDProvider: content.NewUUIDProvider(),
		Catalog:    catalog,
		Pairs:      pairService,
		Rewards:    rewardService,
		Notifier:   notify.NewDispatcher(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build content service: %v", err)
	}

	tokens := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "tandem-auth",
		Audience:      "tandem-api",
		TokenTTL:      time.Minute,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokens,
		PairingService: pairService,
		ContentService: contentService,
		RewardService:  rewardService,
		Realtime:       notify.NewDispatcher(),
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return testServer.URL
}

func authenticate(t *testing.T, serverURL, memberID string) *apiClient {
	t.Helper()
	client := &apiClient{serverURL: serverURL}
	response, body := client.post(t, "/auth/token", map[string]string{"member_id": memberID})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("token issuance failed with %d: %s", response.StatusCode, body)
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	client.token = payload.AccessToken
	return client
}

// One member completes online while the other is offline; the offline
// member's submission is queued in the device cache and replayed on
// reconnect, which finishes the item and issues exactly one grant.
func TestOfflineReplayCompletesSharedDay(testContext *testing.T) {
	serverURL := bootServer(testContext)

	alice := authenticate(testContext, serverURL, "alice")
	bob := authenticate(testContext, serverURL, "bob")

	response, body := alice.post(testContext, "/pairs", map[string]string{"partner_id": "bob"})
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("pair establishment failed with %d: %s", response.StatusCode, body)
	}
	var pair struct {
		PairID string `json:"pair_id"`
	}
	if err := json.Unmarshal(body, &pair); err != nil {
		testContext.Fatalf("failed to decode pair: %v", err)
	}

	response, body = alice.post(testContext, "/pairs/"+pair.PairID+"/assignment", nil)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("assignment failed with %d: %s", response.StatusCode, body)
	}
	var assignment struct {
		Day   string `json:"day"`
		Items []struct {
			ItemID      string `json:"item_id"`
			ContentType string `json:"content_type"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &assignment); err != nil {
		testContext.Fatalf("failed to decode assignment: %v", err)
	}
	if len(assignment.Items) != 2 {
		testContext.Fatalf("expected one item per content type, got %d", len(assignment.Items))
	}

	itemID := assignment.Items[0].ItemID
	itemType := assignment.Items[0].ContentType

	// Alice completes online.
	response, body = alice.post(testContext, "/pairs/"+pair.PairID+"/items/"+itemID+"/complete", nil)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("completion failed with %d: %s", response.StatusCode, body)
	}

	// Bob is offline: the submission lands in the device cache, twice,
	// simulating a retry before reconnect.
	deviceCache, err := localcache.Open(localcache.Config{
		Path: fmt.Sprintf("file:tandem_device_%d?mode=memory&cache=shared", time.Now().UnixNano()),
	})
	if err != nil {
		testContext.Fatalf("failed to open device cache: %v", err)
	}
	testContext.Cleanup(func() {
		_ = deviceCache.Close()
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := deviceCache.EnqueueCompletion(ctx, pair.PairID, itemID, "bob"); err != nil {
			testContext.Fatalf("failed to enqueue completion: %v", err)
		}
	}

	report, err := deviceCache.Replay(ctx, func(_ context.Context, pairID, itemID, _ string) error {
		response, body := bob.post(testContext, "/pairs/"+pairID+"/items/"+itemID+"/complete", nil)
		if response.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", response.StatusCode, body)
		}
		return nil
	}, nil)
	if err != nil {
		testContext.Fatalf("replay failed: %v", err)
	}
	if report.Applied != 2 || report.Remaining != 0 {
		testContext.Fatalf("unexpected replay report: %+v", report)
	}

	// The duplicate replay must not double-grant.
	response, body = alice.post(testContext, "/pairs/"+pair.PairID+"/rewards/"+itemType+"/grant", nil)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("grant probe failed with %d: %s", response.StatusCode, body)
	}
	var grant struct {
		Granted        bool `json:"granted"`
		AlreadyGranted bool `json:"already_granted"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		testContext.Fatalf("failed to decode grant: %v", err)
	}
	if grant.Granted || !grant.AlreadyGranted {
		testContext.Fatalf("expected the completion grant to already exist: %+v", grant)
	}

	request, err := http.NewRequest(http.MethodGet, serverURL+"/pairs/"+pair.PairID+"/balance", http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to construct balance request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+alice.token)
	balanceResponse, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("balance request failed: %v", err)
	}
	defer balanceResponse.Body.Close()
	var balance struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(balanceResponse.Body).Decode(&balance); err != nil {
		testContext.Fatalf("failed to decode balance: %v", err)
	}
	if balance.Balance != 30 {
		testContext.Fatalf("expected a single 30-point grant, got balance %d", balance.Balance)
	}
}
