package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tandemlabs/tandem/backend/internal/content"
	"github.com/tandemlabs/tandem/backend/internal/notify"
	"github.com/tandemlabs/tandem/backend/internal/pairing"
	"github.com/tandemlabs/tandem/backend/internal/reward"
	"github.com/tandemlabs/tandem/backend/internal/rewardday"
)

const memberIDContextKey = "tandem_member_id"

const heartbeatInterval = 25 * time.Second

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingPairingService = errors.New("pairing service dependency required")
	errMissingContentService = errors.New("content service dependency required")
	errMissingRewardService  = errors.New("reward service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates member bearer tokens.
type TokenManager interface {
	Issue(ctx context.Context, memberID pairing.MemberID) (string, int64, error)
	Validate(token string) (pairing.MemberID, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	TokenManager   TokenManager
	PairingService *pairing.Service
	ContentService *content.Service
	RewardService  *reward.Service
	Realtime       *notify.Dispatcher
	Logger         *zap.Logger
	// DayOffsetHours shifts the default day used when a status request
	// omits the day parameter; must match the services' offset.
	DayOffsetHours int
	Clock          func() time.Time
}

// NewHTTPHandler builds the gin router for the API surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.PairingService == nil {
		return nil, errMissingPairingService
	}
	if deps.ContentService == nil {
		return nil, errMissingContentService
	}
	if deps.RewardService == nil {
		return nil, errMissingRewardService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		pairs:       deps.PairingService,
		contents:    deps.ContentService,
		rewards:     deps.RewardService,
		realtime:    deps.Realtime,
		logger:      logger,
		offsetHours: deps.DayOffsetHours,
		clock:       clock,
	}

	router.POST("/auth/token", handler.handleIssueToken)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/pairs", handler.handleEstablishPair)
	protected.DELETE("/pairs/:pairId", handler.handleRetirePair)
	protected.POST("/pairs/:pairId/assignment", handler.handleGetOrCreateAssignment)
	protected.POST("/pairs/:pairId/items/:itemId/complete", handler.handleSubmitCompletion)
	protected.GET("/pairs/:pairId/status", handler.handleStatus)
	protected.GET("/pairs/:pairId/balance", handler.handleBalance)
	protected.POST("/pairs/:pairId/rewards/:contentType/grant", handler.handleGrant)
	protected.GET("/pairs/:pairId/content/:contentType/permit", handler.handleStartPermit)
	protected.GET("/pairs/:pairId/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	pairs       *pairing.Service
	contents    *content.Service
	rewards     *reward.Service
	realtime    *notify.Dispatcher
	logger      *zap.Logger
	offsetHours int
	clock       func() time.Time
}

type tokenRequestPayload struct {
	MemberID string `json:"member_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// The upstream identity provider terminates real authentication; this
// endpoint is the seam where its verified member identifier is exchanged
// for an API bearer token.
func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.MemberID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	memberID, err := pairing.NewMemberID(request.MemberID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), memberID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type establishPairPayload struct {
	PartnerID string `json:"partner_id"`
}

type pairResponsePayload struct {
	PairID           string `json:"pair_id"`
	MemberA          string `json:"member_a"`
	MemberB          string `json:"member_b"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleEstablishPair(c *gin.Context) {
	memberID, ok := h.authenticatedMember(c)
	if !ok {
		return
	}

	var request establishPairPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PartnerID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	partnerID, err := pairing.NewMemberID(request.PartnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_member_id"})
		return
	}

	pair, err := h.pairs.Establish(c.Request.Context(), memberID, partnerID)
	if err != nil {
		h.renderError(c, "pair_establish_failed", err)
		return
	}

	c.JSON(http.StatusOK, pairResponsePayload{
		PairID:           pair.PairID,
		MemberA:          pair.MemberA,
		MemberB:          pair.MemberB,
		CreatedAtSeconds: pair.CreatedAtSeconds,
	})
}

func (h *httpHandler) handleRetirePair(c *gin.Context) {
	pairID, ok := h.authorizedPair(c)
	if !ok {
		return
	}

	if err := h.pairs.Retire(c.Request.Context(), pairID); err != nil {
		h.renderError(c, "pair_retire_failed", err)
		return
	}
	if err := h.contents.RetirePairState(c.Request.Context(), pairID); err != nil {
		h.logger.Warn("pair state retirement incomplete",
			zap.String("pair_id", pairID.String()), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"retired": true})
}

type assignmentResponsePayload struct {
	PairID           string                   `json:"pair_id"`
	Day              string                   `json:"day"`
	Items            []content.AssignmentItem `json:"items"`
	CreatedBy        string                   `json:"created_by"`
	CreatedAtSeconds int64                    `json:"created_at_s"`
	Created          bool                     `json:"created"`
	Stale            bool                     `json:"stale"`
}

func (h *httpHandler) handleGetOrCreateAssignment(c *gin.Context) {
	memberID, ok := h.authenticatedMember(c)
	if !ok {
		return
	}
	pairID, ok := h.parsePairID(c)
	if !ok {
		return
	}

	result, err := h.contents.GetOrCreateAssignment(c.Request.Context(), pairID, memberID)
	if err != nil {
		h.renderError(c, "assignment_failed", err)
		return
	}

	c.JSON(http.StatusOK, assignmentResponsePayload{
		PairID:           result.Assignment.PairID,
		Day:              result.Assignment.AssignmentDay,
		Items:            result.Items,
		CreatedBy:        result.Assignment.CreatedBy,
		CreatedAtSeconds: result.Assignment.CreatedAtSeconds,
		Created:          result.Created,
		Stale:            result.Stale,
	})
}

type completionResponsePayload struct {
	ItemID         string                             `json:"item_id"`
	ContentType    string                             `json:"content_type"`
	Day            string                             `json:"day"`
	Status         content.ItemStatus                 `json:"status"`
	Completions    map[string]content.CompletionEntry `json:"completions"`
	NoOp           bool                               `json:"no_op"`
	RewardGranted  bool                               `json:"reward_granted"`
	AlreadyGranted bool                               `json:"reward_already_granted"`
	RewardAmount   int64                              `json:"reward_amount,omitempty"`
}

func (h *httpHandler) handleSubmitCompletion(c *gin.Context) {
	memberID, ok := h.authenticatedMember(c)
	if !ok {
		return
	}
	pairID, ok := h.parsePairID(c)
	if !ok {
		return
	}
	itemID, err := content.NewItemID(c.Param("itemId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item_id"})
		return
	}

	result, err := h.contents.SubmitCompletion(c.Request.Context(), pairID, itemID, memberID)
	if err != nil {
		h.renderError(c, "completion_failed", err)
		return
	}

	response := completionResponsePayload{
		ItemID:      result.ItemID,
		ContentType: result.ContentType,
		Day:         result.Day,
		Status:      result.Status,
		Completions: result.Completions,
		NoOp:        result.NoOp,
	}
	if result.Reward != nil {
		response.RewardGranted = result.Reward.Granted
		response.AlreadyGranted = result.Reward.AlreadyGranted
		response.RewardAmount = result.Reward.Amount
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	pairID, ok := h.authorizedPair(c)
	if !ok {
		return
	}

	day := strings.TrimSpace(c.Query("day"))
	if day == "" {
		day = rewardday.RewardDay(h.clock().UTC(), h.offsetHours)
	}
	if !rewardday.ValidDay(day) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return
	}

	status, err := h.contents.Status(c.Request.Context(), pairID, day)
	if err != nil {
		h.renderError(c, "status_failed", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handleBalance(c *gin.Context) {
	pairID, ok := h.authorizedPair(c)
	if !ok {
		return
	}

	balance, err := h.rewards.PairBalance(c.Request.Context(), pairID)
	if err != nil {
		h.renderError(c, "balance_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair_id": pairID.String(), "balance": balance})
}

type grantResponsePayload struct {
	Granted          bool   `json:"granted"`
	AlreadyGranted   bool   `json:"already_granted"`
	Amount           int64  `json:"amount"`
	NextBoundaryInMs int64  `json:"next_boundary_in_ms"`
	Day              string `json:"day"`
}

// Manual grant retry for a day whose completion committed but whose grant
// attempt was lost; the ledger constraint keeps it harmless on normal days.
func (h *httpHandler) handleGrant(c *gin.Context) {
	pairID, ok := h.authorizedPair(c)
	if !ok {
		return
	}
	contentType := c.Param("contentType")

	day := strings.TrimSpace(c.Query("day"))
	if day == "" {
		day = rewardday.RewardDay(h.clock().UTC(), h.offsetHours)
	}
	if !rewardday.ValidDay(day) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_day"})
		return
	}

	result, err := h.rewards.TryGrant(c.Request.Context(), pairID, contentType, day, "")
	if err != nil {
		h.renderError(c, "grant_failed", err)
		return
	}
	c.JSON(http.StatusOK, grantResponsePayload{
		Granted:          result.Granted,
		AlreadyGranted:   result.AlreadyGranted,
		Amount:           result.Amount,
		NextBoundaryInMs: result.NextBoundaryIn.Milliseconds(),
		Day:              day,
	})
}

type permitResponsePayload struct {
	Allowed   bool  `json:"allowed"`
	ResetInMs int64 `json:"reset_in_ms"`
}

func (h *httpHandler) handleStartPermit(c *gin.Context) {
	pairID, ok := h.authorizedPair(c)
	if !ok {
		return
	}

	permit, err := h.rewards.CanStartNewContent(c.Request.Context(), pairID, c.Param("contentType"))
	if err != nil {
		h.renderError(c, "permit_failed", err)
		return
	}
	c.JSON(http.StatusOK, permitResponsePayload{
		Allowed:   permit.Allowed,
		ResetInMs: permit.ResetIn.Milliseconds(),
	})
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	pairID, ok := h.authorizedPair(c)
	if !ok {
		return
	}
	if h.realtime == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "events_unavailable"})
		return
	}

	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), pairID.String())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case event, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(event.EventType, event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": h.clock().UTC().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := ""
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		// EventSource clients cannot set headers, so the stream route
		// accepts the token as a query parameter.
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	memberID, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(memberIDContextKey, memberID.String())
	c.Next()
}

func (h *httpHandler) authenticatedMember(c *gin.Context) (pairing.MemberID, bool) {
	raw := c.GetString(memberIDContextKey)
	memberID, err := pairing.NewMemberID(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return memberID, true
}

func (h *httpHandler) parsePairID(c *gin.Context) (pairing.PairID, bool) {
	pairID, err := pairing.NewPairID(c.Param("pairId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_pair_id"})
		return "", false
	}
	return pairID, true
}

// authorizedPair parses the pair route parameter and rejects callers that
// are not one of its members.
func (h *httpHandler) authorizedPair(c *gin.Context) (pairing.PairID, bool) {
	memberID, ok := h.authenticatedMember(c)
	if !ok {
		return "", false
	}
	pairID, ok := h.parsePairID(c)
	if !ok {
		return "", false
	}
	if !pairID.Contains(memberID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "member_not_in_pair"})
		return "", false
	}
	return pairID, true
}

func (h *httpHandler) renderError(c *gin.Context, fallbackCode string, err error) {
	switch {
	case errors.Is(err, pairing.ErrPairNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "pair_not_found"})
	case errors.Is(err, pairing.ErrPairRetired):
		c.JSON(http.StatusGone, gin.H{"error": "pair_retired"})
	case errors.Is(err, pairing.ErrSameMember),
		errors.Is(err, pairing.ErrInvalidMemberID),
		errors.Is(err, pairing.ErrInvalidPairID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, content.ErrMemberNotInPair):
		c.JSON(http.StatusForbidden, gin.H{"error": "member_not_in_pair"})
	case errors.Is(err, content.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item_not_found"})
	case errors.Is(err, content.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition"})
	case errors.Is(err, content.ErrConcurrentUpdate):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent_update"})
	case errors.Is(err, content.ErrInvalidDay),
		errors.Is(err, content.ErrInvalidItemID),
		errors.Is(err, content.ErrInvalidContentType),
		errors.Is(err, reward.ErrInvalidDay):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, content.ErrUnknownContentType),
		errors.Is(err, reward.ErrUnknownContentType):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_content_type"})
	case errors.Is(err, content.ErrAssignmentUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "assignment_unavailable"})
	default:
		h.logger.Error("request failed", zap.String("code", fallbackCode), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallbackCode})
	}
}
