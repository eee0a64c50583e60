// Package economy provides REST API handlers for the subject-facing economy
// surface: event ingestion, quest boards, claims, wallet and purchases.
package economy

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/internal/service/marketplace"
	"github.com/seandahissiho/murya-api-sub000/internal/service/quests"
	"github.com/seandahissiho/murya-api-sub000/internal/service/wallet"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// SubjectResolver resolves the reward-earning principal behind a request.
type SubjectResolver interface {
	GetOrCreate(externalID, timezone string) (*models.Subject, error)
}

// QuestService interface for quest operations.
type QuestService interface {
	TrackEvent(ctx context.Context, subject *models.Subject, eventKey string, event quests.Event, tzOverride string) error
	ListQuests(ctx context.Context, subject *models.Subject, tzOverride string) (*quests.QuestBoard, error)
	Claim(ctx context.Context, subject *models.Subject, instanceID uint, tzOverride string) (*models.QuestInstance, error)
}

// WalletService interface for balance operations.
type WalletService interface {
	GetWallet(ctx context.Context, subjectID uint) (*wallet.Wallet, error)
}

// MarketplaceService interface for catalog and purchase operations.
type MarketplaceService interface {
	ListCatalog(ctx context.Context) ([]models.Reward, error)
	Purchase(ctx context.Context, subject *models.Subject, rewardID uint, quantity int, idempotencyKey string) (*marketplace.PurchaseResult, error)
}

// Handler handles economy API requests.
type Handler struct {
	subjects           SubjectResolver
	questService       QuestService
	walletService      WalletService
	marketplaceService MarketplaceService
	log                *logger.Logger
}

// NewHandler creates a new economy handler.
func NewHandler(
	subjects *repository.SubjectRepository,
	questService *quests.Service,
	walletService *wallet.Service,
	marketplaceService *marketplace.Service,
	log *logger.Logger,
) *Handler {
	return &Handler{
		subjects:           subjects,
		questService:       questService,
		walletService:      walletService,
		marketplaceService: marketplaceService,
		log:                log,
	}
}

// NewHandlerWithInterfaces creates a new economy handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(
	subjects SubjectResolver,
	questService QuestService,
	walletService WalletService,
	marketplaceService MarketplaceService,
	log *logger.Logger,
) *Handler {
	return &Handler{
		subjects:           subjects,
		questService:       questService,
		walletService:      walletService,
		marketplaceService: marketplaceService,
		log:                log,
	}
}

// RegisterRoutes attaches the economy surface to a router group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/events", h.TrackEvent)
	api.GET("/subjects/:id/quests", h.ListQuests)
	api.POST("/subjects/:id/quests/:instance_id/claim", h.Claim)
	api.GET("/subjects/:id/wallet", h.GetWallet)
	api.POST("/subjects/:id/purchases", h.Purchase)
	api.GET("/rewards", h.ListRewards)
}

// trackEventRequest is the event ingestion payload.
type trackEventRequest struct {
	SubjectID  string     `json:"subject_id" binding:"required"`
	EventKey   string     `json:"event_key" binding:"required"`
	SubType    string     `json:"sub_type"`
	Score      *float64   `json:"score"`
	OccurredAt *time.Time `json:"occurred_at"`
	Timezone   string     `json:"timezone"`
}

// TrackEvent ingests one domain event from an activity collaborator.
// POST /api/v1/events.
func (h *Handler) TrackEvent(c *gin.Context) {
	var req trackEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	subject, err := h.subjects.GetOrCreate(req.SubjectID, req.Timezone)
	if err != nil {
		h.log.Error().Err(err).Str("subject", req.SubjectID).Msg("Failed to resolve subject")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to resolve subject")
		return
	}

	event := quests.Event{SubType: req.SubType, Score: req.Score}
	if req.OccurredAt != nil {
		event.OccurredAt = *req.OccurredAt
	}

	if err := h.questService.TrackEvent(c.Request.Context(), subject, req.EventKey, event, req.Timezone); err != nil {
		h.log.Error().Err(err).Str("event_key", req.EventKey).Msg("Failed to track event")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to track event")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"tracked":   true,
		"event_key": req.EventKey,
	})
}

// ListQuests returns the subject's quest board for the current windows.
// GET /api/v1/subjects/:id/quests?timezone=Europe/Paris.
func (h *Handler) ListQuests(c *gin.Context) {
	subject, ok := h.resolveSubject(c)
	if !ok {
		return
	}

	board, err := h.questService.ListQuests(c.Request.Context(), subject, c.Query("timezone"))
	if err != nil {
		h.log.Error().Err(err).Uint("subject_id", subject.ID).Msg("Failed to list quests")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to list quests")
		return
	}

	c.JSON(http.StatusOK, board)
}

// Claim claims a completed quest instance.
// POST /api/v1/subjects/:id/quests/:instance_id/claim.
func (h *Handler) Claim(c *gin.Context) {
	subject, ok := h.resolveSubject(c)
	if !ok {
		return
	}

	instanceID, err := parseID(c.Param("instance_id"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid instance id")
		return
	}

	inst, err := h.questService.Claim(c.Request.Context(), subject, instanceID, c.Query("timezone"))
	if err != nil {
		h.claimError(c, subject.ID, instanceID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

// GetWallet returns the subject's balance and recent ledger entries.
// GET /api/v1/subjects/:id/wallet.
func (h *Handler) GetWallet(c *gin.Context) {
	subject, ok := h.resolveSubject(c)
	if !ok {
		return
	}

	w, err := h.walletService.GetWallet(c.Request.Context(), subject.ID)
	if err != nil {
		h.log.Error().Err(err).Uint("subject_id", subject.ID).Msg("Failed to get wallet")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to get wallet")
		return
	}

	c.JSON(http.StatusOK, w)
}

// purchaseRequest is the purchase payload.
type purchaseRequest struct {
	RewardID       uint   `json:"reward_id" binding:"required"`
	Quantity       int    `json:"quantity" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// Purchase buys a reward with diamonds.
// POST /api/v1/subjects/:id/purchases.
func (h *Handler) Purchase(c *gin.Context) {
	subject, ok := h.resolveSubject(c)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.marketplaceService.Purchase(c.Request.Context(), subject, req.RewardID, req.Quantity, req.IdempotencyKey)
	if err != nil {
		h.purchaseError(c, subject.ID, req.RewardID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"purchase": result.Purchase,
		"balance":  result.Balance,
		"replayed": result.Replayed,
	})
}

// ListRewards returns the currently visible reward catalog.
// GET /api/v1/rewards.
func (h *Handler) ListRewards(c *gin.Context) {
	rewards, err := h.marketplaceService.ListCatalog(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rewards")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to list rewards")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rewards": rewards,
		"total":   len(rewards),
	})
}

// Helper functions

// resolveSubject resolves the :id path parameter into a subject, answering
// the request itself on failure.
func (h *Handler) resolveSubject(c *gin.Context) (*models.Subject, bool) {
	externalID := c.Param("id")
	if externalID == "" {
		h.errorResponse(c, http.StatusBadRequest, "subject id is required")
		return nil, false
	}
	subject, err := h.subjects.GetOrCreate(externalID, c.Query("timezone"))
	if err != nil {
		h.log.Error().Err(err).Str("subject", externalID).Msg("Failed to resolve subject")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to resolve subject")
		return nil, false
	}
	return subject, true
}

// claimError maps claim failures to stable HTTP codes.
func (h *Handler) claimError(c *gin.Context, subjectID, instanceID uint, err error) {
	switch {
	case errors.Is(err, quests.ErrAlreadyClaimed):
		h.errorResponseCode(c, http.StatusConflict, "ALREADY_CLAIMED", "quest already claimed")
	case errors.Is(err, quests.ErrNotCompleted):
		h.errorResponseCode(c, http.StatusConflict, "NOT_COMPLETED", "quest is not completed")
	case errors.Is(err, quests.ErrQuestLocked):
		h.errorResponseCode(c, http.StatusConflict, "LOCKED", "quest is locked")
	case errors.Is(err, quests.ErrNotOwner), errors.Is(err, gorm.ErrRecordNotFound):
		h.errorResponseCode(c, http.StatusNotFound, "NOT_FOUND", "quest instance not found")
	default:
		h.log.Error().Err(err).Uint("subject_id", subjectID).Uint("instance_id", instanceID).Msg("Failed to claim quest")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to claim quest")
	}
}

// purchaseError maps purchase failures to stable HTTP codes.
func (h *Handler) purchaseError(c *gin.Context, subjectID, rewardID uint, err error) {
	switch {
	case errors.Is(err, marketplace.ErrInvalidQuantity), errors.Is(err, marketplace.ErrMissingIdempotencyKey):
		h.errorResponseCode(c, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, marketplace.ErrInsufficientFunds):
		h.errorResponseCode(c, http.StatusConflict, "INSUFFICIENT_FUNDS", "not enough diamonds")
	case errors.Is(err, marketplace.ErrOutOfStock):
		h.errorResponseCode(c, http.StatusConflict, "OUT_OF_STOCK", "reward is out of stock")
	case errors.Is(err, marketplace.ErrRewardUnavailable), errors.Is(err, gorm.ErrRecordNotFound):
		h.errorResponseCode(c, http.StatusNotFound, "NOT_FOUND", "reward is not available")
	default:
		h.log.Error().Err(err).Uint("subject_id", subjectID).Uint("reward_id", rewardID).Msg("Failed to purchase reward")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to purchase reward")
	}
}

// parseID parses a numeric path parameter.
func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}

// errorResponseCode sends a standardized error response with a machine-readable code.
func (h *Handler) errorResponseCode(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"code":      code,
		"timestamp": time.Now().UTC(),
	})
}
