// Package admin provides REST API handlers for operator tasks: definition
// and catalog management, manual balance adjustments, reconciliation and
// ledger backfill.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/internal/service/marketplace"
	"github.com/seandahissiho/murya-api-sub000/internal/service/wallet"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// DefinitionStore manages quest definitions.
type DefinitionStore interface {
	CreateDefinition(def *models.QuestDefinition) error
	UpdateDefinition(def *models.QuestDefinition) error
	GetDefinitionByID(id uint) (*models.QuestDefinition, error)
}

// RewardStore manages the reward catalog.
type RewardStore interface {
	CreateReward(reward *models.Reward) error
	UpdateReward(reward *models.Reward) error
	GetRewardByID(id uint) (*models.Reward, error)
	AdjustStock(rewardID uint, delta int) (bool, error)
}

// SubjectStore resolves subjects by external identifier.
type SubjectStore interface {
	GetByExternalID(externalID string) (*models.Subject, error)
}

// WalletService interface for balance maintenance operations.
type WalletService interface {
	Adjust(ctx context.Context, subjectID uint, delta int64) (int64, error)
	ReconcileAll(ctx context.Context) (int, error)
	BackfillQuestRewards(ctx context.Context, batchSize int) (int, error)
}

// MarketplaceService interface for purchase maintenance operations.
type MarketplaceService interface {
	Refund(ctx context.Context, purchaseID uint) (*models.RewardPurchase, error)
	MarkReady(ctx context.Context, purchaseID uint, voucher json.RawMessage) error
}

// CacheInvalidator drops cached quest definitions after writes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Handler handles admin API requests.
type Handler struct {
	definitions        DefinitionStore
	rewards            RewardStore
	subjects           SubjectStore
	walletService      WalletService
	marketplaceService MarketplaceService
	cache              CacheInvalidator
	log                *logger.Logger
}

// NewHandler creates a new admin handler.
func NewHandler(
	definitions *repository.QuestRepository,
	rewards *repository.RewardRepository,
	subjects *repository.SubjectRepository,
	walletService *wallet.Service,
	marketplaceService *marketplace.Service,
	cache CacheInvalidator,
	log *logger.Logger,
) *Handler {
	return &Handler{
		definitions:        definitions,
		rewards:            rewards,
		subjects:           subjects,
		walletService:      walletService,
		marketplaceService: marketplaceService,
		cache:              cache,
		log:                log,
	}
}

// NewHandlerWithInterfaces creates a new admin handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(
	definitions DefinitionStore,
	rewards RewardStore,
	subjects SubjectStore,
	walletService WalletService,
	marketplaceService MarketplaceService,
	cache CacheInvalidator,
	log *logger.Logger,
) *Handler {
	return &Handler{
		definitions:        definitions,
		rewards:            rewards,
		subjects:           subjects,
		walletService:      walletService,
		marketplaceService: marketplaceService,
		cache:              cache,
		log:                log,
	}
}

// RegisterRoutes attaches the admin surface to a router group.
func (h *Handler) RegisterRoutes(admin *gin.RouterGroup) {
	admin.POST("/quests", h.CreateDefinition)
	admin.PUT("/quests/:id", h.UpdateDefinition)
	admin.POST("/rewards", h.CreateReward)
	admin.PUT("/rewards/:id", h.UpdateReward)
	admin.POST("/rewards/:id/stock", h.AdjustStock)
	admin.POST("/purchases/:id/refund", h.RefundPurchase)
	admin.POST("/purchases/:id/ready", h.MarkPurchaseReady)
	admin.POST("/subjects/:id/adjust", h.AdjustBalance)
	admin.POST("/reconcile", h.Reconcile)
	admin.POST("/backfill", h.Backfill)
}

// CreateDefinition creates a quest definition.
// POST /api/v1/admin/quests.
func (h *Handler) CreateDefinition(c *gin.Context) {
	var def models.QuestDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if def.Code == "" || def.EventKey == "" || def.TargetCount <= 0 {
		h.errorResponse(c, http.StatusBadRequest, "code, event_key and a positive target_count are required")
		return
	}
	if _, err := def.ParseMeta(); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid meta: "+err.Error())
		return
	}

	if err := h.definitions.CreateDefinition(&def); err != nil {
		h.log.Error().Err(err).Str("code", def.Code).Msg("Failed to create quest definition")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to create quest definition")
		return
	}
	h.invalidateDefinitions(c)

	c.JSON(http.StatusCreated, gin.H{"definition": def})
}

// UpdateDefinition updates a quest definition.
// PUT /api/v1/admin/quests/:id.
func (h *Handler) UpdateDefinition(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid definition id")
		return
	}

	existing, err := h.definitions.GetDefinitionByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorResponse(c, http.StatusNotFound, "Quest definition not found")
			return
		}
		h.log.Error().Err(err).Uint("definition_id", id).Msg("Failed to load quest definition")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to load quest definition")
		return
	}

	var def models.QuestDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	def.ID = existing.ID
	if _, err := def.ParseMeta(); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid meta: "+err.Error())
		return
	}

	if err := h.definitions.UpdateDefinition(&def); err != nil {
		h.log.Error().Err(err).Uint("definition_id", id).Msg("Failed to update quest definition")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to update quest definition")
		return
	}
	h.invalidateDefinitions(c)

	c.JSON(http.StatusOK, gin.H{"definition": def})
}

// CreateReward adds a reward to the catalog.
// POST /api/v1/admin/rewards.
func (h *Handler) CreateReward(c *gin.Context) {
	var reward models.Reward
	if err := c.ShouldBindJSON(&reward); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if reward.Code == "" || reward.CostDiamonds <= 0 {
		h.errorResponse(c, http.StatusBadRequest, "code and a positive cost_diamonds are required")
		return
	}

	if err := h.rewards.CreateReward(&reward); err != nil {
		h.log.Error().Err(err).Str("code", reward.Code).Msg("Failed to create reward")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to create reward")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"reward": reward})
}

// UpdateReward updates catalog fields of a reward. Stock counters are only
// touched through AdjustStock.
// PUT /api/v1/admin/rewards/:id.
func (h *Handler) UpdateReward(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid reward id")
		return
	}

	existing, err := h.rewards.GetRewardByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorResponse(c, http.StatusNotFound, "Reward not found")
			return
		}
		h.log.Error().Err(err).Uint("reward_id", id).Msg("Failed to load reward")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to load reward")
		return
	}

	var reward models.Reward
	if err := c.ShouldBindJSON(&reward); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	reward.ID = existing.ID

	if err := h.rewards.UpdateReward(&reward); err != nil {
		h.log.Error().Err(err).Uint("reward_id", id).Msg("Failed to update reward")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to update reward")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reward": reward})
}

// adjustStockRequest carries a signed stock delta.
type adjustStockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// AdjustStock restocks or removes stock from a reward.
// POST /api/v1/admin/rewards/:id/stock.
func (h *Handler) AdjustStock(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid reward id")
		return
	}

	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := h.rewards.AdjustStock(id, req.Delta)
	if err != nil {
		h.log.Error().Err(err).Uint("reward_id", id).Int("delta", req.Delta).Msg("Failed to adjust stock")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to adjust stock")
		return
	}
	if !ok {
		h.errorResponse(c, http.StatusConflict, "not enough remaining stock to remove")
		return
	}

	reward, err := h.rewards.GetRewardByID(id)
	if err != nil {
		h.log.Error().Err(err).Uint("reward_id", id).Msg("Failed to reload reward")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to reload reward")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reward": reward})
}

// RefundPurchase refunds a purchase and credits the subject back.
// POST /api/v1/admin/purchases/:id/refund.
func (h *Handler) RefundPurchase(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid purchase id")
		return
	}

	purchase, err := h.marketplaceService.Refund(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, marketplace.ErrNotRefundable):
			h.errorResponse(c, http.StatusConflict, "purchase is not refundable")
		case errors.Is(err, gorm.ErrRecordNotFound):
			h.errorResponse(c, http.StatusNotFound, "Purchase not found")
		default:
			h.log.Error().Err(err).Uint("purchase_id", id).Msg("Failed to refund purchase")
			h.errorResponse(c, http.StatusInternalServerError, "Failed to refund purchase")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

// markReadyRequest carries an optional voucher payload from the operator.
type markReadyRequest struct {
	Voucher json.RawMessage `json:"voucher"`
}

// MarkPurchaseReady completes a stuck external fulfillment by hand.
// POST /api/v1/admin/purchases/:id/ready.
func (h *Handler) MarkPurchaseReady(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "invalid purchase id")
		return
	}

	var req markReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.marketplaceService.MarkReady(c.Request.Context(), id, req.Voucher); err != nil {
		h.log.Error().Err(err).Uint("purchase_id", id).Msg("Failed to mark purchase ready")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to mark purchase ready")
		return
	}

	c.JSON(http.StatusOK, gin.H{"purchase_id": id, "status": models.PurchaseStatusReady})
}

// adjustBalanceRequest carries a signed diamond delta.
type adjustBalanceRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

// AdjustBalance applies a manual diamond adjustment to a subject.
// POST /api/v1/admin/subjects/:id/adjust.
func (h *Handler) AdjustBalance(c *gin.Context) {
	subject, err := h.subjects.GetByExternalID(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorResponse(c, http.StatusNotFound, "Subject not found")
			return
		}
		h.log.Error().Err(err).Str("subject", c.Param("id")).Msg("Failed to resolve subject")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to resolve subject")
		return
	}

	var req adjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.walletService.Adjust(c.Request.Context(), subject.ID, req.Delta)
	if err != nil {
		h.log.Error().Err(err).Uint("subject_id", subject.ID).Int64("delta", req.Delta).Msg("Failed to adjust balance")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to adjust balance")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subject_id": subject.ExternalID,
		"balance":    balance,
	})
}

// Reconcile re-derives every cached balance from the ledger.
// POST /api/v1/admin/reconcile.
func (h *Handler) Reconcile(c *gin.Context) {
	repaired, err := h.walletService.ReconcileAll(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to reconcile balances")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to reconcile balances")
		return
	}

	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

// backfillRequest tunes the backfill batch size.
type backfillRequest struct {
	BatchSize int `json:"batch_size"`
}

// Backfill writes missing ledger entries for claims recorded before the
// ledger existed.
// POST /api/v1/admin/backfill.
func (h *Handler) Backfill(c *gin.Context) {
	var req backfillRequest
	// The body is optional.
	_ = c.ShouldBindJSON(&req)
	if req.BatchSize <= 0 {
		req.BatchSize = 200
	}

	created, err := h.walletService.BackfillQuestRewards(c.Request.Context(), req.BatchSize)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to backfill ledger")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to backfill ledger")
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries_created": created})
}

// Helper functions

// invalidateDefinitions drops cached definitions after a write. Cache loss
// is tolerated, the next read repopulates it.
func (h *Handler) invalidateDefinitions(c *gin.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to invalidate definition cache")
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
