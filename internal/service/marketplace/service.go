// Package marketplace implements the reward catalog, idempotent purchases,
// refunds and external fulfillment.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/fulfillment"
	prommetrics "github.com/seandahissiho/murya-api-sub000/internal/metrics"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// Purchase failures are defined outcomes with stable sentinel errors.
var (
	// ErrInvalidQuantity is returned before any transaction opens.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrMissingIdempotencyKey is returned before any transaction opens.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")

	// ErrRewardUnavailable is returned when the reward is inactive or
	// outside its visibility window.
	ErrRewardUnavailable = errors.New("reward is not available")

	// ErrInsufficientFunds is returned when the ledger balance cannot cover
	// the purchase. Nothing is debited.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOutOfStock is returned when the guarded stock decrement affects
	// zero rows. Nothing is debited.
	ErrOutOfStock = errors.New("out of stock")

	// ErrNotRefundable is returned when a refund targets a purchase that is
	// not in a refundable status.
	ErrNotRefundable = errors.New("purchase is not refundable")
)

// maxFulfillmentAttempts is the provider retry budget before a purchase is
// refunded.
const maxFulfillmentAttempts = 5

// Provider requests vouchers from the external fulfillment provider.
type Provider interface {
	Enabled() bool
	Fulfill(ctx context.Context, purchase *models.RewardPurchase) (*fulfillment.Result, error)
}

// PurchaseResult is what a purchase call returns: the (possibly replayed)
// purchase row and the ledger balance after it.
type PurchaseResult struct {
	Purchase *models.RewardPurchase `json:"purchase"`
	Balance  int64                  `json:"balance"`
	// Replayed is true when the result comes from an earlier request with
	// the same idempotency key; no new debit happened.
	Replayed bool `json:"replayed"`
}

// Service handles the reward marketplace.
type Service struct {
	db          *repository.DB
	rewardRepo  *repository.RewardRepository
	ledgerRepo  *repository.LedgerRepository
	subjectRepo *repository.SubjectRepository
	provider    Provider
	log         *logger.Logger
}

// NewService creates a new marketplace service.
func NewService(
	db *repository.DB,
	rewardRepo *repository.RewardRepository,
	ledgerRepo *repository.LedgerRepository,
	subjectRepo *repository.SubjectRepository,
	provider Provider,
	log *logger.Logger,
) *Service {
	return &Service{
		db:          db,
		rewardRepo:  rewardRepo,
		ledgerRepo:  ledgerRepo,
		subjectRepo: subjectRepo,
		provider:    provider,
		log:         log,
	}
}

// ListCatalog lists the rewards currently visible to subjects.
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) ListCatalog(ctx context.Context) ([]models.Reward, error) {
	return s.rewardRepo.ListVisibleRewards(time.Now())
}

// Purchase executes one idempotent reward purchase. A request replaying an
// existing (subject, idempotency key) pair returns the original row without
// touching stock or the ledger. Otherwise, inside one transaction: the
// balance is re-derived from the ledger, the stock decrement is attempted as
// a guarded conditional update, and the purchase row, ledger debit and cached
// balance update commit together.
func (s *Service) Purchase(ctx context.Context, subject *models.Subject, rewardID uint, quantity int, idempotencyKey string) (*PurchaseResult, error) {
	start := time.Now()
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}

	// Fast replay path before any transaction opens.
	if existing, err := s.rewardRepo.GetPurchaseByKey(subject.ID, idempotencyKey); err == nil {
		return s.replay(ctx, subject, existing)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	var (
		purchase *models.RewardPurchase
		balance  int64
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rewardRepo := s.rewardRepo.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)
		subjectRepo := s.subjectRepo.WithTx(tx)

		reward, err := rewardRepo.GetRewardByID(rewardID)
		if err != nil {
			return fmt.Errorf("failed to load reward %d: %w", rewardID, err)
		}
		now := time.Now()
		if !reward.IsVisibleAt(now) {
			return ErrRewardUnavailable
		}

		totalCost := reward.CostDiamonds * int64(quantity)

		// Debit decisions always re-derive the balance from the ledger
		// inside the transaction, never from the cached field.
		current, err := ledgerRepo.SumBalance(subject.ID, models.CurrencyDiamonds)
		if err != nil {
			return err
		}
		if current < totalCost {
			return ErrInsufficientFunds
		}

		// The guarded decrement is the oversell protection: zero affected
		// rows means another purchase won the remaining stock.
		ok, err := rewardRepo.DecrementStock(reward.ID, quantity)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOutOfStock
		}

		status := models.PurchaseStatusReady
		var voucher json.RawMessage
		if reward.FulfillmentMode == models.FulfillmentModeExternal {
			status = models.PurchaseStatusFulfilling
		} else {
			voucher = localVoucher(reward, quantity, now)
		}

		purchase = &models.RewardPurchase{
			SubjectID:      subject.ID,
			RewardID:       reward.ID,
			Quantity:       quantity,
			UnitCost:       reward.CostDiamonds,
			TotalCost:      totalCost,
			Status:         status,
			IdempotencyKey: idempotencyKey,
			Voucher:        voucher,
		}
		if err := rewardRepo.CreatePurchase(purchase); err != nil {
			return err
		}
		purchase.Reward = *reward

		refType := models.LedgerRefRewardPurchase
		refID := purchase.ID
		entry := &models.LedgerEntry{
			SubjectID: subject.ID,
			Currency:  models.CurrencyDiamonds,
			Delta:     -totalCost,
			Reason:    models.LedgerReasonRewardPurchase,
			RefType:   &refType,
			RefID:     &refID,
		}
		if err := ledgerRepo.Append(entry); err != nil {
			return err
		}
		if err := subjectRepo.AdjustCachedBalance(subject.ID, -totalCost); err != nil {
			return err
		}

		balance = current - totalCost
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicatePurchaseKey) {
			// A concurrent duplicate won the insert; answer with its row.
			winning, ferr := s.rewardRepo.GetPurchaseByKey(subject.ID, idempotencyKey)
			if ferr != nil {
				return nil, fmt.Errorf("failed to fetch winning purchase: %w", ferr)
			}
			return s.replay(ctx, subject, winning)
		}
		prommetrics.RecordPurchase("rejected")
		return nil, err
	}

	prommetrics.RecordPurchase("success")
	prommetrics.RecordLedgerDelta(models.CurrencyDiamonds, models.LedgerReasonRewardPurchase, -purchase.TotalCost)
	prommetrics.ObservePurchaseDuration(time.Since(start).Seconds())
	s.log.Info().
		Uint("subject_id", subject.ID).
		Uint("reward_id", rewardID).
		Uint("purchase_id", purchase.ID).
		Int("quantity", quantity).
		Int64("total_cost", purchase.TotalCost).
		Msg("Reward purchased")

	// External fulfillment is dispatched only after the transaction commits;
	// the poller retries anything this best-effort attempt leaves behind.
	if purchase.Status == models.PurchaseStatusFulfilling && s.provider != nil && s.provider.Enabled() {
		go s.fulfillOne(context.Background(), purchase.ID)
	}

	return &PurchaseResult{Purchase: purchase, Balance: balance}, nil
}

// replay answers a request from the original purchase row.
func (s *Service) replay(ctx context.Context, subject *models.Subject, purchase *models.RewardPurchase) (*PurchaseResult, error) {
	balance, err := s.ledgerRepo.SumBalance(subject.ID, models.CurrencyDiamonds)
	if err != nil {
		return nil, err
	}
	prommetrics.RecordPurchaseReplay()
	s.log.Debug().
		Uint("subject_id", subject.ID).
		Uint("purchase_id", purchase.ID).
		Msg("Purchase request replayed from idempotency key")
	return &PurchaseResult{Purchase: purchase, Balance: balance, Replayed: true}, nil
}

// localVoucher builds the immediate voucher payload for LOCAL fulfillment.
func localVoucher(reward *models.Reward, quantity int, issuedAt time.Time) json.RawMessage {
	payload, _ := json.Marshal(map[string]interface{}{
		"reward_code": reward.Code,
		"quantity":    quantity,
		"issued_at":   issuedAt.UTC().Format(time.RFC3339),
	})
	return payload
}

// Refund reverses a purchase: status REFUNDED plus a positive ledger entry
// for the original total cost, in one transaction. Stock is not returned
// automatically; restocking is an explicit admin operation.
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) Refund(ctx context.Context, purchaseID uint) (*models.RewardPurchase, error) {
	var refunded *models.RewardPurchase
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rewardRepo := s.rewardRepo.WithTx(tx)
		ledgerRepo := s.ledgerRepo.WithTx(tx)
		subjectRepo := s.subjectRepo.WithTx(tx)

		purchase, err := rewardRepo.GetPurchaseByID(purchaseID)
		if err != nil {
			return fmt.Errorf("failed to load purchase %d: %w", purchaseID, err)
		}

		now := time.Now()
		ok, err := rewardRepo.MarkRefunded(purchaseID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotRefundable
		}

		refType := models.LedgerRefRewardPurchase
		refID := purchase.ID
		entry := &models.LedgerEntry{
			SubjectID: purchase.SubjectID,
			Currency:  models.CurrencyDiamonds,
			Delta:     purchase.TotalCost,
			Reason:    models.LedgerReasonRewardRefund,
			RefType:   &refType,
			RefID:     &refID,
		}
		if err := ledgerRepo.Append(entry); err != nil {
			return err
		}
		if err := subjectRepo.AdjustCachedBalance(purchase.SubjectID, purchase.TotalCost); err != nil {
			return err
		}

		purchase.Status = models.PurchaseStatusRefunded
		purchase.RefundedAt = &now
		refunded = purchase
		return nil
	})
	if err != nil {
		return nil, err
	}

	prommetrics.RecordLedgerDelta(models.CurrencyDiamonds, models.LedgerReasonRewardRefund, refunded.TotalCost)
	s.log.Info().
		Uint("purchase_id", refunded.ID).
		Uint("subject_id", refunded.SubjectID).
		Int64("amount", refunded.TotalCost).
		Msg("Purchase refunded")
	return refunded, nil
}

// MarkReady transitions an externally fulfilled purchase to READY with its
// voucher, used by the admin surface and the poller.
//
//nolint:revive // ctx reserved for future context-aware operations (tracing, cancellation)
func (s *Service) MarkReady(ctx context.Context, purchaseID uint, voucher json.RawMessage) error {
	ok, err := s.rewardRepo.TransitionPurchase(purchaseID, models.PurchaseStatusFulfilling, models.PurchaseStatusReady, map[string]interface{}{
		"voucher": voucher,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("purchase %d is not awaiting fulfillment", purchaseID)
	}
	return nil
}

// FulfillPending is the async fulfillment pass: it picks up FULFILLING
// purchases and asks the provider for vouchers. Retryable failures increment
// the attempt counter; a spent retry budget or a permanent rejection sends
// the purchase down the refund path.
func (s *Service) FulfillPending(ctx context.Context, batchSize int) error {
	if s.provider == nil || !s.provider.Enabled() {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	pending, err := s.rewardRepo.ListPurchasesByStatus(models.PurchaseStatusFulfilling, batchSize)
	if err != nil {
		return err
	}
	prommetrics.SetFulfillingPurchases(len(pending))

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.fulfillOne(ctx, pending[i].ID)
	}
	return nil
}

// fulfillOne makes one provider attempt for one purchase.
func (s *Service) fulfillOne(ctx context.Context, purchaseID uint) {
	purchase, err := s.rewardRepo.GetPurchaseByID(purchaseID)
	if err != nil {
		s.log.Error().Err(err).Uint("purchase_id", purchaseID).Msg("Failed to load purchase for fulfillment")
		return
	}
	if purchase.Status != models.PurchaseStatusFulfilling {
		return
	}

	result, err := s.provider.Fulfill(ctx, purchase)
	if err == nil {
		if err := s.MarkReady(ctx, purchase.ID, result.Voucher); err != nil {
			s.log.Error().Err(err).Uint("purchase_id", purchase.ID).Msg("Failed to mark purchase ready")
		}
		return
	}

	if result != nil && result.Retry && purchase.FulfillmentAttempts+1 < maxFulfillmentAttempts {
		if _, uerr := s.rewardRepo.IncrementFulfillmentAttempts(purchase.ID); uerr != nil {
			s.log.Error().Err(uerr).Uint("purchase_id", purchase.ID).Msg("Failed to record fulfillment attempt")
		}
		s.log.Warn().
			Err(err).
			Uint("purchase_id", purchase.ID).
			Int("attempts", purchase.FulfillmentAttempts+1).
			Msg("Fulfillment attempt failed, will retry")
		return
	}

	// Permanent rejection or retry budget spent: give the money back.
	s.log.Warn().
		Err(err).
		Uint("purchase_id", purchase.ID).
		Msg("Fulfillment failed permanently, refunding")
	if _, rerr := s.Refund(ctx, purchase.ID); rerr != nil {
		s.log.Error().Err(rerr).Uint("purchase_id", purchase.ID).Msg("Failed to refund unfulfillable purchase")
	}
}
