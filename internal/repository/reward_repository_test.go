package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

// createTestReward creates a reward with the given stock.
func createTestReward(t *testing.T, repo *RewardRepository, code string, cost int64, stock int) *models.Reward {
	t.Helper()

	reward := &models.Reward{
		Code:            code,
		Name:            code,
		CostDiamonds:    cost,
		TotalStock:      stock,
		RemainingStock:  stock,
		FulfillmentMode: models.FulfillmentModeLocal,
		IsActive:        true,
	}
	if err := repo.CreateReward(reward); err != nil {
		t.Fatalf("Failed to create test reward: %v", err)
	}
	return reward
}

func TestRewardRepository_DecrementStock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	reward := createTestReward(t, repo, "mug", 100, 3)

	ok, err := repo.DecrementStock(reward.ID, 2)
	if err != nil {
		t.Fatalf("DecrementStock() failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected decrement to succeed")
	}

	reloaded, _ := repo.GetRewardByID(reward.ID)
	if reloaded.RemainingStock != 1 {
		t.Errorf("Expected remaining stock 1, got %d", reloaded.RemainingStock)
	}
}

func TestRewardRepository_DecrementStock_NoOversell(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	reward := createTestReward(t, repo, "mug", 100, 1)

	ok, err := repo.DecrementStock(reward.ID, 2)
	if err != nil {
		t.Fatalf("DecrementStock() failed: %v", err)
	}
	if ok {
		t.Error("Expected guard to reject decrement below zero")
	}

	reloaded, _ := repo.GetRewardByID(reward.ID)
	if reloaded.RemainingStock != 1 {
		t.Errorf("Expected stock unchanged at 1, got %d", reloaded.RemainingStock)
	}
}

func TestRewardRepository_DecrementStock_ExactlyToZero(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	reward := createTestReward(t, repo, "mug", 100, 2)

	if ok, _ := repo.DecrementStock(reward.ID, 2); !ok {
		t.Fatal("Expected decrement to zero to succeed")
	}
	if ok, _ := repo.DecrementStock(reward.ID, 1); ok {
		t.Error("Expected decrement past zero to be rejected")
	}
}

func TestRewardRepository_AdjustStock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	reward := createTestReward(t, repo, "mug", 100, 2)

	// Restock raises both counters.
	ok, err := repo.AdjustStock(reward.ID, 5)
	if err != nil || !ok {
		t.Fatalf("AdjustStock(+5): ok=%v err=%v", ok, err)
	}
	reloaded, _ := repo.GetRewardByID(reward.ID)
	if reloaded.RemainingStock != 7 || reloaded.TotalStock != 7 {
		t.Errorf("Expected 7/7 after restock, got %d/%d", reloaded.RemainingStock, reloaded.TotalStock)
	}

	// Removal only lowers remaining.
	ok, err = repo.AdjustStock(reward.ID, -3)
	if err != nil || !ok {
		t.Fatalf("AdjustStock(-3): ok=%v err=%v", ok, err)
	}
	reloaded, _ = repo.GetRewardByID(reward.ID)
	if reloaded.RemainingStock != 4 || reloaded.TotalStock != 7 {
		t.Errorf("Expected 4/7 after removal, got %d/%d", reloaded.RemainingStock, reloaded.TotalStock)
	}

	// Removal past zero is rejected.
	ok, err = repo.AdjustStock(reward.ID, -10)
	if err != nil {
		t.Fatalf("AdjustStock(-10) failed: %v", err)
	}
	if ok {
		t.Error("Expected removal past zero to be rejected")
	}
}

func TestRewardRepository_UpdateReward_LeavesStockAlone(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	reward := createTestReward(t, repo, "mug", 100, 5)

	reward.Name = "Branded Mug"
	reward.CostDiamonds = 120
	reward.RemainingStock = 999
	reward.TotalStock = 999
	if err := repo.UpdateReward(reward); err != nil {
		t.Fatalf("UpdateReward() failed: %v", err)
	}

	reloaded, _ := repo.GetRewardByID(reward.ID)
	if reloaded.Name != "Branded Mug" || reloaded.CostDiamonds != 120 {
		t.Errorf("Expected catalog fields updated, got %s/%d", reloaded.Name, reloaded.CostDiamonds)
	}
	if reloaded.RemainingStock != 5 || reloaded.TotalStock != 5 {
		t.Errorf("Expected stock untouched at 5/5, got %d/%d", reloaded.RemainingStock, reloaded.TotalStock)
	}
}

func TestRewardRepository_ListVisibleRewards(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	now := time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

	createTestReward(t, repo, "always", 50, 10)

	future := now.AddDate(0, 0, 7)
	upcoming := createTestReward(t, repo, "upcoming", 60, 10)
	upcoming.VisibleFrom = &future
	db.Save(upcoming)

	past := now.AddDate(0, 0, -1)
	expired := createTestReward(t, repo, "expired", 70, 10)
	expired.VisibleTo = &past
	db.Save(expired)

	inactive := createTestReward(t, repo, "inactive", 80, 10)
	db.Model(inactive).Update("is_active", false)

	visible, err := repo.ListVisibleRewards(now)
	if err != nil {
		t.Fatalf("ListVisibleRewards() failed: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("Expected 1 visible reward, got %d", len(visible))
	}
	if visible[0].Code != "always" {
		t.Errorf("Expected 'always', got %s", visible[0].Code)
	}
}

func TestRewardRepository_CreatePurchase_DuplicateKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	subject := createTestSubject(t, db, "user-1")
	reward := createTestReward(t, repo, "mug", 100, 5)

	first := &models.RewardPurchase{
		SubjectID:      subject.ID,
		RewardID:       reward.ID,
		Quantity:       1,
		UnitCost:       100,
		TotalCost:      100,
		Status:         models.PurchaseStatusReady,
		IdempotencyKey: "key-1",
	}
	if err := repo.CreatePurchase(first); err != nil {
		t.Fatalf("First CreatePurchase() failed: %v", err)
	}

	dup := &models.RewardPurchase{
		SubjectID:      subject.ID,
		RewardID:       reward.ID,
		Quantity:       1,
		UnitCost:       100,
		TotalCost:      100,
		Status:         models.PurchaseStatusReady,
		IdempotencyKey: "key-1",
	}
	err := repo.CreatePurchase(dup)
	if !errors.Is(err, ErrDuplicatePurchaseKey) {
		t.Errorf("Expected ErrDuplicatePurchaseKey, got %v", err)
	}

	// A different subject may reuse the same key.
	other := createTestSubject(t, db, "user-2")
	theirs := &models.RewardPurchase{
		SubjectID:      other.ID,
		RewardID:       reward.ID,
		Quantity:       1,
		UnitCost:       100,
		TotalCost:      100,
		Status:         models.PurchaseStatusReady,
		IdempotencyKey: "key-1",
	}
	if err := repo.CreatePurchase(theirs); err != nil {
		t.Errorf("Expected cross-subject key reuse to succeed, got %v", err)
	}
}

func TestRewardRepository_MarkRefunded_ExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	subject := createTestSubject(t, db, "user-1")
	reward := createTestReward(t, repo, "mug", 100, 5)

	p := &models.RewardPurchase{
		SubjectID:      subject.ID,
		RewardID:       reward.ID,
		Quantity:       1,
		UnitCost:       100,
		TotalCost:      100,
		Status:         models.PurchaseStatusReady,
		IdempotencyKey: "key-1",
	}
	if err := repo.CreatePurchase(p); err != nil {
		t.Fatalf("CreatePurchase() failed: %v", err)
	}

	now := time.Now()
	ok, err := repo.MarkRefunded(p.ID, now)
	if err != nil || !ok {
		t.Fatalf("First MarkRefunded(): ok=%v err=%v", ok, err)
	}

	ok, err = repo.MarkRefunded(p.ID, now)
	if err != nil {
		t.Fatalf("Second MarkRefunded() failed: %v", err)
	}
	if ok {
		t.Error("Expected second refund to be rejected")
	}
}

func TestRewardRepository_TransitionPurchase(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRewardRepository(db)
	subject := createTestSubject(t, db, "user-1")
	reward := createTestReward(t, repo, "giftcard", 100, 5)

	p := &models.RewardPurchase{
		SubjectID:      subject.ID,
		RewardID:       reward.ID,
		Quantity:       1,
		UnitCost:       100,
		TotalCost:      100,
		Status:         models.PurchaseStatusFulfilling,
		IdempotencyKey: "key-1",
	}
	if err := repo.CreatePurchase(p); err != nil {
		t.Fatalf("CreatePurchase() failed: %v", err)
	}

	ok, err := repo.TransitionPurchase(p.ID, models.PurchaseStatusFulfilling, models.PurchaseStatusReady, nil)
	if err != nil || !ok {
		t.Fatalf("TransitionPurchase(): ok=%v err=%v", ok, err)
	}

	// Wrong expected status leaves the row alone.
	ok, err = repo.TransitionPurchase(p.ID, models.PurchaseStatusFulfilling, models.PurchaseStatusFailed, nil)
	if err != nil {
		t.Fatalf("Second TransitionPurchase() failed: %v", err)
	}
	if ok {
		t.Error("Expected transition from wrong status to be rejected")
	}

	reloaded, _ := repo.GetPurchaseByID(p.ID)
	if reloaded.Status != models.PurchaseStatusReady {
		t.Errorf("Expected READY, got %s", reloaded.Status)
	}
}
