package repository

import (
	"errors"
	"testing"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
)

func refString(s string) *string { return &s }
func refUint(u uint) *uint       { return &u }

func TestLedgerRepository_AppendAndSum(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	entries := []models.LedgerEntry{
		{SubjectID: subject.ID, Currency: models.CurrencyDiamonds, Delta: 50, Reason: models.LedgerReasonQuestReward, RefType: refString(models.LedgerRefQuestInstance), RefID: refUint(1)},
		{SubjectID: subject.ID, Currency: models.CurrencyDiamonds, Delta: 25, Reason: models.LedgerReasonQuestReward, RefType: refString(models.LedgerRefQuestInstance), RefID: refUint(2)},
		{SubjectID: subject.ID, Currency: models.CurrencyDiamonds, Delta: -30, Reason: models.LedgerReasonRewardPurchase, RefType: refString(models.LedgerRefRewardPurchase), RefID: refUint(1)},
	}
	for i := range entries {
		if err := repo.Append(&entries[i]); err != nil {
			t.Fatalf("Append() %d failed: %v", i, err)
		}
	}

	balance, err := repo.SumBalance(subject.ID, models.CurrencyDiamonds)
	if err != nil {
		t.Fatalf("SumBalance() failed: %v", err)
	}
	if balance != 45 {
		t.Errorf("Expected balance 45, got %d", balance)
	}
}

func TestLedgerRepository_SumBalance_EmptyLedger(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	balance, err := repo.SumBalance(subject.ID, models.CurrencyDiamonds)
	if err != nil {
		t.Fatalf("SumBalance() failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("Expected 0 for empty ledger, got %d", balance)
	}
}

func TestLedgerRepository_DuplicateRefRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	entry := models.LedgerEntry{
		SubjectID: subject.ID,
		Currency:  models.CurrencyDiamonds,
		Delta:     50,
		Reason:    models.LedgerReasonQuestReward,
		RefType:   refString(models.LedgerRefQuestInstance),
		RefID:     refUint(7),
	}
	if err := repo.Append(&entry); err != nil {
		t.Fatalf("First Append() failed: %v", err)
	}

	dup := models.LedgerEntry{
		SubjectID: subject.ID,
		Currency:  models.CurrencyDiamonds,
		Delta:     50,
		Reason:    models.LedgerReasonQuestReward,
		RefType:   refString(models.LedgerRefQuestInstance),
		RefID:     refUint(7),
	}
	err := repo.Append(&dup)
	if !errors.Is(err, ErrDuplicateLedgerRef) {
		t.Errorf("Expected ErrDuplicateLedgerRef, got %v", err)
	}

	balance, _ := repo.SumBalance(subject.ID, models.CurrencyDiamonds)
	if balance != 50 {
		t.Errorf("Expected duplicate to be excluded from balance, got %d", balance)
	}
}

func TestLedgerRepository_SameRefDifferentCurrencies(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	// One claim may credit several currencies against the same instance.
	for _, e := range []models.LedgerEntry{
		{SubjectID: subject.ID, Currency: models.CurrencyDiamonds, Delta: 10, Reason: models.LedgerReasonQuestReward, RefType: refString(models.LedgerRefQuestInstance), RefID: refUint(7)},
		{SubjectID: subject.ID, Currency: "GOLD", Delta: 5, Reason: models.LedgerReasonQuestReward, RefType: refString(models.LedgerRefQuestInstance), RefID: refUint(7)},
	} {
		entry := e
		if err := repo.Append(&entry); err != nil {
			t.Fatalf("Append() for %s failed: %v", e.Currency, err)
		}
	}

	diamonds, _ := repo.SumBalance(subject.ID, models.CurrencyDiamonds)
	if diamonds != 10 {
		t.Errorf("Expected 10 diamonds, got %d", diamonds)
	}
	gold, _ := repo.SumBalance(subject.ID, "GOLD")
	if gold != 5 {
		t.Errorf("Expected 5 gold, got %d", gold)
	}
}

func TestLedgerRepository_NilRefsDoNotCollide(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	// Admin adjustments have no causing row; repeated ones must all append.
	for i := 0; i < 3; i++ {
		entry := models.LedgerEntry{
			SubjectID: subject.ID,
			Currency:  models.CurrencyDiamonds,
			Delta:     10,
			Reason:    models.LedgerReasonAdminAdjust,
		}
		if err := repo.Append(&entry); err != nil {
			t.Fatalf("Append() %d failed: %v", i, err)
		}
	}

	balance, _ := repo.SumBalance(subject.ID, models.CurrencyDiamonds)
	if balance != 30 {
		t.Errorf("Expected 30 from three adjustments, got %d", balance)
	}
}

func TestLedgerRepository_ExistsForRef(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	entry := models.LedgerEntry{
		SubjectID: subject.ID,
		Currency:  models.CurrencyDiamonds,
		Delta:     50,
		Reason:    models.LedgerReasonQuestReward,
		RefType:   refString(models.LedgerRefQuestInstance),
		RefID:     refUint(3),
	}
	if err := repo.Append(&entry); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	exists, err := repo.ExistsForRef(models.LedgerReasonQuestReward, models.LedgerRefQuestInstance, 3)
	if err != nil {
		t.Fatalf("ExistsForRef() failed: %v", err)
	}
	if !exists {
		t.Error("Expected entry to exist for ref")
	}

	exists, err = repo.ExistsForRef(models.LedgerReasonQuestReward, models.LedgerRefQuestInstance, 4)
	if err != nil {
		t.Fatalf("ExistsForRef() failed: %v", err)
	}
	if exists {
		t.Error("Expected no entry for unused ref")
	}
}

func TestLedgerRepository_Recent_OrderAndLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLedgerRepository(db)
	subject := createTestSubject(t, db, "user-1")

	for i := 1; i <= 5; i++ {
		entry := models.LedgerEntry{
			SubjectID: subject.ID,
			Currency:  models.CurrencyDiamonds,
			Delta:     int64(i),
			Reason:    models.LedgerReasonQuestReward,
			RefType:   refString(models.LedgerRefQuestInstance),
			RefID:     refUint(uint(i)),
		}
		if err := repo.Append(&entry); err != nil {
			t.Fatalf("Append() %d failed: %v", i, err)
		}
	}

	recent, err := repo.Recent(subject.ID, models.CurrencyDiamonds, 3)
	if err != nil {
		t.Fatalf("Recent() failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(recent))
	}
	if recent[0].Delta != 5 {
		t.Errorf("Expected newest entry first, got delta %d", recent[0].Delta)
	}
}
