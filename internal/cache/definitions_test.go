package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/internal/repository"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

func setupDefinitionCache(t *testing.T) (*DefinitionCache, *miniredis.Miniredis, *repository.QuestRepository) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := gdb.AutoMigrate(&models.QuestDefinition{}, &models.QuestReward{}); err != nil {
		t.Fatalf("Failed to auto-migrate tables: %v", err)
	}
	repo := repository.NewQuestRepository(&repository.DB{DB: gdb})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cache := NewDefinitionCache(client, repo, time.Minute, logger.New("error", "json", "stdout"))
	return cache, mr, repo
}

func createDefinition(t *testing.T, repo *repository.QuestRepository, code, eventKey string) *models.QuestDefinition {
	t.Helper()
	def := &models.QuestDefinition{
		Code:        code,
		Name:        code,
		EventKey:    eventKey,
		Period:      models.QuestPeriodDaily,
		TargetCount: 1,
		Category:    models.QuestCategoryOther,
		Meta:        json.RawMessage(`{}`),
		IsActive:    true,
	}
	if err := repo.CreateDefinition(def); err != nil {
		t.Fatalf("Failed to create definition: %v", err)
	}
	return def
}

func TestActiveByEventKey_PopulatesCache(t *testing.T) {
	cache, mr, repo := setupDefinitionCache(t)
	ctx := context.Background()
	createDefinition(t, repo, "daily_quiz", "quiz.completed")

	defs, err := cache.ActiveByEventKey(ctx, "quiz.completed")
	if err != nil {
		t.Fatalf("ActiveByEventKey() failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Code != "daily_quiz" {
		t.Fatalf("Expected daily_quiz, got %+v", defs)
	}

	if !mr.Exists("quests:definitions:event:quiz.completed") {
		t.Error("Expected the lookup to populate the cache")
	}
}

func TestActiveByEventKey_ServesStaleCacheOverDB(t *testing.T) {
	cache, _, repo := setupDefinitionCache(t)
	ctx := context.Background()
	def := createDefinition(t, repo, "daily_quiz", "quiz.completed")

	if _, err := cache.ActiveByEventKey(ctx, "quiz.completed"); err != nil {
		t.Fatalf("ActiveByEventKey() failed: %v", err)
	}

	// A direct DB write the cache does not know about.
	def.IsActive = false
	if err := repo.UpdateDefinition(def); err != nil {
		t.Fatalf("UpdateDefinition() failed: %v", err)
	}

	defs, err := cache.ActiveByEventKey(ctx, "quiz.completed")
	if err != nil {
		t.Fatalf("ActiveByEventKey() failed: %v", err)
	}
	if len(defs) != 1 {
		t.Errorf("Expected the cached view until invalidation, got %d definitions", len(defs))
	}
}

func TestInvalidate_DropsDefinitionKeys(t *testing.T) {
	cache, mr, repo := setupDefinitionCache(t)
	ctx := context.Background()
	def := createDefinition(t, repo, "daily_quiz", "quiz.completed")

	if _, err := cache.ActiveByEventKey(ctx, "quiz.completed"); err != nil {
		t.Fatalf("ActiveByEventKey() failed: %v", err)
	}
	if _, err := cache.ByCode(ctx, "daily_quiz"); err != nil {
		t.Fatalf("ByCode() failed: %v", err)
	}

	def.IsActive = false
	if err := repo.UpdateDefinition(def); err != nil {
		t.Fatalf("UpdateDefinition() failed: %v", err)
	}
	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate() failed: %v", err)
	}

	if mr.Exists("quests:definitions:event:quiz.completed") {
		t.Error("Expected event key to be dropped")
	}
	if mr.Exists("quests:definitions:code:daily_quiz") {
		t.Error("Expected code key to be dropped")
	}

	defs, err := cache.ActiveByEventKey(ctx, "quiz.completed")
	if err != nil {
		t.Fatalf("ActiveByEventKey() failed: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("Expected fresh DB view after invalidation, got %d definitions", len(defs))
	}
}

func TestByCode_CacheMissFallsBackToDB(t *testing.T) {
	cache, mr, repo := setupDefinitionCache(t)
	ctx := context.Background()
	createDefinition(t, repo, "daily_quiz", "quiz.completed")

	def, err := cache.ByCode(ctx, "daily_quiz")
	if err != nil {
		t.Fatalf("ByCode() failed: %v", err)
	}
	if def.Code != "daily_quiz" {
		t.Errorf("Expected daily_quiz, got %s", def.Code)
	}

	// A poisoned entry is treated as a miss, not an error.
	mr.Set("quests:definitions:code:daily_quiz", "{not json")
	def, err = cache.ByCode(ctx, "daily_quiz")
	if err != nil {
		t.Fatalf("ByCode() with malformed cache entry failed: %v", err)
	}
	if def.Code != "daily_quiz" {
		t.Errorf("Expected repository fallback, got %s", def.Code)
	}
}

func TestActive_RedisDownDegradesToDB(t *testing.T) {
	cache, mr, repo := setupDefinitionCache(t)
	ctx := context.Background()
	createDefinition(t, repo, "daily_quiz", "quiz.completed")

	mr.Close()

	defs, err := cache.Active(ctx)
	if err != nil {
		t.Fatalf("Active() with redis down failed: %v", err)
	}
	if len(defs) != 1 {
		t.Errorf("Expected repository fallback, got %d definitions", len(defs))
	}
}

func TestDefinitionCache_NilClientServesDB(t *testing.T) {
	_, _, repo := setupDefinitionCache(t)
	ctx := context.Background()
	createDefinition(t, repo, "daily_quiz", "quiz.completed")

	degraded := NewDefinitionCache(nil, repo, time.Minute, logger.New("error", "json", "stdout"))

	defs, err := degraded.ActiveByEventKey(ctx, "quiz.completed")
	if err != nil {
		t.Fatalf("ActiveByEventKey() failed: %v", err)
	}
	if len(defs) != 1 {
		t.Errorf("Expected repository read, got %d definitions", len(defs))
	}
	if err := degraded.Invalidate(ctx); err != nil {
		t.Errorf("Invalidate() with nil client should be a no-op, got %v", err)
	}
}
