// Package scheduler runs the engine's periodic jobs: balance reconciliation
// and external fulfillment polling.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seandahissiho/murya-api-sub000/internal/config"
	prommetrics "github.com/seandahissiho/murya-api-sub000/internal/metrics"
	"github.com/seandahissiho/murya-api-sub000/internal/service/marketplace"
	"github.com/seandahissiho/murya-api-sub000/internal/service/wallet"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// Service handles background job scheduling.
type Service struct {
	config             *config.Config
	walletService      *wallet.Service
	marketplaceService *marketplace.Service
	log                *logger.Logger
	cron               *cron.Cron
}

// NewService creates a new scheduler service.
func NewService(
	cfg *config.Config,
	walletService *wallet.Service,
	marketplaceService *marketplace.Service,
	log *logger.Logger,
) *Service {
	return &Service{
		config:             cfg,
		walletService:      walletService,
		marketplaceService: marketplaceService,
		log:                log,
	}
}

// Start initializes and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Scheduler.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := s.config.Scheduler.GetLocation()
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Scheduler.Timezone, err)
	}

	s.cron = cron.New(cron.WithLocation(location))

	_, err = s.cron.AddFunc(s.config.Scheduler.ReconciliationCron, func() {
		s.runReconciliation(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to register reconciliation job: %w", err)
	}

	_, err = s.cron.AddFunc(s.config.Scheduler.FulfillmentCron, func() {
		s.runFulfillment(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to register fulfillment job: %w", err)
	}

	s.cron.Start()

	entries := s.cron.Entries()
	nextRun := ""
	if len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}

	s.log.Info().
		Str("reconciliation", s.config.Scheduler.ReconciliationCron).
		Str("fulfillment", s.config.Scheduler.FulfillmentCron).
		Str("timezone", s.config.Scheduler.Timezone).
		Str("next_run", nextRun).
		Msg("Scheduler started successfully")

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

// runReconciliation sweeps all cached balances against the ledger.
func (s *Service) runReconciliation(ctx context.Context) {
	prommetrics.SetSchedulerLastRun("reconciliation")
	repaired, err := s.walletService.ReconcileAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Reconciliation job failed")
		return
	}
	if repaired > 0 {
		s.log.Warn().Int("repaired", repaired).Msg("Reconciliation repaired drifted balances")
	}
}

// runFulfillment drains the FULFILLING purchase queue.
func (s *Service) runFulfillment(ctx context.Context) {
	prommetrics.SetSchedulerLastRun("fulfillment")
	if err := s.marketplaceService.FulfillPending(ctx, s.config.Fulfillment.BatchSize); err != nil {
		s.log.Error().Err(err).Msg("Fulfillment job failed")
	}
}
