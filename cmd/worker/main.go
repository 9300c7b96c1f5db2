package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bounty-marketplace/backend/internal/config"
	"github.com/bounty-marketplace/backend/internal/db"
	"github.com/bounty-marketplace/backend/internal/escrow"
	"github.com/bounty-marketplace/backend/internal/models"
	"github.com/bounty-marketplace/backend/internal/repositories"
	"go.uber.org/zap"
)

// The worker never mutates escrow_payments.status. Webhooks are the sole
// writer of escrow state; this process only repairs the bounty-side
// projection and surfaces records that look stuck.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	escrowRepo := repositories.NewEscrowPaymentRepo(pool)
	bountyRepo := repositories.NewBountyRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	log.Info("worker started",
		zap.Duration("projection_repair_interval", cfg.ProjectionRepairInterval),
		zap.Duration("stale_pending_age", cfg.StalePendingAge),
	)

	repairTicker := time.NewTicker(cfg.ProjectionRepairInterval)
	staleTicker := time.NewTicker(cfg.ProjectionRepairInterval * 4)
	defer repairTicker.Stop()
	defer staleTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-repairTicker.C:
			runProjectionRepair(ctx, escrowRepo, bountyRepo, auditRepo, log)
		case <-staleTicker.C:
			runStalePendingAudit(ctx, escrowRepo, auditRepo, cfg.StalePendingAge, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runProjectionRepair converges bounty.payment_status with the escrow record
// wherever a best-effort patch was dropped during webhook processing.
func runProjectionRepair(ctx context.Context, escrowRepo *repositories.EscrowPaymentRepo, bountyRepo *repositories.BountyRepo, auditRepo *repositories.AuditRepo, log *zap.Logger) {
	diverged, err := escrowRepo.ListDivergedProjections(ctx, 100)
	if err != nil {
		log.Error("failed to list diverged projections", zap.Error(err))
		return
	}

	for _, d := range diverged {
		mirrored, ok := models.MirroredPaymentStatus(d.EscrowStatus)
		if !ok {
			continue
		}

		patch := escrow.BountyPatch{PaymentStatus: &mirrored, EscrowPaymentID: &d.EscrowPaymentID}
		if err := bountyRepo.ApplyPatch(ctx, d.BountyID, patch); err != nil {
			log.Error("projection repair failed",
				zap.String("bounty_id", d.BountyID.String()),
				zap.Error(err),
			)
			continue
		}

		log.Info("repaired bounty projection",
			zap.String("bounty_id", d.BountyID.String()),
			zap.String("escrow_status", d.EscrowStatus),
		)
		_ = auditRepo.Log(ctx, models.AuditLog{
			ActorType:  models.ActorSystem,
			Action:     "bounty_projection_repaired",
			EntityType: "bounty",
			EntityID:   &d.BountyID,
			Meta: map[string]any{
				"escrow_payment_id": d.EscrowPaymentID.String(),
				"payment_status":    mirrored,
			},
		})
	}
}

// runStalePendingAudit flags escrow payments that have sat in pending past
// the configured age. These usually mean an abandoned checkout or a lost
// webhook; they are surfaced for operators, never auto-failed.
func runStalePendingAudit(ctx context.Context, escrowRepo *repositories.EscrowPaymentRepo, auditRepo *repositories.AuditRepo, maxAge time.Duration, log *zap.Logger) {
	stale, err := escrowRepo.ListStalePending(ctx, maxAge, 100)
	if err != nil {
		log.Error("failed to list stale pending payments", zap.Error(err))
		return
	}

	for _, esc := range stale {
		log.Warn("stale pending escrow payment",
			zap.String("escrow_payment_id", esc.ID.String()),
			zap.Time("created_at", esc.CreatedAt),
		)
		_ = auditRepo.Log(ctx, models.AuditLog{
			ActorType:  models.ActorSystem,
			Action:     "escrow_payment_stale_pending",
			EntityType: "escrow_payment",
			EntityID:   &esc.ID,
			Meta:       map[string]any{"age_seconds": int64(time.Since(esc.CreatedAt).Seconds())},
		})
	}
}
