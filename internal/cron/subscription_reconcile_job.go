package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

// snapshotReconciler applies a pulled subscription snapshot to local state,
// including any scheduled downgrade whose boundary has passed.
type snapshotReconciler interface {
	ReconcileSnapshot(ctx context.Context, live *stripe.Subscription) error
}

type processorReader interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
}

type reconcileCandidateRepo interface {
	ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error)
}

// SubscriptionReconcileJobParams configures the subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger      *logger.Logger
	BillingRepo reconcileCandidateRepo
	Processor   processorReader
	Reconciler  snapshotReconciler
	Limit       int
	Lookback    time.Duration
}

// NewSubscriptionReconcileJob builds the reconciliation cron job. It sweeps
// subscriptions that webhooks may have missed and converges them against the
// processor's view.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor client required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:        params.Logger,
		billingRepo: params.BillingRepo,
		processor:   params.Processor,
		reconciler:  params.Reconciler,
		limit:       limit,
		lookback:    lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg        *logger.Logger
	billingRepo reconcileCandidateRepo
	processor   processorReader
	reconciler  snapshotReconciler
	limit       int
	lookback    time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	candidates, err := j.billingRepo.ListSubscriptionsForReconciliation(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}

	var errs error
	synced := 0
	for i := range candidates {
		if err := j.reconcileOne(ctx, &candidates[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileOne(ctx context.Context, sub *models.Subscription) error {
	ref := sub.StripeID()
	if ref == "" {
		return nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":        sub.ID,
		"stripe_subscription_id": ref,
	})

	live, err := j.processor.GetSubscription(logCtx, ref)
	if err != nil {
		return fmt.Errorf("fetch subscription %s: %w", ref, err)
	}
	if live == nil {
		j.logg.Info(logCtx, "subscription gone at processor; skipping")
		return nil
	}
	if err := j.reconciler.ReconcileSnapshot(logCtx, live); err != nil {
		return fmt.Errorf("reconcile subscription %s: %w", ref, err)
	}
	return nil
}
