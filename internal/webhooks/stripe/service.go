package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/wayfarerhq/wayfarer-backend/internal/billing"
	"github.com/wayfarerhq/wayfarer-backend/internal/subscriptions"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
)

const (
	defaultBoundarySlack    = time.Hour
	defaultProcessorTimeout = 15 * time.Second

	prorationNone = "none"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Processor         subscriptions.ProcessorClient
	TransactionRunner txRunner
	Notifier          subscriptions.Notifier
	Logger            *logger.Logger
	BoundarySlack     time.Duration
	ProcessorTimeout  time.Duration
}

// Service reconciles Stripe webhook events into local billing state. Every
// write is a full-state snapshot applied under a row lock, so redelivered and
// out-of-order events converge to the same row.
type Service struct {
	billingRepo      billing.Repository
	processor        subscriptions.ProcessorClient
	txRunner         txRunner
	notifier         subscriptions.Notifier
	logg             *logger.Logger
	boundarySlack    time.Duration
	processorTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor client required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	slack := params.BoundarySlack
	if slack <= 0 {
		slack = defaultBoundarySlack
	}
	timeout := params.ProcessorTimeout
	if timeout <= 0 {
		timeout = defaultProcessorTimeout
	}
	return &Service{
		billingRepo:      params.BillingRepo,
		processor:        params.Processor,
		txRunner:         params.TransactionRunner,
		notifier:         params.Notifier,
		logg:             params.Logger,
		boundarySlack:    slack,
		processorTimeout: timeout,
	}, nil
}

// HandleEvent dispatches a verified Stripe event. Unknown event types are
// acknowledged without action; a non-nil error means the delivery should be
// retried.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.syncSubscription(ctx, &stripeSub)
	case stripe.EventTypeCustomerSubscriptionTrialWillEnd:
		return s.handleTrialWillEnd(ctx, event)
	case stripe.EventTypeInvoicePaid:
		return s.handleInvoicePaid(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case stripe.EventTypeInvoicePaymentActionRequired:
		return s.handlePaymentActionRequired(ctx, event)
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session")
	}
	// payment-mode sessions (addons) are fulfilled from payment_intent.succeeded
	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
		return nil
	}

	live, err := s.fetchSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}
	return s.syncSubscription(ctx, live)
}

// syncSubscription upserts the local row from a full subscription snapshot.
// The row lock serializes concurrent deliveries for the same subscription;
// the mapper's period guard keeps a stale snapshot from walking the billing
// period backwards.
func (s *Service) syncSubscription(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub == nil || stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, stripeSub.ID)
		if err != nil {
			return err
		}

		pricePtr, err := s.localPriceID(ctx, repo, stripeSub)
		if err != nil {
			return err
		}

		if stored == nil {
			return s.createFromSnapshot(ctx, repo, stripeSub, pricePtr)
		}

		if err := subscriptions.ApplySubscriptionSnapshot(stored, stripeSub, pricePtr); err != nil {
			return err
		}
		// a snapshot landing on the scheduled price means the deferred
		// downgrade went through; the marker has served its purpose
		if stored.ScheduledPriceID != nil && stored.PriceID == *stored.ScheduledPriceID {
			stored.ScheduledPriceID = nil
		}
		return repo.UpdateSubscription(ctx, stored)
	})
}

func (s *Service) createFromSnapshot(ctx context.Context, repo billing.Repository, stripeSub *stripe.Subscription, pricePtr *uuid.UUID) error {
	if pricePtr == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "subscription price not in catalog")
	}

	userID, metadataErr := subscriptions.UserIDFromMetadata(stripeSub.Metadata)
	if metadataErr != nil {
		customerRef := subscriptions.CustomerRefFromStripe(stripeSub)
		if customerRef == "" {
			return metadataErr
		}
		user, err := repo.FindUserByStripeCustomerID(ctx, customerRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user by customer")
		}
		if user == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no user for stripe customer")
		}
		userID = user.ID
	}

	built, err := subscriptions.BuildSubscriptionFromStripe(stripeSub, userID, *pricePtr)
	if err != nil {
		return err
	}
	if err := repo.CreateSubscription(ctx, built); err != nil {
		if db.IsUniqueViolation(err, "subscriptions_stripe_subscription_id") {
			// concurrent delivery won the insert; its snapshot is equivalent
			return nil
		}
		return err
	}

	if customerRef := subscriptions.CustomerRefFromStripe(stripeSub); customerRef != "" {
		if err := repo.SetStripeCustomerID(ctx, userID, customerRef); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist stripe customer id")
		}
	}
	return nil
}

func (s *Service) localPriceID(ctx context.Context, repo billing.Repository, stripeSub *stripe.Subscription) (*uuid.UUID, error) {
	priceRef := subscriptions.PriceRefFromStripe(stripeSub)
	if priceRef == "" {
		return nil, nil
	}
	price, err := repo.FindPriceByStripeID(ctx, priceRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup price by stripe id")
	}
	if price == nil {
		return nil, nil
	}
	id := price.ID
	return &id, nil
}

// ReconcileSnapshot applies a pulled subscription snapshot and fires any
// scheduled downgrade whose period boundary has already passed. The reconcile
// job uses this to catch downgrades whose invoice.paid delivery was lost.
func (s *Service) ReconcileSnapshot(ctx context.Context, live *stripe.Subscription) error {
	if live == nil || live.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}

	var decision downgradeDecision
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, live.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			pricePtr, err := s.localPriceID(ctx, repo, live)
			if err != nil {
				return err
			}
			return s.createFromSnapshot(ctx, repo, live, pricePtr)
		}

		preEnd := stored.CurrentPeriodEnd
		marker := stored.ScheduledPriceID

		pricePtr, err := s.localPriceID(ctx, repo, live)
		if err != nil {
			return err
		}

		liveStart, _ := subscriptions.PeriodFromStripe(live)
		if marker != nil && preEnd != nil && liveStart > 0 &&
			(pricePtr == nil || *pricePtr != *marker) &&
			!time.Unix(liveStart, 0).Before(preEnd.Add(-s.boundarySlack)) {
			decision = downgradeDecision{
				due:       true,
				userID:    stored.UserID,
				scheduled: *marker,
			}
			// hold the stored row until the price swap lands; if the apply
			// fails, the next reconcile run must still see the old period end.
			return nil
		}

		if err := subscriptions.ApplySubscriptionSnapshot(stored, live, pricePtr); err != nil {
			return err
		}
		if stored.ScheduledPriceID != nil && stored.PriceID == *stored.ScheduledPriceID {
			stored.ScheduledPriceID = nil
		}
		return repo.UpdateSubscription(ctx, stored)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile subscription snapshot")
	}

	if decision.due {
		return s.applyScheduledDowngrade(ctx, live.ID, decision)
	}
	return nil
}

func (s *Service) handleTrialWillEnd(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}
	stored, err := s.billingRepo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if stored == nil {
		return nil
	}

	payload := map[string]any{"subscription_id": stored.ID.String()}
	if stripeSub.TrialEnd > 0 {
		payload["trial_end"] = time.Unix(stripeSub.TrialEnd, 0).UTC().Format(time.RFC3339)
	}
	s.notify(ctx, stored.UserID, enums.NotificationTrialEnding,
		"Trial ending soon",
		"Your trial is about to end. Add a payment method to keep your plan.",
		payload,
	)
	return nil
}

// downgradeDecision captures, under the row lock, whether the invoice that
// just paid crossed the period boundary a downgrade was scheduled for.
type downgradeDecision struct {
	due       bool
	userID    uuid.UUID
	scheduled uuid.UUID
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripe.Event) error {
	subRef := subscriptionRefFromEvent(event)
	if subRef == "" {
		// one-off invoice, nothing to reconcile
		return nil
	}

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}
	periodStart, periodEnd := invoicePeriod(&invoice)

	var decision downgradeDecision
	var known bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, subRef)
		if err != nil {
			return err
		}
		if stored == nil {
			return nil
		}
		known = true

		// boundary check against the period end recorded BEFORE this invoice
		// extends it: the paid invoice opening period N+1 is the trigger for a
		// downgrade scheduled during period N
		if stored.ScheduledPriceID != nil && stored.CurrentPeriodEnd != nil && !periodStart.IsZero() {
			boundary := stored.CurrentPeriodEnd.Add(-s.boundarySlack)
			if !periodStart.Before(boundary) {
				decision = downgradeDecision{
					due:       true,
					userID:    stored.UserID,
					scheduled: *stored.ScheduledPriceID,
				}
				// hold the stored period until the price swap lands; if the
				// apply fails, a redelivered invoice must still cross the
				// boundary. The post-swap snapshot write carries the new
				// period and status.
				return nil
			}
		}

		subscriptions.ExtendPeriodFromInvoice(stored, periodStart, periodEnd)
		if stored.Status == enums.SubscriptionStatusPastDue {
			stored.Status = enums.SubscriptionStatusActive
		}
		return repo.UpdateSubscription(ctx, stored)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile paid invoice")
	}

	if !known {
		// invoice arrived before the subscription events; pull the snapshot
		live, err := s.fetchSubscription(ctx, subRef)
		if err != nil {
			return err
		}
		return s.syncSubscription(ctx, live)
	}

	if decision.due {
		return s.applyScheduledDowngrade(ctx, subRef, decision)
	}
	return nil
}

// applyScheduledDowngrade swaps the live subscription onto the scheduled price
// with proration disabled. On any failure the scheduledPriceId marker is left
// in place, so the next invoice.paid delivery or the reconcile job retries it.
func (s *Service) applyScheduledDowngrade(ctx context.Context, subRef string, decision downgradeDecision) error {
	price, err := s.billingRepo.FindPriceByID(ctx, decision.scheduled)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup scheduled price")
	}
	if price == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "scheduled price missing from catalog")
	}

	live, err := s.fetchSubscription(ctx, subRef)
	if err != nil {
		return err
	}
	itemID := subscriptions.ItemIDFromStripe(live)
	if itemID == "" {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription has no items")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	updated, err := s.processor.UpdateSubscription(callCtx, subRef, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(price.StripePriceID),
			},
		},
		ProrationBehavior: stripe.String(prorationNone),
	})
	if err != nil {
		s.warn(ctx, fmt.Sprintf("scheduled downgrade for %s failed, will retry: %v", subRef, err))
		return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, "apply scheduled downgrade")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, subRef)
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if stored.ScheduledPriceID == nil || *stored.ScheduledPriceID != decision.scheduled {
			// applied concurrently or rescheduled meanwhile
			return nil
		}

		newPriceID := price.ID
		if err := subscriptions.ApplySubscriptionSnapshot(stored, updated, &newPriceID); err != nil {
			return err
		}
		stored.ScheduledPriceID = nil
		return repo.UpdateSubscription(ctx, stored)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist applied downgrade")
	}

	s.notify(ctx, decision.userID, enums.NotificationDowngradeApplied,
		"Plan change applied",
		"Your scheduled plan change took effect with this billing period.",
		map[string]any{"price_id": price.ID.String(), "plan_id": price.PlanID},
	)
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, event *stripe.Event) error {
	subRef := subscriptionRefFromEvent(event)
	if subRef == "" {
		return nil
	}

	var userID uuid.UUID
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, subRef)
		if err != nil {
			return err
		}
		if stored == nil {
			return nil
		}
		userID = stored.UserID
		if stored.Status == enums.SubscriptionStatusCanceled {
			return nil
		}
		stored.Status = enums.SubscriptionStatusPastDue
		return repo.UpdateSubscription(ctx, stored)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile failed invoice")
	}

	if userID != uuid.Nil {
		s.notify(ctx, userID, enums.NotificationPaymentFailed,
			"Payment failed",
			"We could not collect your latest payment. Update your payment method to keep your plan.",
			map[string]any{"invoice_id": event.GetObjectValue("id")},
		)
	}
	return nil
}

func (s *Service) handlePaymentActionRequired(ctx context.Context, event *stripe.Event) error {
	subRef := subscriptionRefFromEvent(event)
	if subRef == "" {
		return nil
	}
	stored, err := s.billingRepo.FindSubscriptionByStripeID(ctx, subRef)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup subscription")
	}
	if stored == nil {
		return nil
	}

	s.notify(ctx, stored.UserID, enums.NotificationPaymentActionRequired,
		"Payment needs confirmation",
		"Your bank requires additional confirmation to complete the payment.",
		map[string]any{"invoice_id": event.GetObjectValue("id")},
	)
	return nil
}

// handlePaymentIntentSucceeded fulfills addon purchases. The unique payment
// intent reference makes redelivered fulfillment a no-op.
func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent")
	}
	rawAddonID, ok := intent.Metadata[subscriptions.MetadataAddonIDKey]
	if !ok || rawAddonID == "" {
		// plain subscription renewal charge, handled via invoice.paid
		return nil
	}
	addonID, err := uuid.Parse(rawAddonID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid addon_id metadata")
	}
	userID, err := subscriptions.UserIDFromMetadata(intent.Metadata)
	if err != nil {
		return err
	}

	var fulfilled bool
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		existing, err := repo.FindAddonPurchaseByPaymentIntent(ctx, intent.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		purchase := &models.AddonPurchase{
			UserID:                userID,
			AddonID:               &addonID,
			StripePaymentIntentID: intent.ID,
			Amount:                decimal.NewFromInt(intent.Amount).Div(decimal.NewFromInt(100)),
			Currency:              string(intent.Currency),
			FulfilledAt:           time.Now().UTC(),
		}
		if err := repo.CreateAddonPurchase(ctx, purchase); err != nil {
			if db.IsUniqueViolation(err, "addon_purchases_stripe_payment_intent_id") {
				return nil
			}
			return err
		}
		fulfilled = true
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfill addon purchase")
	}

	if fulfilled {
		s.notify(ctx, userID, enums.NotificationAddonFulfilled,
			"Purchase complete",
			"Your add-on purchase is ready to use.",
			map[string]any{"addon_id": addonID.String(), "payment_intent_id": intent.ID},
		)
	}
	return nil
}

func (s *Service) fetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	live, err := s.processor.GetSubscription(callCtx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}
	return live, nil
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationKind, title, body string, payload map[string]any) {
	if s.notifier == nil || userID == uuid.Nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, kind, title, body, payload); err != nil {
		s.warn(ctx, fmt.Sprintf("notify %s failed: %v", kind, err))
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

// subscriptionRefFromEvent digs the subscription reference out of an invoice
// or payment event payload, tolerating both the flat and the parent-nested
// shapes Stripe has used across API versions.
func subscriptionRefFromEvent(event *stripe.Event) string {
	if ref := event.GetObjectValue("subscription"); ref != "" {
		return ref
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}

func invoicePeriod(invoice *stripe.Invoice) (time.Time, time.Time) {
	start, end := invoice.PeriodStart, invoice.PeriodEnd
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 {
		if p := invoice.Lines.Data[0].Period; p != nil {
			start, end = p.Start, p.End
		}
	}
	var startT, endT time.Time
	if start > 0 {
		startT = time.Unix(start, 0).UTC()
	}
	if end > 0 {
		endT = time.Unix(end, 0).UTC()
	}
	return startT, endT
}
