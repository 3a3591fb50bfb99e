package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/wayfarerhq/wayfarer-backend/internal/billing"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
)

const (
	prorationCreateProrations = "create_prorations"

	defaultProcessorTimeout = 15 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier records a billing notice for the user. Implemented by the
// notifications service; failures there must not fail the billing operation.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationKind, title, body string, payload map[string]any) error
}

// PlanChangeInput carries the orchestrator entry-point payload.
type PlanChangeInput struct {
	PriceID    uuid.UUID
	SuccessURL string
	CancelURL  string
}

// PlanChangeOutcome is the tagged result of a plan-change request.
type PlanChangeOutcome struct {
	Type         enums.PlanChangeType
	RedirectURL  string
	EffectiveAt  *time.Time
	Subscription *models.Subscription
}

// InvoiceSummary is the invoice passthrough shape returned to the dashboard.
type InvoiceSummary struct {
	ID          string     `json:"id"`
	Number      string     `json:"number,omitempty"`
	Status      string     `json:"status"`
	AmountDue   int64      `json:"amount_due"`
	AmountPaid  int64      `json:"amount_paid"`
	Currency    string     `json:"currency"`
	HostedURL   string     `json:"hosted_url,omitempty"`
	PDFURL      string     `json:"pdf_url,omitempty"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Service defines the subscription lifecycle surface.
type Service interface {
	RequestPlanChange(ctx context.Context, userID uuid.UUID, input PlanChangeInput) (*PlanChangeOutcome, error)
	CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ResumeCancellation(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	GetCurrent(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	PortalSession(ctx context.Context, userID uuid.UUID, returnURL string) (string, error)
	ListInvoices(ctx context.Context, userID uuid.UUID, limit int) ([]InvoiceSummary, error)
	PurchaseAddon(ctx context.Context, userID uuid.UUID, addonID uuid.UUID, successURL, cancelURL string) (string, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo       billing.Repository
	Processor         ProcessorClient
	TransactionRunner txRunner
	Logger            *logger.Logger
	Notifier          Notifier
	ProcessorTimeout  time.Duration
	DefaultSuccessURL string
	DefaultCancelURL  string
	DefaultPortalURL  string
}

type service struct {
	repo             billing.Repository
	processor        ProcessorClient
	txRunner         txRunner
	logg             *logger.Logger
	notifier         Notifier
	processorTimeout time.Duration
	successURL       string
	cancelURL        string
	portalReturnURL  string
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor client required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	timeout := params.ProcessorTimeout
	if timeout <= 0 {
		timeout = defaultProcessorTimeout
	}
	return &service{
		repo:             params.BillingRepo,
		processor:        params.Processor,
		txRunner:         params.TransactionRunner,
		logg:             params.Logger,
		notifier:         params.Notifier,
		processorTimeout: timeout,
		successURL:       strings.TrimSpace(params.DefaultSuccessURL),
		cancelURL:        strings.TrimSpace(params.DefaultCancelURL),
		portalReturnURL:  strings.TrimSpace(params.DefaultPortalURL),
	}, nil
}

// RequestPlanChange decides, for the requested price, whether to start a
// checkout, mutate the live subscription immediately, or record a deferred
// downgrade. Nothing is persisted unless the processor call succeeded.
func (s *service) RequestPlanChange(ctx context.Context, userID uuid.UUID, input PlanChangeInput) (*PlanChangeOutcome, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	price, err := s.resolveActivePrice(ctx, input.PriceID)
	if err != nil {
		return nil, err
	}

	current, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}

	if current == nil || current.StripeID() == "" {
		return s.startCheckout(ctx, userID, price, input)
	}

	if current.CancelAtPeriodEnd {
		return nil, pkgerrors.New(pkgerrors.CodeSubscriptionCanceling, "subscription is canceling")
	}
	if current.PriceID == price.ID {
		return nil, pkgerrors.New(pkgerrors.CodeSamePlan, "already on this plan")
	}

	currentLevel, err := s.planLevel(ctx, current)
	if err != nil {
		return nil, err
	}
	requestedLevel := price.Plan.Level

	if requestedLevel < currentLevel {
		return s.scheduleDowngrade(ctx, userID, current, price)
	}

	changeType := enums.PlanChangeUpgrade
	if requestedLevel == currentLevel {
		// no natural level comparison between intervals; immediate + prorated
		changeType = enums.PlanChangeIntervalChange
	}
	return s.applyImmediateChange(ctx, userID, current, price, changeType)
}

func (s *service) resolveActivePrice(ctx context.Context, priceID uuid.UUID) (*models.Price, error) {
	if priceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidPrice, "price id is required")
	}
	price, err := s.repo.FindPriceByID(ctx, priceID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup price")
	}
	if price == nil || !price.IsActive || !price.Interval.IsRecurring() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidPrice, "unknown or inactive price")
	}
	if price.Plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "price has no plan loaded")
	}
	return price, nil
}

func (s *service) planLevel(ctx context.Context, sub *models.Subscription) (int, error) {
	if sub.Price != nil && sub.Price.Plan != nil {
		return sub.Price.Plan.Level, nil
	}
	price, err := s.repo.FindPriceByID(ctx, sub.PriceID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current price")
	}
	if price == nil || price.Plan == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "current subscription price has no plan")
	}
	return price.Plan.Level, nil
}

func (s *service) startCheckout(ctx context.Context, userID uuid.UUID, price *models.Price, input PlanChangeInput) (*PlanChangeOutcome, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}

	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	successURL := firstNonEmpty(input.SuccessURL, s.successURL)
	cancelURL := firstNonEmpty(input.CancelURL, s.cancelURL)
	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserIDKey: userID.String()},
		},
		Metadata: map[string]string{MetadataUserIDKey: userID.String()},
	}
	if successURL != "" {
		params.SuccessURL = stripe.String(successURL)
	}
	if cancelURL != "" {
		params.CancelURL = stripe.String(cancelURL)
	}

	session, err := s.callCheckout(ctx, params)
	if err != nil {
		return nil, err
	}

	return &PlanChangeOutcome{
		Type:        enums.PlanChangeCheckout,
		RedirectURL: session.URL,
	}, nil
}

func (s *service) ensureCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	customerID, err := s.processor.EnsureCustomer(callCtx, user.Email, user.CompanyName)
	if err != nil {
		return "", classifyProcessorErr(err, "ensure stripe customer")
	}

	if err := s.repo.SetStripeCustomerID(ctx, user.ID, customerID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist stripe customer id")
	}
	return customerID, nil
}

// applyImmediateChange swaps the live subscription's price with proration and
// persists the processor's response. The persist transaction re-checks the row
// under lock so two concurrent requests cannot both commit.
func (s *service) applyImmediateChange(ctx context.Context, userID uuid.UUID, current *models.Subscription, price *models.Price, changeType enums.PlanChangeType) (*PlanChangeOutcome, error) {
	live, err := s.callGetSubscription(ctx, current.StripeID())
	if err != nil {
		return nil, err
	}
	itemID := ItemIDFromStripe(live)
	if itemID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription has no items")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(itemID),
				Price: stripe.String(price.StripePriceID),
			},
		},
		ProrationBehavior: stripe.String(prorationCreateProrations),
	}
	updated, err := s.callUpdateSubscription(ctx, current.StripeID(), params)
	if err != nil {
		return nil, err
	}

	observedPriceID := current.PriceID
	var persisted *models.Subscription
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, current.StripeID())
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if stored.PriceID != observedPriceID || stored.CancelAtPeriodEnd {
			return pkgerrors.New(pkgerrors.CodeConflict, "subscription changed concurrently")
		}

		newPriceID := price.ID
		if err := ApplySubscriptionSnapshot(stored, updated, &newPriceID); err != nil {
			return err
		}
		stored.ScheduledPriceID = nil
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		persisted = stored
		return nil
	})
	if err != nil {
		if pe := pkgerrors.As(err); pe != nil && (pe.Code() == pkgerrors.CodeConflict || pe.Code() == pkgerrors.CodeNotFound) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist plan change")
	}

	s.info(ctx, fmt.Sprintf("plan change applied (%s) user=%s price=%s", changeType, userID, price.ID))
	return &PlanChangeOutcome{
		Type:         changeType,
		Subscription: persisted,
	}, nil
}

// scheduleDowngrade records the deferred intent locally; the processor is not
// called until the period boundary.
func (s *service) scheduleDowngrade(ctx context.Context, userID uuid.UUID, current *models.Subscription, price *models.Price) (*PlanChangeOutcome, error) {
	observedPriceID := current.PriceID
	var persisted *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, current.StripeID())
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if stored.CancelAtPeriodEnd {
			return pkgerrors.New(pkgerrors.CodeSubscriptionCanceling, "subscription is canceling")
		}
		if stored.PriceID != observedPriceID {
			return pkgerrors.New(pkgerrors.CodeConflict, "subscription changed concurrently")
		}

		scheduled := price.ID
		stored.ScheduledPriceID = &scheduled
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		persisted = stored
		return nil
	})
	if err != nil {
		if pe := pkgerrors.As(err); pe != nil && pe.Code() != pkgerrors.CodeDependency && pe.Code() != pkgerrors.CodeInternal {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist scheduled downgrade")
	}

	s.notify(ctx, userID, enums.NotificationDowngradeScheduled,
		"Plan change scheduled",
		"Your plan will change at the end of the current billing period.",
		map[string]any{"price_id": price.ID.String(), "plan_id": price.PlanID},
	)

	return &PlanChangeOutcome{
		Type:         enums.PlanChangeDowngradeScheduled,
		EffectiveAt:  persisted.CurrentPeriodEnd,
		Subscription: persisted,
	}, nil
}

// CancelAtPeriodEnd flags the live subscription to stop at the period
// boundary instead of canceling immediately.
func (s *service) CancelAtPeriodEnd(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	current, err := s.requireCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current.CancelAtPeriodEnd {
		return current, nil
	}

	updated, err := s.callUpdateSubscription(ctx, current.StripeID(), &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return s.persistSnapshot(ctx, current.StripeID(), updated)
}

// ResumeCancellation clears a pending cancel-at-period-end flag.
func (s *service) ResumeCancellation(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	current, err := s.requireCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !current.CancelAtPeriodEnd {
		return current, nil
	}

	updated, err := s.callUpdateSubscription(ctx, current.StripeID(), &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	return s.persistSnapshot(ctx, current.StripeID(), updated)
}

// GetCurrent returns the user's current subscription with price and plan.
func (s *service) GetCurrent(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}
	return sub, nil
}

// PortalSession creates a Stripe billing portal session for the user.
func (s *service) PortalSession(ctx context.Context, userID uuid.UUID, returnURL string) (string, error) {
	user, err := s.requireUserWithCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	session, err := s.processor.CreatePortalSession(callCtx, *user.StripeCustomerID, firstNonEmpty(returnURL, s.portalReturnURL))
	if err != nil {
		return "", classifyProcessorErr(err, "create portal session")
	}
	return session.URL, nil
}

// ListInvoices passes through the customer's Stripe invoices.
func (s *service) ListInvoices(ctx context.Context, userID uuid.UUID, limit int) ([]InvoiceSummary, error) {
	user, err := s.requireUserWithCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	invoices, err := s.processor.ListInvoices(callCtx, *user.StripeCustomerID, limit)
	if err != nil {
		return nil, classifyProcessorErr(err, "list invoices")
	}

	out := make([]InvoiceSummary, 0, len(invoices))
	for _, inv := range invoices {
		if inv == nil {
			continue
		}
		summary := InvoiceSummary{
			ID:         inv.ID,
			Number:     inv.Number,
			Status:     string(inv.Status),
			AmountDue:  inv.AmountDue,
			AmountPaid: inv.AmountPaid,
			Currency:   string(inv.Currency),
			HostedURL:  inv.HostedInvoiceURL,
			PDFURL:     inv.InvoicePDF,
			CreatedAt:  time.Unix(inv.Created, 0).UTC(),
		}
		summary.PeriodStart = toTimePtr(inv.PeriodStart)
		summary.PeriodEnd = toTimePtr(inv.PeriodEnd)
		out = append(out, summary)
	}
	return out, nil
}

// PurchaseAddon starts a payment-mode checkout for a one-time addon, gated by
// the user's current plan level.
func (s *service) PurchaseAddon(ctx context.Context, userID uuid.UUID, addonID uuid.UUID, successURL, cancelURL string) (string, error) {
	if userID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	addon, err := s.repo.FindAddonByID(ctx, addonID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup addon")
	}
	if addon == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "addon not found")
	}

	if addon.LevelRequired > 0 {
		current, err := s.repo.FindCurrentSubscription(ctx, userID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
		}
		level := 0
		if current != nil {
			level, err = s.planLevel(ctx, current)
			if err != nil {
				return "", err
			}
		}
		if level < addon.LevelRequired {
			return "", pkgerrors.New(pkgerrors.CodeForbidden, "plan level too low for this addon")
		}
	}

	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}
	if user == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	customerID, err := s.ensureCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(addon.StripePriceID),
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				MetadataUserIDKey:  userID.String(),
				MetadataAddonIDKey: addon.ID.String(),
			},
		},
		Metadata: map[string]string{
			MetadataUserIDKey:  userID.String(),
			MetadataAddonIDKey: addon.ID.String(),
		},
	}
	if u := firstNonEmpty(successURL, s.successURL); u != "" {
		params.SuccessURL = stripe.String(u)
	}
	if u := firstNonEmpty(cancelURL, s.cancelURL); u != "" {
		params.CancelURL = stripe.String(u)
	}

	session, err := s.callCheckout(ctx, params)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

func (s *service) requireCurrent(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	current, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup current subscription")
	}
	if current == nil || current.StripeID() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no current subscription")
	}
	return current, nil
}

func (s *service) requireUserWithCustomer(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "user has no billing account yet")
	}
	return user, nil
}

func (s *service) persistSnapshot(ctx context.Context, stripeSubID string, updated *stripe.Subscription) (*models.Subscription, error) {
	var persisted *models.Subscription
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeIDForUpdate(ctx, stripeSubID)
		if err != nil {
			return err
		}
		if stored == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
		}
		if err := ApplySubscriptionSnapshot(stored, updated, nil); err != nil {
			return err
		}
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		persisted = stored
		return nil
	})
	if err != nil {
		if pe := pkgerrors.As(err); pe != nil && pe.Code() == pkgerrors.CodeNotFound {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist subscription")
	}
	return persisted, nil
}

func (s *service) callCheckout(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	session, err := s.processor.CreateCheckoutSession(callCtx, params)
	if err != nil {
		return nil, classifyProcessorErr(err, "create checkout session")
	}
	return session, nil
}

func (s *service) callGetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	live, err := s.processor.GetSubscription(callCtx, id)
	if err != nil {
		return nil, classifyProcessorErr(err, "fetch stripe subscription")
	}
	return live, nil
}

func (s *service) callUpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.processorTimeout)
	defer cancel()
	updated, err := s.processor.UpdateSubscription(callCtx, id, params)
	if err != nil {
		return nil, classifyProcessorErr(err, "update stripe subscription")
	}
	return updated, nil
}

// classifyProcessorErr maps Stripe failures onto the billing error taxonomy.
// Timeouts and 5xx become PROCESSOR_UNAVAILABLE; a price rejected by Stripe
// becomes INVALID_PRICE.
func classifyProcessorErr(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, message)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == 429 {
			return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, message)
		}
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return pkgerrors.Wrap(pkgerrors.CodeInvalidPrice, err, message)
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}
	// network-level failure
	return pkgerrors.Wrap(pkgerrors.CodeProcessorUnavailable, err, message)
}

func (s *service) notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationKind, title, body string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, kind, title, body, payload); err != nil {
		s.warn(ctx, fmt.Sprintf("notify %s failed: %v", kind, err))
	}
}

func (s *service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
