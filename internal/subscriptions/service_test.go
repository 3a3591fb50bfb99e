package subscriptions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/wayfarerhq/wayfarer-backend/internal/billing"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
)

type stubRepo struct {
	user        *models.User
	prices      map[uuid.UUID]*models.Price
	current     *models.Subscription
	addons      map[uuid.UUID]*models.Addon
	updatedSubs []*models.Subscription
	customerSet string
}

func (s *stubRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubRepo) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}

func (s *stubRepo) FindUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	return nil, nil
}

func (s *stubRepo) SetStripeCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	s.customerSet = customerID
	if s.user != nil {
		s.user.StripeCustomerID = &customerID
	}
	return nil
}

func (s *stubRepo) ListPlans(ctx context.Context, includePrivate bool) ([]models.Plan, error) {
	return nil, nil
}

func (s *stubRepo) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	return nil, nil
}

func (s *stubRepo) FindPriceByID(ctx context.Context, id uuid.UUID) (*models.Price, error) {
	return s.prices[id], nil
}

func (s *stubRepo) FindPriceByStripeID(ctx context.Context, stripePriceID string) (*models.Price, error) {
	for _, price := range s.prices {
		if price.StripePriceID == stripePriceID {
			return price, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListPricesByPlan(ctx context.Context, planID string) ([]models.Price, error) {
	return nil, nil
}

func (s *stubRepo) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return nil
}

func (s *stubRepo) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	s.updatedSubs = append(s.updatedSubs, subscription)
	return nil
}

func (s *stubRepo) FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.current, nil
}

func (s *stubRepo) FindCurrentSubscriptionForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.current, nil
}

func (s *stubRepo) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if s.current != nil && s.current.StripeID() == stripeSubscriptionID {
		return s.current, nil
	}
	return nil, nil
}

func (s *stubRepo) FindSubscriptionByStripeIDForUpdate(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return s.FindSubscriptionByStripeID(ctx, stripeSubscriptionID)
}

func (s *stubRepo) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubRepo) FindAddonByID(ctx context.Context, id uuid.UUID) (*models.Addon, error) {
	return s.addons[id], nil
}

func (s *stubRepo) FindAddonByStripePriceID(ctx context.Context, stripePriceID string) (*models.Addon, error) {
	return nil, nil
}

func (s *stubRepo) CreateAddonPurchase(ctx context.Context, purchase *models.AddonPurchase) error {
	return nil
}

func (s *stubRepo) FindAddonPurchaseByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.AddonPurchase, error) {
	return nil, nil
}

type stubProcessor struct {
	ensureCustomerFn func(ctx context.Context, email, name string) (string, error)
	checkoutFn       func(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	getFn            func(ctx context.Context, id string) (*stripe.Subscription, error)
	updateFn         func(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	calls            int
}

func (s *stubProcessor) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	s.calls++
	if s.ensureCustomerFn != nil {
		return s.ensureCustomerFn(ctx, email, name)
	}
	return "cus_stub", nil
}

func (s *stubProcessor) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	s.calls++
	if s.checkoutFn != nil {
		return s.checkoutFn(ctx, params)
	}
	return &stripe.CheckoutSession{ID: "cs_stub", URL: "https://checkout.stripe.test/cs_stub"}, nil
}

func (s *stubProcessor) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	s.calls++
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return stripeSubFixture(id, stripe.SubscriptionStatusActive,
		time.Now().Unix(), time.Now().Add(30*24*time.Hour).Unix()), nil
}

func (s *stubProcessor) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	s.calls++
	if s.updateFn != nil {
		return s.updateFn(ctx, id, params)
	}
	return stripeSubFixture(id, stripe.SubscriptionStatusActive,
		time.Now().Unix(), time.Now().Add(30*24*time.Hour).Unix()), nil
}

func (s *stubProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	s.calls++
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.test/p"}, nil
}

func (s *stubProcessor) ListInvoices(ctx context.Context, customerID string, limit int) ([]*stripe.Invoice, error) {
	s.calls++
	return nil, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fixtures struct {
	repo      *stubRepo
	processor *stubProcessor
	svc       Service

	userID       uuid.UUID
	basicMonthly *models.Price
	proMonthly   *models.Price
	proAnnual    *models.Price
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()

	basicPlan := &models.Plan{ID: "basic", Name: "Basic", Level: 2, IsActive: true}
	proPlan := &models.Plan{ID: "pro", Name: "Pro", Level: 3, IsActive: true}

	basicMonthly := &models.Price{
		ID: uuid.New(), PlanID: "basic", StripePriceID: "price_basic_month",
		Interval: enums.BillingIntervalMonth, IsActive: true, Plan: basicPlan,
	}
	proMonthly := &models.Price{
		ID: uuid.New(), PlanID: "pro", StripePriceID: "price_pro_month",
		Interval: enums.BillingIntervalMonth, IsActive: true, Plan: proPlan,
	}
	proAnnual := &models.Price{
		ID: uuid.New(), PlanID: "pro", StripePriceID: "price_pro_year",
		Interval: enums.BillingIntervalYear, IsActive: true, Plan: proPlan,
	}

	userID := uuid.New()
	repo := &stubRepo{
		user: &models.User{ID: userID, Email: "ops@altitude.test", CompanyName: "Altitude Tours"},
		prices: map[uuid.UUID]*models.Price{
			basicMonthly.ID: basicMonthly,
			proMonthly.ID:   proMonthly,
			proAnnual.ID:    proAnnual,
		},
		addons: map[uuid.UUID]*models.Addon{},
	}
	processor := &stubProcessor{}

	svc, err := NewService(ServiceParams{
		BillingRepo:       repo,
		Processor:         processor,
		TransactionRunner: stubTxRunner{},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	return &fixtures{
		repo:         repo,
		processor:    processor,
		svc:          svc,
		userID:       userID,
		basicMonthly: basicMonthly,
		proMonthly:   proMonthly,
		proAnnual:    proAnnual,
	}
}

func (f *fixtures) withCurrentSubscription(price *models.Price) *models.Subscription {
	ref := "sub_live"
	end := time.Now().Add(20 * 24 * time.Hour).UTC()
	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               f.userID,
		PriceID:              price.ID,
		StripeSubscriptionID: &ref,
		Status:               enums.SubscriptionStatusActive,
		CurrentPeriodEnd:     &end,
		Price:                price,
	}
	f.repo.current = sub
	return sub
}

func assertCode(t *testing.T, err error, want pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	pe := pkgerrors.As(err)
	if pe == nil || pe.Code() != want {
		t.Fatalf("expected code %s, got %v", want, err)
	}
}

func TestRequestPlanChangeNewCheckout(t *testing.T) {
	f := newFixtures(t)
	var captured *stripe.CheckoutSessionParams
	f.processor.checkoutFn = func(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{URL: "https://checkout.stripe.test/new"}, nil
	}

	outcome, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.basicMonthly.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Type != enums.PlanChangeCheckout {
		t.Fatalf("expected checkout outcome, got %s", outcome.Type)
	}
	if outcome.RedirectURL == "" {
		t.Fatal("expected redirect url")
	}
	if f.repo.customerSet != "cus_stub" {
		t.Fatalf("customer id not persisted, got %q", f.repo.customerSet)
	}
	if captured == nil || len(captured.LineItems) != 1 || *captured.LineItems[0].Price != "price_basic_month" {
		t.Fatalf("unexpected checkout params %+v", captured)
	}
	if captured.SubscriptionData == nil || captured.SubscriptionData.Metadata[MetadataUserIDKey] != f.userID.String() {
		t.Fatal("user metadata missing from checkout session")
	}
}

func TestRequestPlanChangeUpgradeIsImmediateAndProrated(t *testing.T) {
	f := newFixtures(t)
	scheduled := uuid.New()
	sub := f.withCurrentSubscription(f.basicMonthly)
	sub.ScheduledPriceID = &scheduled

	var captured *stripe.SubscriptionParams
	f.processor.updateFn = func(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		captured = params
		return stripeSubFixture(id, stripe.SubscriptionStatusActive,
			time.Now().Unix(), time.Now().Add(30*24*time.Hour).Unix()), nil
	}

	outcome, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.proMonthly.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Type != enums.PlanChangeUpgrade {
		t.Fatalf("expected upgrade, got %s", outcome.Type)
	}
	if captured == nil || captured.ProrationBehavior == nil || *captured.ProrationBehavior != prorationCreateProrations {
		t.Fatalf("expected proration enabled, got %+v", captured)
	}
	if *captured.Items[0].Price != "price_pro_month" {
		t.Fatalf("unexpected swap target %s", *captured.Items[0].Price)
	}
	if outcome.Subscription.PriceID != f.proMonthly.ID {
		t.Fatal("local price not updated")
	}
	if outcome.Subscription.ScheduledPriceID != nil {
		t.Fatal("scheduled price not cleared on upgrade")
	}
	if len(f.repo.updatedSubs) != 1 {
		t.Fatalf("expected one persisted update, got %d", len(f.repo.updatedSubs))
	}
}

func TestRequestPlanChangeIntervalChangeIsImmediate(t *testing.T) {
	f := newFixtures(t)
	f.withCurrentSubscription(f.proMonthly)

	outcome, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.proAnnual.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Type != enums.PlanChangeIntervalChange {
		t.Fatalf("expected interval_change, got %s", outcome.Type)
	}
}

func TestRequestPlanChangeDowngradeIsDeferred(t *testing.T) {
	f := newFixtures(t)
	sub := f.withCurrentSubscription(f.proMonthly)
	originalPrice := sub.PriceID

	outcome, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.basicMonthly.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Type != enums.PlanChangeDowngradeScheduled {
		t.Fatalf("expected downgrade_scheduled, got %s", outcome.Type)
	}
	if f.processor.calls != 0 {
		t.Fatalf("downgrade must not call the processor, saw %d calls", f.processor.calls)
	}
	if sub.PriceID != originalPrice {
		t.Fatal("price must stay unchanged until the boundary")
	}
	if sub.ScheduledPriceID == nil || *sub.ScheduledPriceID != f.basicMonthly.ID {
		t.Fatal("scheduled price not recorded")
	}
	if outcome.EffectiveAt == nil || !outcome.EffectiveAt.Equal(*sub.CurrentPeriodEnd) {
		t.Fatal("effective date should be the current period end")
	}
}

func TestRequestPlanChangeSamePlan(t *testing.T) {
	f := newFixtures(t)
	f.withCurrentSubscription(f.proMonthly)

	_, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.proMonthly.ID})
	assertCode(t, err, pkgerrors.CodeSamePlan)
	if f.processor.calls != 0 {
		t.Fatalf("same-plan must not call the processor, saw %d calls", f.processor.calls)
	}
}

func TestRequestPlanChangeWhileCanceling(t *testing.T) {
	f := newFixtures(t)
	sub := f.withCurrentSubscription(f.basicMonthly)
	sub.CancelAtPeriodEnd = true

	_, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.proMonthly.ID})
	assertCode(t, err, pkgerrors.CodeSubscriptionCanceling)
	if f.processor.calls != 0 {
		t.Fatalf("canceling guard must not call the processor, saw %d calls", f.processor.calls)
	}
}

func TestRequestPlanChangeInvalidPrice(t *testing.T) {
	f := newFixtures(t)

	_, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: uuid.New()})
	assertCode(t, err, pkgerrors.CodeInvalidPrice)
}

func TestRequestPlanChangeProcessorDownNothingPersisted(t *testing.T) {
	f := newFixtures(t)
	f.withCurrentSubscription(f.basicMonthly)
	f.processor.getFn = func(ctx context.Context, id string) (*stripe.Subscription, error) {
		return nil, errors.New("connection refused")
	}

	_, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.proMonthly.ID})
	assertCode(t, err, pkgerrors.CodeProcessorUnavailable)
	if len(f.repo.updatedSubs) != 0 {
		t.Fatal("nothing may be persisted when the processor call failed")
	}
}

func TestRequestPlanChangeConcurrentMutationConflicts(t *testing.T) {
	f := newFixtures(t)
	f.withCurrentSubscription(f.basicMonthly)

	// another request swaps the price between the external call and our persist
	f.processor.updateFn = func(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		f.repo.current.PriceID = f.proAnnual.ID
		return stripeSubFixture(id, stripe.SubscriptionStatusActive,
			time.Now().Unix(), time.Now().Add(30*24*time.Hour).Unix()), nil
	}

	_, err := f.svc.RequestPlanChange(context.Background(), f.userID, PlanChangeInput{PriceID: f.proMonthly.ID})
	assertCode(t, err, pkgerrors.CodeConflict)
}

func TestCancelAndResume(t *testing.T) {
	f := newFixtures(t)
	f.withCurrentSubscription(f.proMonthly)

	var captured *stripe.SubscriptionParams
	f.processor.updateFn = func(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
		captured = params
		out := stripeSubFixture(id, stripe.SubscriptionStatusActive,
			time.Now().Unix(), time.Now().Add(30*24*time.Hour).Unix())
		if params.CancelAtPeriodEnd != nil {
			out.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
		}
		return out, nil
	}

	sub, err := f.svc.CancelAtPeriodEnd(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if captured.CancelAtPeriodEnd == nil || !*captured.CancelAtPeriodEnd {
		t.Fatal("expected cancel_at_period_end=true sent to processor")
	}
	if !sub.CancelAtPeriodEnd {
		t.Fatal("local cancel flag not set")
	}

	sub, err = f.svc.ResumeCancellation(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if captured.CancelAtPeriodEnd == nil || *captured.CancelAtPeriodEnd {
		t.Fatal("expected cancel_at_period_end=false sent to processor")
	}
	if sub.CancelAtPeriodEnd {
		t.Fatal("local cancel flag not cleared")
	}
}

func TestPurchaseAddonGatedByLevel(t *testing.T) {
	f := newFixtures(t)
	addon := &models.Addon{
		ID: uuid.New(), Name: "Featured listings", StripePriceID: "price_addon",
		LevelRequired: 3, AmountCents: 1900, IsActive: true,
	}
	f.repo.addons[addon.ID] = addon

	f.withCurrentSubscription(f.basicMonthly)
	_, err := f.svc.PurchaseAddon(context.Background(), f.userID, addon.ID, "", "")
	assertCode(t, err, pkgerrors.CodeForbidden)

	f.withCurrentSubscription(f.proMonthly)
	cus := "cus_existing"
	f.repo.user.StripeCustomerID = &cus
	url, err := f.svc.PurchaseAddon(context.Background(), f.userID, addon.ID, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url == "" {
		t.Fatal("expected checkout redirect url")
	}
}
