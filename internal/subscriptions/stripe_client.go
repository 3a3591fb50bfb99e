package subscriptions

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
	pkgstripe "github.com/wayfarerhq/wayfarer-backend/pkg/stripe"
)

// ProcessorClient exposes the subset of Stripe operations required by the
// billing services.
type ProcessorClient interface {
	EnsureCustomer(ctx context.Context, email, name string) (string, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]*stripe.Invoice, error)
}

type stripeClientWrapper struct{}

// NewProcessorClient wraps the initialized Stripe client so the billing
// services can be tested against a stub.
func NewProcessorClient(api *pkgstripe.Client) ProcessorClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

// EnsureCustomer finds the customer by email or creates one. Stripe is the
// dedup authority; match by contact identity before creating.
func (w *stripeClientWrapper) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := customer.List(listParams)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", err
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if strings.TrimSpace(name) != "" {
		createParams.Name = stripe.String(name)
	}
	createParams.Context = ctx
	created, err := customer.New(createParams)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (w *stripeClientWrapper) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params != nil {
		params.Context = ctx
	}
	return checkoutsession.New(params)
}

func (w *stripeClientWrapper) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (w *stripeClientWrapper) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params != nil {
		params.Context = ctx
	}
	return subscription.Update(id, params)
}

func (w *stripeClientWrapper) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer: stripe.String(customerID),
	}
	if strings.TrimSpace(returnURL) != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx
	return portalsession.New(params)
}

func (w *stripeClientWrapper) ListInvoices(ctx context.Context, customerID string, limit int) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}
	params.Context = ctx

	var invoices []*stripe.Invoice
	iter := invoice.List(params)
	for iter.Next() {
		invoices = append(invoices, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}
