package subscriptions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
)

// MetadataUserIDKey tags every Stripe object we create with the owning user.
const MetadataUserIDKey = "user_id"

// MetadataAddonIDKey tags payment-mode checkout sessions with the addon bought.
const MetadataAddonIDKey = "addon_id"

// BuildSubscriptionFromStripe maps a Stripe subscription into a new local row.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription, userID, priceID uuid.UUID) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	sub := &models.Subscription{
		UserID:  userID,
		PriceID: priceID,
	}
	ref := stripeSub.ID
	sub.StripeSubscriptionID = &ref
	applySnapshotFields(sub, stripeSub)
	return sub, nil
}

// ApplySubscriptionSnapshot overwrites the local row with the event's
// full-state snapshot. Snapshots make redelivery idempotent; the period guard
// keeps a delayed event from regressing currentPeriodEnd behind a later
// invoice-paid write.
func ApplySubscriptionSnapshot(target *models.Subscription, stripeSub *stripe.Subscription, priceID *uuid.UUID) error {
	if target == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "target subscription is nil")
	}
	if stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	prevEnd := target.CurrentPeriodEnd
	applySnapshotFields(target, stripeSub)
	if priceID != nil {
		target.PriceID = *priceID
	}
	if regressed(prevEnd, target.CurrentPeriodEnd) {
		target.CurrentPeriodEnd = prevEnd
	}
	return nil
}

// ExtendPeriodFromInvoice moves the billing period forward from an invoice's
// period fields. Never moves currentPeriodEnd backwards.
func ExtendPeriodFromInvoice(target *models.Subscription, periodStart, periodEnd time.Time) {
	if target == nil {
		return
	}
	if !periodStart.IsZero() {
		if target.CurrentPeriodStart == nil || periodStart.After(*target.CurrentPeriodStart) {
			start := periodStart.UTC()
			target.CurrentPeriodStart = &start
		}
	}
	if !periodEnd.IsZero() {
		if target.CurrentPeriodEnd == nil || periodEnd.After(*target.CurrentPeriodEnd) {
			end := periodEnd.UTC()
			target.CurrentPeriodEnd = &end
		}
	}
}

func applySnapshotFields(target *models.Subscription, stripeSub *stripe.Subscription) {
	if stripeSub.ID != "" {
		ref := stripeSub.ID
		target.StripeSubscriptionID = &ref
	}
	target.Status = mapStripeStatus(stripeSub.Status)
	start, end := PeriodFromStripe(stripeSub)
	target.CurrentPeriodStart = toTimePtr(start)
	target.CurrentPeriodEnd = toTimePtr(end)
	target.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	target.CancelAt = toTimePtr(stripeSub.CancelAt)
	target.TrialEnd = toTimePtr(stripeSub.TrialEnd)
}

func regressed(prev, next *time.Time) bool {
	return prev != nil && next != nil && next.Before(*prev)
}

// PriceRefFromStripe returns the Stripe price id on the subscription's first
// item, empty when absent.
func PriceRefFromStripe(stripeSub *stripe.Subscription) string {
	if stripeSub == nil || stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return ""
	}
	if stripeSub.Items.Data[0].Price != nil {
		return stripeSub.Items.Data[0].Price.ID
	}
	return ""
}

// ItemIDFromStripe returns the subscription item id used for price swaps.
func ItemIDFromStripe(stripeSub *stripe.Subscription) string {
	if stripeSub == nil || stripeSub.Items == nil || len(stripeSub.Items.Data) == 0 {
		return ""
	}
	return stripeSub.Items.Data[0].ID
}

// CustomerRefFromStripe returns the customer id attached to the subscription.
func CustomerRefFromStripe(stripeSub *stripe.Subscription) string {
	if stripeSub == nil || stripeSub.Customer == nil {
		return ""
	}
	return stripeSub.Customer.ID
}

// UserIDFromMetadata extracts the user id we attach to Stripe metadata.
func UserIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	if metadata == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "metadata is required")
	}
	raw, ok := metadata[MetadataUserIDKey]
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id missing from metadata")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}
	return id, nil
}

// PeriodFromStripe returns the unix period bounds on the subscription's first
// item, zero when absent.
func PeriodFromStripe(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func mapStripeStatus(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	switch raw {
	case stripe.SubscriptionStatusTrialing:
		return enums.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusActive:
		return enums.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return enums.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return enums.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusIncomplete:
		return enums.SubscriptionStatusIncomplete
	default:
		return enums.SubscriptionStatusIncomplete
	}
}
