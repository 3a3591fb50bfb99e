package subscriptions

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
)

func stripeSubFixture(id string, status stripe.SubscriptionStatus, periodStart, periodEnd int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     id,
		Status: status,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:                 "si_1",
					Price:              &stripe.Price{ID: "price_live"},
					CurrentPeriodStart: periodStart,
					CurrentPeriodEnd:   periodEnd,
				},
			},
		},
	}
}

func TestBuildSubscriptionFromStripe(t *testing.T) {
	userID := uuid.New()
	priceID := uuid.New()
	start := time.Now().Unix()
	end := time.Now().Add(30 * 24 * time.Hour).Unix()

	sub, err := BuildSubscriptionFromStripe(stripeSubFixture("sub_1", stripe.SubscriptionStatusActive, start, end), userID, priceID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.StripeID() != "sub_1" {
		t.Fatalf("expected stripe ref sub_1, got %q", sub.StripeID())
	}
	if sub.Status != enums.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", sub.Status)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != end {
		t.Fatalf("unexpected period end %v", sub.CurrentPeriodEnd)
	}
	if sub.UserID != userID || sub.PriceID != priceID {
		t.Fatal("ids not carried over")
	}
}

func TestApplySubscriptionSnapshotIsIdempotent(t *testing.T) {
	target := &models.Subscription{UserID: uuid.New(), PriceID: uuid.New()}
	event := stripeSubFixture("sub_1", stripe.SubscriptionStatusActive,
		time.Now().Unix(), time.Now().Add(30*24*time.Hour).Unix())

	if err := ApplySubscriptionSnapshot(target, event, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	first := *target
	if err := ApplySubscriptionSnapshot(target, event, nil); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if target.Status != first.Status ||
		!target.CurrentPeriodEnd.Equal(*first.CurrentPeriodEnd) ||
		target.CancelAtPeriodEnd != first.CancelAtPeriodEnd {
		t.Fatal("redelivery changed state")
	}
}

func TestApplySubscriptionSnapshotKeepsLaterPeriodEnd(t *testing.T) {
	laterEnd := time.Now().Add(60 * 24 * time.Hour).UTC().Truncate(time.Second)
	target := &models.Subscription{
		UserID:           uuid.New(),
		PriceID:          uuid.New(),
		Status:           enums.SubscriptionStatusActive,
		CurrentPeriodEnd: &laterEnd,
	}

	// delayed update still describing the previous period
	stale := stripeSubFixture("sub_1", stripe.SubscriptionStatusActive,
		time.Now().Add(-30*24*time.Hour).Unix(), time.Now().Unix())

	if err := ApplySubscriptionSnapshot(target, stale, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if target.CurrentPeriodEnd == nil || !target.CurrentPeriodEnd.Equal(laterEnd) {
		t.Fatalf("period end regressed to %v", target.CurrentPeriodEnd)
	}
}

func TestExtendPeriodFromInvoiceNeverRegresses(t *testing.T) {
	end := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
	target := &models.Subscription{CurrentPeriodEnd: &end}

	ExtendPeriodFromInvoice(target, time.Time{}, end.Add(-10*24*time.Hour))
	if !target.CurrentPeriodEnd.Equal(end) {
		t.Fatalf("period end regressed to %v", target.CurrentPeriodEnd)
	}

	later := end.Add(30 * 24 * time.Hour)
	ExtendPeriodFromInvoice(target, time.Time{}, later)
	if !target.CurrentPeriodEnd.Equal(later) {
		t.Fatalf("period end not extended, got %v", target.CurrentPeriodEnd)
	}
}

func TestMapStripeStatus(t *testing.T) {
	cases := []struct {
		in   stripe.SubscriptionStatus
		want enums.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, enums.SubscriptionStatusActive},
		{stripe.SubscriptionStatusTrialing, enums.SubscriptionStatusTrialing},
		{stripe.SubscriptionStatusPastDue, enums.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusUnpaid, enums.SubscriptionStatusPastDue},
		{stripe.SubscriptionStatusCanceled, enums.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncompleteExpired, enums.SubscriptionStatusCanceled},
		{stripe.SubscriptionStatusIncomplete, enums.SubscriptionStatusIncomplete},
	}
	for _, tc := range cases {
		if got := mapStripeStatus(tc.in); got != tc.want {
			t.Errorf("mapStripeStatus(%s)=%s want %s", tc.in, got, tc.want)
		}
	}
}

func TestUserIDFromMetadata(t *testing.T) {
	id := uuid.New()
	got, err := UserIDFromMetadata(map[string]string{MetadataUserIDKey: id.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Fatalf("expected %s got %s", id, got)
	}

	if _, err := UserIDFromMetadata(nil); err == nil {
		t.Fatal("expected error for nil metadata")
	}
	if _, err := UserIDFromMetadata(map[string]string{MetadataUserIDKey: "garbage"}); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
