package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer-backend/api/middleware"
	"github.com/wayfarerhq/wayfarer-backend/api/responses"
	"github.com/wayfarerhq/wayfarer-backend/api/validators"
	"github.com/wayfarerhq/wayfarer-backend/internal/catalog"
	subsvc "github.com/wayfarerhq/wayfarer-backend/internal/subscriptions"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
)

const maxInvoicePageSize = 50

type planChangeRequest struct {
	PriceID    string `json:"price_id" validate:"required,uuid"`
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

type planChangeResponse struct {
	Outcome      string                `json:"outcome"`
	RedirectURL  string                `json:"redirect_url,omitempty"`
	EffectiveAt  *time.Time            `json:"effective_at,omitempty"`
	Subscription *subscriptionResponse `json:"subscription,omitempty"`
}

type subscriptionResponse struct {
	ID                 uuid.UUID             `json:"id"`
	Status             string                `json:"status"`
	PriceID            uuid.UUID             `json:"price_id"`
	PlanID             string                `json:"plan_id,omitempty"`
	PlanName           string                `json:"plan_name,omitempty"`
	Interval           string                `json:"interval,omitempty"`
	AmountCents        int64                 `json:"amount_cents,omitempty"`
	Currency           string                `json:"currency,omitempty"`
	CurrentPeriodStart *time.Time            `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time            `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool                  `json:"cancel_at_period_end"`
	CancelAt           *time.Time            `json:"cancel_at,omitempty"`
	TrialEnd           *time.Time            `json:"trial_end,omitempty"`
	ScheduledPriceID   *uuid.UUID            `json:"scheduled_price_id,omitempty"`
	Entitlements       *catalog.Entitlements `json:"entitlements,omitempty"`
}

// PlanChange routes a plan-change request through the subscription
// orchestrator and reports which path it took.
func PlanChange(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload planChangeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		priceID, err := uuid.Parse(payload.PriceID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price id"))
			return
		}

		outcome, err := svc.RequestPlanChange(ctx, userID, subsvc.PlanChangeInput{
			PriceID:    priceID,
			SuccessURL: payload.SuccessURL,
			CancelURL:  payload.CancelURL,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, planChangeResponse{
			Outcome:      string(outcome.Type),
			RedirectURL:  outcome.RedirectURL,
			EffectiveAt:  outcome.EffectiveAt,
			Subscription: newSubscriptionResponse(outcome.Subscription),
		})
	}
}

func Cancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		sub, err := svc.CancelAtPeriodEnd(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func Resume(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		sub, err := svc.ResumeCancellation(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// Fetch returns the caller's current subscription, or null when they have
// never subscribed.
func Fetch(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		sub, err := svc.GetCurrent(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if sub == nil {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

type portalRequest struct {
	ReturnURL string `json:"return_url,omitempty" validate:"omitempty,url"`
}

func Portal(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload portalRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		url, err := svc.PortalSession(ctx, userID, payload.ReturnURL)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"url": url})
	}
}

func Invoices(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(ctx)
		if userID == uuid.Nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 10, 1, maxInvoicePageSize)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		invoices, err := svc.ListInvoices(ctx, userID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"invoices": invoices})
	}
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}

	resp := &subscriptionResponse{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		PriceID:            sub.PriceID,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelAt:           sub.CancelAt,
		TrialEnd:           sub.TrialEnd,
		ScheduledPriceID:   sub.ScheduledPriceID,
	}

	if sub.Price != nil {
		resp.PlanID = sub.Price.PlanID
		resp.Interval = string(sub.Price.Interval)
		resp.AmountCents = sub.Price.AmountCents
		resp.Currency = sub.Price.Currency
		if sub.Price.Plan != nil {
			resp.PlanName = sub.Price.Plan.Name
		}
		entitlements := catalog.EntitlementsFor(sub.Price.PlanID)
		resp.Entitlements = &entitlements
	}

	return resp
}
