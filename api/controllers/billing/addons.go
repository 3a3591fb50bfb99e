package billing

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer-backend/api/middleware"
	"github.com/wayfarerhq/wayfarer-backend/api/responses"
	"github.com/wayfarerhq/wayfarer-backend/api/validators"
	subsvc "github.com/wayfarerhq/wayfarer-backend/internal/subscriptions"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
)

type addonCheckoutRequest struct {
	SuccessURL string `json:"success_url,omitempty" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// AddonCheckout starts a one-time payment checkout for an addon.
func AddonCheckout(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		addonID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "addonId")))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid addon id"))
			return
		}

		var payload addonCheckoutRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		url, err := svc.PurchaseAddon(ctx, userID, addonID, payload.SuccessURL, payload.CancelURL)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"url": url})
	}
}
