package billing

import (
	"context"
	"net/http"

	"github.com/wayfarerhq/wayfarer-backend/api/responses"
	"github.com/wayfarerhq/wayfarer-backend/internal/catalog"
	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	pkgerrors "github.com/wayfarerhq/wayfarer-backend/pkg/errors"
	"github.com/wayfarerhq/wayfarer-backend/pkg/logger"
)

// PlanCatalog describes the catalog reads used by the HTTP layer.
type PlanCatalog interface {
	ListPlans(ctx context.Context, includePrivate bool) ([]models.Plan, error)
	ListPricesByPlan(ctx context.Context, planID string) ([]models.Price, error)
}

type priceResponse struct {
	ID            string `json:"id"`
	StripePriceID string `json:"stripe_price_id"`
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
}

type planResponse struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Level        int                  `json:"level"`
	Features     []string             `json:"features"`
	Entitlements catalog.Entitlements `json:"entitlements"`
	Prices       []priceResponse      `json:"prices"`
}

type planListResponse struct {
	Plans []planResponse `json:"plans"`
}

// ListPlans returns the public catalog with active prices per plan.
func ListPlans(repo PlanCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if repo == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		plans, err := repo.ListPlans(ctx, false)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]planResponse, 0, len(plans))
		for _, plan := range plans {
			prices, err := repo.ListPricesByPlan(ctx, plan.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			priceOut := make([]priceResponse, 0, len(prices))
			for _, price := range prices {
				if !price.IsActive {
					continue
				}
				priceOut = append(priceOut, priceResponse{
					ID:            price.ID.String(),
					StripePriceID: price.StripePriceID,
					Interval:      string(price.Interval),
					IntervalCount: price.IntervalCount,
					AmountCents:   price.AmountCents,
					Currency:      price.Currency,
				})
			}

			features := make([]string, len(plan.Features))
			copy(features, plan.Features)

			out = append(out, planResponse{
				ID:           plan.ID,
				Name:         plan.Name,
				Level:        plan.Level,
				Features:     features,
				Entitlements: catalog.EntitlementsFor(plan.ID),
				Prices:       priceOut,
			})
		}

		responses.WriteSuccess(w, planListResponse{Plans: out})
	}
}
