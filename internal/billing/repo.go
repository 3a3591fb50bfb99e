package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wayfarerhq/wayfarer-backend/pkg/db/models"
	"github.com/wayfarerhq/wayfarer-backend/pkg/enums"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error

	ListPlans(ctx context.Context, includePrivate bool) ([]models.Plan, error)
	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)
	FindPriceByID(ctx context.Context, id uuid.UUID) (*models.Price, error)
	FindPriceByStripeID(ctx context.Context, stripePriceID string) (*models.Price, error)
	ListPricesByPlan(ctx context.Context, planID string) ([]models.Price, error)

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindCurrentSubscriptionForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindSubscriptionByStripeIDForUpdate(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error)

	FindAddonByID(ctx context.Context, id uuid.UUID) (*models.Addon, error)
	FindAddonByStripePriceID(ctx context.Context, stripePriceID string) (*models.Addon, error)
	CreateAddonPurchase(ctx context.Context, purchase *models.AddonPurchase) error
	FindAddonPurchaseByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.AddonPurchase, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, nil
	}
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repository) SetStripeCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
}

func (r *repository) ListPlans(ctx context.Context, includePrivate bool) ([]models.Plan, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Plan{}).
		Where("is_active = ?", true)
	if !includePrivate {
		query = query.Where("is_private = ?", false)
	}
	var plans []models.Plan
	if err := query.Order("level ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPriceByID(ctx context.Context, id uuid.UUID) (*models.Price, error) {
	var price models.Price
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&price).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

func (r *repository) FindPriceByStripeID(ctx context.Context, stripePriceID string) (*models.Price, error) {
	if stripePriceID == "" {
		return nil, nil
	}
	var price models.Price
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("stripe_price_id = ?", stripePriceID).
		First(&price).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &price, nil
}

func (r *repository) ListPricesByPlan(ctx context.Context, planID string) ([]models.Price, error) {
	var prices []models.Price
	if err := r.db.WithContext(ctx).
		Where("plan_id = ? AND is_active = ?", planID, true).
		Order("amount_cents ASC").
		Find(&prices).Error; err != nil {
		return nil, err
	}
	return prices, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return r.findCurrent(ctx, userID, false)
}

func (r *repository) FindCurrentSubscriptionForUpdate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return r.findCurrent(ctx, userID, true)
}

func (r *repository) findCurrent(ctx context.Context, userID uuid.UUID, forUpdate bool) (*models.Subscription, error) {
	currentStatuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
	}
	query := r.db.WithContext(ctx).
		Preload("Price").
		Preload("Price.Plan").
		Where("user_id = ? AND status IN (?)", userID, currentStatuses).
		Order("created_at DESC")
	if forUpdate {
		query = r.withRowLock(query)
	}
	var sub models.Subscription
	if err := query.First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return r.findByStripeID(ctx, stripeSubscriptionID, false)
}

func (r *repository) FindSubscriptionByStripeIDForUpdate(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	return r.findByStripeID(ctx, stripeSubscriptionID, true)
}

func (r *repository) findByStripeID(ctx context.Context, stripeSubscriptionID string, forUpdate bool) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	query := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID)
	if forUpdate {
		query = r.withRowLock(query)
	}
	var sub models.Subscription
	if err := query.First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// withRowLock applies SELECT ... FOR UPDATE on dialects that support it.
// SQLite (tests) serializes writers at the database level already.
func (r *repository) withRowLock(query *gorm.DB) *gorm.DB {
	if r.db.Dialector.Name() != "postgres" {
		return query
	}
	return query.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusIncomplete,
	}
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id IS NOT NULL").
		Where("(status IN (?) OR cancel_at_period_end OR scheduled_price_id IS NOT NULL OR current_period_end >= ?)", statuses, cutoff).
		Order("updated_at DESC").
		Limit(limit)
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) FindAddonByID(ctx context.Context, id uuid.UUID) (*models.Addon, error) {
	var addon models.Addon
	if err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&addon).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &addon, nil
}

func (r *repository) FindAddonByStripePriceID(ctx context.Context, stripePriceID string) (*models.Addon, error) {
	if stripePriceID == "" {
		return nil, nil
	}
	var addon models.Addon
	if err := r.db.WithContext(ctx).
		Where("stripe_price_id = ?", stripePriceID).
		First(&addon).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &addon, nil
}

func (r *repository) CreateAddonPurchase(ctx context.Context, purchase *models.AddonPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) FindAddonPurchaseByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.AddonPurchase, error) {
	if paymentIntentID == "" {
		return nil, nil
	}
	var purchase models.AddonPurchase
	if err := r.db.WithContext(ctx).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		First(&purchase).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}
