package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/miragespace/premium/entitlement"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVersionConflict is returned when a compare-and-swap loses to a concurrent writer
var ErrVersionConflict = errors.New("subscription was modified concurrently")

// Repository is the unit of persistence the reconciliation logic works against.
// Within Manager.Transaction every call shares the same transaction.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Subscription, error)
	FindByStripeSubscriptionID(ctx context.Context, id string) (*Subscription, error)
	FindByCheckoutSessionID(ctx context.Context, id string) (*Subscription, error)
	FindByStripeCustomerID(ctx context.Context, id string) (*Subscription, error)
	FindLatestByUserID(ctx context.Context, userID string) (*Subscription, error)
	ListByStatus(ctx context.Context, status Status) ([]Subscription, error)

	Save(ctx context.Context, sub *Subscription) error
	CompareAndSwap(ctx context.Context, sub *Subscription, expectedVersion int64) error

	ListEntitlements(ctx context.Context, subscriptionID string) (entitlement.Set, error)
	InsertEntitlements(ctx context.Context, subscriptionID string, features []entitlement.Feature) error

	RecordEvent(ctx context.Context, event *WebhookEvent) error
}

type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager persists subscriptions, entitlements and the webhook ledger
type Manager struct {
	ManagerOptions
	store *gormStore
}

var _ Repository = &Manager{}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Subscription{}, &Entitlement{}, &WebhookEvent{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
		store: &gormStore{
			db:     option.DB,
			logger: option.Logger,
		},
	}, nil
}

func (m *Manager) isPostgres() bool {
	return m.DB.Dialector.Name() == "postgres"
}

// Transaction runs fn inside one database transaction. Rows located through the
// Repository are locked for update on PostgreSQL.
func (m *Manager) Transaction(ctx context.Context, fn func(repo Repository) error) error {
	var opts []*sql.TxOptions
	if m.isPostgres() {
		opts = append(opts, &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
		})
	}
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{
			db:      tx,
			logger:  m.Logger,
			locking: m.isPostgres(),
		})
	}, opts...)
}

func (m *Manager) FindByID(ctx context.Context, id string) (*Subscription, error) {
	return m.store.FindByID(ctx, id)
}

func (m *Manager) FindByStripeSubscriptionID(ctx context.Context, id string) (*Subscription, error) {
	return m.store.FindByStripeSubscriptionID(ctx, id)
}

func (m *Manager) FindByCheckoutSessionID(ctx context.Context, id string) (*Subscription, error) {
	return m.store.FindByCheckoutSessionID(ctx, id)
}

func (m *Manager) FindByStripeCustomerID(ctx context.Context, id string) (*Subscription, error) {
	return m.store.FindByStripeCustomerID(ctx, id)
}

func (m *Manager) FindLatestByUserID(ctx context.Context, userID string) (*Subscription, error) {
	return m.store.FindLatestByUserID(ctx, userID)
}

func (m *Manager) ListByStatus(ctx context.Context, status Status) ([]Subscription, error) {
	return m.store.ListByStatus(ctx, status)
}

func (m *Manager) Save(ctx context.Context, sub *Subscription) error {
	return m.store.Save(ctx, sub)
}

func (m *Manager) CompareAndSwap(ctx context.Context, sub *Subscription, expectedVersion int64) error {
	return m.store.CompareAndSwap(ctx, sub, expectedVersion)
}

func (m *Manager) ListEntitlements(ctx context.Context, subscriptionID string) (entitlement.Set, error) {
	return m.store.ListEntitlements(ctx, subscriptionID)
}

func (m *Manager) InsertEntitlements(ctx context.Context, subscriptionID string, features []entitlement.Feature) error {
	return m.store.InsertEntitlements(ctx, subscriptionID, features)
}

func (m *Manager) RecordEvent(ctx context.Context, event *WebhookEvent) error {
	return m.store.RecordEvent(ctx, event)
}

type gormStore struct {
	db      *gorm.DB
	logger  *zap.Logger
	locking bool
}

func (s *gormStore) findOne(ctx context.Context, column, value string) (*Subscription, error) {
	if len(value) == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Where(column+" = ?", value).
		Order("started_at desc")
	if s.locking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var sub Subscription
	result := query.First(&sub)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrapf(result.Error, "Cannot find subscription by %s", column)
	}
	return &sub, nil
}

func (s *gormStore) FindByID(ctx context.Context, id string) (*Subscription, error) {
	return s.findOne(ctx, "id", id)
}

func (s *gormStore) FindByStripeSubscriptionID(ctx context.Context, id string) (*Subscription, error) {
	return s.findOne(ctx, "stripe_subscription_id", id)
}

func (s *gormStore) FindByCheckoutSessionID(ctx context.Context, id string) (*Subscription, error) {
	return s.findOne(ctx, "checkout_session_id", id)
}

func (s *gormStore) FindByStripeCustomerID(ctx context.Context, id string) (*Subscription, error) {
	return s.findOne(ctx, "stripe_customer_id", id)
}

func (s *gormStore) FindLatestByUserID(ctx context.Context, userID string) (*Subscription, error) {
	return s.findOne(ctx, "user_id", userID)
}

func (s *gormStore) ListByStatus(ctx context.Context, status Status) ([]Subscription, error) {
	results := make([]Subscription, 0, 8)
	result := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("started_at asc").
		Find(&results)
	if result.Error != nil {
		s.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list subscriptions")
	}
	return results, nil
}

func (s *gormStore) Save(ctx context.Context, sub *Subscription) error {
	if len(sub.ID) > 0 {
		return s.CompareAndSwap(ctx, sub, sub.Version)
	}
	sub.ID = uuid.NewString()
	sub.Version = 1
	if sub.StartedAt.IsZero() {
		sub.StartedAt = time.Now().UTC()
	}
	result := s.db.WithContext(ctx).Create(sub)
	if result.Error != nil {
		s.logger.Error("Unable to create new subscription in database",
			zap.String("UserID", sub.UserID),
			zap.Error(result.Error),
		)
		sub.ID = ""
		return extErrors.Wrap(result.Error, "Cannot create subscription")
	}
	return nil
}

// CompareAndSwap writes sub only if the stored version still equals expectedVersion
func (s *gormStore) CompareAndSwap(ctx context.Context, sub *Subscription, expectedVersion int64) error {
	sub.Version = expectedVersion + 1
	result := s.db.WithContext(ctx).
		Model(sub).
		Where("version = ?", expectedVersion).
		Select("*").
		Omit("ID", "CreatedAt").
		Updates(sub)
	if result.Error != nil {
		sub.Version = expectedVersion
		s.logger.Error("Unable to update subscription in database",
			zap.String("SubscriptionID", sub.ID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot update subscription")
	}
	if result.RowsAffected == 0 {
		sub.Version = expectedVersion
		return ErrVersionConflict
	}
	return nil
}

func (s *gormStore) ListEntitlements(ctx context.Context, subscriptionID string) (entitlement.Set, error) {
	rows := make([]Entitlement, 0, 3)
	result := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Find(&rows)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot list entitlements")
	}
	set := entitlement.NewSet()
	for _, row := range rows {
		set.Add(row.Feature)
	}
	return set, nil
}

// InsertEntitlements skips grants that already exist, so concurrent callers are safe
func (s *gormStore) InsertEntitlements(ctx context.Context, subscriptionID string, features []entitlement.Feature) error {
	if len(features) == 0 {
		return nil
	}
	rows := make([]Entitlement, 0, len(features))
	for _, f := range features {
		rows = append(rows, Entitlement{
			ID:             uuid.NewString(),
			SubscriptionID: subscriptionID,
			Feature:        f,
		})
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "feature"}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot insert entitlements")
	}
	return nil
}

// RecordEvent upserts the ledger row keyed by the provider's event id
func (s *gormStore) RecordEvent(ctx context.Context, event *WebhookEvent) error {
	if len(event.ID) == 0 {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"event_type", "subscription_id", "payload", "received_at"}),
		}).
		Create(event)
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot record webhook event")
	}
	return nil
}
