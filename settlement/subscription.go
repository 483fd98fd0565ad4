package settlement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vitwit/chainpay/types"
)

// DefaultPeriod is how long one paid invoice keeps a plan active.
const DefaultPeriod = 30 * 24 * time.Hour

// ErrSubscriptionNotFound is returned when no subscription exists for an
// invoice.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// Subscription is a plan activated by a paid invoice.
type Subscription struct {
	ID              string          `json:"id"`
	InvoiceID       string          `json:"invoiceId"`
	OrganizationRef string          `json:"organizationRef"`
	Plan            string          `json:"plan"`
	Network         types.NetworkID `json:"network"`
	AssetSymbol     string          `json:"assetSymbol"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	StartsAt        time.Time       `json:"startsAt"`
	EndsAt          time.Time       `json:"endsAt"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ActiveAt reports whether the subscription covers t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}

// newSubscription builds the subscription for req. A renewal paid while the
// previous period of the same plan is still running starts when it ends.
func newSubscription(req ActivationRequest, latest *Subscription, period time.Duration, now time.Time) *Subscription {
	start := req.PaidAt
	if start.IsZero() {
		start = now
	}
	if latest != nil && latest.EndsAt.After(start) {
		start = latest.EndsAt
	}
	return &Subscription{
		ID:              uuid.NewString(),
		InvoiceID:       req.InvoiceID,
		OrganizationRef: req.OrganizationRef,
		Plan:            req.Plan,
		Network:         req.Network,
		AssetSymbol:     req.AssetSymbol,
		AmountPaid:      req.AmountPaid,
		StartsAt:        start,
		EndsAt:          start.Add(period),
		CreatedAt:       now,
	}
}

type storeConfig struct {
	period time.Duration
	clock  types.Clock
}

type StoreOption func(*storeConfig)

// WithPeriod sets the length of one subscription period.
func WithPeriod(d time.Duration) StoreOption {
	return func(c *storeConfig) { c.period = d }
}

func WithStoreClock(clock types.Clock) StoreOption {
	return func(c *storeConfig) { c.clock = clock }
}

func buildStoreConfig(opts []StoreOption) storeConfig {
	c := storeConfig{period: DefaultPeriod}
	for _, opt := range opts {
		opt(&c)
	}
	if c.period <= 0 {
		c.period = DefaultPeriod
	}
	if c.clock == nil {
		c.clock = types.SystemClock{}
	}
	return c
}

var _ Activator = (*MemorySubscriptionStore)(nil)

// MemorySubscriptionStore keeps subscriptions in process memory.
type MemorySubscriptionStore struct {
	cfg storeConfig

	mu        sync.Mutex
	byInvoice map[string]*Subscription
}

func NewMemorySubscriptionStore(opts ...StoreOption) *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		cfg:       buildStoreConfig(opts),
		byInvoice: make(map[string]*Subscription),
	}
}

func (m *MemorySubscriptionStore) Activate(_ context.Context, req ActivationRequest) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.byInvoice[req.InvoiceID]; ok {
		cp := *sub
		return &cp, nil
	}

	var latest *Subscription
	for _, sub := range m.byInvoice {
		if sub.OrganizationRef == req.OrganizationRef && sub.Plan == req.Plan &&
			(latest == nil || sub.EndsAt.After(latest.EndsAt)) {
			latest = sub
		}
	}

	sub := newSubscription(req, latest, m.cfg.period, m.cfg.clock.Now())
	m.byInvoice[req.InvoiceID] = sub
	cp := *sub
	return &cp, nil
}

// Get returns the subscription activated by invoiceID.
func (m *MemorySubscriptionStore) Get(_ context.Context, invoiceID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.byInvoice[invoiceID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// ListByOrganization returns an organization's subscriptions oldest first.
func (m *MemorySubscriptionStore) ListByOrganization(_ context.Context, org string) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Subscription
	for _, sub := range m.byInvoice {
		if sub.OrganizationRef == org {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// subscriptionRecord is the subscriptions table row.
type subscriptionRecord struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)"`
	InvoiceID       string          `gorm:"uniqueIndex;not null;type:varchar(36)"`
	OrganizationRef string          `gorm:"not null;index:idx_subscription_org_plan"`
	Plan            string          `gorm:"not null;index:idx_subscription_org_plan"`
	Network         string          `gorm:"not null"`
	AssetSymbol     string          `gorm:"not null"`
	AmountPaid      decimal.Decimal `gorm:"type:numeric;not null"`
	StartsAt        time.Time       `gorm:"not null"`
	EndsAt          time.Time       `gorm:"not null;index"`
	CreatedAt       time.Time       `gorm:"not null;autoCreateTime:false"`
}

func (subscriptionRecord) TableName() string { return "subscriptions" }

func (r *subscriptionRecord) toSubscription() *Subscription {
	return &Subscription{
		ID:              r.ID,
		InvoiceID:       r.InvoiceID,
		OrganizationRef: r.OrganizationRef,
		Plan:            r.Plan,
		Network:         types.NetworkID(r.Network),
		AssetSymbol:     r.AssetSymbol,
		AmountPaid:      r.AmountPaid,
		StartsAt:        r.StartsAt.UTC(),
		EndsAt:          r.EndsAt.UTC(),
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

var _ Activator = (*GormSubscriptionStore)(nil)

// GormSubscriptionStore persists subscriptions in PostgreSQL. The unique
// index on invoice_id makes activation idempotent across processes.
type GormSubscriptionStore struct {
	db  *gorm.DB
	cfg storeConfig
}

// NewGormSubscriptionStore migrates the subscriptions table and returns a
// store.
func NewGormSubscriptionStore(db *gorm.DB, opts ...StoreOption) (*GormSubscriptionStore, error) {
	if err := db.AutoMigrate(&subscriptionRecord{}); err != nil {
		return nil, err
	}
	return &GormSubscriptionStore{db: db, cfg: buildStoreConfig(opts)}, nil
}

func (g *GormSubscriptionStore) Activate(ctx context.Context, req ActivationRequest) (*Subscription, error) {
	var rec subscriptionRecord
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest *Subscription
		var prev subscriptionRecord
		err := tx.Where("organization_ref = ? AND plan = ?", req.OrganizationRef, req.Plan).
			Order("ends_at DESC").
			First(&prev).Error
		switch {
		case err == nil:
			latest = prev.toSubscription()
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		sub := newSubscription(req, latest, g.cfg.period, g.cfg.clock.Now())
		rec = subscriptionRecord{
			ID:              sub.ID,
			InvoiceID:       sub.InvoiceID,
			OrganizationRef: sub.OrganizationRef,
			Plan:            sub.Plan,
			Network:         sub.Network.String(),
			AssetSymbol:     sub.AssetSymbol,
			AmountPaid:      sub.AmountPaid,
			StartsAt:        sub.StartsAt,
			EndsAt:          sub.EndsAt,
			CreatedAt:       sub.CreatedAt,
		}
		return tx.Where(subscriptionRecord{InvoiceID: req.InvoiceID}).FirstOrCreate(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec.toSubscription(), nil
}

// Get returns the subscription activated by invoiceID.
func (g *GormSubscriptionStore) Get(ctx context.Context, invoiceID string) (*Subscription, error) {
	var rec subscriptionRecord
	if err := g.db.WithContext(ctx).First(&rec, "invoice_id = ?", invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return rec.toSubscription(), nil
}

// ListByOrganization returns an organization's subscriptions oldest first.
func (g *GormSubscriptionStore) ListByOrganization(ctx context.Context, org string) ([]*Subscription, error) {
	var recs []subscriptionRecord
	if err := g.db.WithContext(ctx).Where("organization_ref = ?", org).Order("starts_at ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*Subscription, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toSubscription())
	}
	return out, nil
}
