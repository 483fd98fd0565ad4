package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vitwit/chainpay/types"
)

var _ Store = (*GormStore)(nil)

// invoiceRecord is the invoices table row.
type invoiceRecord struct {
	ID                   string           `gorm:"primaryKey;type:varchar(36)"`
	OrganizationRef      string           `gorm:"not null;index"`
	Purpose              string           `gorm:"not null"`
	Network              string           `gorm:"not null;uniqueIndex:idx_invoice_network_tx,priority:1"`
	AssetSymbol          string           `gorm:"not null"`
	USDValue             decimal.Decimal  `gorm:"type:numeric;not null"`
	PriceUSD             decimal.Decimal  `gorm:"type:numeric;not null"`
	PriceSource          string           `gorm:"not null"`
	RequiredAmount       decimal.Decimal  `gorm:"type:numeric;not null"`
	WalletAddress        string           `gorm:"not null"`
	Status               string           `gorm:"not null;index"`
	TransactionHash      *string          `gorm:"uniqueIndex:idx_invoice_network_tx,priority:2"`
	Confirmations        *uint64
	ActualAmountReceived *decimal.Decimal `gorm:"type:numeric"`
	CreatedAt            time.Time        `gorm:"not null;autoCreateTime:false"`
	ExpiresAt            time.Time        `gorm:"not null;index"`
	ConfirmedAt          *time.Time
	ActivatedAt          *time.Time
	UpdatedAt            time.Time        `gorm:"autoUpdateTime:false"`
}

func (invoiceRecord) TableName() string { return "invoices" }

func toRecord(inv *types.Invoice) *invoiceRecord {
	return &invoiceRecord{
		ID:                   inv.ID,
		OrganizationRef:      inv.OrganizationRef,
		Purpose:              inv.Purpose,
		Network:              inv.Network.String(),
		AssetSymbol:          inv.AssetSymbol,
		USDValue:             inv.USDValue,
		PriceUSD:             inv.PriceUSD,
		PriceSource:          string(inv.PriceSource),
		RequiredAmount:       inv.RequiredAmount,
		WalletAddress:        inv.WalletAddress,
		Status:               inv.Status.String(),
		TransactionHash:      inv.TransactionHash,
		Confirmations:        inv.Confirmations,
		ActualAmountReceived: inv.ActualAmountReceived,
		CreatedAt:            inv.CreatedAt,
		ExpiresAt:            inv.ExpiresAt,
		ConfirmedAt:          inv.ConfirmedAt,
		ActivatedAt:          inv.ActivatedAt,
		UpdatedAt:            inv.UpdatedAt,
	}
}

func (r *invoiceRecord) toInvoice() *types.Invoice {
	return &types.Invoice{
		ID:                   r.ID,
		OrganizationRef:      r.OrganizationRef,
		Purpose:              r.Purpose,
		Network:              types.NetworkID(r.Network),
		AssetSymbol:          r.AssetSymbol,
		USDValue:             r.USDValue,
		PriceUSD:             r.PriceUSD,
		PriceSource:          types.PriceSource(r.PriceSource),
		RequiredAmount:       r.RequiredAmount,
		WalletAddress:        r.WalletAddress,
		Status:               types.InvoiceStatus(r.Status),
		TransactionHash:      r.TransactionHash,
		Confirmations:        r.Confirmations,
		ActualAmountReceived: r.ActualAmountReceived,
		CreatedAt:            r.CreatedAt.UTC(),
		ExpiresAt:            r.ExpiresAt.UTC(),
		ConfirmedAt:          r.ConfirmedAt,
		ActivatedAt:          r.ActivatedAt,
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

// GormStore persists invoices in PostgreSQL. Updates lock the row and are
// additionally guarded by the expected status in the WHERE clause. The
// unique (network, transaction_hash) index keeps one hash on one invoice;
// NULL hashes do not collide.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the invoices table and returns a store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&invoiceRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, inv *types.Invoice) error {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(toRecord(inv))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*types.Invoice, error) {
	var rec invoiceRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec.toInvoice(), nil
}

func lockInvoice(tx *gorm.DB, id string) (*types.Invoice, error) {
	var rec invoiceRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toInvoice(), nil
}

func (s *GormStore) CompareAndSwap(ctx context.Context, expected types.InvoiceStatus, next *types.Invoice) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockInvoice(tx, next.ID)
		if err != nil {
			return err
		}
		if err := checkWrite(current, expected, next); err != nil {
			return err
		}
		if bindsHash(current, next) {
			var owners int64
			err := tx.Model(&invoiceRecord{}).
				Where("network = ? AND transaction_hash = ? AND id <> ?",
					current.Network.String(), types.NormalizeHash(*next.TransactionHash), current.ID).
				Count(&owners).Error
			if err != nil {
				return err
			}
			if owners > 0 {
				return ErrHashInUse
			}
		}

		rec := toRecord(prepareWrite(current, next))
		res := tx.Model(&invoiceRecord{}).
			Where("id = ? AND status = ?", next.ID, expected.String()).
			Select("status", "transaction_hash", "confirmations", "actual_amount_received", "confirmed_at", "updated_at").
			Updates(rec)
		if isUniqueViolation(res.Error) {
			return ErrHashInUse
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
}

// isUniqueViolation matches duplicate-key errors, translated by gorm when
// the connection sets TranslateError or raw from the driver otherwise.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *GormStore) ClaimActivation(ctx context.Context, id string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&invoiceRecord{}).
		Where("id = ? AND status = ? AND activated_at IS NULL", id, types.StatusConfirmed.String()).
		Update("activated_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	inv, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return claimable(inv)
}

func (s *GormStore) ReleaseActivation(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&invoiceRecord{}).
		Where("id = ?", id).
		Update("activated_at", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status types.InvoiceStatus, limit int) ([]*types.Invoice, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status.String()).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []invoiceRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]*types.Invoice, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toInvoice())
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
