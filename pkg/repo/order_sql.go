package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderSQLRepo struct {
	db *gorm.DB
}

func NewOrderSQLRepo(db *gorm.DB) *OrderSQLRepo {
	return &OrderSQLRepo{
		db: db,
	}
}

func (r *OrderSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *OrderSQLRepo) Upsert(ctx context.Context, record *OrderRecord) (*OrderRecord, error) {
	err := r.dbWithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(record).Error
	return record, err
}

func (r *OrderSQLRepo) Get(ctx context.Context, orderID uint64) (*OrderRecord, error) {
	var record OrderRecord
	err := r.dbWithContext(ctx).First(&record, "order_id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
