package repo

import (
	"context"
)

type IOrder interface {
	Upsert(ctx context.Context, record *OrderRecord) (*OrderRecord, error)
	Get(ctx context.Context, orderID uint64) (*OrderRecord, error)
}

type IOrderEvent interface {
	Create(ctx context.Context, record *OrderEventRecord) (*OrderEventRecord, error)
	BulkCreate(ctx context.Context, records []*OrderEventRecord) ([]*OrderEventRecord, error)
}
