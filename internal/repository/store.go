package repository

import (
	"context"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
)

type TxFilter struct {
	MerchantOrderID string
	GatewayTxNumber string
	State           domain.TxState
}

// Store is the durable mapping from merchant order id to transaction
// record. CompareAndTransition is the only mutation after Create: it
// applies next iff the current state equals expected and eventID has never
// been applied to the record, atomically, and reports whether it fired.
// gatewayTxNumber is recorded on first successful transition and ignored
// once set.
type Store interface {
	Create(ctx context.Context, t *domain.Transaction) error
	Get(ctx context.Context, merchantOrderID string) (*domain.Transaction, error)
	GetByGatewayTxNumber(ctx context.Context, gatewayTxNumber string) (*domain.Transaction, error)
	CompareAndTransition(ctx context.Context, merchantOrderID string, expected, next domain.TxState, eventID, gatewayTxNumber string) (bool, error)
	List(ctx context.Context, f TxFilter, limit, offset int) ([]domain.Transaction, error)
}
