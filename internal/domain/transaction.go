package domain

import (
	"errors"
	"time"
)

type TxState string

const (
	StateInitiated           TxState = "INITIATED"
	StatePendingVerification TxState = "PENDING_VERIFICATION"
	StateSucceeded           TxState = "SUCCEEDED"
	StateFailed              TxState = "FAILED"
	StateCancelled           TxState = "CANCELLED"
)

// Terminal reports whether no further state change is allowed.
func (s TxState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

type Address struct {
	City     string
	Address  string
	Postcode string
}

// Transaction is the merchant-side record of one purchase attempt.
// MerchantOrderID is the business key and never changes; GatewayTxNumber
// stays empty until the gateway first confirms the transaction and is
// immutable after that.
type Transaction struct {
	ID              int64
	MerchantOrderID string
	GatewayTxNumber string
	AmountMinor     int64
	Currency        string
	State           TxState
	LastEventID     string
	Description     string
	Billing         Address
	Shipping        Address
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotACallback       = errors.New("not a callback request")
	ErrVerificationFailed = errors.New("callback verification failed")
	ErrUnknownOrder       = errors.New("unknown merchant order")
	ErrAmountMismatch     = errors.New("amount mismatch")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrNotCancellable     = errors.New("transaction not cancellable")
	ErrDuplicateOrder     = errors.New("duplicate merchant order id")
	ErrNotFound           = errors.New("not found")
)
