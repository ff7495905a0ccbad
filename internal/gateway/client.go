package gateway

import (
	"context"
	"net/url"
)

// TendoPay transaction statuses reported in notifications.
const (
	StatusPurchaseSuccess = "PURCHASE_TRANSACTION_SUCCESS"
	StatusPurchaseFailure = "PURCHASE_TRANSACTION_FAILURE"
	StatusCancelSuccess   = "CANCEL_TRANSACTION_SUCCESS"
)

// Callback query parameter names used by the gateway redirect.
const (
	ParamMerchantOrderID   = "tp_merchant_order_id"
	ParamTransactionNumber = "tp_transaction_id"
	ParamTransactionStatus = "tp_transaction_status"
	ParamSignature         = "x_signature"
)

// CallbackStatusSuccess is the value of tp_transaction_status on a
// successful purchase redirect.
const CallbackStatusSuccess = "success"

type PaymentRequest struct {
	MerchantOrderID  string
	AmountMinor      int64
	Currency         string
	Description      string
	BillingCity      string
	BillingAddress   string
	BillingPostcode  string
	ShippingCity     string
	ShippingAddress  string
	ShippingPostcode string
	UserID           string
}

type VerificationResult struct {
	Verified        bool
	GatewayTxNumber string
}

type TransactionDetail struct {
	MerchantID      string
	MerchantOrderID string
	AmountMinor     int64
	Currency        string
	Status          string
}

type CancellationResult struct {
	GatewayTxNumber string
	Status          string
	Message         string
}

// Client is the narrow surface of the remote gateway consumed by the
// lifecycle engine. Remote calls take a context; callback inspection and
// verification are local computations over the redirect query.
type Client interface {
	BuildPaymentRedirectURL(ctx context.Context, p PaymentRequest) (string, error)
	IsCallbackRequest(q url.Values) bool
	CallbackMerchantOrderID(q url.Values) string
	VerifyCallback(merchantOrderID string, q url.Values) (VerificationResult, error)
	FetchTransactionDetail(ctx context.Context, gatewayTxNumber string) (TransactionDetail, error)
	CancelTransaction(ctx context.Context, gatewayTxNumber string) (CancellationResult, error)
}
