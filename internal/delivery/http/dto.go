package httpd

import (
	"time"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
	"github.com/shopspring/decimal"
)

type PurchaseReq struct {
	MerchantOrderID string `json:"merchant_order_id"`
	Price           string `json:"price" validate:"required"`
	Currency        string `json:"currency" validate:"required"`
	Description     string `json:"description"`
	BillingCity     string `json:"billing_city"`
	BillingAddress  string `json:"billing_address"`
	BillingPostal   string `json:"billing_postal"`
	ShippingCity    string `json:"shipping_city"`
	ShippingAddress string `json:"shipping_address"`
	ShippingPostal  string `json:"shipping_postal"`
}

type CallbackResp struct {
	Success bool              `json:"success"`
	State   string            `json:"state"`
	Query   map[string]string `json:"query"`
}

type CancelReq struct {
	Transaction string `json:"transaction" validate:"required"`
	Reason      string `json:"reason"`
}

type CancelResp struct {
	TransactionNumber string `json:"transaction_number"`
	Status            string `json:"status,omitempty"`
	Message           string `json:"message,omitempty"`
	Success           bool   `json:"success"`
}

type NotifyReq struct {
	TransactionNumber string `json:"transaction_number" validate:"required"`
}

type NotifyResp struct {
	Processed bool   `json:"processed"`
	State     string `json:"state"`
}

type TxItem struct {
	MerchantOrderID string    `json:"merchantOrderId"`
	GatewayTxNumber string    `json:"gatewayTransactionNumber,omitempty"`
	AmountString    string    `json:"amount"`
	Currency        string    `json:"currency"`
	State           string    `json:"state"`
	Description     string    `json:"description,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toTxItem(t domain.Transaction) TxItem {
	return TxItem{
		MerchantOrderID: t.MerchantOrderID,
		GatewayTxNumber: t.GatewayTxNumber,
		AmountString:    decimal.New(t.AmountMinor, -2).StringFixed(2),
		Currency:        t.Currency,
		State:           string(t.State),
		Description:     t.Description,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
