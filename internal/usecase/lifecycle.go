package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/gateway"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/repository"
	"github.com/google/uuid"
)

// Policy carries the merchant-configurable knobs of the engine.
type Policy struct {
	// RequiredOrderFields names billing/shipping fields that must be
	// non-empty at purchase initiation, e.g. "billing_city".
	RequiredOrderFields []string
}

// Fulfiller receives merchant-side side effects. The engine calls each
// hook at most once per real-world event: only when the state transition
// it reports actually fired.
type Fulfiller interface {
	PurchaseSucceeded(ctx context.Context, t *domain.Transaction)
	PurchaseFailed(ctx context.Context, t *domain.Transaction)
	PurchaseCancelled(ctx context.Context, t *domain.Transaction)
}

// LogFulfiller is the default Fulfiller; it only records the event.
type LogFulfiller struct {
	Log *slog.Logger
}

func (f LogFulfiller) PurchaseSucceeded(_ context.Context, t *domain.Transaction) {
	f.Log.Info("fulfillment: purchase succeeded", "merchant_order_id", t.MerchantOrderID, "gateway_tx_number", t.GatewayTxNumber)
}

func (f LogFulfiller) PurchaseFailed(_ context.Context, t *domain.Transaction) {
	f.Log.Info("fulfillment: purchase failed", "merchant_order_id", t.MerchantOrderID, "gateway_tx_number", t.GatewayTxNumber)
}

func (f LogFulfiller) PurchaseCancelled(_ context.Context, t *domain.Transaction) {
	f.Log.Info("fulfillment: purchase cancelled", "merchant_order_id", t.MerchantOrderID, "gateway_tx_number", t.GatewayTxNumber)
}

type OrderRequest struct {
	MerchantOrderID string
	AmountMinor     int64
	Currency        string
	Description     string
	Billing         domain.Address
	Shipping        domain.Address
	UserID          string
}

type CallbackResult struct {
	MerchantOrderID string
	Verified        bool
	Applied         bool
	State           domain.TxState
}

type NotificationResult struct {
	MerchantOrderID string
	Status          string
	Applied         bool
	State           domain.TxState
}

// LifecycleEngine owns the transaction state machine. All coordination
// goes through the store's CompareAndTransition; the engine never holds a
// store lock across gateway I/O.
type LifecycleEngine struct {
	store  repository.Store
	gw     gateway.Client
	fulfil Fulfiller
	log    *slog.Logger
	policy Policy
}

func NewLifecycleEngine(store repository.Store, gw gateway.Client, fulfil Fulfiller, log *slog.Logger, policy Policy) *LifecycleEngine {
	if log == nil {
		log = slog.Default()
	}
	if fulfil == nil {
		fulfil = LogFulfiller{Log: log}
	}
	return &LifecycleEngine{store: store, gw: gw, fulfil: fulfil, log: log, policy: policy}
}

// InitiatePurchase builds the gateway redirect, creates the record in
// INITIATED and advances it to PENDING_VERIFICATION once the redirect is
// issued. The returned URL is where the caller must send the browser.
func (e *LifecycleEngine) InitiatePurchase(ctx context.Context, req OrderRequest) (*domain.Transaction, string, error) {
	if req.AmountMinor <= 0 {
		return nil, "", fmt.Errorf("%w: amount must be > 0", domain.ErrInvalidRequest)
	}
	if req.Currency == "" {
		return nil, "", fmt.Errorf("%w: currency is required", domain.ErrInvalidRequest)
	}
	if err := e.checkRequiredFields(req); err != nil {
		return nil, "", err
	}

	orderID := req.MerchantOrderID
	if orderID == "" {
		orderID = "TP-" + uuid.NewString()
	}

	redirectURL, err := e.gw.BuildPaymentRedirectURL(ctx, gateway.PaymentRequest{
		MerchantOrderID:  orderID,
		AmountMinor:      req.AmountMinor,
		Currency:         req.Currency,
		Description:      req.Description,
		BillingCity:      req.Billing.City,
		BillingAddress:   req.Billing.Address,
		BillingPostcode:  req.Billing.Postcode,
		ShippingCity:     req.Shipping.City,
		ShippingAddress:  req.Shipping.Address,
		ShippingPostcode: req.Shipping.Postcode,
		UserID:           req.UserID,
	})
	if err != nil {
		return nil, "", err
	}

	t := &domain.Transaction{
		MerchantOrderID: orderID,
		AmountMinor:     req.AmountMinor,
		Currency:        req.Currency,
		State:           domain.StateInitiated,
		Description:     req.Description,
		Billing:         req.Billing,
		Shipping:        req.Shipping,
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, "", err
	}

	// Redirect is built, the order is now awaiting the gateway's verdict.
	if _, err := e.store.CompareAndTransition(ctx, orderID,
		domain.StateInitiated, domain.StatePendingVerification,
		"redirect:"+uuid.NewString(), ""); err != nil {
		return nil, "", err
	}
	t.State = domain.StatePendingVerification

	e.log.Info("purchase initiated", "merchant_order_id", orderID, "amount_minor", req.AmountMinor, "currency", req.Currency)
	return t, redirectURL, nil
}

func (e *LifecycleEngine) checkRequiredFields(req OrderRequest) error {
	fields := map[string]string{
		"billing_city":     req.Billing.City,
		"billing_address":  req.Billing.Address,
		"billing_postal":   req.Billing.Postcode,
		"shipping_city":    req.Shipping.City,
		"shipping_address": req.Shipping.Address,
		"shipping_postal":  req.Shipping.Postcode,
	}
	for _, name := range e.policy.RequiredOrderFields {
		v, known := fields[strings.ToLower(strings.TrimSpace(name))]
		if !known {
			continue
		}
		if v == "" {
			return fmt.Errorf("%w: %s is required", domain.ErrInvalidRequest, name)
		}
	}
	return nil
}

// HandleCallback processes the synchronous browser redirect. Terminal
// records simply re-report their state; a flaky browser can replay the
// redirect as often as it likes.
func (e *LifecycleEngine) HandleCallback(ctx context.Context, q url.Values) (CallbackResult, error) {
	if !e.gw.IsCallbackRequest(q) {
		return CallbackResult{}, domain.ErrNotACallback
	}

	orderID := e.gw.CallbackMerchantOrderID(q)
	if _, err := e.store.Get(ctx, orderID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return CallbackResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, orderID)
		}
		return CallbackResult{}, err
	}

	vr, err := e.gw.VerifyCallback(orderID, q)
	if err != nil {
		return CallbackResult{}, err
	}

	target := domain.StateFailed
	if vr.Verified {
		target = domain.StateSucceeded
	}

	eventID := callbackEventID(q)
	applied, err := e.transition(ctx, orderID, target, eventID, vr.GatewayTxNumber,
		domain.StatePendingVerification, domain.StateInitiated)
	if err != nil {
		return CallbackResult{}, err
	}

	t, err := e.store.Get(ctx, orderID)
	if err != nil {
		return CallbackResult{}, err
	}
	if applied {
		e.fireFulfillment(ctx, t)
	}

	return CallbackResult{
		MerchantOrderID: orderID,
		Verified:        vr.Verified,
		Applied:         applied,
		State:           t.State,
	}, nil
}

// HandleNotification processes a server-to-server webhook. A false
// CompareAndTransition (duplicate delivery, lost race, terminal record) is
// still success: the gateway must see 200 or it redelivers forever.
func (e *LifecycleEngine) HandleNotification(ctx context.Context, gatewayTxNumber string) (NotificationResult, error) {
	if gatewayTxNumber == "" {
		return NotificationResult{}, fmt.Errorf("%w: transaction number is required", domain.ErrInvalidRequest)
	}

	detail, err := e.gw.FetchTransactionDetail(ctx, gatewayTxNumber)
	if err != nil {
		return NotificationResult{}, err
	}

	t, err := e.store.Get(ctx, detail.MerchantOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return NotificationResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, detail.MerchantOrderID)
		}
		return NotificationResult{}, err
	}

	if t.AmountMinor != detail.AmountMinor || !strings.EqualFold(t.Currency, detail.Currency) {
		return NotificationResult{}, fmt.Errorf("%w: order %s has %d %s, gateway reports %d %s",
			domain.ErrAmountMismatch,
			t.MerchantOrderID, t.AmountMinor, t.Currency, detail.AmountMinor, detail.Currency)
	}

	var target domain.TxState
	var from []domain.TxState
	switch detail.Status {
	case gateway.StatusPurchaseSuccess:
		target = domain.StateSucceeded
		from = []domain.TxState{domain.StatePendingVerification, domain.StateInitiated}
	case gateway.StatusPurchaseFailure:
		target = domain.StateFailed
		from = []domain.TxState{domain.StatePendingVerification, domain.StateInitiated}
	case gateway.StatusCancelSuccess:
		target = domain.StateCancelled
		from = []domain.TxState{domain.StateSucceeded, domain.StatePendingVerification, domain.StateInitiated}
	default:
		e.log.Warn("notification with unhandled status acknowledged",
			"merchant_order_id", t.MerchantOrderID, "status", detail.Status)
		return NotificationResult{
			MerchantOrderID: t.MerchantOrderID,
			Status:          detail.Status,
			State:           t.State,
		}, nil
	}

	eventID := EventID(gatewayTxNumber, detail.Status)
	applied, err := e.transition(ctx, t.MerchantOrderID, target, eventID, gatewayTxNumber, from...)
	if err != nil {
		return NotificationResult{}, err
	}

	t, err = e.store.Get(ctx, t.MerchantOrderID)
	if err != nil {
		return NotificationResult{}, err
	}
	if applied {
		e.fireFulfillment(ctx, t)
	} else {
		e.log.Info("notification replay acknowledged",
			"merchant_order_id", t.MerchantOrderID, "status", detail.Status, "state", string(t.State))
	}

	return NotificationResult{
		MerchantOrderID: t.MerchantOrderID,
		Status:          detail.Status,
		Applied:         applied,
		State:           t.State,
	}, nil
}

// CancelTransaction cancels by merchant order id.
func (e *LifecycleEngine) CancelTransaction(ctx context.Context, merchantOrderID, reason string) (gateway.CancellationResult, error) {
	t, err := e.store.Get(ctx, merchantOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return gateway.CancellationResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, merchantOrderID)
		}
		return gateway.CancellationResult{}, err
	}
	return e.cancelRecord(ctx, t, reason)
}

// CancelByGatewayNumber cancels by the gateway's transaction number, the
// key the /cancel endpoint receives.
func (e *LifecycleEngine) CancelByGatewayNumber(ctx context.Context, gatewayTxNumber, reason string) (gateway.CancellationResult, error) {
	t, err := e.store.GetByGatewayTxNumber(ctx, gatewayTxNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return gateway.CancellationResult{}, fmt.Errorf("%w: transaction %s", domain.ErrUnknownOrder, gatewayTxNumber)
		}
		return gateway.CancellationResult{}, err
	}
	return e.cancelRecord(ctx, t, reason)
}

func (e *LifecycleEngine) cancelRecord(ctx context.Context, t *domain.Transaction, reason string) (gateway.CancellationResult, error) {
	if t.State != domain.StatePendingVerification && t.State != domain.StateSucceeded {
		return gateway.CancellationResult{}, fmt.Errorf("%w: order %s is %s", domain.ErrNotCancellable, t.MerchantOrderID, t.State)
	}
	if t.GatewayTxNumber == "" {
		// The gateway has not confirmed yet, there is nothing to address remotely.
		return gateway.CancellationResult{}, fmt.Errorf("%w: order %s has no gateway transaction yet", domain.ErrNotCancellable, t.MerchantOrderID)
	}

	res, err := e.gw.CancelTransaction(ctx, t.GatewayTxNumber)
	if err != nil {
		return gateway.CancellationResult{}, err
	}

	// Same event id the cancel notification will carry, so the local
	// commit and the webhook collapse to one transition.
	eventID := EventID(t.GatewayTxNumber, gateway.StatusCancelSuccess)
	applied, err := e.transition(ctx, t.MerchantOrderID, domain.StateCancelled, eventID, t.GatewayTxNumber,
		domain.StateSucceeded, domain.StatePendingVerification)
	if err != nil {
		return gateway.CancellationResult{}, err
	}
	if applied {
		t, err := e.store.Get(ctx, t.MerchantOrderID)
		if err != nil {
			return gateway.CancellationResult{}, err
		}
		e.fireFulfillment(ctx, t)
	}

	e.log.Info("cancellation accepted", "merchant_order_id", t.MerchantOrderID, "reason", reason)
	return res, nil
}

// transition tries the expected states in order; at most one attempt can
// fire because the event id is recorded atomically with the first commit.
func (e *LifecycleEngine) transition(ctx context.Context, orderID string, target domain.TxState, eventID, gatewayTxNumber string, from ...domain.TxState) (bool, error) {
	for _, expected := range from {
		applied, err := e.store.CompareAndTransition(ctx, orderID, expected, target, eventID, gatewayTxNumber)
		if err != nil {
			return false, err
		}
		if applied {
			return true, nil
		}
	}
	return false, nil
}

func (e *LifecycleEngine) fireFulfillment(ctx context.Context, t *domain.Transaction) {
	switch t.State {
	case domain.StateSucceeded:
		e.fulfil.PurchaseSucceeded(ctx, t)
	case domain.StateFailed:
		e.fulfil.PurchaseFailed(ctx, t)
	case domain.StateCancelled:
		e.fulfil.PurchaseCancelled(ctx, t)
	}
}

// EventID collapses every delivery of the same underlying gateway event
// to one identifier.
func EventID(gatewayTxNumber, status string) string {
	sum := sha256.Sum256([]byte(gatewayTxNumber + "\n" + status))
	return hex.EncodeToString(sum[:])
}

func callbackEventID(q url.Values) string {
	sum := sha256.Sum256([]byte("callback\n" + gateway.CanonicalQuery(q)))
	return hex.EncodeToString(sum[:])
}
