package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
	"github.com/shopspring/decimal"
)

// APIError is a non-2xx answer from the gateway. StatusCode is the
// gateway's own HTTP status, passed through to the merchant response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 {
		return domain.ErrGatewayUnavailable
	}
	return domain.ErrInvalidRequest
}

type Config struct {
	BaseURL    string
	MerchantID string
	Secret     string
	Timeout    time.Duration
}

// HTTPClient talks to the TendoPay REST API. Every outgoing request is
// signed with HMAC-SHA256 over body + "." + unix timestamp, carried in
// X-Signature / X-Timestamp headers.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) sign(body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write(append(body, []byte("."+ts)...))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Merchant-Id", c.cfg.MerchantID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", c.sign(body, ts))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &apiResp)
		if apiResp.Error == "" {
			apiResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: apiResp.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

type paymentOrderReq struct {
	MerchantID       string `json:"merchant_id"`
	MerchantOrderID  string `json:"merchant_order_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Description      string `json:"description,omitempty"`
	BillingCity      string `json:"billing_city,omitempty"`
	BillingAddress   string `json:"billing_address,omitempty"`
	BillingPostcode  string `json:"billing_postcode,omitempty"`
	ShippingCity     string `json:"shipping_city,omitempty"`
	ShippingAddress  string `json:"shipping_address,omitempty"`
	ShippingPostcode string `json:"shipping_postcode,omitempty"`
	UserID           string `json:"user_id,omitempty"`
}

func (c *HTTPClient) BuildPaymentRedirectURL(ctx context.Context, p PaymentRequest) (string, error) {
	req := paymentOrderReq{
		MerchantID:       c.cfg.MerchantID,
		MerchantOrderID:  p.MerchantOrderID,
		Amount:           minorToString(p.AmountMinor),
		Currency:         p.Currency,
		Description:      p.Description,
		BillingCity:      p.BillingCity,
		BillingAddress:   p.BillingAddress,
		BillingPostcode:  p.BillingPostcode,
		ShippingCity:     p.ShippingCity,
		ShippingAddress:  p.ShippingAddress,
		ShippingPostcode: p.ShippingPostcode,
		UserID:           p.UserID,
	}

	var resp struct {
		RedirectURL string `json:"redirect_url"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/payments", req, &resp); err != nil {
		return "", err
	}
	if resp.RedirectURL == "" {
		return "", fmt.Errorf("%w: gateway returned no redirect url", domain.ErrGatewayUnavailable)
	}
	return resp.RedirectURL, nil
}

func (c *HTTPClient) IsCallbackRequest(q url.Values) bool {
	return q.Get(ParamSignature) != "" && q.Get(ParamMerchantOrderID) != ""
}

func (c *HTTPClient) CallbackMerchantOrderID(q url.Values) string {
	return q.Get(ParamMerchantOrderID)
}

// VerifyCallback recomputes the signature over the sorted non-signature
// query parameters and checks the redirect addresses the expected order.
func (c *HTTPClient) VerifyCallback(merchantOrderID string, q url.Values) (VerificationResult, error) {
	sig := q.Get(ParamSignature)
	if sig == "" {
		return VerificationResult{}, fmt.Errorf("%w: missing %s", domain.ErrVerificationFailed, ParamSignature)
	}
	if q.Get(ParamMerchantOrderID) != merchantOrderID {
		return VerificationResult{}, fmt.Errorf("%w: order id mismatch", domain.ErrVerificationFailed)
	}

	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(CanonicalQuery(q)))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return VerificationResult{}, fmt.Errorf("%w: bad signature", domain.ErrVerificationFailed)
	}

	return VerificationResult{
		Verified:        q.Get(ParamTransactionStatus) == CallbackStatusSuccess,
		GatewayTxNumber: q.Get(ParamTransactionNumber),
	}, nil
}

func (c *HTTPClient) FetchTransactionDetail(ctx context.Context, gatewayTxNumber string) (TransactionDetail, error) {
	var resp struct {
		MerchantID      string `json:"merchant_id"`
		MerchantOrderID string `json:"merchant_order_id"`
		Amount          string `json:"amount"`
		Currency        string `json:"currency"`
		Status          string `json:"status"`
	}
	path := "/v2/transactions/" + url.PathEscape(gatewayTxNumber)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return TransactionDetail{}, err
	}

	minor, err := ParseAmountToMinor(resp.Amount)
	if err != nil {
		return TransactionDetail{}, fmt.Errorf("gateway amount %q: %w", resp.Amount, err)
	}

	return TransactionDetail{
		MerchantID:      resp.MerchantID,
		MerchantOrderID: resp.MerchantOrderID,
		AmountMinor:     minor,
		Currency:        resp.Currency,
		Status:          resp.Status,
	}, nil
}

func (c *HTTPClient) CancelTransaction(ctx context.Context, gatewayTxNumber string) (CancellationResult, error) {
	req := map[string]string{"transaction_number": gatewayTxNumber}

	var resp struct {
		TransactionNumber string `json:"transaction_number"`
		Status            string `json:"status"`
		Message           string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/v2/cancel", req, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode == http.StatusUnprocessableEntity) {
			return CancellationResult{}, fmt.Errorf("%w: %s", domain.ErrNotCancellable, apiErr.Message)
		}
		return CancellationResult{}, err
	}

	return CancellationResult{
		GatewayTxNumber: resp.TransactionNumber,
		Status:          resp.Status,
		Message:         resp.Message,
	}, nil
}

// CanonicalQuery renders the query as sorted k=v pairs joined by "&",
// excluding the signature itself. Both sides of the callback handshake
// sign this exact form.
func CanonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if k == ParamSignature {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q.Get(k))
	}
	return b.String()
}

// ParseAmountToMinor converts a decimal price string to minor units,
// truncating anything beyond two decimal places.
func ParseAmountToMinor(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount format", domain.ErrInvalidRequest)
	}
	return d.Shift(2).IntPart(), nil
}

func minorToString(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
