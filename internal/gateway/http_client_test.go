package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
)

const testSecret = "test-secret"

func testClient(baseURL string) *HTTPClient {
	return NewHTTPClient(Config{
		BaseURL:    baseURL,
		MerchantID: "merchant-1",
		Secret:     testSecret,
		Timeout:    2 * time.Second,
	})
}

func TestBuildPaymentRedirectURL(t *testing.T) {
	var gotBody paymentOrderReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payments" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Signature") == "" || r.Header.Get("X-Timestamp") == "" {
			t.Error("request not signed")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"redirect_url": "https://gateway.example/pay/xyz"})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	u, err := c.BuildPaymentRedirectURL(context.Background(), PaymentRequest{
		MerchantOrderID: "OID-1",
		AmountMinor:     123456,
		Currency:        "PHP",
	})
	if err != nil {
		t.Fatalf("BuildPaymentRedirectURL: %v", err)
	}
	if u != "https://gateway.example/pay/xyz" {
		t.Fatalf("url = %q", u)
	}
	if gotBody.Amount != "1234.56" || gotBody.MerchantID != "merchant-1" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestBuildPaymentRedirectURLGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "unsupported currency"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).BuildPaymentRedirectURL(context.Background(), PaymentRequest{MerchantOrderID: "OID-1", AmountMinor: 100, Currency: "XXX"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "unsupported currency" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatal("4xx must unwrap to ErrInvalidRequest")
	}
}

func TestGatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, Secret: testSecret, Timeout: 50 * time.Millisecond})
	_, err := c.FetchTransactionDetail(context.Background(), "GW-1")
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestFetchTransactionDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/transactions/GW-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"merchant_id":       "merchant-1",
			"merchant_order_id": "OID-1",
			"amount":            "10.00",
			"currency":          "PHP",
			"status":            StatusPurchaseSuccess,
		})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	d, err := c.FetchTransactionDetail(context.Background(), "GW-1")
	if err != nil {
		t.Fatalf("FetchTransactionDetail: %v", err)
	}
	if d.AmountMinor != 1000 || d.MerchantOrderID != "OID-1" || d.Status != StatusPurchaseSuccess {
		t.Fatalf("detail = %+v", d)
	}

	if _, err := c.FetchTransactionDetail(context.Background(), "GW-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing tx err = %v", err)
	}
}

func TestCancelTransactionNotCancellable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "already settled"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CancelTransaction(context.Background(), "GW-1")
	if !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("err = %v, want ErrNotCancellable", err)
	}
}

func signedCallbackQuery(secret string, params map[string]string) url.Values {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalQuery(q)))
	q.Set(ParamSignature, hex.EncodeToString(mac.Sum(nil)))
	return q
}

func TestVerifyCallback(t *testing.T) {
	c := testClient("http://unused")

	q := signedCallbackQuery(testSecret, map[string]string{
		ParamMerchantOrderID:   "OID-1",
		ParamTransactionNumber: "GW-1",
		ParamTransactionStatus: CallbackStatusSuccess,
	})

	if !c.IsCallbackRequest(q) {
		t.Fatal("signed query must be recognised as a callback")
	}
	if got := c.CallbackMerchantOrderID(q); got != "OID-1" {
		t.Fatalf("order id = %q", got)
	}

	vr, err := c.VerifyCallback("OID-1", q)
	if err != nil {
		t.Fatalf("VerifyCallback: %v", err)
	}
	if !vr.Verified || vr.GatewayTxNumber != "GW-1" {
		t.Fatalf("result = %+v", vr)
	}

	// Failure status verifies but reports not successful.
	q = signedCallbackQuery(testSecret, map[string]string{
		ParamMerchantOrderID:   "OID-1",
		ParamTransactionStatus: "failure",
	})
	vr, err = c.VerifyCallback("OID-1", q)
	if err != nil {
		t.Fatalf("VerifyCallback failure status: %v", err)
	}
	if vr.Verified {
		t.Fatal("failure status must not verify as success")
	}
}

func TestVerifyCallbackRejectsTampering(t *testing.T) {
	c := testClient("http://unused")

	q := signedCallbackQuery(testSecret, map[string]string{
		ParamMerchantOrderID:   "OID-1",
		ParamTransactionStatus: CallbackStatusSuccess,
	})
	q.Set(ParamTransactionStatus, "failure") // tamper after signing

	if _, err := c.VerifyCallback("OID-1", q); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}

	// Signature from a different secret.
	q = signedCallbackQuery("other-secret", map[string]string{
		ParamMerchantOrderID:   "OID-1",
		ParamTransactionStatus: CallbackStatusSuccess,
	})
	if _, err := c.VerifyCallback("OID-1", q); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}

	// Redirect addressed to a different order.
	q = signedCallbackQuery(testSecret, map[string]string{
		ParamMerchantOrderID:   "OID-2",
		ParamTransactionStatus: CallbackStatusSuccess,
	})
	if _, err := c.VerifyCallback("OID-1", q); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}
}

func TestParseAmountToMinor(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10.00", 1000, false},
		{"10", 1000, false},
		{"0.01", 1, false},
		{"1234.567", 123456, false}, // truncated past two decimals
		{"-5", -500, false},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmountToMinor(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAmountToMinor(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmountToMinor(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAmountToMinor(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
