package httpd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/domain"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/gateway"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/repository"
	"github.com/TendoPayPlugins/tendopay-sdk-examples/internal/usecase"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

type Options struct {
	// NotifyUnknownOrderAck answers /notify with 200 for unknown orders
	// to stop gateway redelivery; the anomaly is logged either way.
	NotifyUnknownOrderAck bool
}

type Handler struct {
	engine   *usecase.LifecycleEngine
	repo     repository.Store
	validate *validator.Validate
	log      *slog.Logger
	opts     Options
}

func NewHandler(engine *usecase.LifecycleEngine, repo repository.Store, log *slog.Logger, opts Options) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		engine:   engine,
		repo:     repo,
		validate: validator.New(),
		log:      log,
		opts:     opts,
	}
}

func (h *Handler) Routes(sig SigConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogger(h.log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature", "X-Timestamp"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/purchase", h.Callback)
	r.Post("/purchase", h.InitiatePurchase)
	r.Post("/cancel", h.Cancel)

	r.Group(func(r chi.Router) {
		r.Use(SignatureMiddleware(sig))
		r.Post("/notify", h.Notify)
	})

	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/{merchantOrderId}", h.GetTransaction)
	r.Get("/healthz", h.Healthz)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}

// statusForError maps the engine's typed outcomes to HTTP. Gateway API
// errors pass the gateway's own status through.
func statusForError(err error) int {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrNotACallback),
		errors.Is(err, domain.ErrVerificationFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownOrder),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAmountMismatch),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrDuplicateOrder):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// POST /purchase
func (h *Handler) InitiatePurchase(w http.ResponseWriter, r *http.Request) {
	req, err := decodePurchaseReq(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	amountMinor, err := gateway.ParseAmountToMinor(req.Price)
	if err != nil {
		writeError(w, err)
		return
	}

	_, redirectURL, err := h.engine.InitiatePurchase(r.Context(), usecase.OrderRequest{
		MerchantOrderID: req.MerchantOrderID,
		AmountMinor:     amountMinor,
		Currency:        req.Currency,
		Description:     req.Description,
		Billing: domain.Address{
			City:     req.BillingCity,
			Address:  req.BillingAddress,
			Postcode: req.BillingPostal,
		},
		Shipping: domain.Address{
			City:     req.ShippingCity,
			Address:  req.ShippingAddress,
			Postcode: req.ShippingPostal,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func decodePurchaseReq(r *http.Request) (PurchaseReq, error) {
	var req PurchaseReq
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, errors.New("invalid json")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, errors.New("invalid form body")
	}
	req.MerchantOrderID = r.PostFormValue("merchant_order_id")
	req.Price = r.PostFormValue("price")
	req.Currency = r.PostFormValue("currency")
	req.Description = r.PostFormValue("description")
	req.BillingCity = r.PostFormValue("billing_city")
	req.BillingAddress = r.PostFormValue("billing_address")
	req.BillingPostal = r.PostFormValue("billing_postal")
	req.ShippingCity = r.PostFormValue("shipping_city")
	req.ShippingAddress = r.PostFormValue("shipping_address")
	req.ShippingPostal = r.PostFormValue("shipping_postal")
	return req, nil
}

// GET /purchase
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res, err := h.engine.HandleCallback(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	query := make(map[string]string, len(q))
	for k := range q {
		query[k] = q.Get(k)
	}

	writeJSON(w, http.StatusOK, CallbackResp{
		Success: res.Verified,
		State:   string(res.State),
		Query:   query,
	})
}

// POST /cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := h.engine.CancelByGatewayNumber(r.Context(), req.Transaction, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResp{
		TransactionNumber: res.GatewayTxNumber,
		Status:            res.Status,
		Message:           res.Message,
		Success:           true,
	})
}

// POST /notify
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := h.engine.HandleNotification(r.Context(), req.TransactionNumber)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownOrder) {
			h.log.Error("notification for unknown order", "transaction_number", req.TransactionNumber, "error", err)
			if h.opts.NotifyUnknownOrderAck {
				writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
				return
			}
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NotifyResp{
		Processed: res.Applied,
		State:     string(res.State),
	})
}

// GET /transactions?merchantOrderId=&transactionNumber=&state=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.TxFilter{
		MerchantOrderID: q.Get("merchantOrderId"),
		GatewayTxNumber: q.Get("transactionNumber"),
	}
	if st := q.Get("state"); st != "" {
		filter.State = domain.TxState(st)
	}

	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	items, err := h.repo.List(r.Context(), filter, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /transactions/{merchantOrderId}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "merchantOrderId")
	t, err := h.repo.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		return
	}

	writeJSON(w, http.StatusOK, toTxItem(*t))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
