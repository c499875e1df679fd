package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/settlement"
)

const (
	maxWebhookBodySize  = 64 * 1024
	maxCheckoutBodySize = 64 * 1024
	defaultListLimit    = 50
)

// Handler обслуживает HTTP-интерфейс checkout-сервиса.
type Handler struct {
	initiator   checkout.Initiator
	reconciler  settlement.Reconciler
	orders      domain.OrderRepository
	deadLetters domain.DeadLetterRepository
	buyerURL    string
	logger      *log.Entry
}

// NewHandler создаёт Handler. buyerURL — адрес витрины, куда возвращается покупатель.
func NewHandler(
	initiator checkout.Initiator,
	reconciler settlement.Reconciler,
	orders domain.OrderRepository,
	deadLetters domain.DeadLetterRepository,
	buyerURL string,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Handler{
		initiator:   initiator,
		reconciler:  reconciler,
		orders:      orders,
		deadLetters: deadLetters,
		buyerURL:    buyerURL,
		logger:      logger,
	}
}

// Routes собирает маршруты сервиса.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/checkout", h.initiate)
	r.Post("/checkout/webhook", h.webhook)
	r.Get("/checkout/success", h.redirect)
	r.Get("/checkout/failure", h.redirect)
	r.Get("/checkout/pending", h.redirect)

	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/deadletters", h.listDeadLetters)

	return r
}

type checkoutItem struct {
	Name      string `json:"name"`
	Qty       int32  `json:"qty"`
	UnitPrice int64  `json:"unit_price"`
}

type checkoutRequest struct {
	BuyerID string         `json:"buyer_id"`
	Items   []checkoutItem `json:"items"`
}

type checkoutResponse struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	TotalMinor    int64  `json:"total_minor"`
	Currency      string `json:"currency"`
	RedirectURL   string `json:"redirect_url"`
}

// initiate обрабатывает POST /checkout.
func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxCheckoutBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	cart := make([]domain.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		cart = append(cart, domain.CartItem{
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.UnitPrice,
		})
	}

	order, redirectURL, err := h.initiator.Initiate(r.Context(), req.BuyerID, cart)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		OrderID:       order.ID,
		CorrelationID: order.CorrelationID,
		Status:        string(order.Status),
		TotalMinor:    order.TotalMinor,
		Currency:      order.Currency,
		RedirectURL:   redirectURL,
	})
}

type webhookBody struct {
	Type string `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// webhook обрабатывает POST /checkout/webhook. После разбора тела ответ
// всегда 200: иначе процессор будет бесконечно ретраить сигнал, который
// мы уже durable-сохранили или dead-letter-нули.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	signal := domain.WebhookSignal{
		EventType:         body.Type,
		ExternalPaymentID: body.Data.ID.String(),
		Raw:               raw,
	}

	if err := h.reconciler.HandleWebhook(r.Context(), signal); err != nil {
		// Сигнал уже учтён (dead letter либо ретрай по poll), процессору — ack.
		h.logger.WithError(err).Warn("webhook reconciliation incomplete")
	}

	w.WriteHeader(http.StatusOK)
}

// redirect обрабатывает возврат покупателя: GET /checkout/{success,failure,pending}.
// Исход reconciliation не влияет на ответ, покупатель всегда уходит на витрину.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	processorStatus := query.Get("collection_status")
	if processorStatus == "" {
		processorStatus = query.Get("status")
	}

	signal := domain.RedirectSignal{
		CorrelationID:     query.Get("external_reference"),
		ExternalPaymentID: query.Get("payment_id"),
		ProcessorStatus:   domain.ProcessorStatus(processorStatus),
		Raw:               []byte(r.URL.RawQuery),
	}

	if signal.CorrelationID == "" && signal.ExternalPaymentID == "" {
		// Анонимный возврат без единого идентификатора, сводить не с чем.
		h.logger.Warn("redirect without external_reference or payment_id")
	} else if err := h.reconciler.HandleRedirect(r.Context(), signal); err != nil {
		h.logger.WithError(err).WithField("correlation_id", signal.CorrelationID).Warn("redirect reconciliation incomplete")
	}

	http.Redirect(w, r, h.buyerURL, http.StatusSeeOther)
}

type orderResponse struct {
	ID                string              `json:"id"`
	BuyerID           string              `json:"buyer_id"`
	Status            string              `json:"status"`
	StatusSource      string              `json:"status_source"`
	Currency          string              `json:"currency"`
	TotalMinor        int64               `json:"total_minor"`
	CorrelationID     string              `json:"correlation_id"`
	ExternalPaymentID string              `json:"external_payment_id,omitempty"`
	Items             []orderItemResponse `json:"items"`
	CreatedAt         time.Time           `json:"created_at"`
	LastUpdated       time.Time           `json:"last_updated"`
}

type orderItemResponse struct {
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return orderResponse{
		ID:                order.ID,
		BuyerID:           order.BuyerID,
		Status:            string(order.Status),
		StatusSource:      string(order.StatusSource),
		Currency:          order.Currency,
		TotalMinor:        order.TotalMinor,
		CorrelationID:     order.CorrelationID,
		ExternalPaymentID: order.ExternalPaymentID,
		Items:             items,
		CreatedAt:         order.CreatedAt,
		LastUpdated:       order.LastUpdated,
	}
}

// listOrders обрабатывает GET /orders?buyer_id=…&limit=….
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	buyerID := r.URL.Query().Get("buyer_id")
	if buyerID == "" {
		writeError(w, http.StatusBadRequest, "buyer_id is required")
		return
	}

	orders, err := h.orders.ListByBuyer(buyerID, parseLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": result})
}

type settlementResponse struct {
	Source            string    `json:"source"`
	ProcessorStatus   string    `json:"processor_status,omitempty"`
	ExternalPaymentID string    `json:"external_payment_id,omitempty"`
	Applied           bool      `json:"applied"`
	CreatedAt         time.Time `json:"created_at"`
}

// getOrder обрабатывает GET /orders/{orderID}: заказ вместе с audit trail.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.orders.Get(orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	records, err := h.orders.ListSettlements(orderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	settlements := make([]settlementResponse, 0, len(records))
	for _, rec := range records {
		settlements = append(settlements, settlementResponse{
			Source:            string(rec.Source),
			ProcessorStatus:   string(rec.ProcessorStatus),
			ExternalPaymentID: rec.ExternalPaymentID,
			Applied:           rec.Applied,
			CreatedAt:         rec.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":       toOrderResponse(order),
		"settlements": settlements,
	})
}

type deadLetterResponse struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"`
	Reason            string    `json:"reason"`
	Detail            string    `json:"detail,omitempty"`
	CorrelationID     string    `json:"correlation_id,omitempty"`
	ExternalPaymentID string    `json:"external_payment_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// listDeadLetters обрабатывает GET /deadletters?limit=….
func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := h.deadLetters.List(parseLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result := make([]deadLetterResponse, 0, len(letters))
	for _, letter := range letters {
		result = append(result, deadLetterResponse{
			ID:                letter.ID,
			Source:            string(letter.Source),
			Reason:            string(letter.Reason),
			Detail:            letter.Detail,
			CorrelationID:     letter.CorrelationID,
			ExternalPaymentID: letter.ExternalPaymentID,
			CreatedAt:         letter.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": result})
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
