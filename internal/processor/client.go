package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Client — HTTP-клиент платёжного процессора. Оплата проходит hosted checkout:
// мы регистрируем preference с back_urls и external_reference, покупатель
// оплачивает на стороне процессора, а авторитетное состояние платежа
// перечитывается через GET /v1/payments/{id}.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиента процессора. timeout ограничивает каждый запрос.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.WithField("component", "processor-client"),
	}
}

type preferenceItem struct {
	Title     string `json:"title"`
	Quantity  int32  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type preferenceRequest struct {
	Items             []preferenceItem `json:"items"`
	CurrencyID        string           `json:"currency_id"`
	ExternalReference string           `json:"external_reference"`
	BackURLs          struct {
		Success string `json:"success"`
		Failure string `json:"failure"`
		Pending string `json:"pending"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	ID                json.Number `json:"id"`
	Status            string      `json:"status"`
	CurrencyID        string      `json:"currency_id"`
	TransactionAmount int64       `json:"transaction_amount"`
	ExternalReference string      `json:"external_reference"`
}

// CreatePaymentIntent регистрирует preference у процессора и возвращает redirect URL.
func (c *Client) CreatePaymentIntent(ctx context.Context, items []domain.OrderItem, currency string, returns domain.ReturnURLs, correlationID string) (domain.PaymentIntent, error) {
	reqBody := preferenceRequest{
		Items:             make([]preferenceItem, 0, len(items)),
		CurrencyID:        currency,
		ExternalReference: correlationID,
		AutoReturn:        "approved",
	}
	for _, item := range items {
		reqBody.Items = append(reqBody.Items, preferenceItem{
			Title:     item.Name,
			Quantity:  item.Qty,
			UnitPrice: item.PriceMinor,
		})
	}
	reqBody.BackURLs.Success = returns.Success
	reqBody.BackURLs.Failure = returns.Failure
	reqBody.BackURLs.Pending = returns.Pending

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("marshal preference: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("build preference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("create preference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(log.Fields{
			"status":         resp.StatusCode,
			"correlation_id": correlationID,
		}).Error("preference creation rejected")
		return domain.PaymentIntent{}, fmt.Errorf("create preference: unexpected status %d: %s", resp.StatusCode, body)
	}

	var pref preferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pref); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("decode preference response: %w", err)
	}
	if pref.InitPoint == "" {
		return domain.PaymentIntent{}, fmt.Errorf("preference response missing init_point")
	}

	return domain.PaymentIntent{
		CorrelationID: correlationID,
		RedirectURL:   pref.InitPoint,
	}, nil
}

// GetPayment перечитывает авторитетное состояние платежа у процессора.
// Таймаут и отмена контекста схлопываются в ErrProcessorFetchTimeout,
// чтобы reconciler мог отличить «не дождались» от «процессор отказал».
func (c *Client) GetPayment(ctx context.Context, externalPaymentID string) (domain.PaymentDetail, error) {
	if externalPaymentID == "" {
		return domain.PaymentDetail{}, domain.ErrExternalPaymentIDRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+externalPaymentID, nil)
	if err != nil {
		return domain.PaymentDetail{}, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.PaymentDetail{}, fmt.Errorf("fetch payment %s: %w", externalPaymentID, domain.ErrProcessorFetchTimeout)
		}
		return domain.PaymentDetail{}, fmt.Errorf("fetch payment %s: %w", externalPaymentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.PaymentDetail{}, fmt.Errorf("fetch payment %s: unexpected status %d: %s", externalPaymentID, resp.StatusCode, body)
	}

	var payment paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return domain.PaymentDetail{}, fmt.Errorf("decode payment response: %w", err)
	}

	return domain.PaymentDetail{
		ExternalPaymentID: payment.ID.String(),
		Status:            domain.ProcessorStatus(payment.Status),
		AmountMinor:       payment.TransactionAmount,
		Currency:          payment.CurrencyID,
		CorrelationID:     payment.ExternalReference,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

var _ domain.PaymentProcessor = (*Client)(nil)
