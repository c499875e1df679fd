package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/processor"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/settlement"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type testEnv struct {
	server      *httptest.Server
	orders      domain.OrderRepository
	deadLetters domain.DeadLetterRepository
	processor   *processor.Mock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	orders := memory.NewOrderRepository()
	deadLetters := memory.NewDeadLetterRepository()
	proc := processor.NewMock()

	initiator := checkout.NewInitiator(orders, proc, domain.ReturnURLs{
		Success: "https://shop.test/checkout/success",
		Failure: "https://shop.test/checkout/failure",
		Pending: "https://shop.test/checkout/pending",
	}, "ARS", nil)
	reconciler := settlement.NewReconciler(orders, deadLetters, proc, nil)

	handler := NewHandler(initiator, reconciler, orders, deadLetters, "https://shop.test/", nil)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &testEnv{
		server:      server,
		orders:      orders,
		deadLetters: deadLetters,
		processor:   proc,
	}
}

func (e *testEnv) checkout(t *testing.T) checkoutResponse {
	t.Helper()

	body := `{"buyer_id":"buyer-1","items":[{"name":"sensor","qty":2,"unit_price":100}]}`
	resp, err := http.Post(e.server.URL+"/checkout", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result checkoutResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func TestCheckoutEndpoint(t *testing.T) {
	env := newTestEnv(t)

	result := env.checkout(t)
	require.NotEmpty(t, result.OrderID)
	require.NotEmpty(t, result.CorrelationID)
	require.Equal(t, "pending", result.Status)
	require.EqualValues(t, 200, result.TotalMinor)
	require.Equal(t, "ARS", result.Currency)
	require.NotEmpty(t, result.RedirectURL)
}

func TestCheckoutEndpoint_InvalidCart(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/checkout", "application/json",
		bytes.NewBufferString(`{"buyer_id":"buyer-1","items":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckoutEndpoint_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/checkout", "application/json",
		bytes.NewBufferString(`{"buyer_id":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpoint_AppliesPayment(t *testing.T) {
	env := newTestEnv(t)
	created := env.checkout(t)

	env.processor.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     created.CorrelationID,
	}

	resp, err := http.Post(env.server.URL+"/checkout/webhook", "application/json",
		bytes.NewBufferString(`{"type":"payment","data":{"id":"pay-1"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	order, err := env.orders.Get(created.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusApproved, order.Status)
	require.Equal(t, "pay-1", order.ExternalPaymentID)
}

func TestWebhookEndpoint_UnknownOrderStill200(t *testing.T) {
	env := newTestEnv(t)

	env.processor.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-9",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     "corr-unknown",
	}

	resp, err := http.Post(env.server.URL+"/checkout/webhook", "application/json",
		bytes.NewBufferString(`{"type":"payment","data":{"id":"pay-9"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	letters, err := env.deadLetters.List(10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, domain.DeadLetterReasonOrderNotFound, letters[0].Reason)
}

func TestWebhookEndpoint_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/checkout/webhook", "application/json",
		bytes.NewBufferString(`{"type":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEndpoint_NonPaymentEventIgnored(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/checkout/webhook", "application/json",
		bytes.NewBufferString(`{"type":"merchant_order","data":{"id":"123"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 0, env.processor.GetCalls)
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestRedirectEndpoint_VerifiedPayment(t *testing.T) {
	env := newTestEnv(t)
	created := env.checkout(t)

	env.processor.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     created.CorrelationID,
	}

	params := url.Values{}
	params.Set("external_reference", created.CorrelationID)
	params.Set("payment_id", "pay-1")
	params.Set("collection_status", "approved")

	resp, err := noRedirectClient().Get(env.server.URL + "/checkout/success?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "https://shop.test/", resp.Header.Get("Location"))

	order, err := env.orders.Get(created.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusApproved, order.Status)
	require.Equal(t, domain.StatusSourceRedirect, order.StatusSource)
}

func TestRedirectEndpoint_UnverifiableStaysPending(t *testing.T) {
	env := newTestEnv(t)
	created := env.checkout(t)

	env.processor.DetailErr = domain.ErrProcessorFetchTimeout

	params := url.Values{}
	params.Set("external_reference", created.CorrelationID)
	params.Set("payment_id", "pay-1")
	params.Set("status", "approved")

	resp, err := noRedirectClient().Get(env.server.URL + "/checkout/success?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	order, err := env.orders.Get(created.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Empty(t, order.ExternalPaymentID)
}

func TestRedirectEndpoint_PaymentIDOnly(t *testing.T) {
	env := newTestEnv(t)
	created := env.checkout(t)

	env.processor.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusPending,
		CorrelationID:     created.CorrelationID,
	}

	// Webhook привязывает платёж, вердикта пока нет.
	resp, err := http.Post(env.server.URL+"/checkout/webhook", "application/json",
		bytes.NewBufferString(`{"type":"payment","data":{"id":"pay-1"}}`))
	require.NoError(t, err)
	resp.Body.Close()

	// Возврат без external_reference: заказ находится по payment_id.
	env.processor.Detail.Status = domain.ProcessorStatusApproved

	params := url.Values{}
	params.Set("payment_id", "pay-1")
	params.Set("collection_status", "approved")

	resp, err = noRedirectClient().Get(env.server.URL + "/checkout/success?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	order, err := env.orders.Get(created.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusApproved, order.Status)
	require.Equal(t, domain.StatusSourceRedirect, order.StatusSource)
}

func TestRedirectEndpoint_WithoutReferenceStillRedirects(t *testing.T) {
	env := newTestEnv(t)

	resp, err := noRedirectClient().Get(env.server.URL + "/checkout/failure")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestListOrdersEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.checkout(t)
	env.checkout(t)

	resp, err := http.Get(env.server.URL + "/orders?buyer_id=buyer-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Orders []orderResponse `json:"orders"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Orders, 2)
}

func TestListOrdersEndpoint_RequiresBuyerID(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrderEndpoint(t *testing.T) {
	env := newTestEnv(t)
	created := env.checkout(t)

	env.processor.Detail = domain.PaymentDetail{
		ExternalPaymentID: "pay-1",
		Status:            domain.ProcessorStatusApproved,
		CorrelationID:     created.CorrelationID,
	}
	resp, err := http.Post(env.server.URL+"/checkout/webhook", "application/json",
		bytes.NewBufferString(`{"type":"payment","data":{"id":"pay-1"}}`))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(fmt.Sprintf("%s/orders/%s", env.server.URL, created.OrderID))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Order       orderResponse        `json:"order"`
		Settlements []settlementResponse `json:"settlements"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, "approved", result.Order.Status)
	require.Len(t, result.Settlements, 1)
	require.True(t, result.Settlements[0].Applied)
}

func TestGetOrderEndpoint_NotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/orders/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDeadLettersEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.deadLetters.Append(domain.DeadLetter{
		Source: domain.StatusSourceWebhook,
		Reason: domain.DeadLetterReasonOrderNotFound,
	})
	require.NoError(t, err)

	resp, err := http.Get(env.server.URL + "/deadletters")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		DeadLetters []deadLetterResponse `json:"dead_letters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.DeadLetters, 1)
}
