package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/digkill/ThumbnailBot/internal/events"
	"github.com/digkill/ThumbnailBot/internal/models"
)

const testWebhookSecret = "whsec_test_secret"

var testPaymentOptions = PaymentOptions{
	WebhookSecret: testWebhookSecret,
	Currency:      "jpy",
	Price:         980,
	Credits:       10,
	ProductName:   "サムネイル生成クレジット (10回分)",
	SuccessURL:    "https://example.com/success",
	CancelURL:     "https://example.com/cancel",
}

type paymentFixture struct {
	fixture
	payments *PaymentService
}

func newPaymentFixture(t *testing.T, sc *client.API) *paymentFixture {
	t.Helper()
	f := newFixture(t)
	return &paymentFixture{
		fixture:  *f,
		payments: NewPaymentService(testPaymentOptions, discardLogger(), f.ledger, sc, f.messenger, f.events),
	}
}

func signedEvent(t *testing.T, secret, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func completedSession(id, userID string) map[string]any {
	return map[string]any{
		"id":                  id,
		"object":              "checkout.session",
		"client_reference_id": userID,
		"amount_total":        980,
		"currency":            "jpy",
	}
}

func TestWebhookCreditsOncePerSession(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.seed(t, "U1", 0, strPtr("sunset"))
	ctx := context.Background()

	payload, sig := signedEvent(t, testWebhookSecret, string(stripe.EventTypeCheckoutSessionCompleted), completedSession("cs_test_1", "U1"))

	require.NoError(t, f.payments.HandleWebhook(ctx, payload, sig))
	account := f.account(t, "U1")
	assert.Equal(t, 10, account.Credits)
	assert.Equal(t, "sunset", *account.PendingPrompt)

	require.NoError(t, f.payments.HandleWebhook(ctx, payload, sig))
	assert.Equal(t, 10, f.account(t, "U1").Credits)

	txns, err := f.ledger.ListTransactions(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "cs_test_1", txns[0].ID)
	assert.Equal(t, 980, txns[0].Amount)
	assert.Equal(t, 10, txns[0].CreditsAdded)
	assert.Equal(t, models.TransactionStatusCompleted, txns[0].Status)

	pushes := f.messenger.all()
	require.Len(t, pushes, 1)
	assert.Equal(t, "お支払いありがとうございます！10回分のクレジットを追加しました。\n残りクレジット: 10回", pushes[0].Msg.Text)

	evts := f.events.list()
	require.Len(t, evts, 1)
	assert.Equal(t, events.TypeCreditsPurchased, evts[0].Type)
	assert.Equal(t, "cs_test_1", evts[0].Reference)
}

func TestWebhookCreatesUnknownAccount(t *testing.T) {
	f := newPaymentFixture(t, nil)

	payload, sig := signedEvent(t, testWebhookSecret, string(stripe.EventTypeCheckoutSessionCompleted), completedSession("cs_test_2", "U-new"))
	require.NoError(t, f.payments.HandleWebhook(context.Background(), payload, sig))

	assert.Equal(t, 11, f.account(t, "U-new").Credits)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.seed(t, "U1", 1, nil)

	payload, _ := signedEvent(t, testWebhookSecret, string(stripe.EventTypeCheckoutSessionCompleted), completedSession("cs_test_3", "U1"))
	_, forged := signedEvent(t, "whsec_other", string(stripe.EventTypeCheckoutSessionCompleted), completedSession("cs_test_3", "U1"))

	err := f.payments.HandleWebhook(context.Background(), payload, forged)
	require.ErrorIs(t, err, models.ErrAuthentication)

	err = f.payments.HandleWebhook(context.Background(), payload, "")
	require.ErrorIs(t, err, models.ErrAuthentication)

	assert.Equal(t, 1, f.account(t, "U1").Credits)
	txns, err := f.ledger.ListTransactions(context.Background(), "U1")
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Empty(t, f.messenger.all())
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	f := newPaymentFixture(t, nil)
	f.seed(t, "U1", 1, nil)

	payload, sig := signedEvent(t, testWebhookSecret, "payment_intent.created", map[string]any{"id": "pi_1", "object": "payment_intent"})
	require.NoError(t, f.payments.HandleWebhook(context.Background(), payload, sig))

	payload, sig = signedEvent(t, testWebhookSecret, string(stripe.EventTypeCheckoutSessionCompleted), completedSession("cs_test_4", ""))
	require.NoError(t, f.payments.HandleWebhook(context.Background(), payload, sig))

	assert.Equal(t, 1, f.account(t, "U1").Credits)
	assert.Empty(t, f.events.list())
}

func TestCheckoutURLCreatesSession(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_9","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_9"}`))
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc := client.New("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	f := newPaymentFixture(t, sc)

	url, err := f.payments.CheckoutURL(context.Background(), "U1")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_9", url)

	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	assert.Equal(t, "U1", get("client_reference_id"))
	assert.Equal(t, "U1", get("metadata[user_id]"))
	assert.Equal(t, "payment", get("mode"))
	assert.Equal(t, "980", get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "jpy", get("line_items[0][price_data][currency]"))
	assert.Equal(t, "1", get("line_items[0][quantity]"))
}

func TestCheckoutURLWrapsStripeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad currency"}}`))
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	f := newPaymentFixture(t, client.New("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend}))

	_, err := f.payments.CheckoutURL(context.Background(), "U1")
	require.True(t, models.IsGateway(err))
}

func TestPriceLabel(t *testing.T) {
	assert.Equal(t, "980円", priceLabel(980, "jpy"))
	assert.Equal(t, "500 usd", priceLabel(500, "usd"))
}
