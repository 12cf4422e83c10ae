package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertrack/backend/internal/models"
	"github.com/convertrack/backend/internal/services"
	"github.com/convertrack/backend/internal/storage"
)

type testApp struct {
	app   *fiber.App
	store *storage.MemoryStore
	capi  *httptest.Server
	calls int
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	ta := &testApp{store: storage.NewMemoryStore()}
	ta.capi = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ta.calls++
		_, _ = w.Write([]byte(`{"events_received":1}`))
	}))
	t.Cleanup(ta.capi.Close)

	allocator := services.NewSequenceAllocator(ta.store, 23000)
	correlator := services.NewIdentityCorrelator(ta.store, allocator)
	pipeline := services.NewDeliveryPipeline(ta.store, correlator, services.LogSink{}, services.PipelineConfig{
		Endpoint: ta.capi.URL,
	})
	aggregator := services.NewFunnelAggregator(ta.store)

	trackHandler := NewTrackHandler(ta.store, allocator, correlator, pipeline)
	chatHandler := NewChatHandler(ta.store, correlator, pipeline, nil)
	chargeHandler := NewChargeHandler(ta.store, correlator, pipeline)
	funnelHandler := NewFunnelHandler(aggregator)

	app := fiber.New()
	app.Get("/api/next-client-ref", trackHandler.NextClientRef)
	app.Post("/api/track", trackHandler.Track)
	app.Get("/api/funnel", funnelHandler.Report)
	app.Post("/webhook/botconversa", chatHandler.HandleWebhook)
	app.Post("/webhook/payment/created", chargeHandler.HandleCreated)
	app.Post("/webhook/payment/completed", chargeHandler.HandleCompleted)

	ta.app = app
	return ta
}

func (ta *testApp) postJSON(t *testing.T, path string, payload interface{}) (int, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func (ta *testApp) get(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestNextClientRef(t *testing.T) {
	ta := newTestApp(t)

	status, body := ta.get(t, "/api/next-client-ref")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(23001), body["client_ref"])

	status, body = ta.get(t, "/api/next-client-ref")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(23002), body["client_ref"])
}

func TestTrack_IdempotentOnEventID(t *testing.T) {
	ta := newTestApp(t)

	payload := map[string]interface{}{
		"event_id":     "ev-1",
		"utm_campaign": "verao",
		"page_url":     "https://lp.example/oferta",
	}
	status, body := ta.postJSON(t, "/api/track", payload)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(1), body["click_number"])
	ref := body["client_ref"].(string)
	assert.Equal(t, "23001", ref)

	// Repost with extra fields: merged, same click number, same ref.
	payload["utm_source"] = "facebook"
	status, body = ta.postJSON(t, "/api/track", payload)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["click_number"])
	assert.Equal(t, ref, body["client_ref"])

	sessions, err := ta.store.GetSessionsByClientRef(ref)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "facebook", sessions[0].UTMSource)
	assert.Equal(t, "verao", sessions[0].UTMCampaign)
	assert.True(t, sessions[0].HasPageview)
}

func TestTrack_MissingEventID(t *testing.T) {
	ta := newTestApp(t)

	status, body := ta.postJSON(t, "/api/track", map[string]interface{}{"utm_campaign": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["ok"])
}

func TestChatWebhook_AttachesPhoneByEmbeddedRef(t *testing.T) {
	ta := newTestApp(t)

	// Click arrives first and mints 23001.
	status, _ := ta.postJSON(t, "/api/track", map[string]interface{}{
		"event_id": "ev-1",
		"page_url": "https://lp.example/oferta",
	})
	require.Equal(t, http.StatusOK, status)

	status, body := ta.postJSON(t, "/webhook/botconversa", map[string]interface{}{
		"text": "Hi, cliente#23001",
		"from": "+55 11 99999-9999",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "23001", body["client_ref"])
	assert.Equal(t, "+5511999999999", body["from"])

	sessions, err := ta.store.GetSessionsByClientRef("23001")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "+5511999999999", sessions[0].UserPhone)
	assert.Equal(t, "Hi, cliente#23001", sessions[0].LastMessageText)
	require.NotNil(t, sessions[0].WhatsAppReceivedAt)
}

func TestChatWebhook_QueryParamsAndStub(t *testing.T) {
	ta := newTestApp(t)

	path := "/webhook/botconversa?" + fmt.Sprintf("text=%s&from=%s", "Oi,%20cliente%2323009", "5511988887777")
	req := httptest.NewRequest(http.MethodPost, path, nil)
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// No click was ever tracked: the webhook created a stub.
	sessions, err := ta.store.GetSessionsByClientRef("23009")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "5511988887777", sessions[0].UserPhone)
}

func TestChatWebhook_BodyBeatsQuery(t *testing.T) {
	ta := newTestApp(t)

	body, err := json.Marshal(map[string]interface{}{
		"text": "Oi, cliente#23011",
		"from": "+5511988887777",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/botconversa?from=5500000000000", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessions, err := ta.store.GetSessionsByClientRef("23011")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "+5511988887777", sessions[0].UserPhone)
}

func TestPaymentWebhooks_FullFunnel(t *testing.T) {
	ta := newTestApp(t)

	status, _ := ta.postJSON(t, "/api/track", map[string]interface{}{
		"event_id":     "ev-1",
		"utm_campaign": "verao",
		"page_url":     "https://lp.example/oferta",
	})
	require.Equal(t, http.StatusOK, status)

	created := map[string]interface{}{
		"charge": map[string]interface{}{
			"transaction_id": "tx-1",
			"status":         "created",
			"value":          1999,
			"customer":       map[string]interface{}{"phone": "+5511999999999"},
			"additional_info": []map[string]string{
				{"key": "cliente", "value": "cliente#23001"},
			},
		},
	}
	status, _ = ta.postJSON(t, "/webhook/payment/created", created)
	require.Equal(t, http.StatusOK, status)

	completed := created
	completed["charge"].(map[string]interface{})["status"] = "paid"
	status, _ = ta.postJSON(t, "/webhook/payment/completed", completed)
	require.Equal(t, http.StatusOK, status)

	sessions, err := ta.store.GetSessionsByClientRef("23001")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	session := sessions[0]
	assert.True(t, session.HasInitiateCheckout)
	assert.True(t, session.HasPurchase)
	assert.Equal(t, "paid", session.LastPurchaseStatus)

	// Charge stored with the decimal value.
	charge, err := ta.store.UpsertChargeByTransactionID(&models.Charge{TransactionID: "tx-1", Status: "paid", Value: 19.99})
	require.NoError(t, err)
	assert.Equal(t, 19.99, charge.Value)

	// Funnel report sees the whole journey.
	now := time.Now()
	status, body := ta.get(t, "/api/funnel?start="+now.Add(-time.Hour).Format("2006-01-02"))
	require.Equal(t, http.StatusOK, status)
	report := body["report"].(map[string]interface{})
	totals := report["totals"].(map[string]interface{})
	assert.Equal(t, float64(1), totals["pageviews"])
	assert.Equal(t, float64(1), totals["initiate_checkouts"])
	assert.Equal(t, float64(1), totals["purchases"])
}

func TestPaymentWebhook_StampsPurchaseWithoutPipeline(t *testing.T) {
	// No CAPI credentials at all: the purchase stamp must still land.
	store := storage.NewMemoryStore()
	allocator := services.NewSequenceAllocator(store, 23000)
	correlator := services.NewIdentityCorrelator(store, allocator)
	pipeline := services.NewDeliveryPipeline(store, correlator, services.LogSink{}, services.PipelineConfig{})
	chargeHandler := NewChargeHandler(store, correlator, pipeline)

	app := fiber.New()
	app.Post("/webhook/payment/completed", chargeHandler.HandleCompleted)

	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "23001"}))
	require.NoError(t, store.CreateSession(&models.Session{ClientRef: "23001", SessionID: "sid.b"}))

	payload, err := json.Marshal(map[string]interface{}{
		"charge": map[string]interface{}{
			"transaction_id": "tx-9",
			"status":         "paid",
			"value":          4990,
			"additional_info": []map[string]string{
				{"key": "cliente", "value": "cliente#23001"},
			},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment/completed", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessions, err := store.GetSessionsByClientRef("23001")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		require.NotNil(t, s.LastPurchaseAt)
		assert.Equal(t, "paid", s.LastPurchaseStatus)
		assert.False(t, s.HasPurchase, "the flag stays with the delivery path")
	}
}

func TestPaymentWebhook_MalformedPayload(t *testing.T) {
	ta := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment/created", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
