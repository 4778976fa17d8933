package handlers_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/dlq"
	"github.com/fsotosa-ops/oasis-api/internal/handlers"
	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/observability"
	"github.com/fsotosa-ops/oasis-api/internal/pipeline"
	"github.com/fsotosa-ops/oasis-api/internal/providers"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
	"github.com/fsotosa-ops/oasis-api/internal/routes"
)

const typeformSecret = "tf-secret"

type noopQueue struct{}

func (noopQueue) PublishEvent(eventID uuid.UUID) error { return nil }

type noopRedeliverer struct{}

func (noopRedeliverer) Redeliver(ctx context.Context, event *models.WebhookEvent) error {
	return nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}, &models.DeadLetterEntry{}))

	logger := zap.NewNop()
	registry := providers.NewRegistry(config.ProviderSecrets{Typeform: typeformSecret})
	events := repository.NewEventRepository(db)
	metricsReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(metricsReg)
	pipe := pipeline.New(registry, events, noopQueue{}, metrics, logger)
	dlqManager := dlq.NewManager(db, events, logger, 3)

	webhooks := handlers.NewWebhooksHandler(pipe, registry, events, dlqManager, noopRedeliverer{}, logger)
	health := handlers.NewHealthHandler(db, nil)

	app := fiber.New()
	routes.SetupRoutes(app, health, webhooks, metricsReg)
	return app
}

func signTypeform(body string) string {
	mac := hmac.New(sha256.New, []byte(typeformSecret))
	mac.Write([]byte(body))
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

const formBody = `{"event_id":"evt-55","form_response":{"form_id":"f1","hidden":{"user_id":"u1"}}}`

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(r).Decode(&decoded))
	return decoded
}

func TestHandleWebhookAccepted(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/v1/webhooks/typeform", strings.NewReader(formBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Typeform-Signature", signTypeform(formBody))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Webhook received and queued for processing", body["message"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "typeform", data["provider"])
	assert.Equal(t, "form_submission", data["event_type"])
	assert.NotEmpty(t, data["trace_id"])
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/v1/webhooks/typeform", strings.NewReader(formBody))
	req.Header.Set("Typeform-Signature", "sha256=bogus")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, false, body["success"])
	errDetail := body["error"].(map[string]interface{})
	assert.Equal(t, "auth_001", errDetail["code"])
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/v1/webhooks/github", strings.NewReader(`{}`))

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	errDetail := body["error"].(map[string]interface{})
	assert.Equal(t, "webhook_002", errDetail["code"])
}

func TestListProviders(t *testing.T) {
	app := newTestApp(t)

	// "providers" must route to the listing, not match :provider
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/webhooks/providers", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "1 of 2 providers configured", body["message"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total_providers"])
	assert.Equal(t, float64(1), data["configured_providers"])
}

func TestRetryDLQValidation(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/v1/webhooks/dlq/retry?batch_size=0", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/webhooks/dlq/retry?batch_size=500", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRetryDLQEmptyQueue(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/v1/webhooks/dlq/retry", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["attempted"])
}

func TestDLQStats(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/webhooks/dlq/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["total"])
	assert.Contains(t, data, "pending")
	assert.Contains(t, data, "abandoned")
}

func TestListFailedEvents(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/webhooks/events/failed", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "0 failed events", body["message"])

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/webhooks/events/failed?limit=0", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealthReportsBrokerDown(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "unhealthy", body["status"])
	services := body["services"].(map[string]interface{})
	assert.Equal(t, "healthy", services["database"])
	assert.Contains(t, services["rabbitmq"], "unhealthy")
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)

	// Ingest one event so a counter has a value
	req := httptest.NewRequest("POST", "/api/v1/webhooks/typeform", strings.NewReader(formBody))
	req.Header.Set("Typeform-Signature", signTypeform(formBody))
	_, err := app.Test(req)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `webhook_events_received_total{provider="typeform"} 1`)
}
