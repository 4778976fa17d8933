package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fsotosa-ops/oasis-api/internal/apierr"
	"github.com/fsotosa-ops/oasis-api/internal/dlq"
	"github.com/fsotosa-ops/oasis-api/internal/pipeline"
	"github.com/fsotosa-ops/oasis-api/internal/providers"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

const (
	defaultRetryBatchSize = 10
	maxRetryBatchSize     = 100
)

// WebhooksHandler exposes the webhook ingestion and operations endpoints.
type WebhooksHandler struct {
	Pipeline    *pipeline.Pipeline
	Registry    *providers.Registry
	Events      *repository.EventRepository
	DLQ         *dlq.Manager
	Redeliverer dlq.Redeliverer
	Logger      *zap.Logger
}

// NewWebhooksHandler creates a new webhooks handler with dependencies
func NewWebhooksHandler(
	p *pipeline.Pipeline,
	registry *providers.Registry,
	events *repository.EventRepository,
	dlqManager *dlq.Manager,
	redeliverer dlq.Redeliverer,
	logger *zap.Logger,
) *WebhooksHandler {
	return &WebhooksHandler{
		Pipeline:    p,
		Registry:    registry,
		Events:      events,
		DLQ:         dlqManager,
		Redeliverer: redeliverer,
		Logger:      logger,
	}
}

// HandleWebhook handles POST /api/v1/webhooks/:provider
//
// The raw request body is passed untouched to signature verification;
// parsing it first would break providers that sign the exact bytes.
func (h *WebhooksHandler) HandleWebhook(c *fiber.Ctx) error {
	providerName := c.Params("provider")
	body := c.Body()

	header := func(name string) string { return c.Get(name) }
	receipt, err := h.Pipeline.Ingest(c.UserContext(), providerName, header, body)
	if err != nil {
		var apiErr *apierr.APIError
		if errors.As(err, &apiErr) {
			return apiErr.Write(c)
		}
		h.Logger.Error("Unexpected ingestion failure",
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return apierr.Internal("internal server error").Write(c)
	}

	return c.JSON(apierr.Response{
		Success: true,
		Message: "Webhook received and queued for processing",
		Data:    receipt,
	})
}

// ListProviders handles GET /api/v1/webhooks/providers
func (h *WebhooksHandler) ListProviders(c *fiber.Ctx) error {
	status := h.Registry.Status()

	return c.JSON(apierr.Response{
		Success: true,
		Message: fmt.Sprintf("%d of %d providers configured",
			status.ConfiguredProviders, status.TotalProviders),
		Data: status,
	})
}

// RetryDLQ handles POST /api/v1/webhooks/dlq/retry
// Query parameters:
//   - batch_size (optional, default 10, max 100): entries to attempt
func (h *WebhooksHandler) RetryDLQ(c *fiber.Ctx) error {
	batchSize := defaultRetryBatchSize
	if raw := c.Query("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRetryBatchSize {
			return apierr.BadRequest(apierr.CodeInvalidPayload,
				fmt.Sprintf("batch_size must be between 1 and %d", maxRetryBatchSize)).Write(c)
		}
		batchSize = parsed
	}

	result, err := h.DLQ.RetryBatch(c.UserContext(), batchSize, h.Redeliverer)
	if err != nil {
		h.Logger.Error("DLQ retry batch failed", zap.Error(err))
		return apierr.Internal("failed to process retry batch").Write(c)
	}

	return c.JSON(apierr.Response{
		Success: true,
		Message: fmt.Sprintf("Retried %d dead letter entries", result.Attempted),
		Data:    result,
	})
}

// DLQStats handles GET /api/v1/webhooks/dlq/stats
func (h *WebhooksHandler) DLQStats(c *fiber.Ctx) error {
	stats, err := h.DLQ.Stats(c.UserContext())
	if err != nil {
		h.Logger.Error("Failed to compute DLQ stats", zap.Error(err))
		return apierr.Internal("failed to compute DLQ stats").Write(c)
	}

	return c.JSON(apierr.Response{Success: true, Data: stats})
}

// ListFailedEvents handles GET /api/v1/webhooks/events/failed
// Query parameters:
//   - provider (optional): filter by provider name
//   - limit (optional, default 25, max 100)
func (h *WebhooksHandler) ListFailedEvents(c *fiber.Ctx) error {
	limit := 25
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			return apierr.BadRequest(apierr.CodeInvalidPayload,
				"limit must be between 1 and 100").Write(c)
		}
		limit = parsed
	}

	events, err := h.Events.FindFailed(c.UserContext(), c.Query("provider"), limit)
	if err != nil {
		h.Logger.Error("Failed to list failed events", zap.Error(err))
		return apierr.Internal("failed to list failed events").Write(c)
	}

	return c.JSON(apierr.Response{
		Success: true,
		Message: fmt.Sprintf("%d failed events", len(events)),
		Data:    events,
	})
}
