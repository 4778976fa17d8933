package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/models"
	"github.com/fsotosa-ops/oasis-api/internal/repository"
)

type capturingPublisher struct {
	published []uuid.UUID
	fail      bool
}

func (p *capturingPublisher) PublishEvent(eventID uuid.UUID) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, eventID)
	return nil
}

func newTestSweeper(t *testing.T) (*Sweeper, *repository.EventRepository, *capturingPublisher) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}))

	cfg := &config.SweepConfig{Interval: time.Minute, StaleAfter: 10 * time.Minute}
	events := repository.NewEventRepository(db)
	publisher := &capturingPublisher{}
	return NewSweeper(cfg, events, publisher, zap.NewNop()), events, publisher
}

func seedStale(t *testing.T, events *repository.EventRepository, externalID string, age time.Duration) *models.WebhookEvent {
	t.Helper()

	event := &models.WebhookEvent{
		Provider:   "typeform",
		ExternalID: &externalID,
		EventType:  "form_submission",
		RawPayload: []byte(`{}`),
		ReceivedAt: time.Now().UTC().Add(-age),
	}
	event, _, err := events.Create(context.Background(), event)
	require.NoError(t, err)
	return event
}

func TestSweepRepublishesStaleEvents(t *testing.T) {
	sweeper, events, publisher := newTestSweeper(t)
	ctx := context.Background()

	stranded := seedStale(t, events, "evt-stranded", 30*time.Minute)
	seedStale(t, events, "evt-fresh", time.Minute)

	delivered := seedStale(t, events, "evt-done", 30*time.Minute)
	require.NoError(t, events.MarkProcessed(ctx, delivered.ID))

	sweeper.sweep(ctx)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, stranded.ID, publisher.published[0])
}

func TestSweepToleratesPublishFailure(t *testing.T) {
	sweeper, events, publisher := newTestSweeper(t)
	publisher.fail = true

	seedStale(t, events, "evt-stranded", 30*time.Minute)

	// Must not panic or drop the row; the next tick retries
	sweeper.sweep(context.Background())
	assert.Empty(t, publisher.published)

	stale, err := events.FindStale(context.Background(), 10*time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}
