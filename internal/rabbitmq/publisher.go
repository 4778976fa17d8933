package rabbitmq

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fsotosa-ops/oasis-api/internal/config"
	"github.com/fsotosa-ops/oasis-api/internal/models"
)

// DeliveryPublisher publishes event ids onto the delivery queue for the
// dispatch worker.
type DeliveryPublisher struct {
	conn       *Connection
	exchange   string
	routingKey string
}

func NewDeliveryPublisher(conn *Connection, cfg *config.RabbitMQConfig) *DeliveryPublisher {
	return &DeliveryPublisher{
		conn:       conn,
		exchange:   cfg.DeliveryExchange,
		routingKey: cfg.DeliveryRoutingKey,
	}
}

// PublishEvent enqueues a dispatch job for the given event.
func (p *DeliveryPublisher) PublishEvent(eventID uuid.UUID) error {
	body, err := json.Marshal(models.DeliveryMessage{EventID: eventID.String()})
	if err != nil {
		return fmt.Errorf("failed to marshal delivery message: %w", err)
	}
	if err := p.conn.Publish(p.exchange, p.routingKey, body); err != nil {
		return fmt.Errorf("failed to publish to delivery queue: %w", err)
	}
	return nil
}
