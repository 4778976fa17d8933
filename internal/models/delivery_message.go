package models

// DeliveryMessage is the payload published to the delivery queue. Only the
// event id travels through the broker; the event itself lives in the store.
type DeliveryMessage struct {
	EventID string `json:"event_id"`
}
