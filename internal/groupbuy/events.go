package groupbuy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventCampaignActivated  = "campaign.activated"
	EventCampaignSuccessful = "campaign.successful"
	EventCampaignFailed     = "campaign.failed"
	EventCampaignCanceled   = "campaign.canceled"
	EventOrderCanceled      = "order.canceled"
	EventOrderCompleted     = "order.completed"
	EventStockLow           = "inventory.low_stock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // campaign_id atau order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type CampaignStatusPayload struct {
	CampaignID string         `json:"campaign_id"`
	NewStatus  CampaignStatus `json:"new_status"`
	Current    int            `json:"current_participants"`
	Target     int            `json:"target_participants"`
	Reason     string         `json:"reason,omitempty"`
}

type OrderStatusPayload struct {
	OrderID    string      `json:"order_id"`
	CampaignID string      `json:"campaign_id"`
	UserID     string      `json:"user_id"`
	NewStatus  OrderStatus `json:"new_status"`
	TotalPrice string      `json:"total_price"`
}

type StockLowPayload struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

// OutboxEvent is an envelope bound to its destination, stored in the producing transaction.
type OutboxEvent struct {
	ID       int64
	Topic    string
	Key      string
	Envelope Envelope
}

// NewEvent builds a v1 envelope for the topic that owns eventType.
func NewEvent(producer, eventType, correlationID string, payload any, now time.Time) (OutboxEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return OutboxEvent{
		Topic: TopicFor(eventType),
		Key:   correlationID,
		Envelope: Envelope{
			EventID:       uuid.NewString(),
			EventType:     eventType,
			EventVersion:  1,
			OccurredAt:    now.UTC(),
			Producer:      producer,
			CorrelationID: correlationID,
			Payload:       b,
		},
	}, nil
}

func CampaignEventType(s CampaignStatus) string {
	switch s {
	case CampaignActive:
		return EventCampaignActivated
	case CampaignSuccessful:
		return EventCampaignSuccessful
	case CampaignFailed:
		return EventCampaignFailed
	case CampaignCanceled:
		return EventCampaignCanceled
	}
	return ""
}
