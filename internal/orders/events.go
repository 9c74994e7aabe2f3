package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderCreatedEvent is emitted after a submission commits.
type OrderCreatedEvent struct {
	EventID       string          `json:"event_id"`
	OrderID       int64           `json:"order_id"`
	DONumber      string          `json:"do_number"`
	FirmName      string          `json:"firm_name"`
	PartyName     string          `json:"party_name"`
	LineIDs       []int64         `json:"line_ids"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
	SubmittedBy   int64           `json:"submitted_by"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Publisher delivers order events to observers.
type Publisher interface {
	PublishOrderCreated(ctx context.Context, evt OrderCreatedEvent) error
}

// MessagePublisher writes keyed payloads to a topic.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

type topicPublisher struct {
	messages MessagePublisher
}

// NewTopicPublisher publishes events keyed by DO number.
func NewTopicPublisher(messages MessagePublisher) Publisher {
	return &topicPublisher{messages: messages}
}

func (p *topicPublisher) PublishOrderCreated(ctx context.Context, evt OrderCreatedEvent) error {
	return p.messages.Publish(ctx, evt.DONumber, evt)
}

func newOrderCreatedEvent(o Order, orderID int64, lineIDs []int64) OrderCreatedEvent {
	evt := OrderCreatedEvent{
		EventID:       uuid.NewString(),
		OrderID:       orderID,
		DONumber:      o.DONumber,
		FirmName:      o.FirmName,
		PartyName:     o.PartyName,
		LineIDs:       lineIDs,
		TotalQuantity: decimal.Zero,
		TotalValue:    decimal.Zero,
		SubmittedBy:   o.SubmittedBy,
		OccurredAt:    o.CreatedAt,
	}
	for _, l := range o.Lines {
		evt.TotalQuantity = evt.TotalQuantity.Add(l.Quantity)
		evt.TotalValue = evt.TotalValue.Add(l.Value)
	}
	return evt
}
