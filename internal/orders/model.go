// Package orders implements purchase order intake, DO number allocation,
// per-line delivery tracking and the order listing views.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the operational state of an order line. Values outside the
// named constants are accepted as intermediate states.
type Status string

const (
	StatusNewOrder       Status = "New Order"
	StatusDispatched     Status = "Dispatched"
	StatusDelivered      Status = "Delivered"
	StatusMaterialReturn Status = "Material Return"
)

// MilestoneSlots is the number of planned/actual checkpoints per line.
const MilestoneSlots = 4

// Milestone is one planned/actual checkpoint. DelayDays is set only when
// both dates are present.
type Milestone struct {
	Planned   *time.Time `json:"planned,omitempty"`
	Actual    *time.Time `json:"actual,omitempty"`
	DelayDays *int       `json:"delay_days,omitempty"`
}

// Header holds the fields shared by every line of an order.
type Header struct {
	FirmName         string    `json:"firm_name"`
	PartyPONumber    string    `json:"party_po_number"`
	PartyPODate      time.Time `json:"party_po_date"`
	PartyName        string    `json:"party_name"`
	GSTNumber        string    `json:"gst_number"`
	Address          string    `json:"address"`
	CustomerCategory string    `json:"customer_category"`
	PIType           string    `json:"pi_type"`
	TransportType    string    `json:"transport_type"`
	ContactPerson    string    `json:"contact_person"`
	ContactPhone     string    `json:"contact_phone"`
	ContactEmail     string    `json:"contact_email"`
	PaymentTerms     string    `json:"payment_terms"`
	RetentionTerms   string    `json:"retention_terms"`
	SalesPerson      string    `json:"sales_person"`
	AgentName        string    `json:"agent_name"`
	Remarks          string    `json:"remarks"`
}

// Order is the header plus its ordered lines.
type Order struct {
	ID            int64     `json:"id"`
	DONumber      string    `json:"do_number"`
	Header
	AttachmentURL string    `json:"attachment_url"`
	SubmittedBy   int64     `json:"submitted_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Lines         []Line    `json:"lines"`
}

// Line is one product within an order together with its lifecycle fields.
type Line struct {
	ID                   int64                     `json:"id"`
	OrderID              int64                     `json:"order_id"`
	LineNo               int                       `json:"line_no"`
	ProductName          string                    `json:"product_name"`
	Quantity             decimal.Decimal           `json:"quantity"`
	Rate                 decimal.Decimal           `json:"rate"`
	Value                decimal.Decimal           `json:"value"`
	UOM                  string                    `json:"uom"`
	AluminaPercent       decimal.NullDecimal       `json:"alumina_percent"`
	IronPercent          decimal.NullDecimal       `json:"iron_percent"`
	AdvancePercent       decimal.NullDecimal       `json:"advance_percent"`
	BasicPercent         decimal.NullDecimal       `json:"basic_percent"`
	Status               Status                    `json:"status"`
	DeliveredQuantity    decimal.Decimal           `json:"delivered_quantity"`
	PendingQuantity      decimal.Decimal           `json:"pending_quantity"`
	Milestones           [MilestoneSlots]Milestone `json:"milestones"`
	ExpectedDeliveryDate *time.Time                `json:"expected_delivery_date,omitempty"`
	InStock              bool                      `json:"in_stock"`
	ProductionOrderRef   string                    `json:"production_order_ref"`
	TransferredQuantity  decimal.Decimal           `json:"transferred_quantity"`
	BatchRemarks         string                    `json:"batch_remarks"`
	CompletedAt          *time.Time                `json:"completed_at,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// OrderLine is the flattened read model: one line joined with its header.
type OrderLine struct {
	Line
	DONumber       string    `json:"do_number"`
	Header
	AttachmentURL  string    `json:"attachment_url"`
	SubmittedBy    int64     `json:"submitted_by"`
	OrderCreatedAt time.Time `json:"order_created_at"`
}

// DelayDays returns actual minus planned in whole calendar days, or nil
// when either date is missing.
func DelayDays(planned, actual *time.Time) *int {
	if planned == nil || actual == nil {
		return nil
	}
	d := int((civilDate(*actual).Unix() - civilDate(*planned).Unix()) / secondsPerDay)
	return &d
}

const secondsPerDay = 24 * 60 * 60

// civilDate drops the clock and zone, keeping the calendar date.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
