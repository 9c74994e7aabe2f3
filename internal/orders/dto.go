package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// SubmitRequest is a new purchase order as entered by the user.
type SubmitRequest struct {
	IdempotencyKey string         `json:"-"`
	Header         HeaderInput    `json:"header"`
	Products       []ProductInput `json:"products"`
}

// HeaderInput carries the order header. Address and GST may be left blank
// and filled from master data.
type HeaderInput struct {
	FirmName         string `json:"firm_name" validate:"required,max=200"`
	PartyPONumber    string `json:"party_po_number" validate:"required,max=100"`
	PartyPODate      string `json:"party_po_date" validate:"required,datetime=2006-01-02"`
	PartyName        string `json:"party_name" validate:"required,max=200"`
	GSTNumber        string `json:"gst_number" validate:"max=50"`
	Address          string `json:"address" validate:"max=500"`
	CustomerCategory string `json:"customer_category" validate:"max=100"`
	PIType           string `json:"pi_type" validate:"max=100"`
	TransportType    string `json:"transport_type" validate:"max=100"`
	ContactPerson    string `json:"contact_person" validate:"required,max=200"`
	ContactPhone     string `json:"contact_phone" validate:"required,max=50"`
	ContactEmail     string `json:"contact_email" validate:"omitempty,email"`
	PaymentTerms     string `json:"payment_terms" validate:"max=100"`
	RetentionTerms   string `json:"retention_terms" validate:"max=200"`
	SalesPerson      string `json:"sales_person" validate:"max=200"`
	AgentName        string `json:"agent_name" validate:"max=200"`
	Remarks          string `json:"remarks" validate:"max=2000"`
}

// ProductInput is one requested product. Lines missing a name, quantity or
// rate are dropped before submission.
type ProductInput struct {
	ProductName    string           `json:"product_name"`
	Quantity       *decimal.Decimal `json:"quantity"`
	Rate           *decimal.Decimal `json:"rate"`
	Value          *decimal.Decimal `json:"value,omitempty"`
	UOM            string           `json:"uom"`
	AluminaPercent *decimal.Decimal `json:"alumina_percent,omitempty"`
	IronPercent    *decimal.Decimal `json:"iron_percent,omitempty"`
	AdvancePercent *decimal.Decimal `json:"advance_percent,omitempty"`
	BasicPercent   *decimal.Decimal `json:"basic_percent,omitempty"`
}

// Attachment is the supporting document uploaded with an order.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitResult reports what a successful submission created.
type SubmitResult struct {
	OrderID       int64   `json:"order_id"`
	DONumber      string  `json:"do_number"`
	LineIDs       []int64 `json:"line_ids"`
	AttachmentURL string  `json:"attachment_url"`
	Attempts      int     `json:"attempts"`
}

// Filter narrows List results. Empty fields do not filter.
type Filter struct {
	Firm    string
	Status  Status
	Search  string
	Page    int
	PerPage int
}

// Stats aggregates a firm's lines regardless of status and search filters.
type Stats struct {
	Count         int             `json:"count"`
	TotalValue    decimal.Decimal `json:"total_value"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
}

// OrderDetail is an order with a short-lived attachment link.
type OrderDetail struct {
	Order
	AttachmentLink string    `json:"attachment_link,omitempty"`
	LinkExpiresAt  time.Time `json:"link_expires_at,omitempty"`
}

// DateRequest sets a calendar date.
type DateRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

// StatusRequest sets an arbitrary status.
type StatusRequest struct {
	Status string `json:"status" validate:"required,max=50"`
}

// DeliveryRequest records the quantity delivered so far.
type DeliveryRequest struct {
	DeliveredQuantity decimal.Decimal `json:"delivered_quantity"`
}

// ProductionRequest updates production and batch fields. Nil fields are left unchanged.
type ProductionRequest struct {
	InStock             *bool            `json:"in_stock,omitempty"`
	ProductionOrderRef  *string          `json:"production_order_ref,omitempty" validate:"omitempty,max=100"`
	TransferredQuantity *decimal.Decimal `json:"transferred_quantity,omitempty"`
	BatchRemarks        *string          `json:"batch_remarks,omitempty" validate:"omitempty,max=2000"`
}
