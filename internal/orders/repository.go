package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-intake/internal/platform/db"
)

// Repository defines order persistence.
type Repository interface {
	SequenceSource

	// Read operations
	GetLine(ctx context.Context, id int64) (*OrderLine, error)
	GetOrder(ctx context.Context, doNumber string) (*Order, error)
	ListLines(ctx context.Context, firm string) ([]OrderLine, error)

	// Write operations (transactional)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional write operations.
type TxRepository interface {
	InsertOrder(ctx context.Context, order Order) (int64, error)
	InsertLines(ctx context.Context, orderID int64, lines []Line) ([]int64, error)
	LockLine(ctx context.Context, id int64) (*Line, error)
	UpdateLine(ctx context.Context, id int64, updates map[string]interface{}) error
}

const doNumberConstraint = "orders_do_number_key"

const headerColumns = `o.firm_name, o.party_po_number, o.party_po_date, o.party_name, o.gst_number,
	o.address, o.customer_category, o.pi_type, o.transport_type, o.contact_person,
	o.contact_phone, o.contact_email, o.payment_terms, o.retention_terms, o.sales_person,
	o.agent_name, o.remarks`

const lineColumns = `l.id, l.order_id, l.line_no, l.product_name, l.quantity, l.rate, l.value, l.uom,
	l.alumina_percent, l.iron_percent, l.advance_percent, l.basic_percent,
	l.status, l.delivered_quantity, l.pending_quantity,
	l.planned_1, l.actual_1, l.delay_1, l.planned_2, l.actual_2, l.delay_2,
	l.planned_3, l.actual_3, l.delay_3, l.planned_4, l.actual_4, l.delay_4,
	l.expected_delivery_date, l.in_stock, l.production_order_ref, l.transferred_quantity,
	l.batch_remarks, l.completed_at, l.created_at, l.updated_at`

func headerDest(h *Header) []any {
	return []any{
		&h.FirmName, &h.PartyPONumber, &h.PartyPODate, &h.PartyName, &h.GSTNumber,
		&h.Address, &h.CustomerCategory, &h.PIType, &h.TransportType, &h.ContactPerson,
		&h.ContactPhone, &h.ContactEmail, &h.PaymentTerms, &h.RetentionTerms, &h.SalesPerson,
		&h.AgentName, &h.Remarks,
	}
}

func lineDest(l *Line) []any {
	dest := []any{
		&l.ID, &l.OrderID, &l.LineNo, &l.ProductName, &l.Quantity, &l.Rate, &l.Value, &l.UOM,
		&l.AluminaPercent, &l.IronPercent, &l.AdvancePercent, &l.BasicPercent,
		&l.Status, &l.DeliveredQuantity, &l.PendingQuantity,
	}
	for i := range l.Milestones {
		m := &l.Milestones[i]
		dest = append(dest, &m.Planned, &m.Actual, &m.DelayDays)
	}
	return append(dest,
		&l.ExpectedDeliveryDate, &l.InStock, &l.ProductionOrderRef, &l.TransferredQuantity,
		&l.BatchRemarks, &l.CompletedAt, &l.CreatedAt, &l.UpdatedAt,
	)
}

func orderLineDest(ol *OrderLine) []any {
	dest := lineDest(&ol.Line)
	dest = append(dest, &ol.DONumber)
	dest = append(dest, headerDest(&ol.Header)...)
	return append(dest, &ol.AttachmentURL, &ol.SubmittedBy, &ol.OrderCreatedAt)
}

const orderLineSelect = `SELECT ` + lineColumns + `, o.do_number, ` + headerColumns + `,
	o.attachment_url, o.submitted_by, o.created_at
	FROM order_lines l
	JOIN orders o ON o.id = l.order_id`

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// txRepository implements TxRepository.
type txRepository struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction. Writers are
// serialized by SELECT ... FOR UPDATE on lines and by the do_number unique
// constraint on headers, so snapshot isolation would only add 40001 aborts.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// RecentDONumbers returns DO numbers of the newest orders.
func (r *repository) RecentDONumbers(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT do_number FROM orders ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// GetLine retrieves one line joined with its header.
func (r *repository) GetLine(ctx context.Context, id int64) (*OrderLine, error) {
	var ol OrderLine
	err := r.pool.QueryRow(ctx, orderLineSelect+` WHERE l.id = $1`, id).Scan(orderLineDest(&ol)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ol, nil
}

// GetOrder retrieves an order and its lines by DO number.
func (r *repository) GetOrder(ctx context.Context, doNumber string) (*Order, error) {
	query := `SELECT o.id, o.do_number, ` + headerColumns + `,
		o.attachment_url, o.submitted_by, o.created_at, o.updated_at
		FROM orders o
		WHERE o.do_number = $1`
	var o Order
	dest := append([]any{&o.ID, &o.DONumber}, headerDest(&o.Header)...)
	dest = append(dest, &o.AttachmentURL, &o.SubmittedBy, &o.CreatedAt, &o.UpdatedAt)
	if err := r.pool.QueryRow(ctx, query, doNumber).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM order_lines l WHERE l.order_id = $1 ORDER BY l.line_no`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(lineDest(&l)...); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListLines returns every line, newest first, optionally restricted to one firm.
func (r *repository) ListLines(ctx context.Context, firm string) ([]OrderLine, error) {
	query := orderLineSelect + ` WHERE ($1 = '' OR o.firm_name = $1) ORDER BY l.id DESC`
	rows, err := r.pool.Query(ctx, query, firm)
	if err != nil {
		return nil, fmt.Errorf("orders: list lines: %w", err)
	}
	defer rows.Close()

	var out []OrderLine
	for rows.Next() {
		var ol OrderLine
		if err := rows.Scan(orderLineDest(&ol)...); err != nil {
			return nil, fmt.Errorf("orders: scan line: %w", err)
		}
		out = append(out, ol)
	}
	return out, rows.Err()
}
