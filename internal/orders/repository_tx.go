package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-intake/internal/platform/db"
)

// InsertOrder inserts the header. A taken DO number yields ErrAllocationConflict.
func (t *txRepository) InsertOrder(ctx context.Context, o Order) (int64, error) {
	query := `
		INSERT INTO orders (
			do_number, firm_name, party_po_number, party_po_date, party_name, gst_number,
			address, customer_category, pi_type, transport_type, contact_person,
			contact_phone, contact_email, payment_terms, retention_terms, sales_person,
			agent_name, remarks, attachment_url, submitted_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)
		RETURNING id
	`
	h := o.Header
	var id int64
	err := t.tx.QueryRow(ctx, query,
		o.DONumber, h.FirmName, h.PartyPONumber, h.PartyPODate, h.PartyName, h.GSTNumber,
		h.Address, h.CustomerCategory, h.PIType, h.TransportType, h.ContactPerson,
		h.ContactPhone, h.ContactEmail, h.PaymentTerms, h.RetentionTerms, h.SalesPerson,
		h.AgentName, h.Remarks, o.AttachmentURL, o.SubmittedBy, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		if db.UniqueViolation(err, doNumberConstraint) {
			return 0, fmt.Errorf("%w: %s", ErrAllocationConflict, o.DONumber)
		}
		return 0, err
	}
	return id, nil
}

// InsertLines queues every line in one batch and returns their ids in order.
func (t *txRepository) InsertLines(ctx context.Context, orderID int64, lines []Line) ([]int64, error) {
	query := `
		INSERT INTO order_lines (
			order_id, line_no, product_name, quantity, rate, value, uom,
			alumina_percent, iron_percent, advance_percent, basic_percent,
			status, delivered_quantity, pending_quantity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING id
	`
	batch := &pgx.Batch{}
	for _, l := range lines {
		batch.Queue(query,
			orderID, l.LineNo, l.ProductName, l.Quantity, l.Rate, l.Value, l.UOM,
			l.AluminaPercent, l.IronPercent, l.AdvancePercent, l.BasicPercent,
			l.Status, l.DeliveredQuantity, l.PendingQuantity, l.CreatedAt,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	ids := make([]int64, 0, len(lines))
	for range lines {
		var id int64
		if err := br.QueryRow().Scan(&id); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("orders: insert line: %w", err)
		}
		ids = append(ids, id)
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("orders: close batch: %w", err)
	}
	return ids, nil
}

// LockLine reads a line and holds a row lock until the transaction ends.
func (t *txRepository) LockLine(ctx context.Context, id int64) (*Line, error) {
	var l Line
	err := t.tx.QueryRow(ctx, `SELECT `+lineColumns+` FROM order_lines l WHERE l.id = $1 FOR UPDATE`, id).Scan(lineDest(&l)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// UpdateLine updates line columns.
func (t *txRepository) UpdateLine(ctx context.Context, id int64, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	fields := make([]string, 0, len(updates))
	for field := range updates {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var setClauses []string
	var args []interface{}
	argPos := 1

	for _, field := range fields {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, argPos))
		args = append(args, updates[field])
		argPos++
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now())
	argPos++

	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE order_lines
		SET %s
		WHERE id = $%d
	`, strings.Join(setClauses, ", "), argPos)

	cmdTag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
