package orders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-intake/internal/masterdata"
	"github.com/odyssey-erp/odyssey-intake/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type memState struct {
	nextOrderID int64
	nextLineID  int64
	orders      []Order
	lines       []Line
}

func (s memState) clone() memState {
	out := s
	out.orders = append([]Order(nil), s.orders...)
	out.lines = append([]Line(nil), s.lines...)
	return out
}

// memRepo serialises transactions and enforces the do_number unique
// constraint the way the database does.
type memRepo struct {
	mu    sync.Mutex
	state memState

	// onRecent runs after RecentDONumbers has read the state.
	onRecent      func(call int)
	recentCalls   int
	recentLimit   int
	insertLineErr error
	// updateLineErrs are returned by successive UpdateLine calls, one each.
	updateLineErrs []error
	updateCalls    int
}

func newMemRepo() *memRepo {
	return &memRepo{state: memState{nextOrderID: 1, nextLineID: 1}}
}

// seedOrder commits an order outside any submission.
func (m *memRepo) seedOrder(o Order) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state.clone()}
	id, err := tx.InsertOrder(context.Background(), o)
	if err != nil {
		panic(err)
	}
	if _, err := tx.InsertLines(context.Background(), id, o.Lines); err != nil {
		panic(err)
	}
	m.state = tx.state
	return id
}

func (m *memRepo) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.orders)
}

func (m *memRepo) lineCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.lines)
}

func (m *memRepo) RecentDONumbers(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	m.recentCalls++
	call := m.recentCalls
	m.recentLimit = limit
	var out []string
	for i := len(m.state.orders) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.state.orders[i].DONumber)
	}
	hook := m.onRecent
	m.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return out, nil
}

func (m *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{state: m.state.clone(), insertLineErr: m.insertLineErr, repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *memRepo) GetLine(_ context.Context, id int64) (*OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.state.lines {
		if l.ID == id {
			ol := m.join(l)
			return &ol, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRepo) GetOrder(_ context.Context, doNumber string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.state.orders {
		if o.DONumber != doNumber {
			continue
		}
		for _, l := range m.state.lines {
			if l.OrderID == o.ID {
				o.Lines = append(o.Lines, l)
			}
		}
		sort.Slice(o.Lines, func(i, j int) bool { return o.Lines[i].LineNo < o.Lines[j].LineNo })
		return &o, nil
	}
	return nil, ErrOrderNotFound
}

func (m *memRepo) ListLines(_ context.Context, firm string) ([]OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OrderLine
	for i := len(m.state.lines) - 1; i >= 0; i-- {
		ol := m.join(m.state.lines[i])
		if firm != "" && ol.FirmName != firm {
			continue
		}
		out = append(out, ol)
	}
	return out, nil
}

func (m *memRepo) join(l Line) OrderLine {
	o := m.state.orders[l.OrderID-1]
	return OrderLine{
		Line:           l,
		DONumber:       o.DONumber,
		Header:         o.Header,
		AttachmentURL:  o.AttachmentURL,
		SubmittedBy:    o.SubmittedBy,
		OrderCreatedAt: o.CreatedAt,
	}
}

type memTx struct {
	state         memState
	insertLineErr error
	repo          *memRepo
}

func (t *memTx) InsertOrder(_ context.Context, o Order) (int64, error) {
	for _, existing := range t.state.orders {
		if existing.DONumber == o.DONumber {
			return 0, fmt.Errorf("%w: %s", ErrAllocationConflict, o.DONumber)
		}
	}
	o.ID = t.state.nextOrderID
	t.state.nextOrderID++
	o.Lines = nil
	t.state.orders = append(t.state.orders, o)
	return o.ID, nil
}

func (t *memTx) InsertLines(_ context.Context, orderID int64, lines []Line) ([]int64, error) {
	if t.insertLineErr != nil {
		return nil, t.insertLineErr
	}
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		l.ID = t.state.nextLineID
		l.OrderID = orderID
		t.state.nextLineID++
		t.state.lines = append(t.state.lines, l)
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (t *memTx) LockLine(_ context.Context, id int64) (*Line, error) {
	for i := range t.state.lines {
		if t.state.lines[i].ID == id {
			l := t.state.lines[i]
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateLine(_ context.Context, id int64, updates map[string]interface{}) error {
	// runs under memRepo.mu, held by WithTx
	if r := t.repo; r != nil {
		r.updateCalls++
		if len(r.updateLineErrs) > 0 {
			err := r.updateLineErrs[0]
			r.updateLineErrs = r.updateLineErrs[1:]
			if err != nil {
				return err
			}
		}
	}
	for i := range t.state.lines {
		if t.state.lines[i].ID == id {
			return applyUpdates(&t.state.lines[i], updates)
		}
	}
	return ErrNotFound
}

func applyUpdates(l *Line, updates map[string]interface{}) error {
	for col, v := range updates {
		switch {
		case col == "status":
			l.Status = v.(Status)
		case col == "delivered_quantity":
			l.DeliveredQuantity = v.(decimal.Decimal)
		case col == "pending_quantity":
			l.PendingQuantity = v.(decimal.Decimal)
		case col == "transferred_quantity":
			l.TransferredQuantity = v.(decimal.Decimal)
		case col == "in_stock":
			l.InStock = v.(bool)
		case col == "production_order_ref":
			l.ProductionOrderRef = v.(string)
		case col == "batch_remarks":
			l.BatchRemarks = v.(string)
		case col == "completed_at":
			d := v.(time.Time)
			l.CompletedAt = &d
		case col == "expected_delivery_date":
			d := v.(time.Time)
			l.ExpectedDeliveryDate = &d
		case strings.HasPrefix(col, "planned_"), strings.HasPrefix(col, "actual_"), strings.HasPrefix(col, "delay_"):
			name, k, _ := strings.Cut(col, "_")
			slot, err := strconv.Atoi(k)
			if err != nil || slot < 1 || slot > MilestoneSlots {
				return fmt.Errorf("unknown column %s", col)
			}
			m := &l.Milestones[slot-1]
			switch name {
			case "planned":
				d := v.(time.Time)
				m.Planned = &d
			case "actual":
				d := v.(time.Time)
				m.Actual = &d
			case "delay":
				m.DelayDays = v.(*int)
			}
		default:
			return fmt.Errorf("unknown column %s", col)
		}
	}
	return nil
}

// ============================================================================
// MOCK COLLABORATORS
// ============================================================================

type fakeBlobs struct {
	mu      sync.Mutex
	uploads []storage.Object
	err     error
	signErr error
}

func (f *fakeBlobs) Upload(_ context.Context, obj storage.Object) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploads = append(f.uploads, obj)
	return "https://blobs.test/" + obj.Key, nil
}

func (f *fakeBlobs) Sign(_ context.Context, objectURL string, ttl time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return objectURL + "?ttl=" + ttl.String(), nil
}

func (f *fakeBlobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type fakeMasters struct {
	parties map[string]masterdata.Resolution
	err     error
}

func (f *fakeMasters) Resolve(_ context.Context, partyName string) (masterdata.Resolution, bool, error) {
	if f.err != nil {
		return masterdata.Resolution{}, false, f.err
	}
	res, ok := f.parties[partyName]
	return res, ok, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []OrderCreatedEvent
	err    error
}

func (f *fakePublisher) PublishOrderCreated(_ context.Context, evt OrderCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return f.err
}

type fakeIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (f *fakeIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdempotency) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

type fakeLocker struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func (f *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func(context.Context) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
		return nil
	}, nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	results   map[string]int
	conflicts int
}

func (f *fakeRecorder) OrderSubmitted(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = map[string]int{}
	}
	f.results[result]++
}

func (f *fakeRecorder) AllocationConflict() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflicts++
}

type fakeAudit struct {
	logs []shared.AuditLog
	err  error
}

func (f *fakeAudit) Record(_ context.Context, log shared.AuditLog) error {
	f.logs = append(f.logs, log)
	return f.err
}

// ============================================================================
// FIXTURES
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func validHeader() HeaderInput {
	return HeaderInput{
		FirmName:      "Acme",
		PartyPONumber: "PO-1",
		PartyPODate:   "2024-01-01",
		PartyName:     "Beta Corp",
		ContactPerson: "Jane",
		ContactPhone:  "555-1111",
	}
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		Header: validHeader(),
		Products: []ProductInput{
			{ProductName: "X", Quantity: dec("10"), Rate: dec("5")},
			{ProductName: "Y", Quantity: dec("2"), Rate: dec("50")},
		},
	}
}

func testAttachment() *Attachment {
	return &Attachment{Filename: "po scan.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 test")}
}

func existingOrder(doNumber, firm string, lines ...Line) Order {
	h := Header{
		FirmName:      firm,
		PartyPONumber: "PO-0",
		PartyPODate:   time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		PartyName:     "Seed Party",
		ContactPerson: "Sam",
		ContactPhone:  "555-0000",
	}
	for i := range lines {
		lines[i].LineNo = i + 1
		if lines[i].Status == "" {
			lines[i].Status = StatusNewOrder
		}
	}
	return Order{DONumber: doNumber, Header: h, AttachmentURL: "https://blobs.test/seed.pdf", Lines: lines}
}

func seedLine(product string, qty, rate string) Line {
	q := decimal.RequireFromString(qty)
	r := decimal.RequireFromString(rate)
	return Line{ProductName: product, Quantity: q, Rate: r, Value: q.Mul(r), PendingQuantity: q}
}

var errBoom = errors.New("boom")
