package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/odyssey-intake/internal/shared"
)

// DefaultLinkTTL is how long signed attachment links stay valid.
const DefaultLinkTTL = 15 * time.Minute

// ListResult is one page of filtered lines plus firm-wide stats.
type ListResult struct {
	Lines      []OrderLine       `json:"lines"`
	Stats      Stats             `json:"stats"`
	Pagination shared.Pagination `json:"pagination"`
}

// QueryService reads order lines for display.
type QueryService struct {
	repo    Repository
	blobs   BlobStore
	linkTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewQueryService builds the read side. blobs may be nil when links are not needed.
func NewQueryService(repo Repository, blobs BlobStore, linkTTL time.Duration, logger *slog.Logger) *QueryService {
	if linkTTL <= 0 {
		linkTTL = DefaultLinkTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{repo: repo, blobs: blobs, linkTTL: linkTTL, logger: logger, now: time.Now}
}

// List returns lines newest first. Stats cover every line of the firm and
// ignore the status and search filters.
func (q *QueryService) List(ctx context.Context, f Filter) (*ListResult, error) {
	firm := strings.TrimSpace(f.Firm)
	lines, err := q.repo.ListLines(ctx, firm)
	if err != nil {
		return nil, err
	}
	stats := Aggregate(lines)
	filtered := FilterLines(lines, Filter{Firm: firm, Status: f.Status, Search: f.Search})

	page := shared.NewPagination(f.Page, f.PerPage, len(filtered))
	start, end := page.Bounds()
	return &ListResult{
		Lines:      filtered[start:end],
		Stats:      stats,
		Pagination: page,
	}, nil
}

// Get returns the logical order for a DO number with a signed attachment link.
func (q *QueryService) Get(ctx context.Context, doNumber string) (*OrderDetail, error) {
	doNumber = strings.TrimSpace(doNumber)
	if _, ok := ParseDONumber(doNumber); !ok {
		return nil, ErrOrderNotFound
	}
	o, err := q.repo.GetOrder(ctx, doNumber)
	if err != nil {
		return nil, err
	}
	detail := &OrderDetail{Order: *o}
	if q.blobs != nil && o.AttachmentURL != "" {
		link, err := q.blobs.Sign(ctx, o.AttachmentURL, q.linkTTL)
		if err != nil {
			q.logger.Warn("sign attachment", slog.String("do_number", doNumber), slog.Any("error", err))
		} else {
			detail.AttachmentLink = link
			detail.LinkExpiresAt = q.now().Add(q.linkTTL)
		}
	}
	return detail, nil
}

// GetLine returns one line joined with its header.
func (q *QueryService) GetLine(ctx context.Context, id int64) (*OrderLine, error) {
	if id <= 0 {
		return nil, ErrNotFound
	}
	ol, err := q.repo.GetLine(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("orders: get line %d: %w", id, err)
	}
	return ol, nil
}

// FilterLines applies firm and status equality and a case-insensitive
// substring search, keeping the input order.
func FilterLines(lines []OrderLine, f Filter) []OrderLine {
	folder := cases.Fold()
	needle := folder.String(strings.TrimSpace(f.Search))
	out := make([]OrderLine, 0, len(lines))
	for _, l := range lines {
		if f.Firm != "" && l.FirmName != f.Firm {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if needle != "" && !matchesSearch(folder, l, needle) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func matchesSearch(folder cases.Caser, l OrderLine, needle string) bool {
	for _, field := range []string{
		l.DONumber, l.PartyPONumber, l.PartyName, l.ProductName,
		l.ContactPerson, l.FirmName, string(l.Status),
	} {
		if strings.Contains(folder.String(field), needle) {
			return true
		}
	}
	return false
}

// Aggregate sums the stored line values and quantities.
func Aggregate(lines []OrderLine) Stats {
	stats := Stats{TotalValue: decimal.Zero, TotalQuantity: decimal.Zero}
	for _, l := range lines {
		stats.Count++
		stats.TotalValue = stats.TotalValue.Add(l.Value)
		stats.TotalQuantity = stats.TotalQuantity.Add(l.Quantity)
	}
	return stats
}

// GroupOrders rebuilds logical orders from line records. Orders keep the
// order in which their first line appears; lines are sorted by line number.
func GroupOrders(lines []OrderLine) []Order {
	index := make(map[string]int)
	var out []Order
	for _, l := range lines {
		i, ok := index[l.DONumber]
		if !ok {
			i = len(out)
			index[l.DONumber] = i
			out = append(out, Order{
				ID:            l.OrderID,
				DONumber:      l.DONumber,
				Header:        l.Header,
				AttachmentURL: l.AttachmentURL,
				SubmittedBy:   l.SubmittedBy,
				CreatedAt:     l.OrderCreatedAt,
			})
		}
		out[i].Lines = append(out[i].Lines, l.Line)
	}
	for i := range out {
		sort.SliceStable(out[i].Lines, func(a, b int) bool {
			return out[i].Lines[a].LineNo < out[i].Lines[b].LineNo
		})
	}
	return out
}
