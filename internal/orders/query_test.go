package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededQuery(t *testing.T) (*QueryService, *memRepo, *fakeBlobs) {
	t.Helper()
	repo := newMemRepo()
	repo.seedOrder(existingOrder("DO-1", "Acme", seedLine("Brick", "10", "5"), seedLine("Tile", "2", "50")))
	repo.seedOrder(existingOrder("DO-2", "Zenith", seedLine("Cement", "4", "25")))
	dispatched := seedLine("Sand", "1", "30")
	dispatched.Status = StatusDispatched
	repo.seedOrder(existingOrder("DO-3", "Acme", dispatched))
	blobs := &fakeBlobs{}
	q := NewQueryService(repo, blobs, time.Minute, testLogger())
	q.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return q, repo, blobs
}

func productNames(lines []OrderLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.ProductName)
	}
	return out
}

func TestListNewestFirst(t *testing.T) {
	q, _, _ := seededQuery(t)
	res, err := q.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sand", "Cement", "Tile", "Brick"}, productNames(res.Lines))
	assert.Equal(t, 4, res.Pagination.Total)
}

func TestListStatsIgnoreStatusAndSearch(t *testing.T) {
	q, _, _ := seededQuery(t)

	res, err := q.List(context.Background(), Filter{Firm: "Acme", Status: StatusDispatched})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sand"}, productNames(res.Lines))
	assert.Equal(t, 3, res.Stats.Count)
	assert.True(t, res.Stats.TotalValue.Equal(decimal.NewFromInt(180)), res.Stats.TotalValue.String())
	assert.True(t, res.Stats.TotalQuantity.Equal(decimal.NewFromInt(13)))

	res, err = q.List(context.Background(), Filter{Firm: "Acme", Search: "nothing matches"})
	require.NoError(t, err)
	assert.Empty(t, res.Lines)
	assert.Equal(t, 3, res.Stats.Count)
	assert.True(t, res.Stats.TotalValue.Equal(decimal.NewFromInt(180)))
}

func TestListSearch(t *testing.T) {
	q, _, _ := seededQuery(t)

	cases := map[string][]string{
		"TILE":       {"Tile"},
		"do-2":       {"Cement"},
		"zenith":     {"Cement"},
		"dispatched": {"Sand"},
		"seed party": {"Sand", "Cement", "Tile", "Brick"},
		"po-0":       {"Sand", "Cement", "Tile", "Brick"},
	}
	for search, want := range cases {
		t.Run(search, func(t *testing.T) {
			res, err := q.List(context.Background(), Filter{Search: search})
			require.NoError(t, err)
			assert.Equal(t, want, productNames(res.Lines))
		})
	}
}

func TestListPagination(t *testing.T) {
	q, _, _ := seededQuery(t)
	res, err := q.List(context.Background(), Filter{Page: 2, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"Brick"}, productNames(res.Lines))
	assert.Equal(t, 2, res.Pagination.TotalPages)

	res, err = q.List(context.Background(), Filter{Page: 9, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"Brick"}, productNames(res.Lines))
	assert.Equal(t, 2, res.Pagination.Page)

	res, err = q.List(context.Background(), Filter{Page: 1<<62 + 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, res.Pagination.TotalPages, res.Pagination.Page)
	assert.NotEmpty(t, res.Lines)
}

func TestGetOrderSignsAttachment(t *testing.T) {
	q, _, blobs := seededQuery(t)

	detail, err := q.Get(context.Background(), "DO-1")
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, "Brick", detail.Lines[0].ProductName)
	assert.Equal(t, "https://blobs.test/seed.pdf?ttl=1m0s", detail.AttachmentLink)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC), detail.LinkExpiresAt)

	blobs.signErr = errBoom
	detail, err = q.Get(context.Background(), "DO-1")
	require.NoError(t, err)
	assert.Empty(t, detail.AttachmentLink)
}

func TestGetOrderUnknown(t *testing.T) {
	q, _, _ := seededQuery(t)
	_, err := q.Get(context.Background(), "DO-99")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = q.Get(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestGetLine(t *testing.T) {
	q, _, _ := seededQuery(t)
	ol, err := q.GetLine(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "DO-2", ol.DONumber)
	assert.Equal(t, "Zenith", ol.FirmName)

	_, err = q.GetLine(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGroupOrders(t *testing.T) {
	q, _, _ := seededQuery(t)
	res, err := q.List(context.Background(), Filter{})
	require.NoError(t, err)

	orders := GroupOrders(res.Lines)
	require.Len(t, orders, 3)
	assert.Equal(t, "DO-3", orders[0].DONumber)
	assert.Equal(t, "DO-2", orders[1].DONumber)
	assert.Equal(t, "DO-1", orders[2].DONumber)
	require.Len(t, orders[2].Lines, 2)
	assert.Equal(t, 1, orders[2].Lines[0].LineNo)
	assert.Equal(t, "Brick", orders[2].Lines[0].ProductName)
	assert.Equal(t, "Acme", orders[2].FirmName)
}

func TestFilterLinesCaseFolding(t *testing.T) {
	lines := []OrderLine{{Line: Line{ProductName: "STRASSE"}}, {Line: Line{ProductName: "Gravel"}}}
	got := FilterLines(lines, Filter{Search: "straße"})
	assert.Equal(t, []string{"STRASSE"}, productNames(got))
}
