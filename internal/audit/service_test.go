package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTimelineRepo struct {
	rows     []TimelineRow
	err      error
	lastCall WindowParams
}

func (s *stubTimelineRepo) Window(_ context.Context, params WindowParams) ([]TimelineRow, error) {
	s.lastCall = params
	return s.rows, s.err
}

func mockRow(at, action, entityID string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, ActorID: 7, Action: action, Entity: "order_line", EntityID: entityID, Meta: []byte(`{"status":"Dispatched"}`)}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		mockRow("2024-03-10T10:00:00Z", "order_line.status", "1"),
		mockRow("2024-03-09T09:00:00Z", "order_line.dispatch", "1"),
		mockRow("2024-03-08T08:00:00Z", "order_line.delivery", "1"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Entity: "order_line", EntityID: "1", Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Zero(t, result.Paging.PrevPage)
	assert.Equal(t, 3, repo.lastCall.Limit)
	assert.Zero(t, repo.lastCall.Offset)
	assert.Equal(t, "1", repo.lastCall.Filters.EntityID)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, 2*maxPageSize, repo.lastCall.Offset)
	assert.Equal(t, 2, result.Paging.PrevPage)
	assert.False(t, result.Paging.HasNext)
	assert.NotNil(t, result.Rows)
}

func TestServiceTimelineErrors(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = NewService(&stubTimelineRepo{err: boom}).Timeline(context.Background(), TimelineFilters{})
	assert.ErrorIs(t, err, boom)
}

func TestServiceExportCSV(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow("2024-03-10T10:00:00Z", "order_line.status", "4")}}
	out, err := NewService(repo).Export(context.Background(), TimelineFilters{Entity: "order_line"})
	require.NoError(t, err)
	assert.Zero(t, repo.lastCall.Limit)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "occurred_at,actor_id,action,entity,entity_id,meta", lines[0])
	assert.Equal(t, `2024-03-10T10:00:00Z,7,order_line.status,order_line,4,"{""status"":""Dispatched""}"`, lines[1])
}

func TestBuildWhere(t *testing.T) {
	where, args := buildWhere(TimelineFilters{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args = buildWhere(TimelineFilters{From: from, ActorID: 9, Entity: " order ", Action: "order.created"})
	assert.Equal(t, " WHERE occurred_at >= $1 AND actor_id = $2 AND entity = $3 AND action = $4", where)
	assert.Equal(t, []any{from, int64(9), "order", "order.created"}, args)
}
