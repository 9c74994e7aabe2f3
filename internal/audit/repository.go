package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WindowParams narrows a timeline read. Zero values disable a filter.
type WindowParams struct {
	Filters TimelineFilters
	Offset  int
	Limit   int
}

// Repository reads audit_logs.
type Repository interface {
	Window(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres-backed timeline reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	where, args := buildWhere(params.Filters)
	query := `SELECT occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs` + where +
		` ORDER BY occurred_at DESC, id DESC`
	if params.Limit > 0 {
		args = append(args, params.Limit, params.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			item TimelineRow
			at   pgtype.Timestamptz
			meta []byte
		)
		if err := row.Scan(&at, &item.ActorID, &item.Action, &item.Entity, &item.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if at.Valid {
			item.At = at.Time
		}
		item.Meta = meta
		return item, nil
	})
}

func buildWhere(f TimelineFilters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at <= $%d", f.To)
	}
	if f.ActorID != 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if v := strings.TrimSpace(f.Entity); v != "" {
		add("entity = $%d", v)
	}
	if v := strings.TrimSpace(f.EntityID); v != "" {
		add("entity_id = $%d", v)
	}
	if v := strings.TrimSpace(f.Action); v != "" {
		add("action = $%d", v)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
