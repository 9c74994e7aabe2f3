package masterdata

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Source loads the full reference table.
type Source interface {
	Load(ctx context.Context) (Table, error)
}

// PostgresSource reads every row of a reference table.
type PostgresSource struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresSource builds a source for table, optionally schema-qualified.
func NewPostgresSource(pool *pgxpool.Pool, table string) *PostgresSource {
	return &PostgresSource{pool: pool, table: table}
}

// Load runs a bulk select. Column names come from the result description so
// header changes upstream need no code change here.
func (s *PostgresSource) Load(ctx context.Context) (Table, error) {
	if s.table == "" {
		return Table{}, errors.New("masterdata: reference table not configured")
	}
	ident := pgx.Identifier(strings.Split(s.table, ".")).Sanitize()
	rows, err := s.pool.Query(ctx, "SELECT * FROM "+ident)
	if err != nil {
		return Table{}, fmt.Errorf("masterdata: query %s: %w", s.table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	t := Table{Columns: make([]string, len(fields))}
	for i, f := range fields {
		t.Columns[i] = f.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Table{}, fmt.Errorf("masterdata: scan %s: %w", s.table, err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = cellString(v)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("masterdata: iterate %s: %w", s.table, err)
	}
	return t, nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02")
	case pgtype.Numeric:
		if !x.Valid || x.Int == nil {
			return ""
		}
		return decimal.NewFromBigInt(x.Int, x.Exp).String()
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return ""
		}
		return cellString(dv)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// XLSXSource reads the reference table from a workbook on disk.
type XLSXSource struct {
	path  string
	sheet string
}

// NewXLSXSource reads sheet from path; an empty sheet means the active one.
func NewXLSXSource(path, sheet string) *XLSXSource {
	return &XLSXSource{path: path, sheet: sheet}
}

// Load opens the workbook on every call so edits on disk are picked up.
func (s *XLSXSource) Load(_ context.Context) (Table, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return Table{}, fmt.Errorf("masterdata: open %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()
	return readWorkbook(f, s.sheet)
}

// ReadXLSX parses a workbook stream, typically an uploaded sheet.
func ReadXLSX(r io.Reader, sheet string) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("masterdata: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return readWorkbook(f, sheet)
}

func readWorkbook(f *excelize.File, sheet string) (Table, error) {
	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return Table{}, fmt.Errorf("masterdata: read sheet %q: %w", sheet, err)
	}
	return tableFromRows(rows), nil
}

// tableFromRows treats the first non-blank row as the header and drops blank rows.
func tableFromRows(rows [][]string) Table {
	var t Table
	for _, r := range rows {
		if blankRow(r) {
			continue
		}
		if t.Columns == nil {
			t.Columns = append([]string(nil), r...)
			continue
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

func blankRow(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
