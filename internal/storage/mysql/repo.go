package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"dna_property_hub/internal/adapters/observability"
	"dna_property_hub/internal/domain"
)

const (
	errDupEntry     = 1062
	errRowIsParent  = 1451
	errNoParentItem = 1452
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isMySQLErr(err error, codes ...uint16) bool {
	var me *mysqldrv.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	for _, c := range codes {
		if me.Number == c {
			return true
		}
	}
	return false
}

// dupValueField names the filter_values column behind a duplicate-key error.
func dupValueField(err error) string {
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) && strings.Contains(me.Message, "uq_filter_values_group_slug") {
		return "slug"
	}
	return "value"
}

// inList returns "?,?,?" and the matching args.
func inList(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Repo implements the taxonomy, association and facet ports over MySQL.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// withTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (r *Repo) withTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func observe(op string, start time.Time, err *error) {
	observability.ObserveStore(op, *err, time.Since(start))
}

// ---- row scanning ----

func scanGroup(s scanner) (domain.FilterGroup, error) {
	var g domain.FilterGroup
	var dataType string
	var desc sql.NullString
	if err := s.Scan(
		&g.ID, &g.Page, &g.Name, &g.Slug, &dataType,
		&g.IsMultiple, &g.IsRequired, &g.IsActive,
		&g.DisplayOrder, &desc, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return domain.FilterGroup{}, err
	}
	g.DataType = domain.DataType(dataType)
	g.Description = strPtr(desc)
	return g, nil
}

func scanValue(s scanner, extra ...any) (domain.FilterValue, error) {
	var v domain.FilterValue
	var slug, color, icon, desc sql.NullString
	var meta []byte
	dest := []any{
		&v.ID, &v.FilterGroupID, &v.Value, &v.Label,
		&slug, &color, &icon, &desc,
		&v.DisplayOrder, &v.IsActive, &meta, &v.CreatedAt, &v.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return domain.FilterValue{}, err
	}
	v.Slug, v.Color, v.Icon, v.Description = strPtr(slug), strPtr(color), strPtr(icon), strPtr(desc)
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &v.Metadata); err != nil {
			return domain.FilterValue{}, err
		}
	}
	return v, nil
}

func collectGroups(rows *sql.Rows) ([]domain.FilterGroup, error) {
	defer rows.Close()
	out := []domain.FilterGroup{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func collectValues(rows *sql.Rows) ([]domain.FilterValue, error) {
	defer rows.Close()
	out := []domain.FilterValue{}
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func getGroup(ctx context.Context, q querier, id int64, lock bool) (domain.FilterGroup, error) {
	query := getGroupSQL
	if lock {
		query += " FOR UPDATE"
	}
	g, err := scanGroup(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FilterGroup{}, &domain.NotFoundError{Entity: "filter group", ID: id}
	}
	return g, err
}

func getValue(ctx context.Context, q querier, id int64, lock bool) (domain.FilterValue, error) {
	query := getValueSQL
	if lock {
		query += " FOR UPDATE"
	}
	v, err := scanValue(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FilterValue{}, &domain.NotFoundError{Entity: "filter value", ID: id}
	}
	return v, err
}

// reorder rewrites display_order = position for every id with one statement.
func reorder(ctx context.Context, tx *sql.Tx, table string, ids []int64) error {
	var b strings.Builder
	args := make([]any, 0, len(ids)*3)
	b.WriteString("UPDATE " + table + " SET display_order = CASE id")
	for i, id := range ids {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, id, i)
	}
	ph, inArgs := inList(ids)
	b.WriteString(" END WHERE id IN (" + ph + ")")
	_, err := tx.ExecContext(ctx, b.String(), append(args, inArgs...)...)
	return err
}

// missingIDs returns the ids of want absent from have, in want order.
func missingIDs(want []int64, have map[int64]bool) []int64 {
	var out []int64
	for _, id := range want {
		if !have[id] {
			out = append(out, id)
		}
	}
	return out
}
