package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dna_property_hub/internal/domain"
)

// lockActiveGroup locks the owning group row for the rest of the transaction.
func lockActiveGroup(ctx context.Context, tx *sql.Tx, groupID int64) error {
	var active bool
	err := tx.QueryRowContext(ctx, `SELECT is_active FROM filter_groups WHERE id = ? FOR UPDATE`, groupID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Invalid("filter_group_id", "does not exist")
	}
	if err != nil {
		return err
	}
	if !active {
		return domain.Invalid("filter_group_id", "group is inactive")
	}
	return nil
}

// CreateValues inserts the whole batch in one transaction; any duplicate or
// failure leaves the group untouched.
func (r *Repo) CreateValues(ctx context.Context, groupID int64, items []domain.ValueInput) (out []domain.FilterValue, err error) {
	defer observe("create_values", time.Now(), &err)

	err = r.withTx(ctx, nil, func(tx *sql.Tx) error {
		if err := lockActiveGroup(ctx, tx, groupID); err != nil {
			return err
		}

		values, slugs, err := groupValueKeys(ctx, tx, groupID)
		if err != nil {
			return err
		}
		for i, it := range items {
			if values[strings.ToLower(it.Value)] {
				return domain.Invalid(fmt.Sprintf("values.%d.value", i), "has already been taken in this group")
			}
			if it.Slug != nil && slugs[*it.Slug] {
				return domain.Invalid(fmt.Sprintf("values.%d.slug", i), "has already been taken in this group")
			}
		}

		var next int
		if err := tx.QueryRowContext(ctx, nextValueOrderSQL, groupID).Scan(&next); err != nil {
			return err
		}

		ids := make([]int64, 0, len(items))
		for i, it := range items {
			order := next
			if it.DisplayOrder != nil {
				order = *it.DisplayOrder
			}
			if order >= next {
				next = order + 1
			}
			meta, err := valJSON(it.Metadata)
			if err != nil {
				return domain.Invalid(fmt.Sprintf("values.%d.metadata", i), "is not serializable")
			}
			active := it.IsActive == nil || *it.IsActive
			res, err := tx.ExecContext(ctx, insertValueSQL,
				groupID, it.Value, it.Label,
				valStr(it.Slug), valStr(it.Color), valStr(it.Icon), valStr(it.Description),
				order, active, meta,
			)
			if isMySQLErr(err, errDupEntry) {
				return domain.Invalid(fmt.Sprintf("values.%d.%s", i, dupValueField(err)), "has already been taken in this group")
			}
			if err != nil {
				return fmt.Errorf("insert filter value %d: %w", i, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		out = make([]domain.FilterValue, 0, len(ids))
		for _, id := range ids {
			v, err := getValue(ctx, tx, id, false)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func groupValueKeys(ctx context.Context, tx *sql.Tx, groupID int64) (map[string]bool, map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, groupValueKeysSQL, groupID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	values, slugs := map[string]bool{}, map[string]bool{}
	for rows.Next() {
		var v string
		var s sql.NullString
		if err := rows.Scan(&v, &s); err != nil {
			return nil, nil, err
		}
		values[strings.ToLower(v)] = true
		if s.Valid {
			slugs[s.String] = true
		}
	}
	return values, slugs, rows.Err()
}

func (r *Repo) GetValue(ctx context.Context, id int64) (out domain.FilterValue, err error) {
	defer observe("get_value", time.Now(), &err)
	return getValue(ctx, r.db, id, false)
}

func (r *Repo) ListValues(ctx context.Context, groupID int64, activeOnly bool) (out []domain.FilterValue, err error) {
	defer observe("list_values", time.Now(), &err)

	query := `SELECT ` + valueCols + ` FROM filter_values WHERE filter_group_id = ?`
	if activeOnly {
		query += " AND is_active = 1 AND EXISTS (SELECT 1 FROM filter_groups g WHERE g.id = filter_group_id AND g.is_active = 1)"
	}
	query += " ORDER BY display_order, id"
	rows, err := r.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	return collectValues(rows)
}

func (r *Repo) UpdateValue(ctx context.Context, id int64, apply func(*domain.FilterValue) error) (out domain.FilterValue, err error) {
	defer observe("update_value", time.Now(), &err)

	err = r.withTx(ctx, nil, func(tx *sql.Tx) error {
		v, err := getValue(ctx, tx, id, true)
		if err != nil {
			return err
		}
		oldGroup := v.FilterGroupID
		if err := apply(&v); err != nil {
			return err
		}

		if v.FilterGroupID != oldGroup {
			if err := lockActiveGroup(ctx, tx, v.FilterGroupID); err != nil {
				return err
			}
			var n int
			if err := tx.QueryRowContext(ctx, countValueAssocSQL, id).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return domain.Conflict("filter value %d is attached to %d properties and cannot move to another group", id, n)
			}
		}

		meta, err := valJSON(v.Metadata)
		if err != nil {
			return domain.Invalid("metadata", "is not serializable")
		}
		_, err = tx.ExecContext(ctx, updateValueSQL,
			v.FilterGroupID, v.Value, v.Label,
			valStr(v.Slug), valStr(v.Color), valStr(v.Icon), valStr(v.Description),
			v.DisplayOrder, v.IsActive, meta, id,
		)
		if isMySQLErr(err, errDupEntry) {
			return domain.Invalid(dupValueField(err), "has already been taken in this group")
		}
		if err != nil {
			return fmt.Errorf("update filter value %d: %w", id, err)
		}
		out, err = getValue(ctx, tx, id, false)
		return err
	})
	return out, err
}

// DeleteValue refuses to drop a value still attached to properties unless cascade is set.
func (r *Repo) DeleteValue(ctx context.Context, id int64, cascade bool) (err error) {
	defer observe("delete_value", time.Now(), &err)

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := getValue(ctx, tx, id, true); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, countValueAssocSQL, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 && !cascade {
			return domain.Conflict("filter value %d is attached to %d properties; delete with cascade to detach them", id, n)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM property_filters WHERE filter_value_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM filter_values WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete filter value %d: %w", id, err)
		}
		return nil
	})
}

// ReorderValues assigns display_order = position to the listed values,
// locking them for the duration of the rewrite.
func (r *Repo) ReorderValues(ctx context.Context, ids []int64) (err error) {
	defer observe("reorder_values", time.Now(), &err)

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		ph, args := inList(ids)
		rows, err := tx.QueryContext(ctx, `SELECT id FROM filter_values WHERE id IN (`+ph+`) ORDER BY id FOR UPDATE`, args...)
		if err != nil {
			return err
		}
		have := map[int64]bool{}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			have[id] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if miss := missingIDs(ids, have); len(miss) > 0 {
			return domain.Invalid("order", fmt.Sprintf("unknown filter value ids: %v", miss))
		}
		return reorder(ctx, tx, "filter_values", ids)
	})
}

// escapeLike escapes LIKE wildcards so q matches literally.
func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}

func (r *Repo) SearchValues(ctx context.Context, q string, groupID *int64, limit int) (out []domain.FilterValue, err error) {
	defer observe("search_values", time.Now(), &err)

	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	query := `SELECT ` + valueCols + ` FROM filter_values
WHERE is_active = 1 AND (LOWER(value) LIKE ? OR LOWER(label) LIKE ?)`
	args := []any{pattern, pattern}
	if groupID != nil {
		query += " AND filter_group_id = ?"
		args = append(args, *groupID)
	}
	query += " ORDER BY display_order, id LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectValues(rows)
}
