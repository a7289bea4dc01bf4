package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"dna_property_hub/internal/domain"
)

func (r *Repo) CreateGroup(ctx context.Context, g domain.FilterGroup) (out domain.FilterGroup, err error) {
	defer observe("create_group", time.Now(), &err)

	res, err := r.db.ExecContext(ctx, insertGroupSQL,
		g.Page, g.Name, g.Slug, string(g.DataType),
		g.IsMultiple, g.IsRequired, g.IsActive,
		g.DisplayOrder, valStr(g.Description),
	)
	if isMySQLErr(err, errDupEntry) {
		return domain.FilterGroup{}, domain.Invalid("slug", "has already been taken")
	}
	if err != nil {
		return domain.FilterGroup{}, fmt.Errorf("insert filter group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.FilterGroup{}, err
	}
	return getGroup(ctx, r.db, id, false)
}

func (r *Repo) GetGroup(ctx context.Context, id int64) (out domain.FilterGroup, err error) {
	defer observe("get_group", time.Now(), &err)
	return getGroup(ctx, r.db, id, false)
}

func (r *Repo) ListGroups(ctx context.Context, f domain.GroupFilter) (out []domain.FilterGroup, err error) {
	defer observe("list_groups", time.Now(), &err)

	var where []string
	var args []any
	if f.Page != "" {
		where = append(where, "page = ?")
		args = append(args, f.Page)
	}
	if !f.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	query := `SELECT ` + groupCols + ` FROM filter_groups`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY display_order, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectGroups(rows)
}

func (r *Repo) SlugTaken(ctx context.Context, slug string, exceptID int64) (taken bool, err error) {
	defer observe("slug_taken", time.Now(), &err)
	err = r.db.QueryRowContext(ctx, slugTakenSQL, slug, exceptID).Scan(&taken)
	return taken, err
}

func (r *Repo) UpdateGroup(ctx context.Context, id int64, apply func(*domain.FilterGroup) error) (out domain.FilterGroup, err error) {
	defer observe("update_group", time.Now(), &err)

	err = r.withTx(ctx, nil, func(tx *sql.Tx) error {
		g, err := getGroup(ctx, tx, id, true)
		if err != nil {
			return err
		}
		wasMultiple := g.IsMultiple
		if err := apply(&g); err != nil {
			return err
		}

		if wasMultiple && !g.IsMultiple {
			var multi bool
			if err := tx.QueryRowContext(ctx, groupHasMultiSQL, id).Scan(&multi); err != nil {
				return err
			}
			if multi {
				return domain.Conflict("filter group %d cannot become single-valued: some properties hold several of its values", id)
			}
		}

		_, err = tx.ExecContext(ctx, updateGroupSQL,
			g.Page, g.Name, g.Slug, string(g.DataType),
			g.IsMultiple, g.IsRequired, g.IsActive,
			g.DisplayOrder, valStr(g.Description), id,
		)
		if isMySQLErr(err, errDupEntry) {
			return domain.Invalid("slug", "has already been taken")
		}
		if err != nil {
			return fmt.Errorf("update filter group %d: %w", id, err)
		}
		out, err = getGroup(ctx, tx, id, false)
		return err
	})
	return out, err
}

// DeleteGroup removes a group. Without cascade it refuses while the group
// still owns values or associations.
func (r *Repo) DeleteGroup(ctx context.Context, id int64, cascade bool) (err error) {
	defer observe("delete_group", time.Now(), &err)

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := getGroup(ctx, tx, id, true); err != nil {
			return err
		}
		var values, assocs int
		if err := tx.QueryRowContext(ctx, countGroupUsageSQL, id, id).Scan(&values, &assocs); err != nil {
			return err
		}
		if !cascade && (values > 0 || assocs > 0) {
			return domain.Conflict("filter group %d still has %d values and %d property associations; delete with cascade to remove them", id, values, assocs)
		}

		for _, q := range []string{
			`DELETE FROM property_filters WHERE filter_group_id = ?`,
			`DELETE FROM filter_values WHERE filter_group_id = ?`,
			`DELETE FROM filter_groups WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				if isMySQLErr(err, errRowIsParent) {
					return domain.Conflict("filter group %d is still referenced", id)
				}
				return fmt.Errorf("delete filter group %d: %w", id, err)
			}
		}
		return nil
	})
}

// ReorderGroups assigns display_order = position. Every group row is locked so
// concurrent reorders apply one after the other.
func (r *Repo) ReorderGroups(ctx context.Context, ids []int64) (err error) {
	defer observe("reorder_groups", time.Now(), &err)

	return r.withTx(ctx, nil, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM filter_groups ORDER BY id FOR UPDATE`)
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
			return domain.Invalid("order", fmt.Sprintf("unknown filter group ids: %v", miss))
		}
		return reorder(ctx, tx, "filter_groups", ids)
	})
}
