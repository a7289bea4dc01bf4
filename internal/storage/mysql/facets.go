package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"dna_property_hub/internal/domain"
)

// PropertyQuery is a set of AND-ed conditions over the properties table aliased p.
// Values are immutable; Where returns a copy.
type PropertyQuery struct {
	conds []string
	args  []any
}

// VisibleProperties is the base query: properties the listing service would show.
func VisibleProperties() PropertyQuery {
	return PropertyQuery{conds: []string{"(" + visibleSQL + ")"}}
}

func (q PropertyQuery) Where(cond string, args ...any) PropertyQuery {
	out := PropertyQuery{
		conds: append(append([]string(nil), q.conds...), "("+cond+")"),
		args:  append(append([]any(nil), q.args...), args...),
	}
	return out
}

// WhereSQL renders the WHERE clause body ("1 = 1" when empty).
func (q PropertyQuery) WhereSQL() string {
	if len(q.conds) == 0 {
		return "1 = 1"
	}
	return strings.Join(q.conds, " AND ")
}

func (q PropertyQuery) Args() []any { return q.args }

// ApplyFilters narrows base by the selections: a property must carry at least
// one selected value of every group that has a selection. Ids that don't
// resolve to an active value of the claimed active group are dropped.
func (r *Repo) ApplyFilters(ctx context.Context, base PropertyQuery, sel domain.Selections) (PropertyQuery, error) {
	return applyFilters(ctx, r.db, base, sel)
}

func applyFilters(ctx context.Context, q querier, base PropertyQuery, sel domain.Selections) (PropertyQuery, error) {
	var ids []int64
	for _, vs := range sel {
		ids = append(ids, vs...)
	}
	if len(ids) == 0 {
		return base, nil
	}

	ph, args := inList(ids)
	rows, err := q.QueryContext(ctx, `
SELECT v.id, v.filter_group_id
FROM filter_values v
JOIN filter_groups g ON g.id = v.filter_group_id
WHERE v.id IN (`+ph+`) AND v.is_active = 1 AND g.is_active = 1`, args...)
	if err != nil {
		return PropertyQuery{}, err
	}
	defer rows.Close()
	known := make(map[int64]int64, len(ids))
	for rows.Next() {
		var vid, gid int64
		if err := rows.Scan(&vid, &gid); err != nil {
			return PropertyQuery{}, err
		}
		known[vid] = gid
	}
	if err := rows.Err(); err != nil {
		return PropertyQuery{}, err
	}
	return applySelections(base, sel, known), nil
}

// applySelections adds one OR-within-group condition per group that still has
// a resolvable selection. Groups are visited in id order so the SQL is stable.
func applySelections(base PropertyQuery, sel domain.Selections, known map[int64]int64) PropertyQuery {
	groups := make([]int64, 0, len(sel))
	for gid := range sel {
		groups = append(groups, gid)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	q := base
	for _, gid := range groups {
		seen := map[int64]bool{}
		var valid []int64
		for _, vid := range sel[gid] {
			if g, ok := known[vid]; ok && g == gid && !seen[vid] {
				seen[vid] = true
				valid = append(valid, vid)
			}
		}
		if len(valid) == 0 {
			continue
		}
		ph, args := inList(valid)
		q = q.Where(fmt.Sprintf(selectionFilterSQL, ph), args...)
	}
	return q
}

// ValuesWithCounts computes facet counts for every active group of page
// inside one repeatable-read snapshot.
func (r *Repo) ValuesWithCounts(ctx context.Context, page string) (out []domain.ValueCount, err error) {
	defer observe("values_with_counts", time.Now(), &err)

	out = []domain.ValueCount{}
	err = r.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, pageGroupIDsSQL, page)
		if err != nil {
			return err
		}
		var groups []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			groups = append(groups, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, gid := range groups {
			vc, err := groupCounts(ctx, tx, gid)
			if err != nil {
				return err
			}
			out = append(out, vc...)
		}
		return nil
	})
	return out, err
}

func groupCounts(ctx context.Context, tx *sql.Tx, groupID int64) ([]domain.ValueCount, error) {
	rows, err := tx.QueryContext(ctx, groupCountsSQL, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ValueCount
	for rows.Next() {
		var n int
		v, err := scanValue(rows, &n)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ValueCount{FilterValue: v, Count: n})
	}
	return out, rows.Err()
}

// SearchProperties pages through visible properties matching the selections.
func (r *Repo) SearchProperties(ctx context.Context, s domain.PropertySearch) (out domain.PropertyPage, err error) {
	defer observe("search_properties", time.Now(), &err)

	out.IDs = []int64{}
	err = r.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sql.Tx) error {
		q, err := applyFilters(ctx, tx, VisibleProperties(), s.Selections)
		if err != nil {
			return err
		}
		where := q.WhereSQL()
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM properties p WHERE `+where, q.Args()...).Scan(&out.Total); err != nil {
			return err
		}

		args := append(append([]any(nil), q.Args()...), s.Limit, s.Offset)
		rows, err := tx.QueryContext(ctx, `SELECT p.id FROM properties p WHERE `+where+` ORDER BY p.id DESC LIMIT ? OFFSET ?`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			out.IDs = append(out.IDs, id)
		}
		return rows.Err()
	})
	return out, err
}
