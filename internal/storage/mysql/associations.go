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

// ReplacePropertyFilters locks the property row so concurrent saves for the
// same property serialize, then swaps its association rows.
func (r *Repo) ReplacePropertyFilters(ctx context.Context, propertyID int64, valueIDs []int64,
	plan func(refs []domain.ValueRef) ([]domain.ValueRef, error)) (out []domain.PropertyFilter, err error) {
	defer observe("replace_property_filters", time.Now(), &err)

	err = r.withTx(ctx, nil, func(tx *sql.Tx) error {
		var pid int64
		err := tx.QueryRowContext(ctx, lockPropertySQL, propertyID).Scan(&pid)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Entity: "property", ID: propertyID}
		}
		if err != nil {
			return err
		}

		refs, err := valueRefs(ctx, tx, valueIDs)
		if err != nil {
			return err
		}
		keep, err := plan(refs)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM property_filters WHERE property_id = ?`, propertyID); err != nil {
			return err
		}
		if len(keep) > 0 {
			var b strings.Builder
			args := make([]any, 0, len(keep)*3)
			b.WriteString("INSERT INTO property_filters (property_id, filter_group_id, filter_value_id) VALUES ")
			for i, ref := range keep {
				if i > 0 {
					b.WriteString(",")
				}
				b.WriteString("(?,?,?)")
				args = append(args, propertyID, ref.GroupID, ref.ValueID)
			}
			_, err := tx.ExecContext(ctx, b.String(), args...)
			if isMySQLErr(err, errNoParentItem) {
				return domain.Invalid("value_ids", "a selected value no longer exists")
			}
			if err != nil {
				return fmt.Errorf("insert property filters: %w", err)
			}
		}

		out, err = propertyFilters(ctx, tx, propertyID)
		return err
	})
	return out, err
}

// valueRefs reads the requested values with their group's multiplicity under a
// shared lock, so a concurrent group edit cannot change it mid-save.
func valueRefs(ctx context.Context, tx *sql.Tx, ids []int64) ([]domain.ValueRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph, args := inList(ids)
	rows, err := tx.QueryContext(ctx, `
SELECT v.id, v.filter_group_id, g.is_multiple, (v.is_active = 1 AND g.is_active = 1)
FROM filter_values v
JOIN filter_groups g ON g.id = v.filter_group_id
WHERE v.id IN (`+ph+`)
FOR SHARE`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ValueRef
	for rows.Next() {
		var ref domain.ValueRef
		if err := rows.Scan(&ref.ValueID, &ref.GroupID, &ref.GroupMultiple, &ref.Active); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (r *Repo) PropertyFilters(ctx context.Context, propertyID int64) (out []domain.PropertyFilter, err error) {
	defer observe("property_filters", time.Now(), &err)
	return propertyFilters(ctx, r.db, propertyID)
}

func propertyFilters(ctx context.Context, q querier, propertyID int64) ([]domain.PropertyFilter, error) {
	rows, err := q.QueryContext(ctx, propertyFiltersSQL, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.PropertyFilter{}
	for rows.Next() {
		var pf domain.PropertyFilter
		if err := rows.Scan(&pf.ID, &pf.PropertyID, &pf.FilterGroupID, &pf.FilterValueID); err != nil {
			return nil, err
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}
