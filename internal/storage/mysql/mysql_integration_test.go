//go:build integration || !unit

package mysql_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"dna_property_hub/internal/domain"
	mysqlrepo "dna_property_hub/internal/storage/mysql"
)

// ---------- small helpers ----------
func pbool(b bool) *bool { return &b }

func pstr(s string) *string { return &s }

// startMySQL runs an isolated MySQL container and returns a migrated handle.
func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=dna",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/dna?parseTime=true&charset=utf8mb4,utf8&loc=UTC", hostPort)

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := mysqlrepo.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func resetTables(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, q := range []string{
		"DELETE FROM property_filters",
		"DELETE FROM filter_values",
		"DELETE FROM filter_groups",
		"DELETE FROM properties",
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
}

func insertProperty(t *testing.T, db *sql.DB, status string, active bool) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO properties (title, is_active, status, published_at) VALUES (?, ?, ?, NOW() - INTERVAL 1 DAY)`,
		"p", active, status)
	if err != nil {
		t.Fatalf("insert property: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func createGroup(t *testing.T, repo *mysqlrepo.Repo, slug string, multiple bool) domain.FilterGroup {
	t.Helper()
	g, err := repo.CreateGroup(context.Background(), domain.FilterGroup{
		Page: "properties", Name: slug, Slug: slug, DataType: domain.DataTypeString,
		IsMultiple: multiple, IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateGroup(%s): %v", slug, err)
	}
	return g
}

func createValues(t *testing.T, repo *mysqlrepo.Repo, groupID int64, values ...string) []domain.FilterValue {
	t.Helper()
	items := make([]domain.ValueInput, len(values))
	for i, v := range values {
		items[i] = domain.ValueInput{Value: v, Label: v, IsActive: pbool(true)}
	}
	out, err := repo.CreateValues(context.Background(), groupID, items)
	if err != nil {
		t.Fatalf("CreateValues: %v", err)
	}
	return out
}

func attach(t *testing.T, repo *mysqlrepo.Repo, propertyID int64, refs ...domain.FilterValue) {
	t.Helper()
	ids := make([]int64, len(refs))
	for i, v := range refs {
		ids[i] = v.ID
	}
	_, err := repo.ReplacePropertyFilters(context.Background(), propertyID, ids,
		func(rs []domain.ValueRef) ([]domain.ValueRef, error) { return rs, nil })
	if err != nil {
		t.Fatalf("ReplacePropertyFilters: %v", err)
	}
}

func countsByValue(vc []domain.ValueCount) map[string]int {
	out := map[string]int{}
	for _, v := range vc {
		out[v.Value] = v.Count
	}
	return out
}

// ---------- the tests ----------
func TestRepo_MySQL(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)
	ctx := context.Background()

	t.Run("values are appended in order and listed per group", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "property_type", false)
		other := createGroup(t, repo, "status", false)
		vs := createValues(t, repo, g.ID, "house", "villa", "apartment")
		createValues(t, repo, other.ID, "for_sale")

		for i, v := range vs {
			if v.DisplayOrder != i {
				t.Fatalf("value %s order = %d, want %d", v.Value, v.DisplayOrder, i)
			}
		}
		list, err := repo.ListValues(ctx, g.ID, true)
		if err != nil {
			t.Fatalf("ListValues: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 values, got %d", len(list))
		}
		for i, v := range list {
			if v.FilterGroupID != g.ID || v.DisplayOrder != i {
				t.Fatalf("unexpected value at %d: %+v", i, v)
			}
		}
	})

	t.Run("bulk create is all or nothing", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "amenities", true)
		createValues(t, repo, g.ID, "pool")

		_, err := repo.CreateValues(ctx, g.ID, []domain.ValueInput{
			{Value: "gym", Label: "Gym"},
			{Value: "garden", Label: "Garden"},
			{Value: "sauna", Label: "Sauna"},
			{Value: "pool", Label: "Pool"}, // duplicate of a stored value
		})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := verr.Fields["values.3.value"]; !ok {
			t.Fatalf("expected failing item 3 to be reported, got %v", verr.Fields)
		}
		list, _ := repo.ListValues(ctx, g.ID, false)
		if len(list) != 1 {
			t.Fatalf("batch must not persist partially; values = %d", len(list))
		}
	})

	t.Run("duplicate slugs inside one batch are reported on slug", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "views", true)
		_, err := repo.CreateValues(ctx, g.ID, []domain.ValueInput{
			{Value: "sea", Label: "Sea", Slug: pstr("water")},
			{Value: "lake", Label: "Lake", Slug: pstr("water")},
		})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Fields["values.1.slug"] == "" {
			t.Fatalf("expected values.1.slug, got %v", err)
		}
	})

	t.Run("active listing hides values of inactive groups", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "legacy", false)
		createValues(t, repo, g.ID, "old")
		if _, err := repo.UpdateGroup(ctx, g.ID, func(g *domain.FilterGroup) error { g.IsActive = false; return nil }); err != nil {
			t.Fatalf("UpdateGroup: %v", err)
		}
		if list, _ := repo.ListValues(ctx, g.ID, true); len(list) != 0 {
			t.Fatalf("inactive group listed %d values", len(list))
		}
		if list, _ := repo.ListValues(ctx, g.ID, false); len(list) != 1 {
			t.Fatalf("admin listing lost values: %d", len(list))
		}
	})

	t.Run("reorder is idempotent and validates ids", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "bedrooms", false)
		vs := createValues(t, repo, g.ID, "1", "2", "3")
		order := []int64{vs[2].ID, vs[0].ID, vs[1].ID}

		for i := 0; i < 2; i++ {
			if err := repo.ReorderValues(ctx, order); err != nil {
				t.Fatalf("ReorderValues: %v", err)
			}
			list, _ := repo.ListValues(ctx, g.ID, false)
			for pos, v := range list {
				if v.ID != order[pos] || v.DisplayOrder != pos {
					t.Fatalf("pass %d: position %d holds %d (order %d)", i, pos, v.ID, v.DisplayOrder)
				}
			}
		}

		err := repo.ReorderValues(ctx, []int64{vs[0].ID, 999999})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError for unknown id, got %v", err)
		}
		list, _ := repo.ListValues(ctx, g.ID, false)
		if list[0].ID != order[0] {
			t.Fatalf("failed reorder must not change anything")
		}
	})

	t.Run("concurrent group reorders serialize", func(t *testing.T) {
		resetTables(t, db)
		a := createGroup(t, repo, "a", false)
		b := createGroup(t, repo, "b", false)
		c := createGroup(t, repo, "c", false)
		orders := [][]int64{{a.ID, b.ID, c.ID}, {c.ID, b.ID, a.ID}}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(o []int64) {
				defer wg.Done()
				if err := repo.ReorderGroups(ctx, o); err != nil {
					t.Errorf("ReorderGroups: %v", err)
				}
			}(orders[i%2])
		}
		wg.Wait()

		gs, _ := repo.ListGroups(ctx, domain.GroupFilter{Page: "properties"})
		got := []int64{gs[0].ID, gs[1].ID, gs[2].ID}
		if fmt.Sprint(got) != fmt.Sprint(orders[0]) && fmt.Sprint(got) != fmt.Sprint(orders[1]) {
			t.Fatalf("interleaved ordering %v", got)
		}
	})

	t.Run("delete is blocked by live associations unless cascading", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "view", true)
		vs := createValues(t, repo, g.ID, "sea", "city")
		p := insertProperty(t, db, "published", true)
		attach(t, repo, p, vs[0])

		var cerr *domain.ConflictError
		if err := repo.DeleteValue(ctx, vs[0].ID, false); !errors.As(err, &cerr) {
			t.Fatalf("expected ConflictError deleting used value, got %v", err)
		}
		if err := repo.DeleteValue(ctx, vs[1].ID, false); err != nil {
			t.Fatalf("unused value should delete: %v", err)
		}
		if err := repo.DeleteGroup(ctx, g.ID, false); !errors.As(err, &cerr) {
			t.Fatalf("expected ConflictError deleting group, got %v", err)
		}
		if err := repo.DeleteGroup(ctx, g.ID, true); err != nil {
			t.Fatalf("cascade delete: %v", err)
		}
		if _, err := repo.GetGroup(ctx, g.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("group should be gone, got %v", err)
		}
		pfs, _ := repo.PropertyFilters(ctx, p)
		if len(pfs) != 0 {
			t.Fatalf("associations should be gone, got %d", len(pfs))
		}
	})

	t.Run("group cannot become single-valued while properties hold several values", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "features", true)
		vs := createValues(t, repo, g.ID, "balcony", "garage")
		p := insertProperty(t, db, "published", true)
		attach(t, repo, p, vs...)

		_, err := repo.UpdateGroup(ctx, g.ID, func(fg *domain.FilterGroup) error {
			fg.IsMultiple = false
			return nil
		})
		var cerr *domain.ConflictError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ConflictError, got %v", err)
		}
	})

	t.Run("facet counts and filtered listing", func(t *testing.T) {
		resetTables(t, db)
		typ := createGroup(t, repo, "property_type", false)
		status := createGroup(t, repo, "listing_status", false)
		tv := createValues(t, repo, typ.ID, "house", "villa", "apartment")
		sv := createValues(t, repo, status.ID, "for_sale", "sold")
		house, villa, apartment := tv[0], tv[1], tv[2]
		forSale, sold := sv[0], sv[1]

		r1 := insertProperty(t, db, "published", true)
		r2 := insertProperty(t, db, "published", true)
		r3 := insertProperty(t, db, "published", true)
		hidden := insertProperty(t, db, "draft", true)
		attach(t, repo, r1, villa, forSale)
		attach(t, repo, r2, apartment, forSale)
		attach(t, repo, r3, villa, sold)
		attach(t, repo, hidden, house, forSale)

		vc, err := repo.ValuesWithCounts(ctx, "properties")
		if err != nil {
			t.Fatalf("ValuesWithCounts: %v", err)
		}
		got := countsByValue(vc)
		want := map[string]int{"house": 0, "villa": 2, "apartment": 1, "for_sale": 2, "sold": 1}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("counts = %v, want %v", got, want)
		}

		page, err := repo.SearchProperties(ctx, domain.PropertySearch{
			Selections: domain.Selections{
				typ.ID:    {villa.ID, apartment.ID},
				status.ID: {forSale.ID},
			},
			Limit: 20,
		})
		if err != nil {
			t.Fatalf("SearchProperties: %v", err)
		}
		if page.Total != 2 || fmt.Sprint(page.IDs) != fmt.Sprint([]int64{r2, r1}) {
			t.Fatalf("filtered = %+v, want ids [%d %d]", page, r2, r1)
		}

		// a deleted value id behaves as if it were never sent
		stale, err := repo.SearchProperties(ctx, domain.PropertySearch{
			Selections: domain.Selections{
				typ.ID:    {villa.ID, apartment.ID, 424242},
				status.ID: {forSale.ID},
				987654:    {1},
			},
			Limit: 20,
		})
		if err != nil {
			t.Fatalf("SearchProperties stale: %v", err)
		}
		if fmt.Sprint(stale.IDs) != fmt.Sprint(page.IDs) {
			t.Fatalf("stale ids changed the result: %v vs %v", stale.IDs, page.IDs)
		}
	})

	t.Run("search values is case-insensitive and scoped", func(t *testing.T) {
		resetTables(t, db)
		g := createGroup(t, repo, "style", false)
		other := createGroup(t, repo, "other", false)
		createValues(t, repo, g.ID, "Modern Villa", "cottage")
		createValues(t, repo, other.ID, "villa")

		all, err := repo.SearchValues(ctx, "VILLA", nil, 50)
		if err != nil {
			t.Fatalf("SearchValues: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(all))
		}
		scoped, _ := repo.SearchValues(ctx, "villa", &g.ID, 50)
		if len(scoped) != 1 || scoped[0].Value != "Modern Villa" {
			t.Fatalf("unexpected scoped result: %+v", scoped)
		}
		none, _ := repo.SearchValues(ctx, "%", nil, 50)
		if len(none) != 0 {
			t.Fatalf("wildcards must match literally, got %d", len(none))
		}
	})

	t.Run("duplicate group slug is a validation error", func(t *testing.T) {
		resetTables(t, db)
		createGroup(t, repo, "dup", false)
		_, err := repo.CreateGroup(ctx, domain.FilterGroup{Page: "properties", Name: "x", Slug: "dup", DataType: domain.DataTypeString})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Fields["slug"] == "" {
			t.Fatalf("expected slug ValidationError, got %v", err)
		}
	})
}
