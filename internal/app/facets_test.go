package app_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"dna_property_hub/internal/adapters/observability"
	redisad "dna_property_hub/internal/adapters/redis"
	"dna_property_hub/internal/app"
	"dna_property_hub/internal/domain"
	"dna_property_hub/internal/storage/memory"
)

// countingStore records how often the read path reaches the store.
type countingStore struct {
	*memory.Store
	groupLists, valueLists, counts int
}

func (c *countingStore) ListGroups(ctx context.Context, f domain.GroupFilter) ([]domain.FilterGroup, error) {
	c.groupLists++
	return c.Store.ListGroups(ctx, f)
}

func (c *countingStore) ListValues(ctx context.Context, groupID int64, activeOnly bool) ([]domain.FilterValue, error) {
	c.valueLists++
	return c.Store.ListValues(ctx, groupID, activeOnly)
}

func (c *countingStore) ValuesWithCounts(ctx context.Context, page string) ([]domain.ValueCount, error) {
	c.counts++
	return c.Store.ValuesWithCounts(ctx, page)
}

func newRedisCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return redisad.NewWithClient(c, "test:"), mr
}

type fixture struct {
	store *countingStore
	tax   *app.TaxonomyService
	att   *app.AttachmentService
	facet *app.FacetService
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := &countingStore{Store: memory.New()}
	cache, mr := newRedisCache(t)
	return &fixture{
		store: st,
		tax:   app.NewTaxonomyService(st, cache),
		att:   app.NewAttachmentService(st, cache, app.PolicyReject),
		facet: app.NewFacetService(st, cache, time.Minute, 30*time.Second),
		mr:    mr,
	}
}

func countsByValue(vc []domain.ValueCount) map[string]int {
	out := map[string]int{}
	for _, c := range vc {
		out[c.Value] = c.Count
	}
	return out
}

// Groups "Property Type" {house, villa, apartment} and "Status" {for_sale, sold};
// two visible properties and one hidden.
func TestValuesWithCounts_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	typ := mustGroup(t, f.tax, "property_type", false)
	types := mustValues(t, f.tax, typ.ID, "house", "villa", "apartment")
	status := mustGroup(t, f.tax, "status", false)
	statuses := mustValues(t, f.tax, status.ID, "for_sale", "sold")

	f.store.PutProperty(1, true)
	f.store.PutProperty(2, true)
	f.store.PutProperty(3, false)
	for pid, ids := range map[int64][]int64{
		1: {types[1].ID, statuses[0].ID},
		2: {types[2].ID, statuses[1].ID},
		3: {types[1].ID, statuses[0].ID},
	} {
		if _, err := f.att.SetPropertyFilters(ctx, pid, ids); err != nil {
			t.Fatalf("attach %d: %v", pid, err)
		}
	}

	vc, err := f.facet.ValuesWithCounts(ctx, "properties")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	want := map[string]int{"house": 0, "villa": 1, "apartment": 1, "for_sale": 1, "sold": 1}
	if got := countsByValue(vc); !reflect.DeepEqual(got, want) {
		t.Fatalf("counts = %v, want %v", got, want)
	}
	// groups in display order, values in display order
	if vc[0].FilterGroupID != typ.ID || vc[0].Value != "house" || vc[3].Value != "for_sale" {
		t.Fatalf("unexpected ordering: %+v", vc)
	}

	page, err := f.facet.SearchProperties(ctx, domain.PropertySearch{Selections: domain.Selections{
		typ.ID:    {types[1].ID, types[2].ID},
		status.ID: {statuses[0].ID},
	}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !reflect.DeepEqual(page.IDs, []int64{1}) || page.Total != 1 {
		t.Fatalf("villa|apartment AND for_sale = %+v", page)
	}
}

func TestFacetCache_HitThenInvalidatedByWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g := mustGroup(t, f.tax, "type", false)
	mustValues(t, f.tax, g.ID, "house")

	for i := 0; i < 3; i++ {
		if _, err := f.facet.ValuesWithCounts(ctx, "properties"); err != nil {
			t.Fatalf("counts: %v", err)
		}
		if _, err := f.facet.ValuesForGroup(ctx, g.ID); err != nil {
			t.Fatalf("values: %v", err)
		}
		if _, err := f.facet.GroupsForPage(ctx, "properties"); err != nil {
			t.Fatalf("groups: %v", err)
		}
	}
	if f.store.counts != 1 || f.store.valueLists != 1 || f.store.groupLists != 1 {
		t.Fatalf("expected one store read each, got counts=%d values=%d groups=%d",
			f.store.counts, f.store.valueLists, f.store.groupLists)
	}

	mustValues(t, f.tax, g.ID, "villa")

	vs, err := f.facet.ValuesForGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("values: %v", err)
	}
	if len(vs) != 2 || f.store.valueLists != 2 {
		t.Fatalf("write must invalidate cached values: %d values, %d reads", len(vs), f.store.valueLists)
	}
	vc, _ := f.facet.ValuesWithCounts(ctx, "properties")
	if len(vc) != 2 || f.store.counts != 2 {
		t.Fatalf("write must invalidate cached counts: %d values, %d reads", len(vc), f.store.counts)
	}
}

func TestFacetCache_CountsExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := mustGroup(t, f.tax, "type", false)
	mustValues(t, f.tax, g.ID, "house")

	_, _ = f.facet.ValuesWithCounts(ctx, "properties")
	f.mr.FastForward(31 * time.Second)
	_, _ = f.facet.ValuesWithCounts(ctx, "properties")
	if f.store.counts != 2 {
		t.Fatalf("counts must be re-read after the facet TTL, got %d reads", f.store.counts)
	}

	// the generation key itself never expires
	f.mr.FastForward(24 * time.Hour)
	if !f.mr.Exists("test:filters:gen") {
		t.Fatalf("generation key must not expire")
	}
}

func TestFacetService_Validation(t *testing.T) {
	svc := app.NewFacetService(memory.New(), nil, 0, 0)
	ctx := context.Background()

	if _, err := svc.GroupsForPage(ctx, "  "); validationFields(t, err)["page"] == "" {
		t.Fatalf("blank page must fail")
	}
	if _, err := svc.ValuesWithCounts(ctx, ""); validationFields(t, err)["page"] == "" {
		t.Fatalf("blank page must fail")
	}
	for _, q := range []domain.PropertySearch{{Limit: -1}, {Limit: 201}} {
		if _, err := svc.SearchProperties(ctx, q); validationFields(t, err)["limit"] == "" {
			t.Fatalf("limit %d must fail", q.Limit)
		}
	}
	if _, err := svc.SearchProperties(ctx, domain.PropertySearch{Offset: -1}); validationFields(t, err)["offset"] == "" {
		t.Fatalf("negative offset must fail")
	}

	page, err := svc.SearchProperties(ctx, domain.PropertySearch{})
	if err != nil || page.Total != 0 || page.IDs == nil {
		t.Fatalf("empty search: %+v %v", page, err)
	}
	vs, err := svc.ValuesForGroup(ctx, 12345)
	if err != nil || len(vs) != 0 {
		t.Fatalf("unknown group must yield no values: %+v %v", vs, err)
	}
}

func TestSearchProperties_Paging(t *testing.T) {
	st := memory.New()
	svc := app.NewFacetService(st, nil, 0, 0)
	for id := int64(1); id <= 25; id++ {
		st.PutProperty(id, true)
	}
	ctx := context.Background()

	first, err := svc.SearchProperties(ctx, domain.PropertySearch{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(first.IDs) != app.DefaultPageLimit || first.Total != 25 || first.IDs[0] != 25 {
		t.Fatalf("first page: %+v", first)
	}
	last, _ := svc.SearchProperties(ctx, domain.PropertySearch{Limit: 10, Offset: 20})
	if !reflect.DeepEqual(last.IDs, []int64{5, 4, 3, 2, 1}) {
		t.Fatalf("last page: %+v", last)
	}
}

func TestValuesWithCounts_UnknownPagesAddNoSeries(t *testing.T) {
	svc := app.NewFacetService(memory.New(), nil, time.Minute, time.Minute)
	ctx := context.Background()

	before := testutil.CollectAndCount(observability.FacetValues)
	for i := 0; i < 50; i++ {
		vc, err := svc.ValuesWithCounts(ctx, fmt.Sprintf("junk-%d", i))
		if err != nil || len(vc) != 0 {
			t.Fatalf("unknown page: %v %v", vc, err)
		}
	}
	if after := testutil.CollectAndCount(observability.FacetValues); after != before {
		t.Fatalf("unknown pages created gauge series: before=%d after=%d", before, after)
	}

	st := memory.New()
	tax := app.NewTaxonomyService(st, nil)
	g, err := tax.CreateGroup(ctx, domain.GroupInput{Page: "gauge-page", Name: "Type", Slug: "gauge_type"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := tax.BulkCreateValues(ctx, g.ID, []domain.ValueInput{{Value: "a"}, {Value: "b"}}); err != nil {
		t.Fatalf("create values: %v", err)
	}
	svc = app.NewFacetService(st, nil, time.Minute, time.Minute)
	if _, err := svc.ValuesWithCounts(ctx, "gauge-page"); err != nil {
		t.Fatalf("counts: %v", err)
	}
	if got := testutil.ToFloat64(observability.FacetValues.WithLabelValues("gauge-page")); got != 2 {
		t.Fatalf("gauge = %v, want 2", got)
	}
}
