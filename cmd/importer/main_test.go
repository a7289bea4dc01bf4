package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dna_property_hub/internal/adapters/taxonomy"
	"dna_property_hub/internal/app"
	"dna_property_hub/internal/domain"
	"dna_property_hub/internal/shared"
	"dna_property_hub/internal/storage/memory"
)

const doc = `
groups:
  - {page: properties, name: Property Type, slug: property_type, values: [{value: house}, {value: villa}]}
  - {page: properties, name: Status, slug: status, values: [{value: for_sale}, {value: sold}]}
  - {page: properties, name: Broken, slug: broken, values: [{value: a}, {value: b, color: nope}]}
  - {page: properties, name: Amenities, slug: amenities, is_multiple: true}
`

func TestImportDocument(t *testing.T) {
	parsed, err := taxonomy.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st := memory.New()
	svc := app.NewTaxonomyService(st, nil)
	ctx := context.Background()

	rep, err := importDocument(ctx, svc, parsed, 3, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	// the broken group is created but its values are rejected as a batch
	if rep.created != 3 || rep.failed != 1 || rep.skipped != 0 {
		t.Fatalf("report = %+v", rep)
	}

	groups, _ := st.ListGroups(ctx, domain.GroupFilter{IncludeInactive: true})
	bySlug := map[string]domain.FilterGroup{}
	for _, g := range groups {
		bySlug[g.Slug] = g
	}
	if vs, _ := st.ListValues(ctx, bySlug["property_type"].ID, false); len(vs) != 2 {
		t.Fatalf("property_type values = %d", len(vs))
	}
	if vs, _ := st.ListValues(ctx, bySlug["broken"].ID, false); len(vs) != 0 {
		t.Fatalf("a rejected batch must leave no values, got %d", len(vs))
	}
	if !bySlug["amenities"].IsMultiple {
		t.Fatalf("is_multiple not carried over")
	}

	again, err := importDocument(ctx, svc, parsed, 2, true)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.skipped != 4 || again.created != 0 || again.failed != 0 {
		t.Fatalf("re-import with skip-existing = %+v", again)
	}

	dup, _ := importDocument(ctx, svc, parsed, 1, false)
	if dup.failed != 4 {
		t.Fatalf("re-import without skip must fail every group, got %+v", dup)
	}
}

func TestRunLoad_DryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := runLoad(context.Background(), shared.Config{}, loadOptions{file: path, workers: 2, dryRun: true})
	if err == nil {
		t.Fatalf("dry run must report the broken group")
	}

	ok := filepath.Join(t.TempDir(), "ok.yaml")
	if err := os.WriteFile(ok, []byte("groups:\n  - {page: p, name: A, slug: a, values: [{value: x}]}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := runLoad(context.Background(), shared.Config{}, loadOptions{file: ok, workers: 1, dryRun: true}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
}

func TestRootCmd_RequiresFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"load"})
	if err := root.Execute(); err == nil {
		t.Fatalf("load without --file must fail")
	}
}
