package taxonomy_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dna_property_hub/internal/adapters/taxonomy"
)

const sample = `
groups:
  - page: properties
    name: Property Type
    slug: property_type
    values:
      - value: house
      - value: villa
        label: Villa
        color: "#00aa00"
  - page: properties
    name: Amenities
    slug: amenities
    is_multiple: true
    display_order: 2
    values:
      - value: pool
        metadata:
          icon_set: material
`

func TestParse(t *testing.T) {
	doc, err := taxonomy.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Groups) != 2 {
		t.Fatalf("want 2 groups, got %d", len(doc.Groups))
	}
	pt, am := doc.Groups[0], doc.Groups[1]
	if pt.Slug != "property_type" || len(pt.Values) != 2 || pt.Values[1].Label != "Villa" || *pt.Values[1].Color != "#00aa00" {
		t.Fatalf("unexpected first group: %+v", pt)
	}
	if am.IsMultiple == nil || !*am.IsMultiple || *am.DisplayOrder != 2 || am.Values[0].Metadata["icon_set"] != "material" {
		t.Fatalf("unexpected second group: %+v", am)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"no groups":    "groups: []",
		"unknown key":  "groups:\n  - page: p\n    name: n\n    slug: s\n    colour: red\n",
		"dup slug":     "groups:\n  - {page: p, name: a, slug: s}\n  - {page: p, name: b, slug: s}\n",
		"not yaml map": "- just\n- a list\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := taxonomy.Parse([]byte(src)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := taxonomy.Load(context.Background(), path, nil)
	if err != nil || len(doc.Groups) != 2 {
		t.Fatalf("load: %v %+v", err, doc)
	}
	if _, err := taxonomy.Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file must wrap ErrNotExist, got %v", err)
	}
}

func TestFetch_RetriesThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(sample))
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := taxonomy.Load(ctx, ts.URL+"/taxonomy.yaml", taxonomy.NewFetcher("secret", 100))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Groups) != 2 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 calls due to retries, got %d", hits)
	}
}

func TestFetch_TerminalStatuses(t *testing.T) {
	for status, want := range map[int]error{
		http.StatusNotFound:     taxonomy.ErrNotFound,
		http.StatusUnauthorized: taxonomy.ErrUnauthorized,
		http.StatusForbidden:    taxonomy.ErrForbidden,
	} {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) }))
		_, err := taxonomy.NewFetcher("", 100).Fetch(context.Background(), ts.URL)
		ts.Close()
		if !errors.Is(err, want) {
			t.Fatalf("status %d: want %v, got %v", status, want, err)
		}
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer ts.Close()
	_, err := taxonomy.NewFetcher("", 100).Fetch(context.Background(), ts.URL)
	if err == nil || !strings.Contains(err.Error(), "418") {
		t.Fatalf("unexpected error: %v", err)
	}
}
