// Package taxonomy reads taxonomy documents: a list of filter groups, each
// with its values, as YAML (or JSON, which YAML accepts) from disk or HTTP.
package taxonomy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dna_property_hub/internal/domain"
)

type Document struct {
	Groups []Group `yaml:"groups"`
}

type Group struct {
	domain.GroupInput `yaml:",inline"`
	Values            []domain.ValueInput `yaml:"values"`
}

// Parse decodes a document. Unknown keys are rejected so typos surface
// before anything is written.
func Parse(b []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, errors.New("taxonomy document is empty")
		}
		return Document{}, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(doc.Groups) == 0 {
		return Document{}, errors.New("taxonomy document has no groups")
	}
	seen := map[string]int{}
	for i, g := range doc.Groups {
		slug := strings.TrimSpace(g.Slug)
		if j, dup := seen[slug]; dup && slug != "" {
			return Document{}, fmt.Errorf("groups[%d]: slug %q already used by groups[%d]", i, slug, j)
		}
		seen[slug] = i
	}
	return doc, nil
}

// Load reads src, which is either a local path or an http(s) URL.
func Load(ctx context.Context, src string, f *Fetcher) (Document, error) {
	var (
		b   []byte
		err error
	)
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if f == nil {
			f = NewFetcher("", 0)
		}
		b, err = f.Fetch(ctx, src)
	} else {
		b, err = os.ReadFile(src)
	}
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", src, err)
	}
	return Parse(b)
}
