package app

import (
	"context"
	"fmt"
	"time"

	"dna_property_hub/internal/domain"
)

// Every taxonomy or association write bumps the generation, which orphans all
// cached reads at once without having to enumerate pages or group ids.
const generationKey = "filters:gen"

func generation(ctx context.Context, c domain.Cache) int64 {
	if c == nil {
		return 0
	}
	var g int64
	if ok, err := c.Get(ctx, generationKey, &g); err != nil || !ok {
		return 0
	}
	return g
}

func bumpGeneration(ctx context.Context, c domain.Cache) {
	if c == nil {
		return
	}
	_ = c.Set(ctx, generationKey, time.Now().UnixNano(), 0)
}

func groupsKey(gen int64, f domain.GroupFilter) string {
	return fmt.Sprintf("filters:%d:groups:%s:%t", gen, f.Page, f.IncludeInactive)
}

func valuesKey(gen, groupID int64) string {
	return fmt.Sprintf("filters:%d:values:%d", gen, groupID)
}

func facetsKey(gen int64, page string) string {
	return fmt.Sprintf("filters:%d:facets:%s", gen, page)
}
