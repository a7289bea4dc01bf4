package app

import (
	"context"
	"strings"
	"time"

	"dna_property_hub/internal/adapters/observability"
	"dna_property_hub/internal/domain"
)

const (
	DefaultPageLimit = 20
	maxPageLimit     = 200
)

// FacetService is the read path: taxonomy lookups, facet counts and filtered listings.
type FacetService struct {
	repo     domain.FacetRepository
	cache    domain.Cache
	cacheTTL time.Duration
	facetTTL time.Duration
}

func NewFacetService(r domain.FacetRepository, c domain.Cache, ttl, facetTTL time.Duration) *FacetService {
	return &FacetService{repo: r, cache: c, cacheTTL: ttl, facetTTL: facetTTL}
}

// GroupsForPage returns the active groups of page ordered by display_order, id.
func (s *FacetService) GroupsForPage(ctx context.Context, page string) ([]domain.FilterGroup, error) {
	page = strings.TrimSpace(page)
	if page == "" {
		return nil, domain.Invalid("page", "is required")
	}
	return s.ListGroups(ctx, domain.GroupFilter{Page: page})
}

func (s *FacetService) ListGroups(ctx context.Context, f domain.GroupFilter) ([]domain.FilterGroup, error) {
	key := groupsKey(generation(ctx, s.cache), f)
	var out []domain.FilterGroup
	if s.getCached(ctx, key, &out, s.cacheTTL) {
		return out, nil
	}
	gs, err := s.repo.ListGroups(ctx, f)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, gs, s.cacheTTL)
	return gs, nil
}

// ValuesForGroup returns the active values of a group ordered by display_order, id.
func (s *FacetService) ValuesForGroup(ctx context.Context, groupID int64) ([]domain.FilterValue, error) {
	key := valuesKey(generation(ctx, s.cache), groupID)
	var out []domain.FilterValue
	if s.getCached(ctx, key, &out, s.cacheTTL) {
		return out, nil
	}
	vs, err := s.repo.ListValues(ctx, groupID, true)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, key, vs, s.cacheTTL)
	return vs, nil
}

// ValuesWithCounts returns every active value of the page's active groups with the
// number of visible properties carrying it. Counts ignore any caller selection.
func (s *FacetService) ValuesWithCounts(ctx context.Context, page string) ([]domain.ValueCount, error) {
	page = strings.TrimSpace(page)
	if page == "" {
		return nil, domain.Invalid("page", "is required")
	}
	key := facetsKey(generation(ctx, s.cache), page)
	var out []domain.ValueCount
	if s.getCached(ctx, key, &out, s.facetTTL) {
		return out, nil
	}
	vc, err := s.repo.ValuesWithCounts(ctx, page)
	if err != nil {
		return nil, err
	}
	// page comes from the caller; only pages that own values get a series
	if len(vc) > 0 {
		observability.FacetValues.WithLabelValues(page).Set(float64(len(vc)))
	} else {
		observability.FacetValues.DeleteLabelValues(page)
	}
	s.setCached(ctx, key, vc, s.facetTTL)
	return vc, nil
}

// SearchProperties lists visible property ids matching the selections:
// OR within a group, AND across groups.
func (s *FacetService) SearchProperties(ctx context.Context, q domain.PropertySearch) (domain.PropertyPage, error) {
	switch {
	case q.Limit == 0:
		q.Limit = DefaultPageLimit
	case q.Limit < 0 || q.Limit > maxPageLimit:
		return domain.PropertyPage{}, domain.Invalid("limit", "must be between 1 and 200")
	}
	if q.Offset < 0 {
		return domain.PropertyPage{}, domain.Invalid("offset", "must not be negative")
	}
	return s.repo.SearchProperties(ctx, q)
}

func (s *FacetService) getCached(ctx context.Context, key string, dst any, ttl time.Duration) bool {
	if s.cache == nil || ttl <= 0 {
		return false
	}
	ok, _ := s.cache.Get(ctx, key, dst)
	return ok
}

func (s *FacetService) setCached(ctx context.Context, key string, v any, ttl time.Duration) {
	if s.cache == nil || ttl <= 0 {
		return
	}
	_ = s.cache.Set(ctx, key, v, int(ttl.Seconds()))
}
