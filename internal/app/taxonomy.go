package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"dna_property_hub/internal/domain"
)

const defaultSearchLimit = 50

// TaxonomyService is the write path over filter groups and values.
type TaxonomyService struct {
	repo  domain.TaxonomyRepository
	cache domain.Cache
}

func NewTaxonomyService(r domain.TaxonomyRepository, c domain.Cache) *TaxonomyService {
	return &TaxonomyService{repo: r, cache: c}
}

// ---- groups ----

func (s *TaxonomyService) CreateGroup(ctx context.Context, in domain.GroupInput) (domain.FilterGroup, error) {
	g, v := buildGroup(in)
	if err := v.OrNil(); err != nil {
		return domain.FilterGroup{}, err
	}
	taken, err := s.repo.SlugTaken(ctx, g.Slug, 0)
	if err != nil {
		return domain.FilterGroup{}, err
	}
	if taken {
		return domain.FilterGroup{}, domain.Invalid("slug", "has already been taken")
	}

	out, err := s.repo.CreateGroup(ctx, g)
	if err != nil {
		return domain.FilterGroup{}, err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("group_id", out.ID).Str("slug", out.Slug).Str("page", out.Page).Msg("filter group created")
	return out, nil
}

func (s *TaxonomyService) GetGroup(ctx context.Context, id int64) (domain.FilterGroup, error) {
	return s.repo.GetGroup(ctx, id)
}

func (s *TaxonomyService) ListGroups(ctx context.Context, f domain.GroupFilter) ([]domain.FilterGroup, error) {
	f.Page = strings.TrimSpace(f.Page)
	return s.repo.ListGroups(ctx, f)
}

func (s *TaxonomyService) UpdateGroup(ctx context.Context, id int64, p domain.GroupPatch) (domain.FilterGroup, error) {
	if err := checkGroupPatch(p).OrNil(); err != nil {
		return domain.FilterGroup{}, err
	}
	if p.Slug != nil {
		taken, err := s.repo.SlugTaken(ctx, strings.TrimSpace(*p.Slug), id)
		if err != nil {
			return domain.FilterGroup{}, err
		}
		if taken {
			return domain.FilterGroup{}, domain.Invalid("slug", "has already been taken")
		}
	}

	out, err := s.repo.UpdateGroup(ctx, id, func(g *domain.FilterGroup) error {
		applyGroupPatch(g, p)
		return nil
	})
	if err != nil {
		return domain.FilterGroup{}, err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("group_id", id).Msg("filter group updated")
	return out, nil
}

func (s *TaxonomyService) DeleteGroup(ctx context.Context, id int64, cascade bool) error {
	if err := s.repo.DeleteGroup(ctx, id, cascade); err != nil {
		return err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("group_id", id).Bool("cascade", cascade).Msg("filter group deleted")
	return nil
}

func (s *TaxonomyService) ReorderGroups(ctx context.Context, ids []int64) error {
	if err := checkOrder(ids); err != nil {
		return err
	}
	if err := s.repo.ReorderGroups(ctx, ids); err != nil {
		return err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int("count", len(ids)).Msg("filter groups reordered")
	return nil
}

// ---- values ----

func (s *TaxonomyService) CreateValue(ctx context.Context, in domain.ValueInput) (domain.FilterValue, error) {
	v := domain.NewValidationError()
	item := normalizeValue(in, "", v)
	if in.FilterGroupID <= 0 {
		v.Add("filter_group_id", "is required")
	}
	if err := v.OrNil(); err != nil {
		return domain.FilterValue{}, err
	}

	out, err := s.repo.CreateValues(ctx, in.FilterGroupID, []domain.ValueInput{item})
	if err != nil {
		return domain.FilterValue{}, unprefixItem(err, 0)
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("value_id", out[0].ID).Int64("group_id", in.FilterGroupID).Msg("filter value created")
	return out[0], nil
}

// BulkCreateValues creates all items or none; the first invalid item aborts the batch.
func (s *TaxonomyService) BulkCreateValues(ctx context.Context, groupID int64, in []domain.ValueInput) ([]domain.FilterValue, error) {
	if groupID <= 0 {
		return nil, domain.Invalid("filter_group_id", "is required")
	}
	if len(in) == 0 {
		return nil, domain.Invalid("values", "must contain at least one value")
	}

	items := make([]domain.ValueInput, 0, len(in))
	values := make(map[string]int, len(in))
	slugs := make(map[string]int, len(in))
	for i, raw := range in {
		prefix := fmt.Sprintf("values.%d.", i)
		v := domain.NewValidationError()
		item := normalizeValue(raw, prefix, v)
		item.FilterGroupID = groupID
		if j, dup := values[strings.ToLower(item.Value)]; dup && item.Value != "" {
			v.Add(prefix+"value", fmt.Sprintf("duplicates item %d", j))
		}
		if item.Slug != nil {
			if j, dup := slugs[*item.Slug]; dup {
				v.Add(prefix+"slug", fmt.Sprintf("duplicates item %d", j))
			}
			slugs[*item.Slug] = i
		}
		if err := v.OrNil(); err != nil {
			return nil, err
		}
		values[strings.ToLower(item.Value)] = i
		items = append(items, item)
	}

	out, err := s.repo.CreateValues(ctx, groupID, items)
	if err != nil {
		return nil, err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("group_id", groupID).Int("count", len(out)).Msg("filter values bulk created")
	return out, nil
}

func (s *TaxonomyService) GetValue(ctx context.Context, id int64) (domain.FilterValue, error) {
	return s.repo.GetValue(ctx, id)
}

func (s *TaxonomyService) UpdateValue(ctx context.Context, id int64, p domain.ValuePatch) (domain.FilterValue, error) {
	if err := checkValuePatch(p).OrNil(); err != nil {
		return domain.FilterValue{}, err
	}
	out, err := s.repo.UpdateValue(ctx, id, func(fv *domain.FilterValue) error {
		applyValuePatch(fv, p)
		return nil
	})
	if err != nil {
		return domain.FilterValue{}, err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("value_id", id).Msg("filter value updated")
	return out, nil
}

func (s *TaxonomyService) DeleteValue(ctx context.Context, id int64, cascade bool) error {
	if err := s.repo.DeleteValue(ctx, id, cascade); err != nil {
		return err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("value_id", id).Bool("cascade", cascade).Msg("filter value deleted")
	return nil
}

func (s *TaxonomyService) ReorderValues(ctx context.Context, ids []int64) error {
	if err := checkOrder(ids); err != nil {
		return err
	}
	if err := s.repo.ReorderValues(ctx, ids); err != nil {
		return err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int("count", len(ids)).Msg("filter values reordered")
	return nil
}

// SearchValues matches q case-insensitively against value and label of active values.
func (s *TaxonomyService) SearchValues(ctx context.Context, q string, groupID *int64) ([]domain.FilterValue, error) {
	if groupID != nil && *groupID <= 0 {
		return nil, domain.Invalid("filter_group_id", "must be a positive id")
	}
	return s.repo.SearchValues(ctx, strings.TrimSpace(q), groupID, defaultSearchLimit)
}

// unprefixItem rewrites "values.<i>.field" keys to "field" for single-item creates.
func unprefixItem(err error, i int) error {
	var v *domain.ValidationError
	if !errors.As(err, &v) {
		return err
	}
	prefix := fmt.Sprintf("values.%d.", i)
	out := domain.NewValidationError()
	for k, msg := range v.Fields {
		out.Add(strings.TrimPrefix(k, prefix), msg)
	}
	return out
}
