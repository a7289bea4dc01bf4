package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"dna_property_hub/internal/domain"
)

// SinglePolicy decides what happens when a property is given more than one
// value of a group with is_multiple = false.
type SinglePolicy string

const (
	PolicyReject    SinglePolicy = "reject"
	PolicyOverwrite SinglePolicy = "overwrite" // last selected value wins
)

func ParseSinglePolicy(s string) (SinglePolicy, error) {
	switch p := SinglePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyReject, nil
	case PolicyReject, PolicyOverwrite:
		return p, nil
	default:
		return "", fmt.Errorf("unknown single value policy %q", s)
	}
}

// AttachmentService saves which filter values a property carries.
type AttachmentService struct {
	repo   domain.AssociationRepository
	cache  domain.Cache
	policy SinglePolicy
}

func NewAttachmentService(r domain.AssociationRepository, c domain.Cache, p SinglePolicy) *AttachmentService {
	if p == "" {
		p = PolicyReject
	}
	return &AttachmentService{repo: r, cache: c, policy: p}
}

// SetPropertyFilters replaces the property's selections with valueIDs.
func (s *AttachmentService) SetPropertyFilters(ctx context.Context, propertyID int64, valueIDs []int64) ([]domain.PropertyFilter, error) {
	if propertyID <= 0 {
		return nil, domain.Invalid("property_id", "must be a positive id")
	}
	ids := dedupe(valueIDs)
	out, err := s.repo.ReplacePropertyFilters(ctx, propertyID, ids, func(refs []domain.ValueRef) ([]domain.ValueRef, error) {
		return planSelections(ids, refs, s.policy)
	})
	if err != nil {
		return nil, err
	}
	bumpGeneration(ctx, s.cache)
	log.Info().Int64("property_id", propertyID).Int("values", len(out)).Msg("property filters saved")
	return out, nil
}

func (s *AttachmentService) PropertyFilters(ctx context.Context, propertyID int64) ([]domain.PropertyFilter, error) {
	return s.repo.PropertyFilters(ctx, propertyID)
}

// planSelections checks the requested ids against their refs and applies the
// multiplicity policy. The result keeps request order.
func planSelections(ids []int64, refs []domain.ValueRef, policy SinglePolicy) ([]domain.ValueRef, error) {
	byID := make(map[int64]domain.ValueRef, len(refs))
	for _, r := range refs {
		byID[r.ValueID] = r
	}

	v := domain.NewValidationError()
	kept := make([]domain.ValueRef, 0, len(ids))
	single := map[int64]int{} // group id -> index in kept
	for i, id := range ids {
		field := fmt.Sprintf("value_ids.%d", i)
		r, ok := byID[id]
		if !ok {
			v.Add(field, fmt.Sprintf("value %d does not exist", id))
			continue
		}
		if !r.Active {
			v.Add(field, fmt.Sprintf("value %d is inactive", id))
			continue
		}
		if r.GroupMultiple {
			kept = append(kept, r)
			continue
		}
		j, seen := single[r.GroupID]
		switch {
		case !seen:
			single[r.GroupID] = len(kept)
			kept = append(kept, r)
		case policy == PolicyOverwrite:
			kept[j] = r
		default:
			v.Add(field, fmt.Sprintf("group %d accepts a single value", r.GroupID))
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return kept, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
