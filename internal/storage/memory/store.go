// Package memory is an in-process implementation of the filter store ports.
// It mirrors the MySQL repository's semantics and backs the service and
// handler tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dna_property_hub/internal/domain"
)

type Store struct {
	mu         sync.Mutex
	nextID     int64
	groups     map[int64]domain.FilterGroup
	values     map[int64]domain.FilterValue
	assocs     map[int64]domain.PropertyFilter
	properties map[int64]bool // id -> visible
}

func New() *Store {
	return &Store{
		groups:     map[int64]domain.FilterGroup{},
		values:     map[int64]domain.FilterValue{},
		assocs:     map[int64]domain.PropertyFilter{},
		properties: map[int64]bool{},
	}
}

// PutProperty registers a domain record and whether it is currently visible.
func (s *Store) PutProperty(id int64, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[id] = visible
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func sortGroups(gs []domain.FilterGroup) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].DisplayOrder != gs[j].DisplayOrder {
			return gs[i].DisplayOrder < gs[j].DisplayOrder
		}
		return gs[i].ID < gs[j].ID
	})
}

func sortValues(vs []domain.FilterValue) {
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].DisplayOrder != vs[j].DisplayOrder {
			return vs[i].DisplayOrder < vs[j].DisplayOrder
		}
		return vs[i].ID < vs[j].ID
	})
}

// ---- groups ----

func (s *Store) CreateGroup(_ context.Context, g domain.FilterGroup) (domain.FilterGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slugTaken(g.Slug, 0) {
		return domain.FilterGroup{}, domain.Invalid("slug", "has already been taken")
	}
	g.ID = s.id()
	g.CreatedAt, g.UpdatedAt = time.Now().UTC(), time.Now().UTC()
	s.groups[g.ID] = g
	return g, nil
}

func (s *Store) GetGroup(_ context.Context, id int64) (domain.FilterGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.FilterGroup{}, &domain.NotFoundError{Entity: "filter group", ID: id}
	}
	return g, nil
}

func (s *Store) ListGroups(_ context.Context, f domain.GroupFilter) ([]domain.FilterGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.FilterGroup{}
	for _, g := range s.groups {
		if f.Page != "" && g.Page != f.Page {
			continue
		}
		if !f.IncludeInactive && !g.IsActive {
			continue
		}
		out = append(out, g)
	}
	sortGroups(out)
	return out, nil
}

func (s *Store) slugTaken(slug string, except int64) bool {
	for _, g := range s.groups {
		if g.Slug == slug && g.ID != except {
			return true
		}
	}
	return false
}

func (s *Store) SlugTaken(_ context.Context, slug string, exceptID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slugTaken(slug, exceptID), nil
}

func (s *Store) UpdateGroup(_ context.Context, id int64, apply func(*domain.FilterGroup) error) (domain.FilterGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.FilterGroup{}, &domain.NotFoundError{Entity: "filter group", ID: id}
	}
	was := g.IsMultiple
	if err := apply(&g); err != nil {
		return domain.FilterGroup{}, err
	}
	if was && !g.IsMultiple {
		perProp := map[int64]int{}
		for _, a := range s.assocs {
			if a.FilterGroupID == id {
				perProp[a.PropertyID]++
				if perProp[a.PropertyID] > 1 {
					return domain.FilterGroup{}, domain.Conflict("filter group %d cannot become single-valued", id)
				}
			}
		}
	}
	if s.slugTaken(g.Slug, id) {
		return domain.FilterGroup{}, domain.Invalid("slug", "has already been taken")
	}
	g.UpdatedAt = time.Now().UTC()
	s.groups[id] = g
	return g, nil
}

func (s *Store) DeleteGroup(_ context.Context, id int64, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return &domain.NotFoundError{Entity: "filter group", ID: id}
	}
	var values, assocs int
	for _, v := range s.values {
		if v.FilterGroupID == id {
			values++
		}
	}
	for _, a := range s.assocs {
		if a.FilterGroupID == id {
			assocs++
		}
	}
	if !cascade && (values > 0 || assocs > 0) {
		return domain.Conflict("filter group %d still has %d values and %d property associations", id, values, assocs)
	}
	for k, a := range s.assocs {
		if a.FilterGroupID == id {
			delete(s.assocs, k)
		}
	}
	for k, v := range s.values {
		if v.FilterGroupID == id {
			delete(s.values, k)
		}
	}
	delete(s.groups, id)
	return nil
}

func (s *Store) ReorderGroups(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.groups[id]; !ok {
			return domain.Invalid("order", fmt.Sprintf("unknown filter group ids: [%d]", id))
		}
	}
	for i, id := range ids {
		g := s.groups[id]
		g.DisplayOrder = i
		s.groups[id] = g
	}
	return nil
}

// ---- values ----

func (s *Store) CreateValues(_ context.Context, groupID int64, items []domain.ValueInput) ([]domain.FilterValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, domain.Invalid("filter_group_id", "does not exist")
	}
	if !g.IsActive {
		return nil, domain.Invalid("filter_group_id", "group is inactive")
	}

	next := 0
	for _, v := range s.values {
		if v.FilterGroupID != groupID {
			continue
		}
		if v.DisplayOrder >= next {
			next = v.DisplayOrder + 1
		}
	}
	for i, it := range items {
		for _, v := range s.values {
			if v.FilterGroupID != groupID {
				continue
			}
			if strings.EqualFold(v.Value, it.Value) {
				return nil, domain.Invalid(fmt.Sprintf("values.%d.value", i), "has already been taken in this group")
			}
			if it.Slug != nil && v.Slug != nil && *it.Slug == *v.Slug {
				return nil, domain.Invalid(fmt.Sprintf("values.%d.slug", i), "has already been taken in this group")
			}
		}
	}

	out := make([]domain.FilterValue, 0, len(items))
	for _, it := range items {
		order := next
		if it.DisplayOrder != nil {
			order = *it.DisplayOrder
		}
		if order >= next {
			next = order + 1
		}
		v := domain.FilterValue{
			ID:            s.id(),
			FilterGroupID: groupID,
			Value:         it.Value,
			Label:         it.Label,
			Slug:          it.Slug,
			Color:         it.Color,
			Icon:          it.Icon,
			Description:   it.Description,
			DisplayOrder:  order,
			IsActive:      it.IsActive == nil || *it.IsActive,
			Metadata:      cloneMeta(it.Metadata),
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
		s.values[v.ID] = v
		out = append(out, cloneValue(v))
	}
	return out, nil
}

func (s *Store) GetValue(_ context.Context, id int64) (domain.FilterValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	if !ok {
		return domain.FilterValue{}, &domain.NotFoundError{Entity: "filter value", ID: id}
	}
	return cloneValue(v), nil
}

func (s *Store) ListValues(_ context.Context, groupID int64, activeOnly bool) ([]domain.FilterValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listValues(groupID, activeOnly), nil
}

func (s *Store) listValues(groupID int64, activeOnly bool) []domain.FilterValue {
	out := []domain.FilterValue{}
	if activeOnly && !s.groups[groupID].IsActive {
		return out
	}
	for _, v := range s.values {
		if v.FilterGroupID == groupID && (!activeOnly || v.IsActive) {
			out = append(out, cloneValue(v))
		}
	}
	sortValues(out)
	return out
}

func (s *Store) UpdateValue(_ context.Context, id int64, apply func(*domain.FilterValue) error) (domain.FilterValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	if !ok {
		return domain.FilterValue{}, &domain.NotFoundError{Entity: "filter value", ID: id}
	}
	v = cloneValue(v)
	oldGroup := v.FilterGroupID
	if err := apply(&v); err != nil {
		return domain.FilterValue{}, err
	}
	if v.FilterGroupID != oldGroup {
		g, ok := s.groups[v.FilterGroupID]
		if !ok {
			return domain.FilterValue{}, domain.Invalid("filter_group_id", "does not exist")
		}
		if !g.IsActive {
			return domain.FilterValue{}, domain.Invalid("filter_group_id", "group is inactive")
		}
		if s.valueInUse(id) > 0 {
			return domain.FilterValue{}, domain.Conflict("filter value %d is attached to properties and cannot move to another group", id)
		}
	}
	for _, o := range s.values {
		if o.ID == id || o.FilterGroupID != v.FilterGroupID {
			continue
		}
		if strings.EqualFold(o.Value, v.Value) {
			return domain.FilterValue{}, domain.Invalid("value", "has already been taken in this group")
		}
		if o.Slug != nil && v.Slug != nil && *o.Slug == *v.Slug {
			return domain.FilterValue{}, domain.Invalid("slug", "has already been taken in this group")
		}
	}
	v.UpdatedAt = time.Now().UTC()
	v.Metadata = cloneMeta(v.Metadata)
	s.values[id] = v
	return cloneValue(v), nil
}

func (s *Store) valueInUse(id int64) int {
	n := 0
	for _, a := range s.assocs {
		if a.FilterValueID == id {
			n++
		}
	}
	return n
}

func (s *Store) DeleteValue(_ context.Context, id int64, cascade bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[id]; !ok {
		return &domain.NotFoundError{Entity: "filter value", ID: id}
	}
	if n := s.valueInUse(id); n > 0 && !cascade {
		return domain.Conflict("filter value %d is attached to %d properties", id, n)
	}
	for k, a := range s.assocs {
		if a.FilterValueID == id {
			delete(s.assocs, k)
		}
	}
	delete(s.values, id)
	return nil
}

func (s *Store) ReorderValues(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var miss []int64
	for _, id := range ids {
		if _, ok := s.values[id]; !ok {
			miss = append(miss, id)
		}
	}
	if len(miss) > 0 {
		return domain.Invalid("order", fmt.Sprintf("unknown filter value ids: %v", miss))
	}
	for i, id := range ids {
		v := s.values[id]
		v.DisplayOrder = i
		s.values[id] = v
	}
	return nil
}

func (s *Store) SearchValues(_ context.Context, q string, groupID *int64, limit int) ([]domain.FilterValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q = strings.ToLower(q)
	out := []domain.FilterValue{}
	for _, v := range s.values {
		if !v.IsActive || (groupID != nil && v.FilterGroupID != *groupID) {
			continue
		}
		if strings.Contains(strings.ToLower(v.Value), q) || strings.Contains(strings.ToLower(v.Label), q) {
			out = append(out, cloneValue(v))
		}
	}
	sortValues(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- associations ----

func (s *Store) ReplacePropertyFilters(_ context.Context, propertyID int64, valueIDs []int64,
	plan func(refs []domain.ValueRef) ([]domain.ValueRef, error)) ([]domain.PropertyFilter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.properties[propertyID]; !ok {
		return nil, &domain.NotFoundError{Entity: "property", ID: propertyID}
	}
	var refs []domain.ValueRef
	for _, id := range valueIDs {
		v, ok := s.values[id]
		if !ok {
			continue
		}
		g := s.groups[v.FilterGroupID]
		refs = append(refs, domain.ValueRef{ValueID: id, GroupID: g.ID, GroupMultiple: g.IsMultiple, Active: v.IsActive && g.IsActive})
	}
	keep, err := plan(refs)
	if err != nil {
		return nil, err
	}
	for k, a := range s.assocs {
		if a.PropertyID == propertyID {
			delete(s.assocs, k)
		}
	}
	for _, r := range keep {
		a := domain.PropertyFilter{ID: s.id(), PropertyID: propertyID, FilterGroupID: r.GroupID, FilterValueID: r.ValueID}
		s.assocs[a.ID] = a
	}
	return s.propertyFilters(propertyID), nil
}

func (s *Store) PropertyFilters(_ context.Context, propertyID int64) ([]domain.PropertyFilter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propertyFilters(propertyID), nil
}

func (s *Store) propertyFilters(propertyID int64) []domain.PropertyFilter {
	out := []domain.PropertyFilter{}
	for _, a := range s.assocs {
		if a.PropertyID == propertyID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- facets ----

func (s *Store) ValuesWithCounts(_ context.Context, page string) ([]domain.ValueCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var groups []domain.FilterGroup
	for _, g := range s.groups {
		if g.Page == page && g.IsActive {
			groups = append(groups, g)
		}
	}
	sortGroups(groups)

	out := []domain.ValueCount{}
	for _, g := range groups {
		for _, v := range s.listValues(g.ID, true) {
			n := 0
			for _, a := range s.assocs {
				if a.FilterValueID == v.ID && s.properties[a.PropertyID] {
					n++
				}
			}
			out = append(out, domain.ValueCount{FilterValue: v, Count: n})
		}
	}
	return out, nil
}

func (s *Store) SearchProperties(_ context.Context, q domain.PropertySearch) (domain.PropertyPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// resolve selections the same way the SQL store does
	conds := map[int64]map[int64]bool{}
	for gid, vids := range q.Selections {
		g, ok := s.groups[gid]
		if !ok || !g.IsActive {
			continue
		}
		for _, vid := range vids {
			v, ok := s.values[vid]
			if !ok || !v.IsActive || v.FilterGroupID != gid {
				continue
			}
			if conds[gid] == nil {
				conds[gid] = map[int64]bool{}
			}
			conds[gid][vid] = true
		}
	}

	carried := map[int64]map[int64]bool{}
	for _, a := range s.assocs {
		if carried[a.PropertyID] == nil {
			carried[a.PropertyID] = map[int64]bool{}
		}
		carried[a.PropertyID][a.FilterValueID] = true
	}

	var ids []int64
	for pid, visible := range s.properties {
		if !visible {
			continue
		}
		match := true
		for _, want := range conds {
			hit := false
			for vid := range want {
				if carried[pid][vid] {
					hit = true
					break
				}
			}
			if !hit {
				match = false
				break
			}
		}
		if match {
			ids = append(ids, pid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	page := domain.PropertyPage{IDs: []int64{}, Total: len(ids)}
	if q.Offset < len(ids) {
		end := q.Offset + q.Limit
		if end > len(ids) {
			end = len(ids)
		}
		page.IDs = append(page.IDs, ids[q.Offset:end]...)
	}
	return page, nil
}

// cloneValue detaches v from the store the way a SQL round trip would.
func cloneValue(v domain.FilterValue) domain.FilterValue {
	v.Slug = cloneStr(v.Slug)
	v.Color = cloneStr(v.Color)
	v.Icon = cloneStr(v.Icon)
	v.Description = cloneStr(v.Description)
	v.Metadata = cloneMeta(v.Metadata)
	return v
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMeta(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneAny(e)
		}
		return out
	}
	return v
}
