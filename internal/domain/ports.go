package domain

import "context"

type TaxonomyRepository interface {
	// Groups
	CreateGroup(ctx context.Context, g FilterGroup) (FilterGroup, error)
	GetGroup(ctx context.Context, id int64) (FilterGroup, error)
	ListGroups(ctx context.Context, f GroupFilter) ([]FilterGroup, error)
	SlugTaken(ctx context.Context, slug string, exceptID int64) (bool, error)
	// UpdateGroup loads the row under lock, lets apply mutate it and writes it back
	// in the same transaction.
	UpdateGroup(ctx context.Context, id int64, apply func(*FilterGroup) error) (FilterGroup, error)
	DeleteGroup(ctx context.Context, id int64, cascade bool) error
	ReorderGroups(ctx context.Context, ids []int64) error

	// Values
	// CreateValues inserts every item or none. Items without DisplayOrder are
	// appended after the group's current last value.
	CreateValues(ctx context.Context, groupID int64, items []ValueInput) ([]FilterValue, error)
	GetValue(ctx context.Context, id int64) (FilterValue, error)
	// ListValues with activeOnly returns nothing for an inactive group.
	ListValues(ctx context.Context, groupID int64, activeOnly bool) ([]FilterValue, error)
	UpdateValue(ctx context.Context, id int64, apply func(*FilterValue) error) (FilterValue, error)
	DeleteValue(ctx context.Context, id int64, cascade bool) error
	ReorderValues(ctx context.Context, ids []int64) error
	SearchValues(ctx context.Context, q string, groupID *int64, limit int) ([]FilterValue, error)
}

// ValueRef is what the attach path needs to know about a selected value.
type ValueRef struct {
	ValueID       int64
	GroupID       int64
	GroupMultiple bool
	Active        bool // value and its group are both active
}

type AssociationRepository interface {
	// ReplacePropertyFilters swaps a property's selections in one transaction.
	// plan receives the refs of the requested values (unknown ids are absent)
	// and returns the refs to persist.
	ReplacePropertyFilters(ctx context.Context, propertyID int64, valueIDs []int64,
		plan func(refs []ValueRef) ([]ValueRef, error)) ([]PropertyFilter, error)
	PropertyFilters(ctx context.Context, propertyID int64) ([]PropertyFilter, error)
}

type FacetRepository interface {
	ListGroups(ctx context.Context, f GroupFilter) ([]FilterGroup, error)
	ListValues(ctx context.Context, groupID int64, activeOnly bool) ([]FilterValue, error)
	// ValuesWithCounts reads one consistent snapshot for every active group of page.
	ValuesWithCounts(ctx context.Context, page string) ([]ValueCount, error)
	SearchProperties(ctx context.Context, q PropertySearch) (PropertyPage, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
