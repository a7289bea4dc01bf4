package domain

import "time"

type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeInteger DataType = "integer"
	DataTypeDecimal DataType = "decimal"
	DataTypeBoolean DataType = "boolean"
)

func (t DataType) Valid() bool {
	switch t {
	case DataTypeString, DataTypeInteger, DataTypeDecimal, DataTypeBoolean:
		return true
	}
	return false
}

// FilterGroup is a page-scoped attribute taxonomy node ("Property Type", "Amenities").
type FilterGroup struct {
	ID           int64     `json:"id"`
	Page         string    `json:"page"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	DataType     DataType  `json:"data_type"`
	IsMultiple   bool      `json:"is_multiple"`
	IsRequired   bool      `json:"is_required"`
	IsActive     bool      `json:"is_active"`
	DisplayOrder int       `json:"display_order"`
	Description  *string   `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FilterValue is one permissible value within a group.
type FilterValue struct {
	ID            int64          `json:"id"`
	FilterGroupID int64          `json:"filter_group_id"`
	Value         string         `json:"value"`
	Label         string         `json:"label"`
	Slug          *string        `json:"slug"`
	Color         *string        `json:"color"`
	Icon          *string        `json:"icon"`
	Description   *string        `json:"description"`
	DisplayOrder  int            `json:"display_order"`
	IsActive      bool           `json:"is_active"`
	Metadata      map[string]any `json:"metadata"` // opaque to the engine
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// PropertyFilter links one property to one value it carries.
type PropertyFilter struct {
	ID            int64 `json:"id"`
	PropertyID    int64 `json:"property_id"`
	FilterGroupID int64 `json:"filter_group_id"`
	FilterValueID int64 `json:"filter_value_id"`
}

// ValueCount is a facet: a value plus the number of visible properties carrying it.
type ValueCount struct {
	FilterValue
	Count int `json:"count"`
}

// ---- write inputs ----

type GroupInput struct {
	Page         string   `json:"page" yaml:"page" validate:"required,max=255"`
	Name         string   `json:"name" yaml:"name" validate:"required,max=255"`
	Slug         string   `json:"slug" yaml:"slug" validate:"required,max=255,slug"`
	DataType     DataType `json:"data_type" yaml:"data_type" validate:"oneof=string integer decimal boolean"`
	IsMultiple   *bool    `json:"is_multiple" yaml:"is_multiple"`
	IsRequired   *bool    `json:"is_required" yaml:"is_required"`
	IsActive     *bool    `json:"is_active" yaml:"is_active"`
	DisplayOrder *int     `json:"display_order" yaml:"display_order" validate:"omitempty,gte=0"`
	Description  *string  `json:"description" yaml:"description"`
}

// GroupPatch carries a partial update; nil fields are left untouched.
type GroupPatch struct {
	Page         *string   `json:"page" validate:"omitempty,min=1,max=255"`
	Name         *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Slug         *string   `json:"slug" validate:"omitempty,min=1,max=255,slug"`
	DataType     *DataType `json:"data_type" validate:"omitempty,oneof=string integer decimal boolean"`
	IsMultiple   *bool     `json:"is_multiple"`
	IsRequired   *bool     `json:"is_required"`
	IsActive     *bool     `json:"is_active"`
	DisplayOrder *int      `json:"display_order" validate:"omitempty,gte=0"`
	Description  *string   `json:"description"`
}

type ValueInput struct {
	FilterGroupID int64          `json:"filter_group_id" yaml:"-"`
	Value         string         `json:"value" yaml:"value" validate:"required,max=255"`
	Label         string         `json:"label" yaml:"label" validate:"max=255"`
	Slug          *string        `json:"slug" yaml:"slug" validate:"omitempty,max=255,slug"`
	Color         *string        `json:"color" yaml:"color" validate:"omitempty,rgbhex"`
	Icon          *string        `json:"icon" yaml:"icon" validate:"omitempty,max=255"`
	Description   *string        `json:"description" yaml:"description"`
	DisplayOrder  *int           `json:"display_order" yaml:"display_order" validate:"omitempty,gte=0"`
	IsActive      *bool          `json:"is_active" yaml:"is_active"`
	Metadata      map[string]any `json:"metadata" yaml:"metadata"`
}

type ValuePatch struct {
	FilterGroupID *int64         `json:"filter_group_id" validate:"omitempty,gt=0"`
	Value         *string        `json:"value" validate:"omitempty,min=1,max=255"`
	Label         *string        `json:"label" validate:"omitempty,min=1,max=255"`
	Slug          *string        `json:"slug" validate:"omitempty,max=255,slug"`
	Color         *string        `json:"color" validate:"omitempty,rgbhex"`
	Icon          *string        `json:"icon" validate:"omitempty,max=255"`
	Description   *string        `json:"description"`
	DisplayOrder  *int           `json:"display_order" validate:"omitempty,gte=0"`
	IsActive      *bool          `json:"is_active"`
	Metadata      map[string]any `json:"metadata"`
}

// ---- read queries ----

type GroupFilter struct {
	Page            string // "" = every page
	IncludeInactive bool
}

// Selections maps a group id to the value ids chosen in it.
type Selections map[int64][]int64

type PropertySearch struct {
	Selections Selections
	Limit      int
	Offset     int
}

type PropertyPage struct {
	IDs   []int64 `json:"ids"`
	Total int     `json:"total"`
}
