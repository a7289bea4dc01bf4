package app

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"dna_property_hub/internal/domain"
)

var (
	slugRe  = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)
	colorRe = regexp.MustCompile(`^#?[0-9A-Fa-f]{6}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("rgbhex", func(fl validator.FieldLevel) bool {
		return colorRe.MatchString(fl.Field().String())
	})
	return v
}

// check runs the struct rules of in and records failures under prefix.
func check(v *domain.ValidationError, prefix string, in any) {
	err := validate.Struct(in)
	if err == nil {
		return
	}
	fes, ok := err.(validator.ValidationErrors)
	if !ok {
		v.Add(strings.TrimSuffix(prefix, "."), err.Error())
		return
	}
	for _, fe := range fes {
		v.Add(prefix+fe.Field(), fieldMessage(fe))
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return "is required"
		}
		return "must be at least " + fe.Param()
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return "must not be negative"
	case "gt":
		return "must be a positive id"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "slug":
		return "may contain only lowercase letters, digits, '-' and '_'"
	case "rgbhex":
		return "must be a 6-digit hex color"
	}
	return "is invalid"
}

func ptr[T any](v T) *T { return &v }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// trimOpt trims an optional string and collapses "" to nil.
func trimOpt(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// trimPtr trims a present string but keeps "" so the rules can reject it.
func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	return ptr(strings.TrimSpace(*p))
}

// buildGroup validates a create request and fills in defaults.
func buildGroup(in domain.GroupInput) (domain.FilterGroup, *domain.ValidationError) {
	norm := domain.GroupInput{
		Page:         strings.TrimSpace(in.Page),
		Name:         strings.TrimSpace(in.Name),
		Slug:         strings.TrimSpace(in.Slug),
		DataType:     domain.DataType(strings.ToLower(strings.TrimSpace(string(in.DataType)))),
		DisplayOrder: in.DisplayOrder,
		Description:  trimOpt(in.Description),
	}
	if norm.DataType == "" {
		norm.DataType = domain.DataTypeString
	}
	v := domain.NewValidationError()
	check(v, "", norm)

	g := domain.FilterGroup{
		Page:        norm.Page,
		Name:        norm.Name,
		Slug:        norm.Slug,
		DataType:    norm.DataType,
		IsMultiple:  boolOr(in.IsMultiple, false),
		IsRequired:  boolOr(in.IsRequired, false),
		IsActive:    boolOr(in.IsActive, true),
		Description: norm.Description,
	}
	if in.DisplayOrder != nil {
		g.DisplayOrder = *in.DisplayOrder
	}
	return g, v
}

func checkGroupPatch(p domain.GroupPatch) *domain.ValidationError {
	norm := p
	norm.Page = trimPtr(p.Page)
	norm.Name = trimPtr(p.Name)
	norm.Slug = trimPtr(p.Slug)
	if p.DataType != nil {
		norm.DataType = ptr(domain.DataType(strings.ToLower(strings.TrimSpace(string(*p.DataType)))))
	}
	v := domain.NewValidationError()
	check(v, "", norm)
	return v
}

func applyGroupPatch(g *domain.FilterGroup, p domain.GroupPatch) {
	if p.Page != nil {
		g.Page = strings.TrimSpace(*p.Page)
	}
	if p.Name != nil {
		g.Name = strings.TrimSpace(*p.Name)
	}
	if p.Slug != nil {
		g.Slug = strings.TrimSpace(*p.Slug)
	}
	if p.DataType != nil {
		g.DataType = domain.DataType(strings.ToLower(string(*p.DataType)))
	}
	if p.IsMultiple != nil {
		g.IsMultiple = *p.IsMultiple
	}
	if p.IsRequired != nil {
		g.IsRequired = *p.IsRequired
	}
	if p.IsActive != nil {
		g.IsActive = *p.IsActive
	}
	if p.DisplayOrder != nil {
		g.DisplayOrder = *p.DisplayOrder
	}
	if p.Description != nil {
		g.Description = trimOpt(p.Description)
	}
}

// normalizeValue trims a value item and reports field errors under prefix.
func normalizeValue(in domain.ValueInput, prefix string, v *domain.ValidationError) domain.ValueInput {
	out := domain.ValueInput{
		FilterGroupID: in.FilterGroupID,
		Value:         strings.TrimSpace(in.Value),
		Label:         strings.TrimSpace(in.Label),
		Slug:          trimOpt(in.Slug),
		Color:         trimOpt(in.Color),
		Icon:          trimOpt(in.Icon),
		Description:   trimOpt(in.Description),
		DisplayOrder:  in.DisplayOrder,
		IsActive:      ptr(boolOr(in.IsActive, true)),
		Metadata:      in.Metadata,
	}
	if out.Label == "" {
		out.Label = out.Value
	}
	check(v, prefix, out)
	return out
}

func checkValuePatch(p domain.ValuePatch) *domain.ValidationError {
	norm := p
	norm.Value = trimPtr(p.Value)
	norm.Label = trimPtr(p.Label)
	// an empty optional field clears it
	norm.Slug = trimOpt(p.Slug)
	norm.Color = trimOpt(p.Color)
	norm.Icon = trimOpt(p.Icon)
	v := domain.NewValidationError()
	check(v, "", norm)
	return v
}

// applyValuePatch mutates fv; an empty string clears an optional field.
func applyValuePatch(fv *domain.FilterValue, p domain.ValuePatch) {
	if p.FilterGroupID != nil {
		fv.FilterGroupID = *p.FilterGroupID
	}
	if p.Value != nil {
		fv.Value = strings.TrimSpace(*p.Value)
	}
	if p.Label != nil {
		fv.Label = strings.TrimSpace(*p.Label)
	}
	if p.Slug != nil {
		fv.Slug = trimOpt(p.Slug)
	}
	if p.Color != nil {
		fv.Color = trimOpt(p.Color)
	}
	if p.Icon != nil {
		fv.Icon = trimOpt(p.Icon)
	}
	if p.Description != nil {
		fv.Description = trimOpt(p.Description)
	}
	if p.DisplayOrder != nil {
		fv.DisplayOrder = *p.DisplayOrder
	}
	if p.IsActive != nil {
		fv.IsActive = *p.IsActive
	}
	if p.Metadata != nil {
		fv.Metadata = p.Metadata
	}
}

func checkOrder(ids []int64) error {
	if len(ids) == 0 {
		return domain.Invalid("order", "must contain at least one id")
	}
	seen := make(map[int64]struct{}, len(ids))
	for i, id := range ids {
		if id <= 0 {
			return domain.Invalid(fmt.Sprintf("order.%d", i), "must be a positive id")
		}
		if _, dup := seen[id]; dup {
			return domain.Invalid(fmt.Sprintf("order.%d", i), fmt.Sprintf("id %d appears more than once", id))
		}
		seen[id] = struct{}{}
	}
	return nil
}
