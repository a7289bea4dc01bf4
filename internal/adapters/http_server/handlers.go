package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"dna_property_hub/internal/app"
	"dna_property_hub/internal/domain"
)

type Handlers struct {
	Taxonomy *app.TaxonomyService
	Facets   *app.FacetService
	Attach   *app.AttachmentService

	JWTSecret  []byte
	AdminLimit *rate.Limiter // nil = unlimited
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	// public reads
	s.mux.Group(func(r chi.Router) {
		r.Use(Authenticate(h.JWTSecret))
		r.Get("/filters/groups", h.listGroups)
		r.Get("/filters/groups/{id}", h.getGroup)
		r.Get("/filters/groups/{id}/values", h.groupValues)
		r.Get("/filters/values-with-counts", h.valuesWithCounts)
		r.Get("/filters/values/search", h.searchValues)
		r.Get("/properties/search", h.searchProperties)
		r.Get("/properties/{id}/filters", h.propertyFilters)
	})

	// admin writes
	s.mux.Group(func(r chi.Router) {
		r.Use(RequireAdmin(h.JWTSecret))
		r.Use(RateLimit(h.AdminLimit))
		r.Post("/filters/groups", h.createGroup)
		r.Post("/filters/groups/reorder", h.reorderGroups)
		r.Put("/filters/groups/{id}", h.updateGroup)
		r.Delete("/filters/groups/{id}", h.deleteGroup)
		r.Post("/filters/values", h.createValue)
		r.Post("/filters/values/bulk", h.bulkCreateValues)
		r.Post("/filters/values/reorder", h.reorderValues)
		r.Put("/filters/values/{id}", h.updateValue)
		r.Delete("/filters/values/{id}", h.deleteValue)
		r.Put("/properties/{id}/filters", h.setPropertyFilters)
	})
}

// ---- request parsing ----

var errBadBody = errors.New("request body must be a JSON object")

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("id must be a positive integer")
	}
	return id, nil
}

func queryBool(q url.Values, k string) (bool, error) {
	v := q.Get(k)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", k)
	}
	return b, nil
}

func queryInt(q url.Values, k string, def int) (int, error) {
	v := q.Get(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", k)
	}
	return n, nil
}

// parseSelections reads filter[<groupID>]=<valueID>,<valueID> pairs.
// Repeated keys accumulate.
func parseSelections(q url.Values) (domain.Selections, error) {
	sel := domain.Selections{}
	for k, vs := range q {
		inner, ok := strings.CutPrefix(k, "filter[")
		if !ok {
			continue
		}
		inner, ok = strings.CutSuffix(inner, "]")
		if !ok {
			return nil, fmt.Errorf("malformed filter key %q", k)
		}
		gid, err := strconv.ParseInt(inner, 10, 64)
		if err != nil || gid <= 0 {
			return nil, fmt.Errorf("filter group id %q must be a positive integer", inner)
		}
		for _, v := range vs {
			for _, part := range strings.Split(v, ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				vid, err := strconv.ParseInt(part, 10, 64)
				if err != nil || vid <= 0 {
					return nil, fmt.Errorf("filter value id %q must be a positive integer", part)
				}
				sel[gid] = append(sel[gid], vid)
			}
		}
	}
	return sel, nil
}

// ---- public reads ----

func (h *Handlers) listGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inactive, err := queryBool(q, "include_inactive")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	page := strings.TrimSpace(q.Get("page"))

	var out []domain.FilterGroup
	switch {
	case inactive:
		if _, ok := claimsFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		if !isAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "admin role required", nil)
			return
		}
		out, err = h.Taxonomy.ListGroups(r.Context(), domain.GroupFilter{Page: page, IncludeInactive: true})
	case page != "":
		out, err = h.Facets.GroupsForPage(r.Context(), page)
	default:
		out, err = h.Facets.ListGroups(r.Context(), domain.GroupFilter{})
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRead(w, r, out)
}

func (h *Handlers) getGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	g, err := h.Taxonomy.GetGroup(r.Context(), id)
	if err == nil && !g.IsActive && !isAdmin(r.Context()) {
		err = &domain.NotFoundError{Entity: "filter group", ID: id}
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRead(w, r, g)
}

func (h *Handlers) groupValues(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Facets.ValuesForGroup(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRead(w, r, out)
}

func (h *Handlers) valuesWithCounts(w http.ResponseWriter, r *http.Request) {
	out, err := h.Facets.ValuesWithCounts(r.Context(), r.URL.Query().Get("page"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRead(w, r, out)
}

func (h *Handlers) searchValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var groupID *int64
	if raw := q.Get("filter_group_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "filter_group_id must be an integer", nil)
			return
		}
		groupID = &id
	}
	out, err := h.Taxonomy.SearchValues(r.Context(), q.Get("q"), groupID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRead(w, r, out)
}

type propertySearchResponse struct {
	IDs    []int64 `json:"ids"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

func (h *Handlers) searchProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel, err := parseSelections(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	offset, err := queryInt(q, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	ps := domain.PropertySearch{Selections: sel, Limit: limit, Offset: offset}
	page, err := h.Facets.SearchProperties(r.Context(), ps)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if limit == 0 {
		limit = app.DefaultPageLimit
	}
	writeRead(w, r, propertySearchResponse{IDs: page.IDs, Total: page.Total, Limit: limit, Offset: offset})
}

func (h *Handlers) propertyFilters(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Attach.PropertyFilters(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeRead(w, r, out)
}

// ---- admin writes ----

func (h *Handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	var in domain.GroupInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	g, err := h.Taxonomy.CreateGroup(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Filter group created successfully", g)
}

func (h *Handlers) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var p domain.GroupPatch
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	g, err := h.Taxonomy.UpdateGroup(r.Context(), id, p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Filter group updated successfully", g)
}

func (h *Handlers) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	cascade, err := queryBool(r.URL.Query(), "cascade")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Taxonomy.DeleteGroup(r.Context(), id, cascade); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Filter group deleted successfully", nil)
}

type orderRequest struct {
	Order []int64 `json:"order"`
}

func (h *Handlers) reorderGroups(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Taxonomy.ReorderGroups(r.Context(), req.Order); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Filter groups reordered successfully", nil)
}

func (h *Handlers) createValue(w http.ResponseWriter, r *http.Request) {
	var in domain.ValueInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	v, err := h.Taxonomy.CreateValue(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Filter value created successfully", v)
}

type bulkRequest struct {
	FilterGroupID int64               `json:"filter_group_id"`
	Values        []domain.ValueInput `json:"values"`
}

func (h *Handlers) bulkCreateValues(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Taxonomy.BulkCreateValues(r.Context(), req.FilterGroupID, req.Values)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, fmt.Sprintf("%d filter values created successfully", len(out)), out)
}

func (h *Handlers) updateValue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var p domain.ValuePatch
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	v, err := h.Taxonomy.UpdateValue(r.Context(), id, p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Filter value updated successfully", v)
}

func (h *Handlers) deleteValue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	cascade, err := queryBool(r.URL.Query(), "cascade")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Taxonomy.DeleteValue(r.Context(), id, cascade); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Filter value deleted successfully", nil)
}

func (h *Handlers) reorderValues(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Taxonomy.ReorderValues(r.Context(), req.Order); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Filter values reordered successfully", nil)
}

type propertyFiltersRequest struct {
	ValueIDs []int64 `json:"value_ids"`
}

func (h *Handlers) setPropertyFilters(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req propertyFiltersRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Attach.SetPropertyFilters(r.Context(), id, req.ValueIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Property filters saved successfully", out)
}
