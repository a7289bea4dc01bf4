package mysql

// -----------------------------------------------------------------------------
// GROUPS
// -----------------------------------------------------------------------------

const groupCols = `id, page, name, slug, data_type, is_multiple, is_required, is_active,
  display_order, description, created_at, updated_at`

const insertGroupSQL = `
INSERT INTO filter_groups
  (page, name, slug, data_type, is_multiple, is_required, is_active, display_order, description)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateGroupSQL = `
UPDATE filter_groups SET
  page          = ?,
  name          = ?,
  slug          = ?,
  data_type     = ?,
  is_multiple   = ?,
  is_required   = ?,
  is_active     = ?,
  display_order = ?,
  description   = ?
WHERE id = ?
`

const getGroupSQL = `SELECT ` + groupCols + ` FROM filter_groups WHERE id = ?`

const slugTakenSQL = `SELECT EXISTS(SELECT 1 FROM filter_groups WHERE slug = ? AND id <> ?)`

// A property holding two values of the group blocks switching it to single-valued.
const groupHasMultiSQL = `
SELECT EXISTS(
  SELECT 1 FROM property_filters
  WHERE filter_group_id = ?
  GROUP BY property_id
  HAVING COUNT(*) > 1
)`

// -----------------------------------------------------------------------------
// VALUES
// -----------------------------------------------------------------------------

const valueCols = `id, filter_group_id, value, label, slug, color, icon, description,
  display_order, is_active, metadata, created_at, updated_at`

const insertValueSQL = `
INSERT INTO filter_values
  (filter_group_id, value, label, slug, color, icon, description, display_order, is_active, metadata)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateValueSQL = `
UPDATE filter_values SET
  filter_group_id = ?,
  value           = ?,
  label           = ?,
  slug            = ?,
  color           = ?,
  icon            = ?,
  description     = ?,
  display_order   = ?,
  is_active       = ?,
  metadata        = ?
WHERE id = ?
`

const getValueSQL = `SELECT ` + valueCols + ` FROM filter_values WHERE id = ?`

const nextValueOrderSQL = `SELECT COALESCE(MAX(display_order), -1) + 1 FROM filter_values WHERE filter_group_id = ?`

const groupValueKeysSQL = `SELECT value, slug FROM filter_values WHERE filter_group_id = ?`

// -----------------------------------------------------------------------------
// ASSOCIATIONS
// -----------------------------------------------------------------------------

const lockPropertySQL = `SELECT id FROM properties WHERE id = ? FOR UPDATE`

const propertyFiltersSQL = `
SELECT id, property_id, filter_group_id, filter_value_id
FROM property_filters
WHERE property_id = ?
ORDER BY id
`

const countValueAssocSQL = `SELECT COUNT(*) FROM property_filters WHERE filter_value_id = ?`

const countGroupUsageSQL = `
SELECT
  (SELECT COUNT(*) FROM filter_values    WHERE filter_group_id = ?),
  (SELECT COUNT(*) FROM property_filters WHERE filter_group_id = ?)
`

// -----------------------------------------------------------------------------
// FACETS
// -----------------------------------------------------------------------------

// visibleSQL is the listing service's visibility rule for a property row aliased p.
const visibleSQL = `p.is_active = 1 AND p.status = 'published'
  AND (p.published_at IS NULL OR p.published_at <= NOW())
  AND (p.expires_at IS NULL OR p.expires_at > NOW())`

const pageGroupIDsSQL = `
SELECT id FROM filter_groups
WHERE page = ? AND is_active = 1
ORDER BY display_order, id
`

// One aggregate per group. LEFT JOINs keep zero-count values; the visibility
// rule sits in the join condition so hidden properties simply don't match.
const groupCountsSQL = `
SELECT
  v.id, v.filter_group_id, v.value, v.label, v.slug, v.color, v.icon, v.description,
  v.display_order, v.is_active, v.metadata, v.created_at, v.updated_at,
  COUNT(DISTINCT p.id) AS cnt
FROM filter_values v
LEFT JOIN property_filters pf ON pf.filter_value_id = v.id
LEFT JOIN properties p ON p.id = pf.property_id AND ` + visibleSQL + `
WHERE v.filter_group_id = ? AND v.is_active = 1
GROUP BY v.id
ORDER BY v.display_order, v.id
`

const selectionFilterSQL = `p.id IN (SELECT pf.property_id FROM property_filters pf WHERE pf.filter_value_id IN (%s))`
