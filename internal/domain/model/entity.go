package model

// Entity names a dimension kind tracked by the surrogate key registry.
type Entity string

// Dimension entities. The string values double as the registry's sequence
// names and must not change.
const (
	EntityTool      Entity = "tool"
	EntityTime      Entity = "time"
	EntitySession   Entity = "session"
	EntityEventType Entity = "event_type"
)

// Entities lists every dimension entity in load order.
var Entities = []Entity{EntityTool, EntityTime, EntitySession, EntityEventType}

// UnknownKey is the sentinel surrogate key every dimension reserves for
// records whose natural identifier is missing.
const UnknownKey int64 = 0

// UnknownNaturalID is the natural identifier stored on the sentinel rows.
const UnknownNaturalID = "__unknown__"

// Attributes are the descriptive columns of a dimension row keyed by column
// name. They are informational and last-write-wins.
type Attributes map[string]any

// Equal reports whether a and b carry the same values. Only comparable
// scalar values are expected.
func (a Attributes) Equal(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || v != w {
			return false
		}
	}
	return true
}

// Orphan describes fact or KPI rows whose foreign key has no dimension row.
type Orphan struct {
	Table  string
	Column string
	Count  int64
}
