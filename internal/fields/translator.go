// Package fields translates between the host framework's logical field
// names and the backend's physical field names.
//
// Logical id, createdAt and updatedAt map onto the backend system fields.
// Every other field is stored under a reserved namespace prefix so user
// attributes cannot collide with backend-reserved names.
package fields

import (
	"strings"
	"time"

	"github.com/payvex/payvex/internal/backend"
)

// DefaultPrefix is the namespace applied to user attributes.
const DefaultPrefix = "payvex_"

// Logical names of the system fields.
const (
	LogicalID        = "id"
	LogicalCreatedAt = "createdAt"
	LogicalUpdatedAt = "updatedAt"
)

// Translator maps field names and values in both directions.
type Translator struct {
	prefix string
}

// New creates a translator with the given namespace prefix. An empty prefix
// selects DefaultPrefix.
func New(prefix string) *Translator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Translator{prefix: prefix}
}

// Prefix returns the namespace prefix.
func (t *Translator) Prefix() string {
	return t.prefix
}

// ToPhysical converts a logical field name. Already-namespaced names pass
// through so the conversion is idempotent. Only the first segment of a
// dotted path is namespaced.
func (t *Translator) ToPhysical(logical string) string {
	switch logical {
	case LogicalID, backend.FieldID:
		return backend.FieldID
	case LogicalCreatedAt, backend.FieldCreationTime:
		return backend.FieldCreationTime
	case LogicalUpdatedAt, backend.FieldUpdateTime:
		return backend.FieldUpdateTime
	}
	if strings.HasPrefix(logical, t.prefix) {
		return logical
	}
	return t.prefix + logical
}

// ToLogical converts a physical field name. Names outside the namespace
// that are not system fields are returned verbatim.
func (t *Translator) ToLogical(physical string) string {
	switch physical {
	case backend.FieldID:
		return LogicalID
	case backend.FieldCreationTime:
		return LogicalCreatedAt
	case backend.FieldUpdateTime:
		return LogicalUpdatedAt
	}
	if rest, ok := strings.CutPrefix(physical, t.prefix); ok {
		return rest
	}
	return physical
}

// IsSystem reports whether the physical field is maintained by the backend.
func IsSystem(physical string) bool {
	switch physical {
	case backend.FieldID, backend.FieldCreationTime, backend.FieldUpdateTime:
		return true
	}
	return false
}

// IsTimestamp reports whether the physical field holds a backend timestamp.
func IsTimestamp(physical string) bool {
	return physical == backend.FieldCreationTime || physical == backend.FieldUpdateTime
}

// ToPhysicalValue converts a value for the given logical field. Timestamps
// accept time.Time or RFC3339 strings and become epoch milliseconds.
func (t *Translator) ToPhysicalValue(logical string, v any) any {
	if !IsTimestamp(t.ToPhysical(logical)) {
		return v
	}
	switch tv := v.(type) {
	case time.Time:
		return float64(tv.UnixMilli())
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, tv)
		if err != nil {
			return v
		}
		return float64(parsed.UnixMilli())
	}
	return v
}

// ToLogicalValue converts a value read from the given physical field.
func (t *Translator) ToLogicalValue(physical string, v any) any {
	if !IsTimestamp(physical) {
		return v
	}
	switch n := v.(type) {
	case float64:
		return time.UnixMilli(int64(n)).UTC()
	case int64:
		return time.UnixMilli(n).UTC()
	case int:
		return time.UnixMilli(int64(n)).UTC()
	}
	return v
}

// ToLogicalDocument converts a backend row into the host framework's shape.
func (t *Translator) ToLogicalDocument(doc backend.Document) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[t.ToLogical(k)] = t.ToLogicalValue(k, v)
	}
	return out
}

// ToPhysicalDocument converts a full logical document for insert or
// replace. System fields are owned by the backend and are dropped.
func (t *Translator) ToPhysicalDocument(doc map[string]any) backend.Document {
	return t.ToPhysicalPatch(doc)
}

// ToPhysicalPatch converts a logical patch. System fields are dropped.
func (t *Translator) ToPhysicalPatch(patch map[string]any) backend.Document {
	out := make(backend.Document, len(patch))
	for k, v := range patch {
		physical := t.ToPhysical(k)
		if IsSystem(physical) {
			continue
		}
		out[physical] = v
	}
	return out
}
