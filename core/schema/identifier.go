package schema

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ID identifies a stored document.
type ID struct {
	uuid.UUID
}

// Nil is the zero ID. ParseID never returns it as a valid identifier.
var Nil = ID{}

// NewID returns a fresh random identifier.
func NewID() ID {
	return ID{uuid.New()}
}

// IsNil reports whether the ID is the zero value.
func (id ID) IsNil() bool {
	return id.UUID == uuid.Nil
}

// ParseID coerces a loosely typed identifier into an ID. It accepts an ID, a
// uuid.UUID, a Ref, UUID text, a non-negative integral number, or a map
// carrying one of these under "id", "_id", "$id" or "oid" (checked in that
// order). Anything else, including the nil UUID, yields (Nil, false).
func ParseID(v any) (ID, bool) {
	switch val := v.(type) {
	case nil:
		return Nil, false
	case ID:
		return val, !val.IsNil()
	case *ID:
		if val == nil {
			return Nil, false
		}
		return ParseID(*val)
	case uuid.UUID:
		return ParseID(ID{val})
	case Ref:
		return ParseID(val.ID)
	case *Ref:
		if val == nil {
			return Nil, false
		}
		return ParseID(val.ID)
	case string:
		u, err := uuid.Parse(val)
		if err != nil {
			return Nil, false
		}
		return ParseID(ID{u})
	case []byte:
		return ParseID(string(val))
	case int:
		return fromInteger(float64(val))
	case int32:
		return fromInteger(float64(val))
	case int64:
		return fromInteger(float64(val))
	case uint:
		return fromInteger(float64(val))
	case uint32:
		return fromInteger(float64(val))
	case uint64:
		return fromInteger(float64(val))
	case float32:
		return fromInteger(float64(val))
	case float64:
		return fromInteger(val)
	case Document:
		return ParseID(map[string]any(val))
	case map[string]any:
		for _, key := range []string{"id", "_id", "$id", "oid"} {
			if inner, ok := val[key]; ok && inner != nil {
				return ParseID(inner)
			}
		}
		return Nil, false
	case fmt.Stringer:
		return ParseID(val.String())
	default:
		return Nil, false
	}
}

// MustParseID is ParseID for inputs known to be valid. It panics otherwise.
func MustParseID(v any) ID {
	id, ok := ParseID(v)
	if !ok {
		panic(fmt.Sprintf("schema: invalid id %v", v))
	}
	return id
}

// IDFromInt embeds a non-negative integer into the low eight bytes of an ID.
func IDFromInt(n uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id.UUID[8:], n)
	return id
}

func fromInteger(f float64) (ID, bool) {
	if f <= 0 || f != math.Trunc(f) || f > math.MaxUint64 {
		return Nil, false
	}
	return IDFromInt(uint64(f)), true
}

// Ref is a typed pointer to a document in another collection.
type Ref struct {
	Collection string
	ID         ID
	DB         string
}

// ToMap renders the pointer in its stored form.
func (r Ref) ToMap() map[string]any {
	return map[string]any{
		"$ref": r.Collection,
		"$id":  r.ID.String(),
		"$db":  r.DB,
	}
}

// RefFromValue reads a stored pointer back. It reports false for anything
// that is not a {$ref, $id} map.
func RefFromValue(v any) (Ref, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		if d, isDoc := v.(Document); isDoc {
			m = d
		} else {
			return Ref{}, false
		}
	}
	coll, ok := m["$ref"].(string)
	if !ok {
		return Ref{}, false
	}
	id, ok := ParseID(m["$id"])
	if !ok {
		return Ref{}, false
	}
	db, _ := m["$db"].(string)
	return Ref{Collection: coll, ID: id, DB: db}, true
}
