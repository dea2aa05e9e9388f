// Package mapping defines the migrated entities and how a source row becomes
// a destination record.
package mapping

import (
	"errors"
	"fmt"
)

// ErrUnknownEntity is returned for entity names outside the fixed set.
var ErrUnknownEntity = errors.New("unknown entity")

// Entity names in dependency order.
const (
	Projects      = "projects"
	Conversations = "conversations"
	Messages      = "messages"
)

// FieldKind selects the default and conversion applied to a column.
type FieldKind int

const (
	Text              FieldKind = iota // "" when null
	Counter                            // 0 when null
	Timestamp                          // mapping time when null
	NullableTimestamp                  // null stays null
	NullableText                       // null stays null
)

func (k FieldKind) String() string {
	switch k {
	case Text:
		return "text"
	case Counter:
		return "counter"
	case Timestamp:
		return "timestamp"
	case NullableTimestamp:
		return "nullable_timestamp"
	case NullableText:
		return "nullable_text"
	}
	return fmt.Sprintf("FieldKind(%d)", int(k))
}

// IdentityPolicy decides what the destination id of a row is.
type IdentityPolicy int

const (
	// RegenerateID assigns a new UUID on every migration. Repeated runs
	// duplicate rows unless the destination is cleared first.
	RegenerateID IdentityPolicy = iota
	// PreserveID keeps the source id as a string. A row without an id gets a
	// new UUID, so nothing can reference it.
	PreserveID
)

func (p IdentityPolicy) String() string {
	if p == PreserveID {
		return "preserve"
	}
	return "regenerate"
}

// Field is one non-id column copied from source to destination.
type Field struct {
	Name     string
	Kind     FieldKind
	Truncate bool // cap to the mapper's max text length
}

// Entity describes one migrated table.
type Entity struct {
	Name     string
	Identity IdentityPolicy
	Fields   []Field
}

// Columns returns the destination column names, id first.
func (e Entity) Columns() []string {
	cols := make([]string, 0, len(e.Fields)+1)
	cols = append(cols, "id")
	for _, f := range e.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

var entities = []Entity{
	{
		Name:     Projects,
		Identity: RegenerateID,
		Fields: []Field{
			{Name: "workspace_id", Kind: Text},
			{Name: "platform", Kind: Text},
			{Name: "name", Kind: Text},
			{Name: "path", Kind: Text},
			{Name: "created_at", Kind: Timestamp},
			{Name: "updated_at", Kind: Timestamp},
		},
	},
	{
		// Messages reference conversations by id, so the id must survive.
		Name:     Conversations,
		Identity: PreserveID,
		Fields: []Field{
			{Name: "workspace_id", Kind: Text},
			{Name: "project_name", Kind: Text},
			{Name: "name", Kind: Text},
			{Name: "created_at", Kind: NullableTimestamp},
			{Name: "last_interacted_at", Kind: NullableTimestamp},
			{Name: "message_count", Kind: Counter},
			{Name: "created_timestamp", Kind: Timestamp},
			{Name: "updated_timestamp", Kind: Timestamp},
		},
	},
	{
		Name:     Messages,
		Identity: RegenerateID,
		Fields: []Field{
			{Name: "conversation_id", Kind: Text},
			{Name: "request_id", Kind: Text},
			{Name: "role", Kind: Text},
			{Name: "content", Kind: Text, Truncate: true},
			{Name: "timestamp", Kind: NullableTimestamp},
			{Name: "message_order", Kind: Counter},
			{Name: "workspace_files", Kind: NullableText, Truncate: true},
			{Name: "created_at", Kind: Timestamp},
		},
	},
}

// All returns every entity in dependency order: parents before children.
func All() []Entity {
	out := make([]Entity, len(entities))
	copy(out, entities)
	return out
}

// Names returns the entity names in dependency order.
func Names() []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return names
}

// Lookup finds an entity by name.
func Lookup(name string) (Entity, error) {
	for _, e := range entities {
		if e.Name == name {
			return e, nil
		}
	}
	return Entity{}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
}
