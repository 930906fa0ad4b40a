package naming

import "fmt"

// CollisionError reports that two distinct schema elements derived the same
// GraphQL name. Field-name derivation is a hard invariant (§3): a collision
// means the schema cannot be built, not a cosmetic clash to paper over.
type CollisionError struct {
	Name     string
	Existing string
	New      string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("naming collision on %q: already registered by %s, also produced by %s", e.Name, e.Existing, e.New)
}

// CollisionResolver tracks registered GraphQL names within their namespaces
// (types, per-type fields, root query fields) and rejects a name that is
// registered twice. Unlike the auto-suffixing scheme this replaces, a
// collision here is fatal: the caller must fail schema construction rather
// than silently rename one of the two colliding fields.
type CollisionResolver struct {
	seenTypes   map[string]string
	seenFields  map[string]map[string]string
	seenQueries map[string]string
}

func NewCollisionResolver() *CollisionResolver {
	return &CollisionResolver{
		seenTypes:   make(map[string]string),
		seenFields:  make(map[string]map[string]string),
		seenQueries: make(map[string]string),
	}
}

// RegisterType registers a GraphQL type name, returning a CollisionError if
// it was already registered by a different source.
func (c *CollisionResolver) RegisterType(graphqlName, source string) error {
	return register(c.seenTypes, graphqlName, source)
}

// RegisterField registers a field name within a type's namespace.
func (c *CollisionResolver) RegisterField(typeName, fieldName, source string) error {
	if c.seenFields[typeName] == nil {
		c.seenFields[typeName] = make(map[string]string)
	}
	return register(c.seenFields[typeName], fieldName, source)
}

// FieldExists reports whether a field name is already registered for a type.
func (c *CollisionResolver) FieldExists(typeName, fieldName string) bool {
	if fields, ok := c.seenFields[typeName]; ok {
		_, exists := fields[fieldName]
		return exists
	}
	return false
}

// RegisterQuery registers a root query field name.
func (c *CollisionResolver) RegisterQuery(fieldName, source string) error {
	return register(c.seenQueries, fieldName, source)
}

func register(seen map[string]string, name, source string) error {
	if existing, exists := seen[name]; exists {
		return &CollisionError{Name: name, Existing: existing, New: source}
	}
	seen[name] = source
	return nil
}
