package entities

import (
	"bytes"
	"encoding/json"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/diwise/ngsild-client/pkg/ngsild/geometry"
	"github.com/diwise/ngsild-client/pkg/ngsild/path"
)

// Fragment is a recursive attribute tree node wrapping an ordinary mapping.
// Attributes are built through the chainable Property, TemporalProperty,
// GeoProperty and Relationship methods, with anchoring controlling where
// subsequently built attributes attach. The first failure in a chain is
// retained and reported by Err, with every later call in the chain turned
// into a no-op.
type Fragment struct {
	payload map[string]any

	// lastAttribute is the key path from the payload root to the most
	// recently built attribute. A key path, rather than a reference into
	// the tree, so that Duplicate retargets it into the clone.
	lastAttribute []string
	anchored      bool

	isRoot bool
	err    error
}

func NewFragment() *Fragment {
	return &Fragment{payload: map[string]any{}}
}

// FragmentFromMap wraps an existing mapping as a Fragment view. The mapping
// is shared, not copied, so mutations through the Fragment are visible to
// other holders of the mapping.
func FragmentFromMap(m map[string]any) *Fragment {
	if m == nil {
		m = map[string]any{}
	}
	return &Fragment{payload: m}
}

func FragmentFromJSON(body []byte) (*Fragment, error) {
	m := map[string]any{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, errors.NewInvalidRequestError("failed to unmarshal fragment: "+err.Error())
	}
	return FragmentFromMap(m), nil
}

// Err returns the first error encountered by a chained builder call, or nil.
func (f *Fragment) Err() error {
	return f.err
}

func (f *Fragment) fail(err error) *Fragment {
	if f.err == nil {
		f.err = err
	}
	return f
}

// Property builds a Property attribute and attaches it to the fragment.
func (f *Fragment) Property(name string, value any, decorators ...AttributeDecoratorFunc) *Fragment {
	if f.err != nil {
		return f
	}

	p := applyDecorators(decorators)

	node, err := buildProperty(name, value, p)
	if err != nil {
		return f.fail(err)
	}

	return f.attach(name, node, p.nested)
}

// TemporalProperty builds a Property attribute whose value is a typed
// temporal literal and attaches it to the fragment.
func (f *Fragment) TemporalProperty(name string, value any, decorators ...AttributeDecoratorFunc) *Fragment {
	if f.err != nil {
		return f
	}

	p := applyDecorators(decorators)

	node, err := BuildTemporalProperty(name, value)
	if err != nil {
		return f.fail(err)
	}

	return f.attach(name, node, p.nested)
}

// GeoProperty builds a GeoProperty attribute and attaches it to the fragment.
func (f *Fragment) GeoProperty(name string, value any, decorators ...AttributeDecoratorFunc) *Fragment {
	if f.err != nil {
		return f
	}

	p := applyDecorators(decorators)

	node, err := buildGeoProperty(name, value, p)
	if err != nil {
		return f.fail(err)
	}

	return f.attach(name, node, p.nested)
}

// Relationship builds a Relationship attribute and attaches it to the
// fragment. The object may be a urn string, an *Entity, or a sequence of
// either for a multi valued relationship.
func (f *Fragment) Relationship(name string, object any, decorators ...AttributeDecoratorFunc) *Fragment {
	if f.err != nil {
		return f
	}

	p := applyDecorators(decorators)

	node, err := buildRelationship(name, object, p)
	if err != nil {
		return f.fail(err)
	}

	return f.attach(name, node, p.nested)
}

// attach inserts a freshly built attribute node, either at the fragment
// root or inside the last built attribute when nesting is in effect.
func (f *Fragment) attach(name string, node any, nested bool) *Fragment {
	nested = nested || f.anchored

	if nested && f.lastAttribute != nil {
		parent, err := f.nodeAt(f.lastAttribute)
		if err != nil {
			return f.fail(err)
		}

		parent[name] = node

		// the anchor stays fixed so that siblings attach to the same
		// node, whereas a chained NESTED insert digs one level deeper
		if !f.anchored {
			f.lastAttribute = append(f.lastAttribute[:len(f.lastAttribute):len(f.lastAttribute)], name)
		}

		return f
	}

	f.payload[name] = node
	f.lastAttribute = []string{name}

	return f
}

func (f *Fragment) nodeAt(keyPath []string) (map[string]any, error) {
	current := f.payload

	for _, key := range keyPath {
		value, ok := current[key]
		if !ok {
			return nil, errors.NewKeyNotFoundError(key)
		}

		node, ok := value.(map[string]any)
		if !ok {
			return nil, errors.NewKeyNotFoundError(key)
		}

		current = node
	}

	return current, nil
}

// Anchor causes subsequently built attributes to nest under the most
// recently built attribute instead of the fragment root.
func (f *Fragment) Anchor() *Fragment {
	f.anchored = true
	return f
}

func (f *Fragment) Unanchor() *Fragment {
	f.anchored = false
	return f
}

// Get resolves a dotted, bracket indexed path against the fragment. A
// resolved mapping is returned as a Fragment view over the sub mapping,
// any other value is returned as is.
func (f *Fragment) Get(p string) (any, error) {
	value, err := path.Get(f.payload, p)
	if err != nil {
		return nil, err
	}

	if m, ok := value.(map[string]any); ok {
		return FragmentFromMap(m), nil
	}

	return value, nil
}

// Set assigns a value at a path. The traversal prefix must exist, the
// final segment is created if absent.
func (f *Fragment) Set(p string, value any) error {
	if fragment, ok := value.(*Fragment); ok {
		value = fragment.payload
	}
	return path.Set(f.payload, p, value)
}

func (f *Fragment) Delete(p string) error {
	return path.Delete(f.payload, p)
}

// HasRoot reports whether this is a standalone fragment with exactly one
// top level key, its root attribute.
func (f *Fragment) HasRoot() bool {
	return !f.isRoot && len(f.payload) == 1
}

// RootAttribute returns the name of the fragment's sole top level key.
func (f *Fragment) RootAttribute() (string, error) {
	if !f.HasRoot() {
		return "", errors.NewMissingRootAttributeError("the fragment does not have a root attribute")
	}

	for name := range f.payload {
		return name, nil
	}

	return "", errors.NewMissingRootAttributeError("the fragment does not have a root attribute")
}

// Append promotes each fragment's contents under its root attribute name
// at this fragment's top level, turning the target slot into an ordered
// sequence. Fragments without a root attribute are rejected, use AppendAs
// to name the target explicitly.
func (f *Fragment) Append(fragments ...*Fragment) error {
	for _, fragment := range fragments {
		rootAttribute, err := fragment.RootAttribute()
		if err != nil {
			return err
		}

		f.appendUnderName(rootAttribute, fragment.payload[rootAttribute])
	}

	return nil
}

// AppendAs appends fragments that have no root attribute of their own
// under an explicitly named target slot.
func (f *Fragment) AppendAs(attributeName string, fragments ...*Fragment) error {
	for _, fragment := range fragments {
		if fragment.HasRoot() {
			return errors.NewAmbiguousTargetError("fragments with a root attribute may not be appended under the explicit name "+attributeName)
		}

		f.appendUnderName(attributeName, fragment.payload)
	}

	return nil
}

func (f *Fragment) appendUnderName(name string, contents any) {
	existing, ok := f.payload[name]
	if !ok {
		f.payload[name] = []any{contents}
		return
	}

	list, ok := existing.([]any)
	if !ok {
		list = []any{existing}
	}

	f.payload[name] = append(list, contents)
}

// Merge merges the other fragment's top level content into this one, but
// only if the other fragment has a root attribute. Existing keys are
// overwritten.
func (f *Fragment) Merge(other *Fragment) *Fragment {
	if other != nil && other.HasRoot() {
		f.MergeMap(other.payload)
	}
	return f
}

// MergeMap merges a plain mapping's top level content unconditionally.
func (f *Fragment) MergeMap(m map[string]any) *Fragment {
	for k, v := range m {
		f.payload[k] = v
	}
	return f
}

// Duplicate produces a deep, fully independent clone. Builder state is
// carried over and retargeted into the clone's own storage.
func (f *Fragment) Duplicate() *Fragment {
	clone := &Fragment{
		payload:  deepCopyMap(f.payload),
		anchored: f.anchored,
		isRoot:   f.isRoot,
		err:      f.err,
	}

	if f.lastAttribute != nil {
		clone.lastAttribute = append([]string{}, f.lastAttribute...)
	}

	return clone
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch typedValue := v.(type) {
	case map[string]any:
		return deepCopyMap(typedValue)
	case []any:
		out := make([]any, len(typedValue))
		for i, elem := range typedValue {
			out[i] = deepCopyValue(elem)
		}
		return out
	case geometry.LineString:
		return geometry.NewLineString(copyPositionList(typedValue.Coordinates))
	case geometry.MultiPoint:
		return geometry.NewMultiPoint(copyPositionList(typedValue.Coordinates))
	case geometry.Polygon:
		rings := make([][][]float64, len(typedValue.Coordinates))
		for i, ring := range typedValue.Coordinates {
			rings[i] = copyPositionList(ring)
		}
		return geometry.NewPolygon(rings)
	default:
		// Point coordinates are a value array, copied by assignment
		return v
	}
}

func copyPositionList(positions [][]float64) [][]float64 {
	out := make([][]float64, len(positions))
	for i, position := range positions {
		out[i] = append([]float64{}, position...)
	}
	return out
}

// ToMap projects the fragment to a generic mapping. The mapping is a deep
// copy, detached from the fragment's own storage.
func (f *Fragment) ToMap() map[string]any {
	return deepCopyMap(f.payload)
}

func (f *Fragment) MarshalJSON() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.Marshal(f.payload)
}

// ToJSON serializes the fragment to JSON text, indented when indent is
// non empty.
func (f *Fragment) ToJSON(indent string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if indent == "" {
		return json.Marshal(f.payload)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", indent)

	if err := enc.Encode(f.payload); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
