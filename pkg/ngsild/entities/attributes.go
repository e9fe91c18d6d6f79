package entities

import (
	"time"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/diwise/ngsild-client/pkg/ngsild/geometry"
	"github.com/diwise/ngsild-client/pkg/ngsild/iso8601"
	"github.com/diwise/ngsild-client/pkg/ngsild/urn"
)

const (
	AttrTypeProperty     string = "Property"
	AttrTypeGeoProperty  string = "GeoProperty"
	AttrTypeRelationship string = "Relationship"

	metaUnitCode   string = "unitCode"
	metaObservedAt string = "observedAt"
	metaDatasetID  string = "datasetId"
)

type attrParams struct {
	nested bool

	unitCode string
	hasUnit  bool

	// observedAt, datasetID and userData hold either a scalar or, for multi
	// valued relationships, a sequence that is zipped with the targets
	observedAt any
	datasetID  any
	userData   any
}

// AttributeDecoratorFunc attaches optional metadata to an attribute under
// construction.
type AttributeDecoratorFunc func(*attrParams)

// Nested attaches the attribute inside the most recently built attribute
// instead of at the fragment root.
func Nested() AttributeDecoratorFunc {
	return func(p *attrParams) { p.nested = true }
}

func UnitCode(code string) AttributeDecoratorFunc {
	return func(p *attrParams) {
		p.unitCode = code
		p.hasUnit = true
	}
}

// ObservedAt accepts an ISO-8601 string or a time.Time. For multi valued
// relationships a []string may be given, one timestamp per target.
func ObservedAt(timestamp any) AttributeDecoratorFunc {
	return func(p *attrParams) { p.observedAt = timestamp }
}

// DatasetID accepts a urn string (auto prefixed). For multi valued
// relationships a []string may be given, one id per target.
func DatasetID(id any) AttributeDecoratorFunc {
	return func(p *attrParams) { p.datasetID = id }
}

// UserData accepts a map of arbitrary extra fields, merged into the
// attribute at the same level as its own fields. For multi valued
// relationships a []map[string]any may be given, one per target.
func UserData(data any) AttributeDecoratorFunc {
	return func(p *attrParams) { p.userData = data }
}

func applyDecorators(decorators []AttributeDecoratorFunc) attrParams {
	p := attrParams{}
	for _, decorate := range decorators {
		decorate(&p)
	}
	return p
}

// BuildProperty constructs a Property node from a scalar, sequence or
// nested mapping value.
func BuildProperty(name string, value any, decorators ...AttributeDecoratorFunc) (map[string]any, error) {
	return buildProperty(name, value, applyDecorators(decorators))
}

func buildProperty(name string, value any, p attrParams) (map[string]any, error) {
	if !isSupportedPropertyValue(value) {
		return nil, errors.NewUnsupportedValueTypeError(name, value)
	}

	property := map[string]any{
		"type":  AttrTypeProperty,
		"value": value,
	}

	if p.hasUnit {
		property[metaUnitCode] = p.unitCode
	}

	if p.observedAt != nil {
		observedAt, err := processObservedAt(name, p.observedAt)
		if err != nil {
			return nil, err
		}
		property[metaObservedAt] = observedAt
	}

	if p.datasetID != nil {
		datasetID, err := processDatasetID(name, p.datasetID)
		if err != nil {
			return nil, err
		}
		property[metaDatasetID] = datasetID
	}

	if p.userData != nil {
		userData, ok := p.userData.(map[string]any)
		if !ok {
			return nil, errors.NewUnsupportedValueTypeError(name, p.userData)
		}
		for k, v := range userData {
			property[k] = v
		}
	}

	return property, nil
}

// BuildTemporalProperty constructs a Property whose value is a typed
// temporal literal. The value may be an ISO-8601 string (date-time, date or
// time) or a time.Time.
func BuildTemporalProperty(name string, value any) (map[string]any, error) {
	var literal string

	switch typedValue := value.(type) {
	case string:
		literal = typedValue
	case time.Time:
		literal = iso8601.FormatDateTime(typedValue)
	default:
		return nil, errors.NewUnsupportedValueTypeError(name, value)
	}

	canonical, temporalType, _, err := iso8601.Parse(literal)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"type": AttrTypeProperty,
		"value": map[string]any{
			"@type":  string(temporalType),
			"@value": canonical,
		},
	}, nil
}

// BuildGeoProperty constructs a GeoProperty node. The value is a geometry
// literal, or the [2]float64{lat, lon} pair shorthand which is normalized
// to a Point with GeoJSON [lon, lat] ordering.
func BuildGeoProperty(name string, value any, decorators ...AttributeDecoratorFunc) (map[string]any, error) {
	return buildGeoProperty(name, value, applyDecorators(decorators))
}

func buildGeoProperty(name string, value any, p attrParams) (map[string]any, error) {
	var geom geometry.Geometry

	switch typedValue := value.(type) {
	case geometry.Geometry:
		geom = typedValue
	case [2]float64:
		geom = geometry.NewPointFromLatLon(typedValue[0], typedValue[1])
	default:
		return nil, errors.NewUnsupportedValueTypeError(name, value)
	}

	property := map[string]any{
		"type":  AttrTypeGeoProperty,
		"value": geom,
	}

	if p.observedAt != nil {
		observedAt, err := processObservedAt(name, p.observedAt)
		if err != nil {
			return nil, err
		}
		property[metaObservedAt] = observedAt
	}

	if p.datasetID != nil {
		datasetID, err := processDatasetID(name, p.datasetID)
		if err != nil {
			return nil, err
		}
		property[metaDatasetID] = datasetID
	}

	return property, nil
}

// BuildRelationship constructs a Relationship node. A single target yields
// a mapping, a sequence of targets yields a sequence of mappings with any
// metadata zipped per element (scalars are broadcast).
func BuildRelationship(name string, object any, decorators ...AttributeDecoratorFunc) (any, error) {
	return buildRelationship(name, object, applyDecorators(decorators))
}

func buildRelationship(name string, object any, p attrParams) (any, error) {
	switch typedObject := object.(type) {
	case string:
		return buildSingleRelationship(name, typedObject, p)
	case *Entity:
		return buildSingleRelationship(name, typedObject.ID(), p)
	case []string:
		return buildMultiRelationship(name, typedObject, p)
	case []any:
		targets := make([]string, 0, len(typedObject))
		for _, t := range typedObject {
			s, ok := t.(string)
			if !ok {
				return nil, errors.NewUnsupportedValueTypeError(name, t)
			}
			targets = append(targets, s)
		}
		return buildMultiRelationship(name, targets, p)
	default:
		return nil, errors.NewUnsupportedValueTypeError(name, object)
	}
}

func buildSingleRelationship(name, object string, p attrParams) (map[string]any, error) {
	relationship := map[string]any{
		"type":   AttrTypeRelationship,
		"object": urn.Prefix(object),
	}

	if p.observedAt != nil {
		observedAt, err := processObservedAt(name, p.observedAt)
		if err != nil {
			return nil, err
		}
		relationship[metaObservedAt] = observedAt
	}

	if p.datasetID != nil {
		datasetID, err := processDatasetID(name, p.datasetID)
		if err != nil {
			return nil, err
		}
		relationship[metaDatasetID] = datasetID
	}

	if p.userData != nil {
		userData, ok := p.userData.(map[string]any)
		if !ok {
			return nil, errors.NewUnsupportedValueTypeError(name, p.userData)
		}
		for k, v := range userData {
			relationship[k] = v
		}
	}

	return relationship, nil
}

func buildMultiRelationship(name string, targets []string, p attrParams) ([]any, error) {
	observedAts, err := broadcast[any](name, p.observedAt, len(targets))
	if err != nil {
		return nil, err
	}

	datasetIDs, err := broadcast[any](name, p.datasetID, len(targets))
	if err != nil {
		return nil, err
	}

	userData, err := broadcast[map[string]any](name, p.userData, len(targets))
	if err != nil {
		return nil, err
	}

	relationships := make([]any, 0, len(targets))

	for i, target := range targets {
		elemParams := attrParams{
			observedAt: observedAts[i],
			userData:   nil,
		}
		if datasetIDs[i] != nil {
			elemParams.datasetID = datasetIDs[i]
		}
		if userData[i] != nil {
			elemParams.userData = userData[i]
		}

		r, err := buildSingleRelationship(name, target, elemParams)
		if err != nil {
			return nil, err
		}
		relationships = append(relationships, r)
	}

	return relationships, nil
}

// broadcast turns scalar metadata into one value per target, and checks
// that metadata given as a sequence matches the target count.
func broadcast[T any](name string, value any, n int) ([]any, error) {
	out := make([]any, n)

	if value == nil {
		return out, nil
	}

	switch seq := value.(type) {
	case []string:
		if len(seq) != n {
			return nil, errors.NewArityMismatchError(name, n, len(seq))
		}
		for i, v := range seq {
			out[i] = v
		}
	case []T:
		if len(seq) != n {
			return nil, errors.NewArityMismatchError(name, n, len(seq))
		}
		for i, v := range seq {
			out[i] = v
		}
	default:
		for i := range out {
			out[i] = value
		}
	}

	return out, nil
}

func processObservedAt(name string, value any) (string, error) {
	var literal string

	switch typedValue := value.(type) {
	case string:
		literal = typedValue
	case time.Time:
		return iso8601.FormatDateTime(typedValue), nil
	default:
		return "", errors.NewUnsupportedValueTypeError(name, value)
	}

	canonical, temporalType, _, err := iso8601.Parse(literal)
	if err != nil {
		return "", err
	}

	// observedAt denotes a precise instant, a bare date or time won't do
	if temporalType != iso8601.TypeDateTime {
		return "", errors.NewInvalidDateFormatError("observedAt must be a DateTime: " + canonical)
	}

	return canonical, nil
}

func processDatasetID(name string, value any) (string, error) {
	id, ok := value.(string)
	if !ok {
		return "", errors.NewUnsupportedValueTypeError(name, value)
	}
	return urn.Prefix(id), nil
}

func isSupportedPropertyValue(value any) bool {
	switch value.(type) {
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		[]any, []string, []bool, []int, []int64, []float64,
		map[string]any:
		return true
	default:
		return false
	}
}
