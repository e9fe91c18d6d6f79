package entities

import (
	"encoding/json"
	"strings"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/diwise/ngsild-client/pkg/ngsild/urn"
)

// CoreContext is the NGSI-LD core context URI, used when no context is
// supplied at construction.
const CoreContext string = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"

// DefaultNGSITenant is the implicit tenant used when no NGSILD-Tenant
// header is exchanged.
const DefaultNGSITenant string = "default"

type entityParams struct {
	context    []string
	autoPrefix bool
}

// EntityDecoratorFunc modifies how an entity is constructed.
type EntityDecoratorFunc func(*entityParams)

// Context replaces the default core context with the given context URIs.
func Context(contexts ...string) EntityDecoratorFunc {
	return func(p *entityParams) { p.context = contexts }
}

// NoAutoPrefix disables the insertion of the entity type into identifiers
// that follow the urn:ngsi-ld:<type>:<remainder> naming convention.
func NoAutoPrefix() EntityDecoratorFunc {
	return func(p *entityParams) { p.autoPrefix = false }
}

func newEntityParams(decorators []EntityDecoratorFunc) entityParams {
	p := entityParams{
		context:    []string{CoreContext},
		autoPrefix: true,
	}
	for _, decorate := range decorators {
		decorate(&p)
	}
	return p
}

// Entity is a root level fragment with the id, type and @context keys
// guaranteed present after construction.
type Entity struct {
	Fragment
}

// New creates an entity from its type and identifier. The identifier may be
// given in long form (the fully qualified urn), or shortened by omitting the
// urn scheme or the type segment. Unless disabled via NoAutoPrefix, the type
// is inserted into unprefixed identifiers per the naming convention
// urn:ngsi-ld:<type>:<remainder>.
func New(entityType, entityID string, decorators ...EntityDecoratorFunc) (*Entity, error) {
	if entityType == "" {
		return nil, errors.NewMissingTypeError("an entity type must be provided")
	}
	if entityID == "" {
		return nil, errors.NewMissingIDError("an entity id must be provided")
	}

	p := newEntityParams(decorators)

	if p.autoPrefix && !urn.IsPrefixed(entityID) {
		bareID := urn.Unprefix(entityID)
		if !strings.HasPrefix(bareID, entityType+":") {
			entityID = entityType + ":" + bareID
		}
	}

	return newEntity(entityType, urn.Prefix(entityID), p), nil
}

// NewFromID creates an entity from a fully qualified identifier, inferring
// the type from its third urn segment.
func NewFromID(entityID string, decorators ...EntityDecoratorFunc) (*Entity, error) {
	if entityID == "" {
		return nil, errors.NewMissingIDError("an entity id must be provided")
	}

	p := newEntityParams(decorators)

	entityID = urn.Prefix(entityID)

	entityType, ok := urn.InferType(entityID)
	if !ok {
		return nil, errors.NewMissingTypeError("unable to infer the entity type from "+entityID)
	}

	return newEntity(entityType, entityID, p), nil
}

func newEntity(entityType, entityID string, p entityParams) *Entity {
	e := &Entity{
		Fragment: Fragment{
			payload: map[string]any{
				"id":       entityID,
				"type":     entityType,
				"@context": append([]string{}, p.context...),
			},
			isRoot: true,
		},
	}
	return e
}

// NewFromPayload wraps an existing payload mapping as an entity. The id,
// type and @context keys must all be present and non empty, checked in
// that order.
func NewFromPayload(payload map[string]any) (*Entity, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	return &Entity{
		Fragment: Fragment{
			payload: payload,
			isRoot:  true,
		},
	}, nil
}

func validatePayload(payload map[string]any) error {
	if isEmptyValue(payload["id"]) {
		return errors.NewMissingIDError("entity payloads must contain a non empty id")
	}
	if isEmptyValue(payload["type"]) {
		return errors.NewMissingTypeError("entity payloads must contain a non empty type")
	}
	if isEmptyValue(payload["@context"]) {
		return errors.NewMissingContextError("entity payloads must contain a non empty @context")
	}
	return nil
}

func isEmptyValue(v any) bool {
	switch typedValue := v.(type) {
	case nil:
		return true
	case string:
		return typedValue == ""
	case []any:
		return len(typedValue) == 0
	case []string:
		return len(typedValue) == 0
	default:
		return false
	}
}

// NewFromJSON creates an entity from JSON text holding a single entity
// object.
func NewFromJSON(body []byte) (*Entity, error) {
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.NewInvalidRequestError("failed to unmarshal entity: "+err.Error())
	}
	return NewFromPayload(payload)
}

// NewFromSlice creates one entity per element of a payload array. A failure
// on any element fails the whole batch.
func NewFromSlice(payloads []any) ([]*Entity, error) {
	result := make([]*Entity, 0, len(payloads))

	for _, p := range payloads {
		payload, ok := p.(map[string]any)
		if !ok {
			return nil, errors.NewInvalidRequestError("entity array elements must be objects")
		}

		e, err := NewFromPayload(payload)
		if err != nil {
			return nil, err
		}

		result = append(result, e)
	}

	return result, nil
}

func (e *Entity) ID() string {
	id, _ := e.payload["id"].(string)
	return id
}

func (e *Entity) Type() string {
	entityType, _ := e.payload["type"].(string)
	return entityType
}

// Context returns the entity's context URIs, normalized to a string slice.
func (e *Entity) Context() []string {
	switch ctx := e.payload["@context"].(type) {
	case []string:
		return ctx
	case []any:
		out := make([]string, 0, len(ctx))
		for _, c := range ctx {
			if s, ok := c.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{ctx}
	default:
		return nil
	}
}

func (e *Entity) SetID(entityID string) {
	e.payload["id"] = urn.Prefix(entityID)
}

func (e *Entity) SetType(entityType string) {
	e.payload["type"] = entityType
}

func (e *Entity) SetContext(contexts ...string) {
	e.payload["@context"] = append([]string{}, contexts...)
}

// Duplicate produces a deep, fully independent clone of the entity.
func (e *Entity) Duplicate() *Entity {
	return &Entity{Fragment: *e.Fragment.Duplicate()}
}
