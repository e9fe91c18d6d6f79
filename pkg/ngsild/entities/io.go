package entities

import (
	"context"
	"encoding/json"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
	"github.com/diwise/ngsild-client/pkg/ngsild/loader"
)

// Load reads entities from a local file or a remote URL. The source may
// hold a single entity object or an array of entity objects, one or more
// entities are returned accordingly. Every element is validated, a failure
// on any element fails the whole load.
func Load(ctx context.Context, source string) ([]*Entity, error) {
	contents, err := loader.ReadText(ctx, source)
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(contents, &payload); err != nil {
		return nil, errors.NewInvalidRequestError("failed to unmarshal "+source+": "+err.Error())
	}

	switch typedPayload := payload.(type) {
	case map[string]any:
		e, err := NewFromPayload(typedPayload)
		if err != nil {
			return nil, err
		}
		return []*Entity{e}, nil
	case []any:
		return NewFromSlice(typedPayload)
	default:
		return nil, errors.NewInvalidRequestError(source+" does not contain an entity object or array")
	}
}

// LoadBatch reads a batch of entities from a source that must hold a JSON
// array.
func LoadBatch(ctx context.Context, source string) ([]*Entity, error) {
	contents, err := loader.ReadText(ctx, source)
	if err != nil {
		return nil, err
	}

	payload := []any{}
	if err := json.Unmarshal(contents, &payload); err != nil {
		return nil, errors.NewInvalidRequestError(source+" must contain a JSON array: "+err.Error())
	}

	return NewFromSlice(payload)
}

// Save serializes the entity to an indented JSON file.
func (e *Entity) Save(path string) error {
	contents, err := e.ToJSON("  ")
	if err != nil {
		return err
	}
	return loader.WriteText(path, contents)
}

// SaveBatch serializes a batch of entities to a file as a JSON array.
func SaveBatch(batch []*Entity, path string) error {
	contents, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return err
	}
	return loader.WriteText(path, contents)
}
