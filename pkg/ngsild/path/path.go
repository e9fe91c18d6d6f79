// Package path implements the dotted, bracket indexed path syntax used to
// address values inside an attribute tree ("speed.value", "speed[1].source").
package path

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/diwise/ngsild-client/pkg/ngsild/errors"
)

var segmentPattern = regexp.MustCompile(`^(\w+)((?:\[\d+\])*)$`)

// Step is a single traversal operation: a key lookup followed by zero or
// more sequence index operations.
type Step struct {
	Field   string
	Indices []int
}

// Parse splits a path into its ordered traversal steps. An empty path or a
// segment that does not match the syntax fails with ErrInvalidPath.
func Parse(path string) ([]Step, error) {
	if path == "" {
		return nil, errors.NewInvalidPathError(path)
	}

	segments := strings.Split(path, ".")
	steps := make([]Step, 0, len(segments))

	for _, segment := range segments {
		m := segmentPattern.FindStringSubmatch(segment)
		if m == nil {
			return nil, errors.NewInvalidPathError(path)
		}

		step := Step{Field: m[1]}

		for _, ix := range strings.Split(m[2], "]") {
			if ix == "" {
				continue
			}
			// ix still carries its leading bracket
			i, err := strconv.Atoi(ix[1:])
			if err != nil {
				return nil, errors.NewInvalidPathError(path)
			}
			step.Indices = append(step.Indices, i)
		}

		steps = append(steps, step)
	}

	return steps, nil
}

// Get traverses the tree and returns the value the path resolves to.
func Get(root map[string]any, path string) (any, error) {
	steps, err := Parse(path)
	if err != nil {
		return nil, err
	}

	var current any = root

	for _, step := range steps {
		current, err = lookup(current, step.Field)
		if err != nil {
			return nil, err
		}

		for _, i := range step.Indices {
			current, err = index(current, step.Field, i)
			if err != nil {
				return nil, err
			}
		}
	}

	return current, nil
}

// Set assigns a value at the path. The traversal prefix must exist, but the
// final segment is created if absent. A final index operation must address
// an existing slot.
func Set(root map[string]any, path string, value any) error {
	steps, err := Parse(path)
	if err != nil {
		return err
	}

	var current any = root

	last := steps[len(steps)-1]

	for _, step := range steps[:len(steps)-1] {
		current, err = lookup(current, step.Field)
		if err != nil {
			return err
		}

		for _, i := range step.Indices {
			current, err = index(current, step.Field, i)
			if err != nil {
				return err
			}
		}
	}

	if len(last.Indices) == 0 {
		m, ok := current.(map[string]any)
		if !ok {
			return errors.NewKeyNotFoundError(last.Field)
		}
		m[last.Field] = value
		return nil
	}

	current, err = lookup(current, last.Field)
	if err != nil {
		return err
	}

	for _, i := range last.Indices[:len(last.Indices)-1] {
		current, err = index(current, last.Field, i)
		if err != nil {
			return err
		}
	}

	list, ok := current.([]any)
	if !ok {
		return errors.NewKeyNotFoundError(last.Field)
	}

	i := last.Indices[len(last.Indices)-1]
	if i < 0 || i >= len(list) {
		return errors.NewIndexOutOfRangeError(last.Field, i, len(list))
	}

	list[i] = value
	return nil
}

// Delete removes the key or sequence element the final step names.
func Delete(root map[string]any, path string) error {
	steps, err := Parse(path)
	if err != nil {
		return err
	}

	var current any = root

	last := steps[len(steps)-1]

	for _, step := range steps[:len(steps)-1] {
		current, err = lookup(current, step.Field)
		if err != nil {
			return err
		}

		for _, i := range step.Indices {
			current, err = index(current, step.Field, i)
			if err != nil {
				return err
			}
		}
	}

	parent, ok := current.(map[string]any)
	if !ok {
		return errors.NewKeyNotFoundError(last.Field)
	}

	if len(last.Indices) == 0 {
		if _, found := parent[last.Field]; !found {
			return errors.NewKeyNotFoundError(last.Field)
		}
		delete(parent, last.Field)
		return nil
	}

	// deleting an element from a sequence requires rewriting the slice into
	// the slot that holds it
	holder := func(list []any) { parent[last.Field] = list }

	current, err = lookup(parent, last.Field)
	if err != nil {
		return err
	}

	for _, i := range last.Indices[:len(last.Indices)-1] {
		list, ok := current.([]any)
		if !ok {
			return errors.NewKeyNotFoundError(last.Field)
		}
		if i < 0 || i >= len(list) {
			return errors.NewIndexOutOfRangeError(last.Field, i, len(list))
		}
		ii := i
		inner := list
		holder = func(l []any) { inner[ii] = l }
		current = list[i]
	}

	list, ok := current.([]any)
	if !ok {
		return errors.NewKeyNotFoundError(last.Field)
	}

	i := last.Indices[len(last.Indices)-1]
	if i < 0 || i >= len(list) {
		return errors.NewIndexOutOfRangeError(last.Field, i, len(list))
	}

	holder(append(list[:i:i], list[i+1:]...))
	return nil
}

func lookup(current any, field string) (any, error) {
	m, ok := current.(map[string]any)
	if !ok {
		return nil, errors.NewKeyNotFoundError(field)
	}

	value, found := m[field]
	if !found {
		return nil, errors.NewKeyNotFoundError(field)
	}

	return value, nil
}

func index(current any, field string, i int) (any, error) {
	list, ok := current.([]any)
	if !ok {
		return nil, errors.NewKeyNotFoundError(field)
	}

	if i < 0 || i >= len(list) {
		return nil, errors.NewIndexOutOfRangeError(field, i, len(list))
	}

	return list[i], nil
}
