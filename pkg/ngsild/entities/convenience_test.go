package entities

import (
	"testing"

	"github.com/diwise/ngsild-client/pkg/ngsild/geometry"
	"github.com/matryer/is"
)

func TestLocationShorthand(t *testing.T) {
	is := is.New(t)

	f := NewFragment().Location(57.7, 12.0)
	is.NoErr(f.Err())

	value, err := f.Get("location.value")
	is.NoErr(err)

	point, ok := value.(geometry.Point)
	is.True(ok)
	is.Equal(point.Longitude(), 12.0)
	is.Equal(point.Latitude(), 57.7)
}

func TestDateObservedShorthand(t *testing.T) {
	is := is.New(t)

	f := NewFragment().DateObserved("2022-03-14T17:25:00Z")
	is.NoErr(f.Err())

	value, err := f.Get("dateObserved.value")
	is.NoErr(err)

	literal, ok := value.(*Fragment)
	is.True(ok)
	is.Equal(literal.ToMap(), map[string]any{
		"@type":  "DateTime",
		"@value": "2022-03-14T17:25:00Z",
	})
}
