package entities

import "bytes"

// Location is a shorthand for building the conventional "location"
// GeoProperty from a latitude and longitude.
func (f *Fragment) Location(latitude, longitude float64) *Fragment {
	return f.GeoProperty("location", [2]float64{latitude, longitude})
}

// DateObserved is a shorthand for building the conventional "dateObserved"
// temporal Property.
func (f *Fragment) DateObserved(value any) *Fragment {
	return f.TemporalProperty("dateObserved", value)
}

// Equal reports whether two entities serialize to the same JSON document.
func (e *Entity) Equal(other *Entity) bool {
	if other == nil {
		return false
	}

	mine, err := e.MarshalJSON()
	if err != nil {
		return false
	}

	theirs, err := other.MarshalJSON()
	if err != nil {
		return false
	}

	return bytes.Equal(mine, theirs)
}
