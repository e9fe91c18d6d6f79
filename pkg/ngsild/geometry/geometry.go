// Package geometry holds the GeoJSON geometry literals that may be used as
// GeoProperty values. Coordinates follow the GeoJSON ordering: longitude
// first, latitude second.
package geometry

type Geometry interface {
	GeometryType() string
}

// Point is a single WGS84 position.
type Point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func (p Point) GeometryType() string {
	return p.Type
}

func (p Point) Longitude() float64 {
	return p.Coordinates[0]
}

func (p Point) Latitude() float64 {
	return p.Coordinates[1]
}

// NewPoint creates a Point from a WGS84 coordinate, longitude first.
func NewPoint(longitude, latitude float64) Point {
	return Point{
		Type:        "Point",
		Coordinates: [2]float64{longitude, latitude},
	}
}

// NewPointFromLatLon creates a Point from the common (lat, lon) pair
// shorthand, normalizing to GeoJSON [lon, lat] ordering.
func NewPointFromLatLon(latitude, longitude float64) Point {
	return NewPoint(longitude, latitude)
}

type LineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

func (ls LineString) GeometryType() string {
	return ls.Type
}

func NewLineString(coordinates [][]float64) LineString {
	return LineString{
		Type:        "LineString",
		Coordinates: coordinates,
	}
}

type Polygon struct {
	Type        string        `json:"type"`
	Coordinates [][][]float64 `json:"coordinates"`
}

func (p Polygon) GeometryType() string {
	return p.Type
}

func NewPolygon(coordinates [][][]float64) Polygon {
	return Polygon{
		Type:        "Polygon",
		Coordinates: coordinates,
	}
}

type MultiPoint struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

func (mp MultiPoint) GeometryType() string {
	return mp.Type
}

func NewMultiPoint(coordinates [][]float64) MultiPoint {
	return MultiPoint{
		Type:        "MultiPoint",
		Coordinates: coordinates,
	}
}
