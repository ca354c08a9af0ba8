// Package geo holds the small amount of spherical math the in-memory store
// needs to answer proximity queries without PostGIS.
package geo

import (
	"errors"
	"math"
)

const EarthRadiusKm = 6371.0088

var ErrOutOfRange = errors.New("coordinate out of range")

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return ErrOutOfRange
	}
	return nil
}

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box is a lat/lon rectangle. When MinLon > MaxLon it wraps the antimeridian.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoundingBox returns a box guaranteed to contain every point within radiusKm
// of center.
func BoundingBox(center Point, radiusKm float64) Box {
	dLat := degrees(radiusKm / EarthRadiusKm)
	b := Box{
		MinLat: center.Lat - dLat,
		MaxLat: center.Lat + dLat,
		MinLon: -180,
		MaxLon: 180,
	}
	if b.MinLat <= -90 || b.MaxLat >= 90 {
		b.MinLat = math.Max(b.MinLat, -90)
		b.MaxLat = math.Min(b.MaxLat, 90)
		return b
	}

	ratio := math.Sin(radiusKm/EarthRadiusKm) / math.Cos(radians(center.Lat))
	if ratio >= 1 {
		return b
	}
	dLon := degrees(math.Asin(ratio))
	b.MinLon = normalizeLon(center.Lon - dLon)
	b.MaxLon = normalizeLon(center.Lon + dLon)
	return b
}

func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
	}
	return p.Lon >= b.MinLon || p.Lon <= b.MaxLon
}

func normalizeLon(lon float64) float64 {
	for lon < -180 {
		lon += 360
	}
	for lon > 180 {
		lon -= 360
	}
	return lon
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
