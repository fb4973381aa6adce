// Package geo provides great-circle geometry for site geofencing
package geo

import (
	"math"

	"github.com/golang/geo/s2"

	"github.com/sitegate/sitegate/pkg"
)

// EarthRadiusMeters is the mean spherical Earth radius
const EarthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between a and b
func DistanceMeters(a, b pkg.GeoPoint) float64 {
	p1 := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	p2 := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Centroid returns the spherical centroid of points, or false for an empty slice
func Centroid(points []pkg.GeoPoint) (pkg.GeoPoint, bool) {
	if len(points) == 0 {
		return pkg.GeoPoint{}, false
	}

	var sum s2.Point
	for _, p := range points {
		v := s2.PointFromLatLng(s2.LatLngFromDegrees(p.Latitude, p.Longitude))
		sum = s2.Point{Vector: sum.Add(v.Vector)}
	}
	if sum.Norm() == 0 {
		return points[0], true
	}

	ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	return pkg.GeoPoint{Latitude: ll.Lat.Degrees(), Longitude: ll.Lng.Degrees()}, true
}

// DestinationPoint returns the point reached from p travelling distance meters on bearing degrees
func DestinationPoint(p pkg.GeoPoint, bearing, distance float64) pkg.GeoPoint {
	bearingRad := bearing * math.Pi / 180
	angular := distance / EarthRadiusMeters

	latRad := p.Latitude * math.Pi / 180
	lonRad := p.Longitude * math.Pi / 180

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))
	lon2 := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(lat2))

	return pkg.GeoPoint{Latitude: lat2 * 180 / math.Pi, Longitude: lon2 * 180 / math.Pi}
}
