package domain

import "github.com/dmehra2102/scrap-pickup/pkg/geo"

type NearbyQuery struct {
	Origin   geo.Point
	RadiusKm float64
	Limit    int
}

// Candidate is a pending, unassigned order with its straight-line distance.
type Candidate struct {
	Order      Order
	DistanceKm float64
}

// TravelInfo is one routing result; nil fields mean the router had no answer.
type TravelInfo struct {
	DurationSeconds *float64
	DistanceMeters  *float64
}

type NearbyOrder struct {
	Candidate
	TravelTimeSeconds    *float64
	TravelDistanceMeters *float64
}
