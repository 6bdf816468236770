package ident

import "github.com/google/uuid"

//go:generate mockgen -package=mocks -destination=mocks/mock_ident.go github.com/fedemaldo95/geo-asu/games/geoguess/ident Generator

// Generator hands out the per-connection player identifier.
type Generator interface {
	NewID() string
}

// UUID implements Generator with random (version 4) UUIDs.
type UUID struct{}

func New() *UUID {
	return &UUID{}
}

// NewID returns a new UUID string.
func (u *UUID) NewID() string {
	return uuid.New().String()
}
