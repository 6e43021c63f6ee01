// Package physics prepares the constant fields of a run: bathymetry,
// horizontal viscosity and the Coriolis parameter.
package physics

const (
	Gravity     = 9.81
	EarthRadius = 6371e3
	EarthOmega  = 7.292e-5
)
