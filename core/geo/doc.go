// Package geo estimates straight-line distances and travel times between
// WGS84 coordinates. It has no dependencies and holds no state.
package geo
