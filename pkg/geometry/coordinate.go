// Package geometry provides the spatial primitives shared by the rtgeom
// library: 3D coordinates, oriented 2D pixel grids (image planes) and
// axis-aligned 3D voxel grids, together with the affine mappings between
// discrete grid indices and continuous physical coordinates.
package geometry

import (
	"errors"
	"math"
)

// ErrInvalidArgument tags every precondition violation reported by the
// library: wrong shape, wrong element domain, out-of-range numeric
// parameter. The wrapped message names the offending parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// Coordinate is an immutable 3D point in physical (patient) space,
// in millimeters. Equality is exact floating-point comparison.
type Coordinate struct {
	X, Y, Z float64
}

// NewCoordinate returns the point (x, y, z).
func NewCoordinate(x, y, z float64) Coordinate {
	return Coordinate{X: x, Y: y, Z: z}
}

// Translate returns a new Coordinate with each offset added.
func (c Coordinate) Translate(dx, dy, dz float64) Coordinate {
	return Coordinate{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// Distance returns the Euclidean distance to o.
func (c Coordinate) Distance(o Coordinate) float64 {
	dx := c.X - o.X
	dy := c.Y - o.Y
	dz := c.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
