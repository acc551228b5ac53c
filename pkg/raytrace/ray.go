// Package raytrace implements Siddon-style parametric traversal of a line
// segment through a regular 3D voxel grid, yielding the ordered voxel
// indices crossed by the segment and the intersection length inside each.
package raytrace

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"rtgeom/pkg/geometry"
)

// Sub-segments narrower than this fraction of the segment are merged into
// their neighbors; they arise when the segment crosses a grid corner and
// two plane alphas coincide up to rounding.
const alphaEps = 1e-12

// Ray is a transient traversal computation: two endpoints, the voxel grid,
// and the computed crossing sequence. A Ray is reusable; Trace resets the
// computed state before running.
type Ray struct {
	// P1 and P2 are the segment endpoints in physical coordinates.
	P1, P2 geometry.Coordinate

	// Grid is the voxel grid being traversed.
	Grid *geometry.VoxelSpace

	// Indices is the ordered list of linear voxel indices crossed.
	Indices []int

	// Lengths holds the physical intersection length per crossed voxel,
	// parallel to Indices.
	Lengths []float64

	// D is the total traversed length inside the grid, the sum of Lengths.
	D float64
}

// NewRay returns a ray for the segment p1-p2 through grid.
func NewRay(p1, p2 geometry.Coordinate, grid *geometry.VoxelSpace) *Ray {
	return &Ray{P1: p1, P2: p2, Grid: grid}
}

// Reset clears the computed state while retaining endpoints and grid.
func (r *Ray) Reset() {
	r.Indices = nil
	r.Lengths = nil
	r.D = 0
}

// Trace runs the traversal. A segment that misses the grid (including one
// whose clipped alpha range is empty) produces empty results and no error.
// Axes the segment is perpendicular to never constrain the alpha range:
// they either admit every alpha (constant coordinate inside the slab) or
// rule the traversal out entirely.
func (r *Ray) Trace() error {
	r.Reset()
	g := r.Grid

	d := [3]float64{r.P2.X - r.P1.X, r.P2.Y - r.P1.Y, r.P2.Z - r.P1.Z}
	p := [3]float64{r.P1.X, r.P1.Y, r.P1.Z}
	b := [3]float64{g.Bx(), g.By(), g.Bz()}
	delta := [3]float64{g.DeltaX, g.DeltaY, g.DeltaZ}
	n := [3]int{g.NX, g.NY, g.NZ}

	// Clip the parametric range to the grid slabs and to [0, 1].
	aMin, aMax := 0.0, 1.0
	for ax := 0; ax < 3; ax++ {
		if d[ax] != 0 {
			a1 := (b[ax] - p[ax]) / d[ax]
			a2 := (b[ax] + float64(n[ax])*delta[ax] - p[ax]) / d[ax]
			aMin = math.Max(aMin, math.Min(a1, a2))
			aMax = math.Min(aMax, math.Max(a1, a2))
		} else if p[ax] < b[ax] || p[ax] > b[ax]+float64(n[ax])*delta[ax] {
			// Perpendicular axis with the constant coordinate outside the
			// slab: the segment can never enter the grid.
			return nil
		}
	}
	if aMin >= aMax {
		return nil
	}

	dist := r.P1.Distance(r.P2)
	if dist == 0 {
		// Degenerate point inside the grid: one voxel, zero length.
		i, j, k := r.voxelAt(0, p, d, b, delta, n)
		r.Indices = []int{g.LinearIndex(i, j, k)}
		r.Lengths = []float64{0}
		return nil
	}

	// Merge the plane-crossing alphas of all non-perpendicular axes.
	alphas := []float64{aMin, aMax}
	for ax := 0; ax < 3; ax++ {
		if d[ax] == 0 {
			continue
		}
		for plane := 0; plane <= n[ax]; plane++ {
			a := (b[ax] + float64(plane)*delta[ax] - p[ax]) / d[ax]
			if a > aMin && a < aMax {
				alphas = append(alphas, a)
			}
		}
	}
	sort.Float64s(alphas)

	for s := 0; s+1 < len(alphas); s++ {
		a0, a1 := alphas[s], alphas[s+1]
		if a1-a0 < alphaEps {
			continue
		}
		mid := (a0 + a1) / 2
		i, j, k := r.voxelAt(mid, p, d, b, delta, n)
		r.Indices = append(r.Indices, g.LinearIndex(i, j, k))
		r.Lengths = append(r.Lengths, (a1-a0)*dist)
	}
	r.D = floats.Sum(r.Lengths)
	return nil
}

// voxelAt resolves the voxel containing the segment point at alpha. Indices
// are resolved with floor and clamped to the grid, so floating-point noise
// at the first or last sub-segment cannot produce an out-of-range index.
func (r *Ray) voxelAt(alpha float64, p, d, b, delta [3]float64, n [3]int) (int, int, int) {
	var idx [3]int
	for ax := 0; ax < 3; ax++ {
		pos := p[ax] + alpha*d[ax]
		i := int(math.Floor((pos - b[ax]) / delta[ax]))
		if i < 0 {
			i = 0
		}
		if i > n[ax]-1 {
			i = n[ax] - 1
		}
		idx[ax] = i
	}
	return idx[0], idx[1], idx[2]
}
