package binimage

import (
	"errors"
	"fmt"

	"rtgeom/internal/models"
	"rtgeom/pkg/geometry"
)

// ErrMissingGeometry reports a contour conversion attempted on a mask whose
// backing image geometry cannot be located.
var ErrMissingGeometry = errors.New("no image geometry associated with mask or slice")

// Polygon is an ordered list of corner pixel linear indices describing the
// outer boundary of one 8-connected foreground region, traversed clockwise
// from the topmost-then-leftmost boundary pixel.
type Polygon []int

type pixel struct {
	c, r int
}

// Clockwise 8-neighborhood order: E, SE, S, SW, W, NW, N, NE.
var (
	ndc = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	ndr = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

func dirIndex(dc, dr int) int {
	for i := 0; i < 8; i++ {
		if ndc[i] == dc && ndr[i] == dr {
			return i
		}
	}
	return 0
}

// ContourIndices traces the outer boundary of every 8-connected foreground
// region and returns one polygon per region, ordered by discovery scan
// order. An all-zero mask yields an empty list.
func (m *Mask) ContourIndices() []Polygon {
	paths := m.tracePaths()
	polys := make([]Polygon, len(paths))
	for i, path := range paths {
		polys[i] = m.corners(path)
	}
	return polys
}

// ContourImage renders the traced boundaries as a labeled raster of the
// same shape: background 0, the boundary path of region k painted with
// value k (k = 1..N in discovery order). Labels are ints so the count of
// distinguishable regions is not capped by the pixel depth.
func (m *Mask) ContourImage() []int {
	img := make([]int, len(m.Pixels))
	for k, path := range m.tracePaths() {
		for _, p := range path {
			img[p.c+p.r*m.Columns] = k + 1
		}
	}
	return img
}

// ToContours converts the traced polygons to physical-space contours
// attached to the given slice, one contour per region, using the mask's
// image geometry (falling back to the slice's).
func (m *Mask) ToContours(slice *models.Slice) ([]*models.Contour, error) {
	plane := m.Plane
	if plane == nil && slice != nil {
		plane = slice.Plane
	}
	if plane == nil {
		return nil, ErrMissingGeometry
	}

	polys := m.ContourIndices()
	contours := make([]*models.Contour, 0, len(polys))
	for i, poly := range polys {
		cols := make([]int, len(poly))
		rows := make([]int, len(poly))
		for j, idx := range poly {
			cols[j] = idx % m.Columns
			rows[j] = idx / m.Columns
		}
		x, y, z, err := plane.CoordinatesFromIndices(cols, rows)
		if err != nil {
			return nil, fmt.Errorf("converting contour %d: %w", i+1, err)
		}
		contour := &models.Contour{
			Type:        models.ContourTypeClosedPlanar,
			Number:      i + 1,
			Coordinates: make([]geometry.Coordinate, 0, len(poly)),
		}
		for j := range poly {
			contour.Coordinates = append(contour.Coordinates, geometry.NewCoordinate(x[j], y[j], z[j]))
		}
		if slice != nil {
			contour.SliceID = slice.ID
		}
		contours = append(contours, contour)
	}
	return contours, nil
}

// tracePaths labels the 8-connected foreground regions in scan order and
// returns the full boundary pixel path of each.
func (m *Mask) tracePaths() [][]pixel {
	labels, starts := m.components()
	paths := make([][]pixel, len(starts))
	for k, start := range starts {
		label := k + 1
		isSet := func(c, r int) bool {
			if c < 0 || r < 0 || c >= m.Columns || r >= m.Rows {
				return false
			}
			return labels[c+r*m.Columns] == label
		}
		paths[k] = traceBoundary(isSet, start, m.Columns, m.Rows)
	}
	return paths
}

// components performs 8-connected labeling in row-major scan order. The
// returned start pixels are each region's first scan hit, which is its
// topmost-then-leftmost pixel.
func (m *Mask) components() (labels []int, starts []pixel) {
	labels = make([]int, len(m.Pixels))
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Columns; c++ {
			idx := c + r*m.Columns
			if m.Pixels[idx] != 1 || labels[idx] != 0 {
				continue
			}
			label := len(starts) + 1
			starts = append(starts, pixel{c, r})

			queue := []pixel{{c, r}}
			labels[idx] = label
			for len(queue) > 0 {
				p := queue[0]
				queue = queue[1:]
				for i := 0; i < 8; i++ {
					nc, nr := p.c+ndc[i], p.r+ndr[i]
					if nc < 0 || nr < 0 || nc >= m.Columns || nr >= m.Rows {
						continue
					}
					nidx := nc + nr*m.Columns
					if m.Pixels[nidx] == 1 && labels[nidx] == 0 {
						labels[nidx] = label
						queue = append(queue, pixel{nc, nr})
					}
				}
			}
		}
	}
	return labels, starts
}

type traceState struct {
	cur, back pixel
}

// traceBoundary walks the outer boundary clockwise using Moore-neighbor
// tracing. The walk starts with the backtrack west of the start pixel and
// stops when the start pixel is re-entered with the same backtrack
// (Jacob's criterion), so a boundary that legitimately revisits a pixel,
// such as a single-pixel-wide appendix, is followed to the end rather than
// cut short. Repeating any intermediate state also stops the walk, which
// bounds degenerate one-pixel-wide shapes whose cycle never reproduces the
// initial backtrack.
func traceBoundary(isSet func(c, r int) bool, start pixel, columns, rows int) []pixel {
	path := []pixel{start}
	initial := traceState{start, pixel{start.c - 1, start.r}}

	cur, back := initial.cur, initial.back
	seen := make(map[traceState]bool)
	maxSteps := 4*columns*rows + 8
	for step := 0; step < maxSteps; step++ {
		next, nextBack, found := nextBoundaryPixel(isSet, cur, back)
		if !found {
			break // isolated pixel
		}
		st := traceState{next, nextBack}
		if st == initial || seen[st] {
			break
		}
		seen[st] = true
		path = append(path, next)
		cur, back = next, nextBack
	}
	return path
}

// nextBoundaryPixel scans the 8-neighborhood of cur clockwise, starting
// just past the backtrack, and returns the first foreground pixel together
// with the last background pixel examined before it (the new backtrack).
func nextBoundaryPixel(isSet func(c, r int) bool, cur, back pixel) (pixel, pixel, bool) {
	startIdx := (dirIndex(back.c-cur.c, back.r-cur.r) + 1) % 8
	prev := back
	for k := 0; k < 8; k++ {
		i := (startIdx + k) % 8
		n := pixel{cur.c + ndc[i], cur.r + ndr[i]}
		if isSet(n.c, n.r) {
			return n, prev, true
		}
		prev = n
	}
	return pixel{}, back, false
}

// corners compresses a boundary path to its direction-change pixels. The
// start pixel is always the first vertex; collinear runs keep only their
// endpoints.
func (m *Mask) corners(path []pixel) Polygon {
	if len(path) == 0 {
		return nil
	}
	// A degenerate walk may re-enter the start pixel as its final step.
	if len(path) > 1 && path[len(path)-1] == path[0] {
		path = path[:len(path)-1]
	}
	poly := Polygon{path[0].c + path[0].r*m.Columns}
	for i := 1; i < len(path); i++ {
		in := direction(path[i-1], path[i])
		out := direction(path[i], path[(i+1)%len(path)])
		if in != out {
			poly = append(poly, path[i].c+path[i].r*m.Columns)
		}
	}
	return poly
}

func direction(from, to pixel) int {
	return dirIndex(sign(to.c-from.c), sign(to.r-from.r))
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
