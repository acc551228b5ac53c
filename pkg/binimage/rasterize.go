package binimage

import (
	"fmt"

	"rtgeom/pkg/geometry"
)

// FillPolygon rasterizes a traced polygon back into the mask: the polygon
// edges are drawn with Bresenham lines and the enclosed interior is filled,
// then the result is merged in as a logical OR. For a simply-connected
// region this inverts ContourIndices exactly.
func (m *Mask) FillPolygon(poly Polygon) error {
	if len(poly) == 0 {
		return fmt.Errorf("%w: polygon is empty", geometry.ErrInvalidArgument)
	}
	edges := make([]uint8, len(m.Pixels))
	for _, idx := range poly {
		if idx < 0 || idx >= len(m.Pixels) {
			return fmt.Errorf("%w: polygon index %d outside %dx%d raster",
				geometry.ErrInvalidArgument, idx, m.Columns, m.Rows)
		}
	}

	// Draw the closed edge loop.
	for i := 0; i < len(poly); i++ {
		a := pixel{poly[i] % m.Columns, poly[i] / m.Columns}
		b := pixel{poly[(i+1)%len(poly)] % m.Columns, poly[(i+1)%len(poly)] / m.Columns}
		drawLine(edges, m.Columns, a, b)
	}

	// Flood the background from the raster border; everything unreached and
	// not on an edge is interior.
	outside := make([]bool, len(m.Pixels))
	var queue []pixel
	push := func(c, r int) {
		idx := c + r*m.Columns
		if c < 0 || r < 0 || c >= m.Columns || r >= m.Rows || outside[idx] || edges[idx] == 1 {
			return
		}
		outside[idx] = true
		queue = append(queue, pixel{c, r})
	}
	for c := 0; c < m.Columns; c++ {
		push(c, 0)
		push(c, m.Rows-1)
	}
	for r := 0; r < m.Rows; r++ {
		push(0, r)
		push(m.Columns-1, r)
	}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		push(p.c+1, p.r)
		push(p.c-1, p.r)
		push(p.c, p.r+1)
		push(p.c, p.r-1)
	}

	for i := range m.Pixels {
		if edges[i] == 1 || !outside[i] {
			m.Pixels[i] = 1
		}
	}
	return nil
}

func drawLine(raster []uint8, columns int, a, b pixel) {
	dc := abs(b.c - a.c)
	dr := -abs(b.r - a.r)
	sc := sign(b.c - a.c)
	sr := sign(b.r - a.r)
	e := dc + dr
	c, r := a.c, a.r
	for {
		raster[c+r*columns] = 1
		if c == b.c && r == b.r {
			return
		}
		e2 := 2 * e
		if e2 >= dr {
			e += dr
			c += sc
		}
		if e2 <= dc {
			e += dc
			r += sr
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
