// Package binimage implements binary raster images and the contour tracing
// that turns their 8-connected foreground regions into ordered polygon
// boundaries, in pixel indices or in physical coordinates.
package binimage

import (
	"fmt"

	"rtgeom/pkg/geometry"
)

// Mask is a 2D binary raster of columns x rows pixels, each strictly 0 or
// 1, stored row-major (linear index = column + row*columns). A mask may
// carry the pixel grid geometry of the image it was derived from, which is
// required for conversion to physical coordinates.
type Mask struct {
	// Columns and Rows are the raster extents.
	Columns int
	Rows    int

	// Pixels is the row-major 0/1 raster, len = Columns*Rows.
	Pixels []uint8

	// Plane is the grid geometry of the backing image, nil if unknown.
	Plane *geometry.ImagePlane

	// PosSlice is the slice position along z, in mm.
	PosSlice float64
}

// NewMask validates pixels as a columns x rows raster of 0/1 values and
// wraps it. The pixel slice is used directly, not copied.
func NewMask(pixels []uint8, columns, rows int) (*Mask, error) {
	if columns <= 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: pixels shape must be positive, got %dx%d",
			geometry.ErrInvalidArgument, columns, rows)
	}
	if len(pixels) != columns*rows {
		return nil, fmt.Errorf("%w: pixels length %d does not match shape %dx%d",
			geometry.ErrInvalidArgument, len(pixels), columns, rows)
	}
	for i, v := range pixels {
		if v > 1 {
			return nil, fmt.Errorf("%w: pixels must contain only 0 and 1, got %d at index %d",
				geometry.ErrInvalidArgument, v, i)
		}
	}
	return &Mask{Columns: columns, Rows: rows, Pixels: pixels}, nil
}

// NewEmptyMask returns an all-zero mask of the given shape.
func NewEmptyMask(columns, rows int) (*Mask, error) {
	if columns <= 0 || rows <= 0 {
		return nil, fmt.Errorf("%w: pixels shape must be positive, got %dx%d",
			geometry.ErrInvalidArgument, columns, rows)
	}
	return &Mask{Columns: columns, Rows: rows, Pixels: make([]uint8, columns*rows)}, nil
}

// SetGeometry attaches the backing image geometry and slice position.
func (m *Mask) SetGeometry(plane *geometry.ImagePlane, posSlice float64) {
	m.Plane = plane
	m.PosSlice = posSlice
}

// At returns the pixel at (col, row). Out-of-bounds positions read as 0.
func (m *Mask) At(col, row int) uint8 {
	if col < 0 || row < 0 || col >= m.Columns || row >= m.Rows {
		return 0
	}
	return m.Pixels[col+row*m.Columns]
}

// Set writes a 0/1 value at (col, row).
func (m *Mask) Set(col, row int, v uint8) error {
	if v > 1 {
		return fmt.Errorf("%w: pixels must contain only 0 and 1, got %d", geometry.ErrInvalidArgument, v)
	}
	if col < 0 || row < 0 || col >= m.Columns || row >= m.Rows {
		return fmt.Errorf("%w: pixel position (%d, %d) outside %dx%d raster",
			geometry.ErrInvalidArgument, col, row, m.Columns, m.Rows)
	}
	m.Pixels[col+row*m.Columns] = v
	return nil
}

// Add merges other into m as an in-place logical OR. Both masks must have
// the same shape, and the merge never turns a set pixel back to 0.
func (m *Mask) Add(other *Mask) error {
	if other == nil {
		return fmt.Errorf("%w: pixels is nil", geometry.ErrInvalidArgument)
	}
	if other.Columns != m.Columns || other.Rows != m.Rows {
		return fmt.Errorf("%w: pixels shape %dx%d does not match %dx%d",
			geometry.ErrInvalidArgument, other.Columns, other.Rows, m.Columns, m.Rows)
	}
	for i, v := range other.Pixels {
		if v > 1 {
			return fmt.Errorf("%w: pixels must contain only 0 and 1, got %d at index %d",
				geometry.ErrInvalidArgument, v, i)
		}
	}
	for i, v := range other.Pixels {
		m.Pixels[i] |= v
	}
	return nil
}

// CountSet returns the number of foreground pixels.
func (m *Mask) CountSet() int {
	n := 0
	for _, v := range m.Pixels {
		if v == 1 {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the raster sharing the geometry reference.
func (m *Mask) Clone() *Mask {
	pixels := make([]uint8, len(m.Pixels))
	copy(pixels, m.Pixels)
	return &Mask{
		Columns:  m.Columns,
		Rows:     m.Rows,
		Pixels:   pixels,
		Plane:    m.Plane,
		PosSlice: m.PosSlice,
	}
}
