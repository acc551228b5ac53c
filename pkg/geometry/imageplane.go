package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// sad is the source-axis distance assumed for rotating-gantry panel
// geometry, in millimeters (standard linac convention).
const sad = 1000.0

// ImagePlane describes the pose of a regular 2D pixel grid in physical
// space: extents, per-axis spacing, the position of the center of pixel
// (column 0, row 0), and a 6-element direction-cosine vector. The first
// cosine triple is the unit vector along which the column index increases
// (the DICOM "row direction"), the second triple the unit vector along
// which the row index increases (the "column direction").
type ImagePlane struct {
	// Columns and Rows are the grid extents in pixels.
	Columns int
	Rows    int

	// DeltaCol and DeltaRow are the physical pixel spacings in mm.
	DeltaCol float64
	DeltaRow float64

	// Pos is the physical position of the center of pixel (0, 0).
	Pos Coordinate

	// Cosines holds the two orientation triples.
	Cosines [6]float64
}

// NewImagePlane validates the grid parameters and returns an ImagePlane.
// Spacing must be positive and cosines must contain exactly 6 elements.
func NewImagePlane(columns, rows int, deltaCol, deltaRow float64, pos Coordinate, cosines []float64) (*ImagePlane, error) {
	if columns <= 0 {
		return nil, fmt.Errorf("%w: columns must be positive, got %d", ErrInvalidArgument, columns)
	}
	if rows <= 0 {
		return nil, fmt.Errorf("%w: rows must be positive, got %d", ErrInvalidArgument, rows)
	}
	if deltaCol <= 0 {
		return nil, fmt.Errorf("%w: deltaCol must be positive, got %g", ErrInvalidArgument, deltaCol)
	}
	if deltaRow <= 0 {
		return nil, fmt.Errorf("%w: deltaRow must be positive, got %g", ErrInvalidArgument, deltaRow)
	}
	if len(cosines) != 6 {
		return nil, fmt.Errorf("%w: cosines must have 6 elements, got %d", ErrInvalidArgument, len(cosines))
	}
	p := &ImagePlane{
		Columns:  columns,
		Rows:     rows,
		DeltaCol: deltaCol,
		DeltaRow: deltaRow,
		Pos:      pos,
	}
	copy(p.Cosines[:], cosines)
	return p, nil
}

// Setup derives the pose of a rotating-gantry imaging panel. The panel is
// perpendicular to the beam axis at gantry angle gantryAngleDeg, centered
// on the axis at source-to-detector distance sdd from the source, with the
// source at SAD (1000 mm) upstream of the isocenter. The beam unit vector
// at angle theta is (sin theta, cos theta, 0); the panel's column index
// runs along (cos theta, -sin theta, 0) and its row index along (0, 0, -1).
func Setup(columns, rows int, deltaCol, deltaRow, gantryAngleDeg, sdd float64, isocenter Coordinate) (*ImagePlane, error) {
	if sdd <= 0 {
		return nil, fmt.Errorf("%w: sdd must be positive, got %g", ErrInvalidArgument, sdd)
	}
	theta := gantryAngleDeg * math.Pi / 180
	sin, cos := math.Sincos(theta)

	beam := [3]float64{sin, cos, 0}
	colDir := [3]float64{cos, -sin, 0}
	rowDir := [3]float64{0, 0, -1}

	// Panel center along the beam axis, then back off to the corner pixel.
	center := isocenter.Translate((sdd-sad)*beam[0], (sdd-sad)*beam[1], (sdd-sad)*beam[2])
	halfCols := float64(columns-1) / 2 * deltaCol
	halfRows := float64(rows-1) / 2 * deltaRow
	pos := center.Translate(
		-halfCols*colDir[0]-halfRows*rowDir[0],
		-halfCols*colDir[1]-halfRows*rowDir[1],
		-halfCols*colDir[2]-halfRows*rowDir[2],
	)

	cosines := []float64{colDir[0], colDir[1], colDir[2], rowDir[0], rowDir[1], rowDir[2]}
	return NewImagePlane(columns, rows, deltaCol, deltaRow, pos, cosines)
}

// CoordinatesFromIndices maps pixel indices to physical coordinates:
// P = Pos + col*DeltaCol*colCosines + row*DeltaRow*rowCosines.
// Both index slices must have the same length.
func (p *ImagePlane) CoordinatesFromIndices(cols, rows []int) (x, y, z []float64, err error) {
	if len(cols) != len(rows) {
		return nil, nil, nil, fmt.Errorf("%w: indices length mismatch, %d columns vs %d rows",
			ErrInvalidArgument, len(cols), len(rows))
	}
	n := len(cols)
	x = make([]float64, n)
	y = make([]float64, n)
	z = make([]float64, n)
	for i := 0; i < n; i++ {
		c := float64(cols[i]) * p.DeltaCol
		r := float64(rows[i]) * p.DeltaRow
		x[i] = p.Pos.X + c*p.Cosines[0] + r*p.Cosines[3]
		y[i] = p.Pos.Y + c*p.Cosines[1] + r*p.Cosines[4]
		z[i] = p.Pos.Z + c*p.Cosines[2] + r*p.Cosines[5]
	}
	return x, y, z, nil
}

// CoordinatesToIndices inverts CoordinatesFromIndices. The three coordinate
// equations over the two unknowns (col, row) form an overdetermined system;
// it is solved in the least-squares sense, which is exact for orthonormal
// cosine sets (including negated and permuted axes) and nearest-index
// correct for non-orthonormal ones. Results are rounded to the nearest
// integer index.
func (p *ImagePlane) CoordinatesToIndices(x, y, z []float64) (cols, rows []int, err error) {
	if len(x) != len(y) || len(x) != len(z) {
		return nil, nil, fmt.Errorf("%w: coordinate lengths mismatch, x=%d y=%d z=%d",
			ErrInvalidArgument, len(x), len(y), len(z))
	}
	a := mat.NewDense(3, 2, []float64{
		p.DeltaCol * p.Cosines[0], p.DeltaRow * p.Cosines[3],
		p.DeltaCol * p.Cosines[1], p.DeltaRow * p.Cosines[4],
		p.DeltaCol * p.Cosines[2], p.DeltaRow * p.Cosines[5],
	})

	n := len(x)
	cols = make([]int, n)
	rows = make([]int, n)
	var sol mat.Dense
	for i := 0; i < n; i++ {
		b := mat.NewDense(3, 1, []float64{x[i] - p.Pos.X, y[i] - p.Pos.Y, z[i] - p.Pos.Z})
		if err := sol.Solve(a, b); err != nil {
			return nil, nil, fmt.Errorf("solving for pixel indices: %w", err)
		}
		cols[i] = int(math.Round(sol.At(0, 0)))
		rows[i] = int(math.Round(sol.At(1, 0)))
	}
	return cols, rows, nil
}
