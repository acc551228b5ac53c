// Package staple fuses multiple binary segmentations of the same volume
// into a probabilistic consensus segmentation together with per-rater
// sensitivity and specificity estimates, using the STAPLE
// expectation-maximization algorithm (Warfield, Zou, Wells 2004).
package staple

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rtgeom/pkg/binimage"
	"rtgeom/pkg/geometry"
)

// DefaultMaxIterations bounds the EM loop when the caller does not supply
// a budget.
const DefaultMaxIterations = 100

// pqTolerance stops the iteration early once the rater parameters move
// less than this between consecutive steps.
const pqTolerance = 1e-9

// Volume is a stack of equally shaped binary slices ordered ascending by
// slice position. The solver treats the stack as one flattened voxel
// population but reports results in the original multi-slice shape.
type Volume []*binimage.Mask

// ProgressCallback reports EM progress: the completed iteration and the
// largest parameter change it produced.
type ProgressCallback func(iteration int, delta float64)

// Solver holds the rater volumes and, after Solve, the fused result.
type Solver struct {
	// MaxIterations caps the EM loop. Defaults to DefaultMaxIterations.
	MaxIterations int

	// Progress, when set, is called after every EM iteration.
	Progress ProgressCallback

	slices, rows, columns int

	// data holds one flattened 0/1 vector per rater.
	data [][]float64

	// master, when set, is the known reference segmentation; p and q are
	// then exact agreement rates against it instead of EM estimates.
	master []float64

	// kept maps working positions back to original linear indices after
	// RemoveEmptyIndices; nil when no filtering was applied.
	kept    []int
	removed []int

	p, q     []float64
	trueSeg  []float64
	solved   bool
	original int
}

// New validates and wraps at least two equally shaped rater volumes.
func New(volumes []Volume) (*Solver, error) {
	if len(volumes) < 2 {
		return nil, fmt.Errorf("%w: volumes must contain at least 2 entries, got %d",
			geometry.ErrInvalidArgument, len(volumes))
	}
	first := volumes[0]
	if len(first) == 0 {
		return nil, fmt.Errorf("%w: volumes contains an empty volume", geometry.ErrInvalidArgument)
	}
	s := &Solver{
		MaxIterations: DefaultMaxIterations,
		slices:        len(first),
		rows:          first[0].Rows,
		columns:       first[0].Columns,
	}
	for vi, v := range volumes {
		if len(v) != s.slices {
			return nil, fmt.Errorf("%w: volumes[%d] has %d slices, expected %d",
				geometry.ErrInvalidArgument, vi, len(v), s.slices)
		}
		flat := make([]float64, 0, s.slices*s.rows*s.columns)
		for si, m := range v {
			if m.Rows != s.rows || m.Columns != s.columns {
				return nil, fmt.Errorf("%w: volumes[%d] slice %d is %dx%d, expected %dx%d",
					geometry.ErrInvalidArgument, vi, si, m.Columns, m.Rows, s.columns, s.rows)
			}
			for _, px := range m.Pixels {
				flat = append(flat, float64(px))
			}
		}
		s.data = append(s.data, flat)
	}
	s.original = len(s.data[0])
	return s, nil
}

// SetMaster installs a known reference segmentation. Solve then scores each
// rater's sensitivity and specificity directly against it and uses it as
// the true segmentation.
func (s *Solver) SetMaster(v Volume) error {
	if len(v) != s.slices {
		return fmt.Errorf("%w: master has %d slices, expected %d",
			geometry.ErrInvalidArgument, len(v), s.slices)
	}
	flat := make([]float64, 0, s.original)
	for si, m := range v {
		if m.Rows != s.rows || m.Columns != s.columns {
			return fmt.Errorf("%w: master slice %d is %dx%d, expected %dx%d",
				geometry.ErrInvalidArgument, si, m.Columns, m.Rows, s.columns, s.rows)
		}
		for _, px := range m.Pixels {
			flat = append(flat, float64(px))
		}
	}
	if len(flat) != len(s.data[0]) {
		return fmt.Errorf("%w: master length %d does not match working length %d",
			geometry.ErrInvalidArgument, len(flat), len(s.data[0]))
	}
	s.master = flat
	return nil
}

// RemoveEmptyIndices drops every raster position where no rater recorded a
// positive, shrinking the working population for the p/q fit. The removed
// linear indices are retained so callers can invert the filter. Returns the
// number of removed positions.
func (s *Solver) RemoveEmptyIndices() int {
	length := len(s.data[0])
	s.kept = s.kept[:0]
	s.removed = s.removed[:0]
	for i := 0; i < length; i++ {
		any := false
		for _, rater := range s.data {
			if rater[i] == 1 {
				any = true
				break
			}
		}
		if any {
			s.kept = append(s.kept, i)
		} else {
			s.removed = append(s.removed, i)
		}
	}
	for ri, rater := range s.data {
		filtered := make([]float64, len(s.kept))
		for wi, oi := range s.kept {
			filtered[wi] = rater[oi]
		}
		s.data[ri] = filtered
	}
	if s.master != nil {
		filtered := make([]float64, len(s.kept))
		for wi, oi := range s.kept {
			filtered[wi] = s.master[oi]
		}
		s.master = filtered
	}
	return len(s.removed)
}

// RemovedIndices returns the original linear indices dropped by
// RemoveEmptyIndices, nil when no filtering has run.
func (s *Solver) RemovedIndices() []int { return s.removed }

// Solve runs the EM iteration (or the direct master scoring) and populates
// the sensitivity, specificity and true segmentation results.
func (s *Solver) Solve() error {
	n := len(s.data)
	length := len(s.data[0])
	s.p = make([]float64, n)
	s.q = make([]float64, n)
	s.trueSeg = make([]float64, length)
	s.solved = true

	if length == 0 {
		return nil
	}
	if s.master != nil {
		s.solveAgainstMaster()
		return nil
	}

	// Degenerate populations need no iteration: with no positive voxel
	// anywhere the truth is empty and both rates collapse to zero; with
	// nothing but positives the truth is full and both rates are one.
	positives := 0.0
	for _, rater := range s.data {
		positives += floats.Sum(rater)
	}
	if positives == 0 {
		return nil
	}
	if positives == float64(n*length) {
		for i := range s.trueSeg {
			s.trueSeg[i] = 1
		}
		for i := 0; i < n; i++ {
			s.p[i] = 1
			s.q[i] = 1
		}
		return nil
	}

	// Initialize the soft truth to the per-voxel rater mean; the prior is
	// the global positive fraction of that initial estimate.
	for i := range s.trueSeg {
		sum := 0.0
		for _, rater := range s.data {
			sum += rater[i]
		}
		s.trueSeg[i] = sum / float64(n)
	}
	prior := stat.Mean(s.trueSeg, nil)

	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	for iter := 0; iter < maxIter; iter++ {
		delta := s.emStep(prior)
		if s.Progress != nil {
			s.Progress(iter+1, delta)
		}
		if delta < pqTolerance {
			break
		}
	}
	return nil
}

// emStep runs one M-step followed by one E-step and returns the largest
// change in any rater parameter.
func (s *Solver) emStep(prior float64) float64 {
	length := len(s.data[0])

	sumT := floats.Sum(s.trueSeg)
	sumNotT := float64(length) - sumT

	delta := 0.0
	for i, rater := range s.data {
		var tp, tn float64
		for v := 0; v < length; v++ {
			tp += s.trueSeg[v] * rater[v]
			tn += (1 - s.trueSeg[v]) * (1 - rater[v])
		}
		p, q := 0.0, 1.0
		if sumT > 0 {
			p = tp / sumT
		}
		if sumNotT > 0 {
			q = tn / sumNotT
		}
		delta = math.Max(delta, math.Abs(p-s.p[i]))
		delta = math.Max(delta, math.Abs(q-s.q[i]))
		s.p[i] = p
		s.q[i] = q
	}

	for v := 0; v < length; v++ {
		a := prior
		b := 1 - prior
		for i, rater := range s.data {
			if rater[v] == 1 {
				a *= s.p[i]
				b *= 1 - s.q[i]
			} else {
				a *= 1 - s.p[i]
				b *= s.q[i]
			}
		}
		if a+b > 0 {
			s.trueSeg[v] = a / (a + b)
		} else {
			s.trueSeg[v] = 0
		}
	}
	return delta
}

// solveAgainstMaster scores each rater directly against the reference:
// sensitivity is the agreement rate on the master's positives, specificity
// the agreement rate on its negatives.
func (s *Solver) solveAgainstMaster() {
	length := len(s.master)
	copy(s.trueSeg, s.master)
	positives := floats.Sum(s.master)
	negatives := float64(length) - positives
	for i, rater := range s.data {
		var tp, tn float64
		for v := 0; v < length; v++ {
			tp += s.master[v] * rater[v]
			tn += (1 - s.master[v]) * (1 - rater[v])
		}
		if positives > 0 {
			s.p[i] = tp / positives
		}
		if negatives > 0 {
			s.q[i] = tn / negatives
		} else {
			s.q[i] = 1
		}
	}
}

// Sensitivity returns the per-rater true positive rates.
func (s *Solver) Sensitivity() []float64 { return s.p }

// Specificity returns the per-rater true negative rates.
func (s *Solver) Specificity() []float64 { return s.q }

// TrueSegmentation returns the soft consensus field over the working
// positions, values in [0, 1].
func (s *Solver) TrueSegmentation() []float64 { return s.trueSeg }

// ThresholdedSegmentation binarizes the consensus at 0.5, ties rounding up.
func (s *Solver) ThresholdedSegmentation() []uint8 {
	out := make([]uint8, len(s.trueSeg))
	for i, v := range s.trueSeg {
		if v >= 0.5 {
			out[i] = 1
		}
	}
	return out
}

// Shape returns the input volume shape (slices, rows, columns).
func (s *Solver) Shape() (slices, rows, columns int) {
	return s.slices, s.rows, s.columns
}
