package staple

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtgeom/pkg/binimage"
	"rtgeom/pkg/geometry"
)

// flatVolume wraps a single-slice volume over the given 0/1 pixels.
func flatVolume(t *testing.T, pixels []uint8, columns, rows int) Volume {
	t.Helper()
	m, err := binimage.NewMask(pixels, columns, rows)
	require.NoError(t, err)
	return Volume{m}
}

// onesAt returns a zero vector of the given length with ones at the listed
// positions.
func onesAt(length int, positions ...int) []uint8 {
	v := make([]uint8, length)
	for _, p := range positions {
		v[p] = 1
	}
	return v
}

func TestNewValidation(t *testing.T) {
	a := flatVolume(t, make([]uint8, 6), 3, 2)
	b := flatVolume(t, make([]uint8, 6), 3, 2)

	_, err := New([]Volume{a})
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInvalidArgument)

	short := Volume{}
	_, err = New([]Volume{short, b})
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInvalidArgument)

	twoSlices := Volume{a[0], a[0].Clone()}
	_, err = New([]Volume{a, twoSlices})
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInvalidArgument)

	wide := flatVolume(t, make([]uint8, 8), 4, 2)
	_, err = New([]Volume{a, wide})
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInvalidArgument)

	s, err := New([]Volume{a, b})
	require.NoError(t, err)
	slices, rows, columns := s.Shape()
	assert.Equal(t, 1, slices)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, columns)
}

// TestSolveAllZero verifies the empty-population boundary law: truth all
// zero with degenerate zero rates.
func TestSolveAllZero(t *testing.T) {
	a := flatVolume(t, make([]uint8, 10), 10, 1)
	b := flatVolume(t, make([]uint8, 10), 10, 1)
	s, err := New([]Volume{a, b})
	require.NoError(t, err)
	require.NoError(t, s.Solve())

	assert.Equal(t, []float64{0, 0}, s.Sensitivity())
	assert.Equal(t, []float64{0, 0}, s.Specificity())
	for _, v := range s.TrueSegmentation() {
		assert.Zero(t, v)
	}
	assert.Equal(t, make([]uint8, 10), s.ThresholdedSegmentation())
}

// TestSolveAllOnes verifies the full-population boundary law: truth all one
// with perfect rates for every rater.
func TestSolveAllOnes(t *testing.T) {
	ones := onesAt(10, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	a := flatVolume(t, ones, 10, 1)
	b := flatVolume(t, append([]uint8(nil), ones...), 10, 1)
	s, err := New([]Volume{a, b})
	require.NoError(t, err)
	require.NoError(t, s.Solve())

	assert.Equal(t, []float64{1, 1}, s.Sensitivity())
	assert.Equal(t, []float64{1, 1}, s.Specificity())
	for _, v := range s.TrueSegmentation() {
		assert.Equal(t, 1.0, v)
	}
}

// TestSolveOppositePatterns verifies two complementary raters settle at
// p=q=0.5 each, with the tie-breaking threshold rounding every voxel up.
func TestSolveOppositePatterns(t *testing.T) {
	a := flatVolume(t, onesAt(10, 0, 1, 2, 3, 4), 10, 1)
	b := flatVolume(t, onesAt(10, 5, 6, 7, 8, 9), 10, 1)
	s, err := New([]Volume{a, b})
	require.NoError(t, err)
	require.NoError(t, s.Solve())

	p := s.Sensitivity()
	q := s.Specificity()
	for i := 0; i < 2; i++ {
		assert.InDelta(t, 0.5, p[i], 1e-9)
		assert.InDelta(t, 0.5, q[i], 1e-9)
	}
	want := onesAt(10, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	assert.Equal(t, want, s.ThresholdedSegmentation())
}

// TestSolveAgainstMaster verifies direct sensitivity/specificity scoring
// against a known reference: a rater finding 7 of 10 true positives and no
// false positives scores p=0.7, q=1.
func TestSolveAgainstMaster(t *testing.T) {
	master := flatVolume(t, onesAt(20, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9), 20, 1)
	partial := flatVolume(t, onesAt(20, 0, 1, 2, 3, 4, 5, 6), 20, 1)
	perfect := flatVolume(t, onesAt(20, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9), 20, 1)

	s, err := New([]Volume{partial, perfect})
	require.NoError(t, err)
	require.NoError(t, s.SetMaster(master))
	require.NoError(t, s.Solve())

	assert.InDelta(t, 0.7, s.Sensitivity()[0], 1e-12)
	assert.InDelta(t, 1.0, s.Specificity()[0], 1e-12)
	assert.InDelta(t, 1.0, s.Sensitivity()[1], 1e-12)
	assert.InDelta(t, 1.0, s.Specificity()[1], 1e-12)
	assert.Equal(t, onesAt(20, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9), s.ThresholdedSegmentation())
}

// TestMasterRoleSwap verifies the sensitivity/specificity symmetry: scoring
// a near-empty pattern against a near-full reference gives p=1/9, q=1, and
// swapping the roles flips which rate is fractional.
func TestMasterRoleSwap(t *testing.T) {
	pOne := onesAt(10, 0)
	nOne := onesAt(10, 0, 1, 2, 3, 4, 5, 6, 7, 8)

	s, err := New([]Volume{
		flatVolume(t, pOne, 10, 1),
		flatVolume(t, nOne, 10, 1),
	})
	require.NoError(t, err)
	require.NoError(t, s.SetMaster(flatVolume(t, nOne, 10, 1)))
	require.NoError(t, s.Solve())
	assert.InDelta(t, 1.0/9.0, s.Sensitivity()[0], 1e-12)
	assert.InDelta(t, 1.0, s.Specificity()[0], 1e-12)

	s, err = New([]Volume{
		flatVolume(t, pOne, 10, 1),
		flatVolume(t, nOne, 10, 1),
	})
	require.NoError(t, err)
	require.NoError(t, s.SetMaster(flatVolume(t, pOne, 10, 1)))
	require.NoError(t, s.Solve())
	assert.InDelta(t, 1.0, s.Sensitivity()[1], 1e-12)
	assert.InDelta(t, 1.0/9.0, s.Specificity()[1], 1e-12)
}

// TestSolveRecoversUnderSegmentation verifies the EM fit on three raters
// where two agree on a 5-voxel truth and the third finds only 3 of the 5:
// the under-segmenting rater's sensitivity converges to 0.6.
func TestSolveRecoversUnderSegmentation(t *testing.T) {
	truth := onesAt(10, 0, 1, 2, 3, 4)
	s, err := New([]Volume{
		flatVolume(t, append([]uint8(nil), truth...), 10, 1),
		flatVolume(t, append([]uint8(nil), truth...), 10, 1),
		flatVolume(t, onesAt(10, 0, 1, 2), 10, 1),
	})
	require.NoError(t, err)
	require.NoError(t, s.Solve())

	p := s.Sensitivity()
	q := s.Specificity()
	assert.InDelta(t, 1.0, p[0], 0.01)
	assert.InDelta(t, 1.0, p[1], 0.01)
	assert.InDelta(t, 0.6, p[2], 0.01)
	assert.InDelta(t, 1.0, q[2], 0.01)
	assert.Equal(t, truth, s.ThresholdedSegmentation())
}

// TestSolveIterationCapAndProgress verifies the iteration budget caps the
// loop and the progress callback sees monotonically increasing iterations.
func TestSolveIterationCapAndProgress(t *testing.T) {
	s, err := New([]Volume{
		flatVolume(t, onesAt(10, 0, 1, 2, 3, 4), 10, 1),
		flatVolume(t, onesAt(10, 2, 3, 4, 5, 6), 10, 1),
	})
	require.NoError(t, err)

	s.MaxIterations = 3
	var iterations []int
	s.Progress = func(iteration int, delta float64) {
		iterations = append(iterations, iteration)
		assert.GreaterOrEqual(t, delta, 0.0)
	}
	require.NoError(t, s.Solve())

	assert.LessOrEqual(t, len(iterations), 3)
	for i, it := range iterations {
		assert.Equal(t, i+1, it)
	}
}

// TestRemoveEmptyIndices verifies the filter drops exactly the positions no
// rater marked, remembers them, and leaves the fit on retained positions
// unchanged.
func TestRemoveEmptyIndices(t *testing.T) {
	master := flatVolume(t, onesAt(6, 0, 2), 6, 1)
	s, err := New([]Volume{
		flatVolume(t, onesAt(6, 0), 6, 1),
		flatVolume(t, onesAt(6, 0, 2), 6, 1),
	})
	require.NoError(t, err)
	require.NoError(t, s.SetMaster(master))

	removed := s.RemoveEmptyIndices()
	assert.Equal(t, 4, removed)
	assert.Equal(t, []int{1, 3, 4, 5}, s.RemovedIndices())

	require.NoError(t, s.Solve())
	// Working population is [idx 0, idx 2]: rater 0 found 1 of the 2
	// reference positives, rater 1 both.
	assert.InDelta(t, 0.5, s.Sensitivity()[0], 1e-12)
	assert.InDelta(t, 1.0, s.Sensitivity()[1], 1e-12)
	assert.Len(t, s.TrueSegmentation(), 2)
}

// TestSetMasterValidation verifies shape checks on the reference volume.
func TestSetMasterValidation(t *testing.T) {
	s, err := New([]Volume{
		flatVolume(t, make([]uint8, 6), 3, 2),
		flatVolume(t, make([]uint8, 6), 3, 2),
	})
	require.NoError(t, err)

	err = s.SetMaster(Volume{})
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInvalidArgument)

	err = s.SetMaster(flatVolume(t, make([]uint8, 8), 4, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, geometry.ErrInvalidArgument)
}
