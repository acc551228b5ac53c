// Package models holds the slim containment model surrounding the geometric
// core: regions of interest, their slices, and the contours attached to
// them. Entities reference each other through opaque string IDs via a
// Registry arena rather than object pointers, which keeps the graph free of
// cyclic ownership.
package models

import (
	"fmt"
	"strconv"
	"strings"

	"rtgeom/pkg/geometry"
)

// ContourTypeClosedPlanar is the default geometric type of a traced contour.
const ContourTypeClosedPlanar = "CLOSED_PLANAR"

// ROI is a region of interest: a named structure whose shape is described
// by one contour set per slice.
type ROI struct {
	// ID is the arena key of this ROI.
	ID string

	// Name is the structure label, e.g. "External" or "PTV".
	Name string

	// Number is the ROI number within its structure set.
	Number int

	// SliceIDs lists the slices belonging to this ROI, sorted ascending by
	// slice position by the caller that assembled them.
	SliceIDs []string
}

// Slice is a single image plane of an ROI: a z position plus the pixel grid
// geometry contours on this plane are expressed in.
type Slice struct {
	// ID is the arena key of this slice.
	ID string

	// ROIID refers to the owning ROI.
	ROIID string

	// Pos is the slice position along the z axis, in mm.
	Pos float64

	// Plane is the pixel grid geometry of the backing image. It may be nil
	// for slices whose image has not been located.
	Plane *geometry.ImagePlane

	// ContourIDs lists the contours attached to this slice, in insertion
	// order.
	ContourIDs []string
}

// Contour is an ordered polygon boundary in physical coordinates.
// Coordinates preserve insertion order; distinct instances with identical
// values are distinct entries.
type Contour struct {
	// ID is the arena key of this contour.
	ID string

	// SliceID refers to the owning slice.
	SliceID string

	// Type is the geometric type, ContourTypeClosedPlanar by default.
	Type string

	// Number is the contour number within its slice.
	Number int

	// Coordinates is the ordered vertex list.
	Coordinates []geometry.Coordinate
}

// ContourData serializes the vertex list in the DICOM Contour Data format:
// a flat backslash-delimited decimal string x\y\z\x\y\z...
func (c *Contour) ContourData() string {
	parts := make([]string, 0, 3*len(c.Coordinates))
	for _, p := range c.Coordinates {
		parts = append(parts,
			strconv.FormatFloat(p.X, 'f', -1, 64),
			strconv.FormatFloat(p.Y, 'f', -1, 64),
			strconv.FormatFloat(p.Z, 'f', -1, 64))
	}
	return strings.Join(parts, "\\")
}

// Registry is the entity arena. The zero value is not usable; create one
// with NewRegistry.
type Registry struct {
	rois     map[string]*ROI
	slices   map[string]*Slice
	contours map[string]*Contour
	nextID   int
}

// NewRegistry returns an empty arena.
func NewRegistry() *Registry {
	return &Registry{
		rois:     make(map[string]*ROI),
		slices:   make(map[string]*Slice),
		contours: make(map[string]*Contour),
	}
}

func (r *Registry) newID(prefix string) string {
	r.nextID++
	return fmt.Sprintf("%s-%d", prefix, r.nextID)
}

// AddROI registers a new ROI and returns it.
func (r *Registry) AddROI(name string, number int) *ROI {
	roi := &ROI{ID: r.newID("roi"), Name: name, Number: number}
	r.rois[roi.ID] = roi
	return roi
}

// AddSlice registers a new slice under the given ROI and returns it.
func (r *Registry) AddSlice(roiID string, pos float64, plane *geometry.ImagePlane) (*Slice, error) {
	roi, ok := r.rois[roiID]
	if !ok {
		return nil, fmt.Errorf("%w: roiID %q is not registered", geometry.ErrInvalidArgument, roiID)
	}
	s := &Slice{ID: r.newID("slice"), ROIID: roiID, Pos: pos, Plane: plane}
	r.slices[s.ID] = s
	roi.SliceIDs = append(roi.SliceIDs, s.ID)
	return s, nil
}

// AddContour registers a contour under the given slice and returns it.
func (r *Registry) AddContour(sliceID string, coords []geometry.Coordinate) (*Contour, error) {
	s, ok := r.slices[sliceID]
	if !ok {
		return nil, fmt.Errorf("%w: sliceID %q is not registered", geometry.ErrInvalidArgument, sliceID)
	}
	c := &Contour{
		ID:          r.newID("contour"),
		SliceID:     sliceID,
		Type:        ContourTypeClosedPlanar,
		Number:      len(s.ContourIDs) + 1,
		Coordinates: coords,
	}
	r.contours[c.ID] = c
	s.ContourIDs = append(s.ContourIDs, c.ID)
	return c, nil
}

// ROICount returns the number of registered ROIs.
func (r *Registry) ROICount() int { return len(r.rois) }

// ROI looks up an ROI by ID.
func (r *Registry) ROI(id string) (*ROI, bool) { roi, ok := r.rois[id]; return roi, ok }

// Slice looks up a slice by ID.
func (r *Registry) Slice(id string) (*Slice, bool) { s, ok := r.slices[id]; return s, ok }

// Contour looks up a contour by ID.
func (r *Registry) Contour(id string) (*Contour, bool) { c, ok := r.contours[id]; return c, ok }
