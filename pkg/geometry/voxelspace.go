package geometry

import "fmt"

// VoxelSpace describes an axis-aligned regular 3D voxel grid. Pos is the
// physical position of the center of voxel (0, 0, 0); the first boundary
// plane of each axis therefore sits half a spacing before Pos. A VoxelSpace
// is immutable once created.
type VoxelSpace struct {
	// NX, NY, NZ are the grid extents in voxels.
	NX, NY, NZ int

	// DeltaX, DeltaY, DeltaZ are the voxel spacings in mm.
	DeltaX, DeltaY, DeltaZ float64

	// Pos is the physical position of the center of voxel (0, 0, 0).
	Pos Coordinate
}

// NewVoxelSpace validates extents and spacing and returns a VoxelSpace.
func NewVoxelSpace(nx, ny, nz int, dx, dy, dz float64, pos Coordinate) (*VoxelSpace, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("%w: grid extents must be positive, got %dx%dx%d",
			ErrInvalidArgument, nx, ny, nz)
	}
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return nil, fmt.Errorf("%w: voxel spacing must be positive, got (%g, %g, %g)",
			ErrInvalidArgument, dx, dy, dz)
	}
	return &VoxelSpace{NX: nx, NY: ny, NZ: nz, DeltaX: dx, DeltaY: dy, DeltaZ: dz, Pos: pos}, nil
}

// Bx returns the x coordinate of boundary plane 0 (half a spacing before Pos).
func (v *VoxelSpace) Bx() float64 { return v.Pos.X - v.DeltaX/2 }

// By returns the y coordinate of boundary plane 0.
func (v *VoxelSpace) By() float64 { return v.Pos.Y - v.DeltaY/2 }

// Bz returns the z coordinate of boundary plane 0.
func (v *VoxelSpace) Bz() float64 { return v.Pos.Z - v.DeltaZ/2 }

// Len returns the total number of voxels.
func (v *VoxelSpace) Len() int { return v.NX * v.NY * v.NZ }

// LinearIndex converts a voxel triple to its linear index
// (i + j*NX + k*NX*NY).
func (v *VoxelSpace) LinearIndex(i, j, k int) int {
	return i + j*v.NX + k*v.NX*v.NY
}

// VoxelCenter returns the physical center of voxel (i, j, k).
func (v *VoxelSpace) VoxelCenter(i, j, k int) Coordinate {
	return Coordinate{
		X: v.Pos.X + float64(i)*v.DeltaX,
		Y: v.Pos.Y + float64(j)*v.DeltaY,
		Z: v.Pos.Z + float64(k)*v.DeltaZ,
	}
}
