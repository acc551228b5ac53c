// Package pipeline drives batch processing of binary mask images: loading
// per-slice masks from disk, tracing their contours in parallel, optionally
// fusing several raters' masks with STAPLE, and saving the results.
package pipeline

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"rtgeom/internal/models"
	"rtgeom/pkg/binimage"
	"rtgeom/pkg/config"
	"rtgeom/pkg/geometry"
	"rtgeom/pkg/staple"
	"rtgeom/pkg/visualization"
)

// Params holds the pipeline configuration.
type Params struct {
	// InputDirs lists one directory of PNG mask slices per rater. A single
	// directory means plain contour extraction; two or more enable STAPLE
	// fusion.
	InputDirs []string

	// OutputDir receives contour data files and rendered images.
	OutputDir string

	// Config supplies geometry and processing settings.
	Config *config.Config

	// Logger receives stage progress; a zerolog.Nop() logger silences it.
	Logger zerolog.Logger
}

// Pipeline runs the mask processing stages.
type Pipeline struct {
	params   *Params
	log      zerolog.Logger
	registry *models.Registry

	// masks is organized as [raterIdx][sliceIdx].
	masks [][]*binimage.Mask

	columns int
	rows    int
}

// New creates a pipeline with the provided parameters.
func New(params *Params) *Pipeline {
	return &Pipeline{
		params:   params,
		log:      params.Logger,
		registry: models.NewRegistry(),
	}
}

// Registry exposes the entity arena populated by Process.
func (p *Pipeline) Registry() *models.Registry { return p.registry }

// Process runs the complete pipeline.
func (p *Pipeline) Process() error {
	if len(p.params.InputDirs) == 0 {
		return fmt.Errorf("%w: inputDirs is empty", geometry.ErrInvalidArgument)
	}
	if err := os.MkdirAll(p.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	p.log.Info().Int("raters", len(p.params.InputDirs)).Msg("loading mask slices")
	if err := p.loadMasks(); err != nil {
		return fmt.Errorf("failed to load masks: %w", err)
	}

	p.log.Info().Int("slices", len(p.masks[0])).Msg("tracing contours")
	if err := p.traceContours(p.masks[0], "contours"); err != nil {
		return fmt.Errorf("failed to trace contours: %w", err)
	}

	if len(p.masks) > 1 {
		p.log.Info().Msg("fusing raters with STAPLE")
		fused, err := p.fuseRaters()
		if err != nil {
			return fmt.Errorf("failed to fuse raters: %w", err)
		}
		if err := p.traceContours(fused, "fused_contours"); err != nil {
			return fmt.Errorf("failed to trace fused contours: %w", err)
		}
		if p.params.Config.Output.SaveContourImages {
			dir := filepath.Join(p.params.OutputDir, "fused_masks")
			if err := visualization.SaveMaskSequence(fused, dir); err != nil {
				p.log.Warn().Err(err).Msg("failed to save fused mask images")
			}
		}
	}
	return nil
}

// loadMasks reads every rater directory, sorted by the numeric part of the
// filenames so the anatomical slice order is preserved, and attaches the
// configured grid geometry to each mask.
func (p *Pipeline) loadMasks() error {
	cfg := p.params.Config
	for _, dir := range p.params.InputDirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		var imageFiles []string
		for _, file := range files {
			if strings.EqualFold(filepath.Ext(file.Name()), ".png") {
				imageFiles = append(imageFiles, file.Name())
			}
		}
		if len(imageFiles) == 0 {
			return fmt.Errorf("no PNG masks found in %s", dir)
		}
		sort.Slice(imageFiles, func(i, j int) bool {
			return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
		})

		var stack []*binimage.Mask
		for i, filename := range imageFiles {
			mask, err := loadMaskImage(filepath.Join(dir, filename), cfg.Processing.MaskThreshold)
			if err != nil {
				return fmt.Errorf("failed to load mask %s: %w", filename, err)
			}
			if p.columns == 0 {
				p.columns = mask.Columns
				p.rows = mask.Rows
			} else if mask.Columns != p.columns || mask.Rows != p.rows {
				return fmt.Errorf("%w: pixels shape %dx%d in %s does not match %dx%d",
					geometry.ErrInvalidArgument, mask.Columns, mask.Rows, filename, p.columns, p.rows)
			}

			z := cfg.Geometry.FirstSlicePos + float64(i)*cfg.Geometry.SliceGap
			plane, err := geometry.NewImagePlane(mask.Columns, mask.Rows,
				cfg.Geometry.DeltaCol, cfg.Geometry.DeltaRow,
				geometry.NewCoordinate(cfg.Geometry.PosX, cfg.Geometry.PosY, z),
				[]float64{1, 0, 0, 0, 1, 0})
			if err != nil {
				return err
			}
			mask.SetGeometry(plane, z)
			stack = append(stack, mask)
		}
		p.masks = append(p.masks, stack)
	}

	for _, stack := range p.masks[1:] {
		if len(stack) != len(p.masks[0]) {
			return fmt.Errorf("%w: volumes must have matching slice counts, got %d and %d",
				geometry.ErrInvalidArgument, len(p.masks[0]), len(stack))
		}
	}
	return nil
}

// traceContours traces every slice concurrently and writes the physical
// contour data of each slice to one file per stack.
func (p *Pipeline) traceContours(stack []*binimage.Mask, name string) error {
	roi := p.registry.AddROI(name, p.registry.ROICount()+1)

	type traceResult struct {
		sliceIdx int
		contours []*models.Contour
		labels   []int
		err      error
	}
	// Buffered so workers can always deliver their result, even when the
	// receive loop has already returned on an earlier slice's error.
	resultChan := make(chan traceResult, len(stack))

	workers := p.params.Config.Processing.NumWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	slices := make([]*models.Slice, len(stack))
	for i, mask := range stack {
		s, err := p.registry.AddSlice(roi.ID, mask.PosSlice, mask.Plane)
		if err != nil {
			return err
		}
		slices[i] = s
	}

	for i, mask := range stack {
		go func(idx int, m *binimage.Mask) {
			sem <- struct{}{}
			defer func() { <-sem }()

			contours, err := m.ToContours(slices[idx])
			resultChan <- traceResult{
				sliceIdx: idx,
				contours: contours,
				labels:   m.ContourImage(),
				err:      err,
			}
		}(i, mask)
	}

	results := make([]traceResult, len(stack))
	for range stack {
		res := <-resultChan
		if res.err != nil {
			return fmt.Errorf("tracing slice %d: %w", res.sliceIdx, res.err)
		}
		results[res.sliceIdx] = res
	}

	outPath := filepath.Join(p.params.OutputDir, name+".txt")
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	for i, res := range results {
		for _, c := range res.contours {
			registered, err := p.registry.AddContour(slices[i].ID, c.Coordinates)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %d %s\n", registered.Type, registered.Number, registered.ContourData())
		}
		if p.params.Config.Output.SaveContourImages {
			img, err := visualization.RenderLabels(res.labels, p.columns, p.rows)
			if err != nil {
				return err
			}
			dir := filepath.Join(p.params.OutputDir, name)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			filename := filepath.Join(dir, fmt.Sprintf("slice_%03d.png", i))
			if err := visualization.SaveImage(img, filename); err != nil {
				return err
			}
		}
	}
	p.log.Info().Str("output", outPath).Msg("contours written")
	return nil
}

// fuseRaters runs STAPLE over the loaded rater stacks and returns the
// thresholded consensus as a mask stack carrying the first rater's geometry.
func (p *Pipeline) fuseRaters() ([]*binimage.Mask, error) {
	volumes := make([]staple.Volume, len(p.masks))
	for i, stack := range p.masks {
		volumes[i] = staple.Volume(stack)
	}
	solver, err := staple.New(volumes)
	if err != nil {
		return nil, err
	}
	solver.MaxIterations = p.params.Config.Staple.MaxIterations
	if p.params.Config.Staple.RemoveEmptyIndices {
		removed := solver.RemoveEmptyIndices()
		p.log.Debug().Int("removed", removed).Msg("empty positions filtered")
	}
	solver.Progress = func(iter int, delta float64) {
		p.log.Debug().Int("iteration", iter).Float64("delta", delta).Msg("staple step")
	}
	if err := solver.Solve(); err != nil {
		return nil, err
	}
	for i := range p.masks {
		p.log.Info().
			Int("rater", i).
			Float64("sensitivity", solver.Sensitivity()[i]).
			Float64("specificity", solver.Specificity()[i]).
			Msg("rater performance")
	}

	if p.params.Config.Staple.RemoveEmptyIndices {
		// The working shape was filtered; rebuild the full-size consensus
		// with the retained positions.
		return p.expandFiltered(solver)
	}

	seg := solver.ThresholdedSegmentation()
	return p.masksFromFlat(seg)
}

// expandFiltered scatters a filtered consensus back into the original
// volume shape, leaving removed positions at zero.
func (p *Pipeline) expandFiltered(solver *staple.Solver) ([]*binimage.Mask, error) {
	sliceLen := p.columns * p.rows
	full := make([]uint8, sliceLen*len(p.masks[0]))
	seg := solver.ThresholdedSegmentation()

	removed := make(map[int]bool, len(solver.RemovedIndices()))
	for _, idx := range solver.RemovedIndices() {
		removed[idx] = true
	}
	wi := 0
	for i := range full {
		if removed[i] {
			continue
		}
		full[i] = seg[wi]
		wi++
	}
	return p.masksFromFlat(full)
}

func (p *Pipeline) masksFromFlat(flat []uint8) ([]*binimage.Mask, error) {
	sliceLen := p.columns * p.rows
	out := make([]*binimage.Mask, len(p.masks[0]))
	for i := range out {
		pixels := make([]uint8, sliceLen)
		copy(pixels, flat[i*sliceLen:(i+1)*sliceLen])
		mask, err := binimage.NewMask(pixels, p.columns, p.rows)
		if err != nil {
			return nil, err
		}
		ref := p.masks[0][i]
		mask.SetGeometry(ref.Plane, ref.PosSlice)
		out[i] = mask
	}
	return out, nil
}

// extractNumber extracts the numeric part from a filename, used to keep
// slice files in anatomical order regardless of zero padding.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// loadMaskImage decodes a PNG and thresholds it to a binary mask.
func loadMaskImage(path string, threshold uint8) (*binimage.Mask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, err
	}
	return maskFromImage(img, threshold)
}

func maskFromImage(img image.Image, threshold uint8) (*binimage.Mask, error) {
	bounds := img.Bounds()
	columns := bounds.Dx()
	rows := bounds.Dy()
	pixels := make([]uint8, columns*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < columns; x++ {
			gray, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if uint8(gray>>8) > threshold {
				pixels[x+y*columns] = 1
			}
		}
	}
	return binimage.NewMask(pixels, columns, rows)
}
