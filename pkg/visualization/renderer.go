// Package visualization renders binary masks and labeled contour rasters
// as grayscale PNG images for inspection of tracing and fusion results.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"rtgeom/pkg/binimage"
)

// RenderMask converts a binary mask to a grayscale image: background black,
// foreground white.
func RenderMask(m *binimage.Mask) image.Image {
	img := image.NewGray(image.Rect(0, 0, m.Columns, m.Rows))
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Columns; c++ {
			if m.At(c, r) == 1 {
				img.SetGray(c, r, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// RenderLabels converts a labeled contour raster to a grayscale image with
// evenly spread gray levels so up to 255 regions stay distinguishable;
// beyond that the brightest labels saturate at white.
func RenderLabels(labels []int, columns, rows int) (image.Image, error) {
	if len(labels) != columns*rows {
		return nil, fmt.Errorf("labels length %d does not match shape %dx%d", len(labels), columns, rows)
	}
	maxLabel := 0
	for _, v := range labels {
		if v > maxLabel {
			maxLabel = v
		}
	}
	img := image.NewGray(image.Rect(0, 0, columns, rows))
	if maxLabel == 0 {
		return img, nil
	}
	step := 255 / maxLabel
	if step < 1 {
		step = 1
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < columns; c++ {
			if v := labels[c+r*columns]; v > 0 {
				gray := v * step
				if gray > 255 {
					gray = 255
				}
				img.SetGray(c, r, color.Gray{Y: uint8(gray)})
			}
		}
	}
	return img, nil
}

// SaveImage writes an image as PNG.
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveMaskSequence writes one PNG per mask into outputDir, numbered by
// slice order.
func SaveMaskSequence(masks []*binimage.Mask, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	for i, m := range masks {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%03d.png", i))
		if err := SaveImage(RenderMask(m), filename); err != nil {
			return err
		}
	}
	return nil
}
