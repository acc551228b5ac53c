package visualization

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"rtgeom/pkg/binimage"
)

func TestRenderMask(t *testing.T) {
	m, err := binimage.NewEmptyMask(4, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	m.Set(1, 1, 1)

	img := RenderMask(m)
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("Expected *image.Gray, got %T", img)
	}
	if gray.GrayAt(1, 1).Y != 255 {
		t.Errorf("Expected foreground pixel white, got %d", gray.GrayAt(1, 1).Y)
	}
	if gray.GrayAt(0, 0).Y != 0 {
		t.Errorf("Expected background pixel black, got %d", gray.GrayAt(0, 0).Y)
	}
}

func TestRenderLabels(t *testing.T) {
	labels := []int{
		0, 1, 0, 0,
		0, 0, 0, 2,
		0, 0, 0, 0,
	}
	img, err := RenderLabels(labels, 4, 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gray := img.(*image.Gray)
	if gray.GrayAt(1, 0).Y != 127 {
		t.Errorf("Expected label 1 at gray 127, got %d", gray.GrayAt(1, 0).Y)
	}
	if gray.GrayAt(3, 1).Y != 254 {
		t.Errorf("Expected label 2 at gray 254, got %d", gray.GrayAt(3, 1).Y)
	}
	if gray.GrayAt(0, 0).Y != 0 {
		t.Errorf("Expected background at gray 0, got %d", gray.GrayAt(0, 0).Y)
	}

	if _, err := RenderLabels(labels, 5, 3); err == nil {
		t.Errorf("Expected error for mismatched shape")
	}
}

// TestRenderLabelsSaturation verifies that more regions than gray levels
// saturate at white instead of wrapping to black.
func TestRenderLabelsSaturation(t *testing.T) {
	labels := make([]int, 300)
	for i := range labels {
		labels[i] = i + 1
	}
	img, err := RenderLabels(labels, 300, 1)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	gray := img.(*image.Gray)
	if gray.GrayAt(0, 0).Y != 1 {
		t.Errorf("Expected label 1 at gray 1, got %d", gray.GrayAt(0, 0).Y)
	}
	if gray.GrayAt(299, 0).Y != 255 {
		t.Errorf("Expected label 300 clamped to 255, got %d", gray.GrayAt(299, 0).Y)
	}
}

func TestSaveMaskSequence(t *testing.T) {
	dir := t.TempDir()
	var masks []*binimage.Mask
	for i := 0; i < 3; i++ {
		m, err := binimage.NewEmptyMask(4, 3)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		m.Set(i, 0, 1)
		masks = append(masks, m)
	}

	if err := SaveMaskSequence(masks, dir); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, "slice_"+[]string{"000", "001", "002"}[i]+".png")
		file, err := os.Open(path)
		if err != nil {
			t.Fatalf("Expected %s to exist: %v", path, err)
		}
		img, err := png.Decode(file)
		file.Close()
		if err != nil {
			t.Fatalf("Expected a decodable PNG at %s: %v", path, err)
		}
		if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
			t.Errorf("Expected 4x3 image, got %v", img.Bounds())
		}
	}
}
