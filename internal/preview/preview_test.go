package preview

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestResizeFitsWithoutUpscaling(t *testing.T) {
	tmp := t.TempDir()
	posterPath := filepath.Join(tmp, "poster.png")
	createTestImage(t, posterPath, 640, 360)

	clipPath := filepath.Join(tmp, "clip.mp4")
	outputs, err := Resize(posterPath, clipPath, []Spec{
		{Name: "small", Width: 320, Height: 320},
		{Name: "large", Width: 1280, Height: 1280},
	})
	if err != nil {
		t.Fatalf("Resize returned error: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("got %d outputs, want 2", len(outputs))
	}

	small := outputs[0]
	if small.Width != 320 || small.Height != 180 {
		t.Fatalf("small preview: got %dx%d, want 320x180", small.Width, small.Height)
	}
	if filepath.Base(small.Path) != "clip_small.jpg" {
		t.Fatalf("unexpected output name: %s", small.Path)
	}

	// Fit never upscales, so "large" stays at the source size.
	large := outputs[1]
	if large.Width != 640 || large.Height != 360 {
		t.Fatalf("large preview: got %dx%d, want 640x360", large.Width, large.Height)
	}

	for _, out := range outputs {
		if _, err := os.Stat(out.Path); err != nil {
			t.Fatalf("preview file missing: %v", err)
		}
	}
}

func TestResizeMissingPoster(t *testing.T) {
	tmp := t.TempDir()
	_, err := Resize(filepath.Join(tmp, "missing.png"), filepath.Join(tmp, "clip.mp4"), []Spec{{Name: "s", Width: 10, Height: 10}})
	if err == nil {
		t.Fatal("expected error for missing poster")
	}
}

func TestParseSizes(t *testing.T) {
	sizes, err := ParseSizes("small:320x180, large:1280x720")
	if err != nil {
		t.Fatalf("ParseSizes returned error: %v", err)
	}
	if len(sizes) != 2 {
		t.Fatalf("got %d sizes, want 2", len(sizes))
	}
	if sizes[0] != (Spec{Name: "small", Width: 320, Height: 180}) {
		t.Fatalf("unexpected first spec: %+v", sizes[0])
	}

	if _, err := ParseSizes("bad-format"); err == nil {
		t.Fatal("expected error for malformed list")
	}
	if _, err := ParseSizes("name:0x10"); err == nil {
		t.Fatal("expected error for non-positive width")
	}

	empty, err := ParseSizes("  ")
	if err != nil || empty != nil {
		t.Fatalf("blank input: got %v, %v", empty, err)
	}
}

func createTestImage(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 40, G: 90, B: 180, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		t.Fatalf("encode png: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
}
