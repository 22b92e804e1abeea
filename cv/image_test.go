package cv

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/lib-x/facetrack"
)

func TestIsSupportedImageFormat(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"frame.jpg", true},
		{"frame.JPEG", true},
		{"frame.png", true},
		{"frame.tiff", true},
		{"frame.webp", true},
		{"frame.pgm", false},
		{"frame", false},
	}
	for _, tt := range tests {
		if got := IsSupportedImageFormat(tt.name); got != tt.want {
			t.Errorf("IsSupportedImageFormat(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSaveLoadImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	src.Set(1, 1, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	path := filepath.Join(t.TempDir(), "frame.png")
	if err := SaveImage(path, src); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	w, h, c, err := GetImageInfo(path)
	if err != nil || w != 4 || h != 3 || c != 3 {
		t.Errorf("Unexpected info %dx%dx%d, %v", w, h, c, err)
	}

	img, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r>>8 != 200 || g>>8 != 10 || b>>8 != 30 {
		t.Errorf("Pixel changed in round trip: %d %d %d", r>>8, g>>8, b>>8)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if img, err := LoadImageFromBytes(data); err != nil || img.Bounds().Dx() != 4 {
		t.Errorf("LoadImageFromBytes: %v", err)
	}
}

func TestImageErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadImage(filepath.Join(dir, "missing.png")); !errors.Is(err, facetrack.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if _, err := LoadImage(filepath.Join(dir, "frame.pgm")); !errors.Is(err, facetrack.ErrBadFormat) {
		t.Errorf("Expected ErrBadFormat for unsupported extension, got %v", err)
	}
	if _, _, _, err := GetImageInfo(filepath.Join(dir, "missing.png")); !errors.Is(err, facetrack.ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if _, err := LoadImageFromBytes([]byte("not an image")); err == nil {
		t.Error("Expected decode error")
	}
	if err := SaveImage(filepath.Join(dir, "frame.xyz"), image.NewGray(image.Rect(0, 0, 1, 1))); !errors.Is(err, facetrack.ErrBadFormat) {
		t.Errorf("Expected ErrBadFormat, got %v", err)
	}
	if _, err := ToMat(image.NewGray(image.Rect(0, 0, 0, 0))); !errors.Is(err, facetrack.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for an empty image, got %v", err)
	}
}
