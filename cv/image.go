package cv

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	"golang.org/x/exp/slices"

	"github.com/lib-x/facetrack"
)

// SupportedImageFormats lists the file extensions OpenCV decodes here.
var SupportedImageFormats = []string{
	".jpg", ".jpeg",
	".png",
	".bmp",
	".tif", ".tiff",
	".webp",
	".gif",
}

// IsSupportedImageFormat checks if the file extension is supported
func IsSupportedImageFormat(filename string) bool {
	return slices.Contains(SupportedImageFormats, strings.ToLower(filepath.Ext(filename)))
}

// LoadImage decodes an image file into a frame the tracker accepts.
func LoadImage(path string) (image.Image, error) {
	if !IsSupportedImageFormat(path) {
		return nil, fmt.Errorf("unsupported image format %s: %w", path, facetrack.ErrBadFormat)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, facetrack.ErrFileNotFound)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to load image %s: %w", path, facetrack.ErrBadFormat)
	}
	defer mat.Close()
	return mat.ToImage()
}

// LoadImageFromBytes decodes an encoded image held in memory.
func LoadImageFromBytes(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty: %w", facetrack.ErrBadFormat)
	}
	return mat.ToImage()
}

// ToMat converts img to a BGR Mat. The caller closes the result.
func ToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.Mat{}, fmt.Errorf("empty image: %w", facetrack.ErrInvalidArgument)
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			mat.SetUCharAt(y, x*3+2, uint8(r>>8))
			mat.SetUCharAt(y, x*3+1, uint8(g>>8))
			mat.SetUCharAt(y, x*3, uint8(b>>8))
		}
	}
	return mat, nil
}

// SaveImage encodes img to path; the extension picks the format.
func SaveImage(path string, img image.Image) error {
	if !IsSupportedImageFormat(path) {
		return fmt.Errorf("unsupported image format %s: %w", path, facetrack.ErrBadFormat)
	}
	mat, err := ToMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()

	if !gocv.IMWrite(path, mat) {
		return fmt.Errorf("failed to save image %s: %w", path, facetrack.ErrCannotCreateFile)
	}
	return nil
}

// GetImageInfo returns information about an image file
func GetImageInfo(path string) (width, height, channels int, err error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return 0, 0, 0, fmt.Errorf("%s: %w", path, facetrack.ErrFileNotFound)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return 0, 0, 0, fmt.Errorf("failed to read image %s: %w", path, facetrack.ErrBadFormat)
	}
	defer mat.Close()

	return mat.Cols(), mat.Rows(), mat.Channels(), nil
}
