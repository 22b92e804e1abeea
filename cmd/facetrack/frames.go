package main

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/spakin/netpbm"
	"golang.org/x/exp/slices"

	"github.com/lib-x/facetrack"
	"github.com/lib-x/facetrack/cv"
)

var netpbmFormats = []string{".pbm", ".pgm", ".ppm", ".pnm", ".pam"}

func isNetpbm(path string) bool {
	return slices.Contains(netpbmFormats, strings.ToLower(filepath.Ext(path)))
}

func isFrame(path string) bool {
	return isNetpbm(path) || cv.IsSupportedImageFormat(path)
}

// loadFrame reads netpbm files with the pure Go decoder and everything
// else through OpenCV.
func loadFrame(path string) (image.Image, error) {
	if !isNetpbm(path) {
		return cv.LoadImage(path)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, facetrack.ErrFileNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, facetrack.ErrBadFormat)
	}
	return img, nil
}

// framePaths expands directories into their image files in name order.
// Files named explicitly are kept in argument order.
func framePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var dir []string
		for _, e := range entries {
			if !e.IsDir() && isFrame(e.Name()) {
				dir = append(dir, filepath.Join(arg, e.Name()))
			}
		}
		slices.Sort(dir)
		paths = append(paths, dir...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames in %v: %w", args, facetrack.ErrFileNotFound)
	}
	return paths, nil
}
