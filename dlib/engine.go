// Package dlib implements the tracker Engine with dlib's HOG detector,
// five-point shape predictor and ResNet descriptors through go-face.
package dlib

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/Kagami/go-face"
	"golang.org/x/exp/slices"

	"github.com/lib-x/facetrack"
)

// DetectionVersion tags templates produced by this engine.
const DetectionVersion = 5

// ModelFiles are expected in the directory passed to Open.
var ModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

const jpegQuality = 95

// Engine implements facetrack.Engine. Templates are computed during
// detection, so Template only runs for detections from elsewhere.
type Engine struct {
	rec    *face.Recognizer
	mu     sync.Mutex // go-face recognizers are not safe for concurrent use
	logger *slog.Logger
}

// Open loads the dlib models from dir.
func Open(dir string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", dir, err)
	}
	logger.Info("dlib engine ready", "models", dir)
	return &Engine{rec: rec, logger: logger}, nil
}

// DetectFaces implements facetrack.Engine.
func (e *Engine) DetectFaces(img image.Image, maxFaces int) ([]facetrack.Detection, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	faces, err := e.rec.Recognize(data)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	dets := make([]facetrack.Detection, 0, len(faces))
	for _, f := range faces {
		dets = append(dets, detection(f, img.Bounds()))
	}
	e.logger.Debug("dlib detection", "faces", len(dets))
	slices.SortStableFunc(dets, func(a, b facetrack.Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})
	if len(dets) > maxFaces {
		dets = dets[:maxFaces]
	}
	return dets, nil
}

// Template implements facetrack.Engine by recognizing the face crop alone.
func (e *Engine) Template(img image.Image, d facetrack.Detection) (facetrack.Template, error) {
	if d.Template != nil {
		return d.Template, nil
	}
	if d.Box.Intersect(img.Bounds()).Empty() {
		return nil, fmt.Errorf("face box %v outside the frame: %w", d.Box, facetrack.ErrInvalidArgument)
	}
	data, err := encodeJPEG(crop(img, d.Box))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	f, err := e.rec.RecognizeSingle(data)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to compute descriptor: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("no face inside %v: %w", d.Box, facetrack.ErrFaceNotFound)
	}
	return facetrack.NewTemplate(DetectionVersion, f.Descriptor[:]), nil
}

// Similarity implements facetrack.Engine.
func (e *Engine) Similarity(a, b facetrack.Template) (float64, error) {
	return facetrack.TemplateSimilarity(a, b)
}

// DetectionVersion implements facetrack.Engine.
func (e *Engine) DetectionVersion() int { return DetectionVersion }

// Eyes averages the eye corners of the 5-point or 68-point dlib shape
// layouts into eye centres, right eye first.
func (e *Engine) Eyes(keypoints []facetrack.Point) ([2]facetrack.Point, bool) {
	switch len(keypoints) {
	case 5:
		return [2]facetrack.Point{mean(keypoints[2:4]), mean(keypoints[0:2])}, true
	case 68:
		return [2]facetrack.Point{mean(keypoints[36:42]), mean(keypoints[42:48])}, true
	}
	return [2]facetrack.Point{}, false
}

func mean(points []facetrack.Point) facetrack.Point {
	var c facetrack.Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return facetrack.Point{X: c.X / n, Y: c.Y / n}
}

// Close releases the dlib models.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}

// detection converts a go-face result. dlib reports no score, so larger
// faces are treated as more confident.
func detection(f face.Face, bounds image.Rectangle) facetrack.Detection {
	box := f.Rectangle.Add(bounds.Min)
	d := facetrack.Detection{
		Box:      box,
		Template: facetrack.NewTemplate(DetectionVersion, f.Descriptor[:]),
	}
	if area := bounds.Dx() * bounds.Dy(); area > 0 {
		d.Confidence = float64(box.Dx()*box.Dy()) / float64(area)
	}
	for _, p := range f.Shapes {
		d.Keypoints = append(d.Keypoints, facetrack.Point{
			X: float64(p.X + bounds.Min.X),
			Y: float64(p.Y + bounds.Min.Y),
		})
	}
	return d
}

func crop(img image.Image, box image.Rectangle) image.Image {
	r := box.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
