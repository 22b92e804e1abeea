package facetrack

import (
	"errors"
	"image"
	"image/draw"

	"golang.org/x/exp/slices"
)

// Point is a facial feature coordinate in image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one face found by an Engine.
type Detection struct {
	Box        image.Rectangle
	Keypoints  []Point
	Confidence float64
	// Template is set by engines that compute descriptors during detection.
	Template Template
}

// Engine is the detection and recognition capability the tracker drives.
// Implementations must be deterministic for identical input.
type Engine interface {
	// DetectFaces returns up to maxFaces detections. An image without faces
	// yields an empty slice and no error.
	DetectFaces(img image.Image, maxFaces int) ([]Detection, error)
	// Template computes the descriptor of the face at d.
	Template(img image.Image, d Detection) (Template, error)
	// Similarity scores two templates in [0, 1].
	Similarity(a, b Template) (float64, error)
	// DetectionVersion identifies the detector generation templates are
	// produced under.
	DetectionVersion() int
}

// AttributeSet selects which facial attributes to measure.
type AttributeSet uint8

const (
	AttrAge AttributeSet = 1 << iota
	AttrGender
	AttrExpression
	AttrAngles
	AttrLiveness
)

// Has reports whether all of attrs are in s.
func (s AttributeSet) Has(attrs AttributeSet) bool { return s&attrs == attrs }

// Angles are the head rotation angles in degrees.
type Angles struct {
	Roll, Pan, Tilt float64
}

// RawAttributes are one frame's attribute measurements for a face. Nil
// fields were not measured.
type RawAttributes struct {
	Age           *float64
	Male          *float64
	Smile         *float64
	EyesOpen      *float64
	Angles        *Angles
	Liveness      *float64
	LivenessError string
	Quality       *float64
}

// AttributeDetector is implemented by engines that can measure facial
// attributes.
type AttributeDetector interface {
	DetectAttributes(img image.Image, d Detection, attrs AttributeSet) (RawAttributes, error)
}

// EyeLocator is implemented by engines whose keypoint layout does not
// start with the right and left eye centres.
type EyeLocator interface {
	Eyes(keypoints []Point) ([2]Point, bool)
}

// DetectFace returns the most confident face in img. Unlike the
// multi-face calls it fails with ErrFaceNotFound when there is none.
func DetectFace(e Engine, img image.Image) (Detection, error) {
	dets, err := detectSorted(e, img, 1)
	if err != nil {
		return Detection{}, err
	}
	if len(dets) == 0 {
		return Detection{}, newError(KindFaceNotFound, "DetectFace", "no face in image")
	}
	return dets[0], nil
}

// FaceTemplateFromImage computes the template of the most confident face
// in img.
func FaceTemplateFromImage(e Engine, img image.Image) (Template, error) {
	d, err := DetectFace(e, img)
	if err != nil {
		return nil, err
	}
	if d.Template != nil {
		return d.Template, nil
	}
	t, err := e.Template(img, d)
	if err != nil {
		return nil, engineError("FaceTemplateFromImage", err)
	}
	return t, nil
}

func checkImage(op string, img image.Image) error {
	if img == nil {
		return newError(KindInvalidArgument, op, "nil image")
	}
	if img.Bounds().Empty() {
		return newError(KindInvalidArgument, op, "empty image")
	}
	return nil
}

// detectSorted runs the engine and orders detections by descending
// confidence, keeping the engine's order among equals.
func detectSorted(e Engine, img image.Image, maxFaces int) ([]Detection, error) {
	if e == nil {
		return nil, newError(KindNotInitialized, "detect", "no engine")
	}
	if err := checkImage("detect", img); err != nil {
		return nil, err
	}
	if maxFaces <= 0 {
		return nil, newError(KindInvalidArgument, "detect", "maxFaces must be positive, got %d", maxFaces)
	}
	dets, err := e.DetectFaces(img, maxFaces)
	if err != nil {
		return nil, engineError("detect", err)
	}
	slices.SortStableFunc(dets, byConfidence)
	if len(dets) > maxFaces {
		dets = dets[:maxFaces]
	}
	return dets, nil
}

func byConfidence(a, b Detection) int {
	switch {
	case a.Confidence > b.Confidence:
		return -1
	case a.Confidence < b.Confidence:
		return 1
	}
	return 0
}

// engineError keeps the kind of tracker errors raised by an engine and
// classifies anything else as a generic failure.
func engineError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return wrapError(KindFailed, op, err)
}

// cropFace copies the face region of img so it stays valid after the frame
// buffer is reused.
func cropFace(img image.Image, box image.Rectangle) image.Image {
	r := box.Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
