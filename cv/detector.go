package cv

import (
	"fmt"
	"image"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"gocv.io/x/gocv"

	"github.com/lib-x/facetrack"
)

// Detector finds faces in a frame. Box and keypoint coordinates are in the
// frame's own coordinate space.
type Detector interface {
	Detect(img image.Image) ([]facetrack.Detection, error)
	Close() error
}

// PigoParams holds Pigo face detector parameters
type PigoParams struct {
	MinSize          int     // Minimum face size
	MaxSize          int     // Maximum face size
	ShiftFactor      float64 // Shift factor
	ScaleFactor      float64 // Scale factor
	QualityThreshold float32 // Detection quality threshold
}

// DefaultPigoParams returns the detector settings used when none are given.
func DefaultPigoParams() PigoParams {
	return PigoParams{
		MinSize:          100,
		MaxSize:          1000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		QualityThreshold: 5.0,
	}
}

// PigoDetector runs the pigo pixel-intensity cascade. It finds boxes only;
// detections carry no keypoints.
type PigoDetector struct {
	classifier *pigo.Pigo
	params     PigoParams
}

// NewPigoDetector unpacks a pigo cascade.
func NewPigoDetector(cascade []byte, params PigoParams) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack Pigo cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, params: params}, nil
}

// LoadPigoDetector reads the cascade file at path.
func LoadPigoDetector(path string, params PigoParams) (*PigoDetector, error) {
	cascade, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read Pigo cascade file: %w", err)
	}
	return NewPigoDetector(cascade, params)
}

// Params returns the detector settings.
func (d *PigoDetector) Params() PigoParams { return d.params }

// Detect implements Detector. Confidence is pigo's quality score.
func (d *PigoDetector) Detect(img image.Image) ([]facetrack.Detection, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	cParams := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     d.params.MaxSize,
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: grayscale(img),
			Rows:   height,
			Cols:   width,
			Dim:    width,
		},
	}

	dets := d.classifier.RunCascade(cParams, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	faces := make([]facetrack.Detection, 0, len(dets))
	for _, det := range dets {
		if det.Q <= d.params.QualityThreshold {
			continue
		}
		x := bounds.Min.X + det.Col - det.Scale/2
		y := bounds.Min.Y + det.Row - det.Scale/2
		faces = append(faces, facetrack.Detection{
			Box:        image.Rect(x, y, x+det.Scale, y+det.Scale),
			Confidence: float64(det.Q),
		})
	}
	return faces, nil
}

// Close implements Detector.
func (d *PigoDetector) Close() error { return nil }

// grayscale converts img to the row-major luma plane pigo scans.
func grayscale(img image.Image) []uint8 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	pixels := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			pixels[y*width+x] = uint8((r*299 + g*587 + b*114) / 1000 / 256)
		}
	}
	return pixels
}

// YuNetConfig configures the YuNet detector.
type YuNetConfig struct {
	ModelPath        string
	InputWidth       int
	InputHeight      int
	ConfidenceThresh float64
	NMSThresh        float64
}

// DefaultYuNetConfig returns the usual settings for the 2023mar model.
func DefaultYuNetConfig(modelPath string) YuNetConfig {
	return YuNetConfig{
		ModelPath:        modelPath,
		InputWidth:       320,
		InputHeight:      320,
		ConfidenceThresh: 0.6,
		NMSThresh:        0.3,
	}
}

// YuNetDetector uses OpenCV's FaceDetectorYN. Besides the box it reports
// five keypoints: right eye, left eye, nose tip, right and left mouth
// corner.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex // Protects inference
}

// NewYuNetDetector loads the YuNet ONNX model.
func NewYuNetDetector(cfg YuNetConfig) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(cfg.InputWidth, cfg.InputHeight),
		float32(cfg.ConfidenceThresh),
		float32(cfg.NMSThresh),
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &YuNetDetector{detector: detector}, nil
}

// Detect implements Detector.
func (d *YuNetDetector) Detect(img image.Image) ([]facetrack.Detection, error) {
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))
	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(mat, &faces)

	origin := img.Bounds().Min
	dets := make([]facetrack.Detection, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		// 0-3 box, 4-13 five (x, y) landmarks, 14 score
		at := func(c int) float64 { return float64(faces.GetFloatAt(r, c)) }
		x, y := int(at(0))+origin.X, int(at(1))+origin.Y
		det := facetrack.Detection{
			Box:        image.Rect(x, y, x+int(at(2)), y+int(at(3))),
			Confidence: at(14),
			Keypoints:  make([]facetrack.Point, 0, 5),
		}
		for k := 4; k < 14; k += 2 {
			det.Keypoints = append(det.Keypoints, facetrack.Point{
				X: at(k) + float64(origin.X),
				Y: at(k+1) + float64(origin.Y),
			})
		}
		dets = append(dets, det)
	}
	return dets, nil
}

// Close releases the detector resources
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
