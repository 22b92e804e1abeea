package cv

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"gocv.io/x/gocv"
	"golang.org/x/exp/slices"

	"github.com/lib-x/facetrack"
)

// Detector names accepted in Config.
const (
	DetectorPigo  = "pigo"
	DetectorYuNet = "yunet"
)

// Config holds model paths for Open.
type Config struct {
	Detector          string // DetectorPigo (default) or DetectorYuNet
	PigoCascadeFile   string
	YuNetModel        string
	FaceEncoderModel  string
	FaceEncoderConfig string // Optional config file for some models
}

type options struct {
	modelConfig ModelConfig
	pigoParams  PigoParams
	logger      *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithModelType selects a predefined encoder configuration.
func WithModelType(modelType ModelType) Option {
	return func(o *options) {
		if config, ok := modelConfigs[modelType]; ok {
			o.modelConfig = config
		}
	}
}

// WithCustomModel sets a custom encoder configuration. A zero Version is
// replaced by one that never collides with the predefined models.
func WithCustomModel(config ModelConfig) Option {
	return func(o *options) {
		config.Type = ModelCustom
		if config.Version == 0 {
			config.Version = customVersionBase
		}
		o.modelConfig = config
	}
}

// WithPigoParams sets custom Pigo detector parameters
func WithPigoParams(params PigoParams) Option {
	return func(o *options) { o.pigoParams = params }
}

// WithMinFaceSize sets the minimum face size for pigo detection
func WithMinFaceSize(size int) Option {
	return func(o *options) { o.pigoParams.MinSize = size }
}

// WithMaxFaceSize sets the maximum face size for pigo detection
func WithMaxFaceSize(size int) Option {
	return func(o *options) { o.pigoParams.MaxSize = size }
}

// WithLogger sets the logger used while loading models.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		modelConfig: modelConfigs[ModelOpenFace],
		pigoParams:  DefaultPigoParams(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Engine implements facetrack.Engine and facetrack.AttributeDetector.
type Engine struct {
	detector Detector
	encoder  *DNNEncoder
}

// NewEngine combines a detector and an encoder. The engine owns both and
// closes them in Close.
func NewEngine(detector Detector, encoder *DNNEncoder) (*Engine, error) {
	if detector == nil || encoder == nil {
		return nil, fmt.Errorf("cv: detector and encoder are required: %w", facetrack.ErrInvalidArgument)
	}
	return &Engine{detector: detector, encoder: encoder}, nil
}

// Open loads the models named in cfg.
func Open(cfg Config, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	var (
		detector Detector
		err      error
	)
	switch cfg.Detector {
	case "", DetectorPigo:
		detector, err = LoadPigoDetector(cfg.PigoCascadeFile, o.pigoParams)
	case DetectorYuNet:
		detector, err = NewYuNetDetector(DefaultYuNetConfig(cfg.YuNetModel))
	default:
		err = fmt.Errorf("unknown detector %q: %w", cfg.Detector, facetrack.ErrInvalidArgument)
	}
	if err != nil {
		return nil, err
	}

	encoder, err := NewDNNEncoder(cfg.FaceEncoderModel, cfg.FaceEncoderConfig, o.modelConfig)
	if err != nil {
		detector.Close()
		return nil, err
	}

	o.logger.Info("cv engine ready",
		"detector", orDefault(cfg.Detector, DetectorPigo),
		"model", o.modelConfig.Type,
		"detection_version", o.modelConfig.Version)
	return NewEngine(detector, encoder)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// DetectFaces implements facetrack.Engine.
func (e *Engine) DetectFaces(img image.Image, maxFaces int) ([]facetrack.Detection, error) {
	dets, err := e.detector.Detect(img)
	if err != nil {
		return nil, err
	}
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

// Template implements facetrack.Engine.
func (e *Engine) Template(img image.Image, d facetrack.Detection) (facetrack.Template, error) {
	mat, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	feature, err := e.encoder.Encode(mat, d.Box.Sub(img.Bounds().Min))
	if err != nil {
		return nil, fmt.Errorf("failed to extract feature: %w", err)
	}
	return facetrack.NewTemplate(e.DetectionVersion(), feature), nil
}

// Similarity implements facetrack.Engine.
func (e *Engine) Similarity(a, b facetrack.Template) (float64, error) {
	return facetrack.TemplateSimilarity(a, b)
}

// DetectionVersion implements facetrack.Engine.
func (e *Engine) DetectionVersion() int { return e.encoder.config.Version }

// DetectAttributes implements facetrack.AttributeDetector. Head angles
// come from the keypoints, so they are only reported with a detector that
// finds them. Image quality is the sharpness of the face crop.
func (e *Engine) DetectAttributes(img image.Image, d facetrack.Detection, attrs facetrack.AttributeSet) (facetrack.RawAttributes, error) {
	var raw facetrack.RawAttributes
	if attrs.Has(facetrack.AttrAngles) {
		if a, ok := headAngles(d.Keypoints); ok {
			raw.Angles = &a
		}
	}

	q, err := sharpness(img, d.Box)
	if err != nil {
		return raw, err
	}
	raw.Quality = &q
	return raw, nil
}

// Close releases the models.
func (e *Engine) Close() error {
	return errors.Join(e.detector.Close(), e.encoder.Close())
}

// noseDrop is the nose tip's distance below the eye line of a frontal
// face, in eye distances.
const noseDrop = 0.6

// headAngles estimates roll, pan and tilt from the eye and nose keypoints.
func headAngles(kp []facetrack.Point) (facetrack.Angles, bool) {
	if len(kp) < 3 {
		return facetrack.Angles{}, false
	}
	right, left, nose := kp[0], kp[1], kp[2]
	dx, dy := left.X-right.X, left.Y-right.Y
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		return facetrack.Angles{}, false
	}

	// eye axis and its perpendicular pointing down the face
	ux, uy := dx/dist, dy/dist
	vx, vy := -uy, ux
	nx := nose.X - (right.X+left.X)/2
	ny := nose.Y - (right.Y+left.Y)/2
	along := (nx*ux + ny*uy) / dist
	across := (nx*vx + ny*vy) / dist

	deg := 180 / math.Pi
	return facetrack.Angles{
		Roll: math.Atan2(dy, dx) * deg,
		Pan:  math.Asin(clamp(2*along, -1, 1)) * deg,
		Tilt: clamp((across-noseDrop)/noseDrop, -1, 1) * 45,
	}, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// sharpness maps the variance of the Laplacian of the face crop to [0, 1).
func sharpness(img image.Image, box image.Rectangle) (float64, error) {
	box = box.Intersect(img.Bounds())
	if box.Empty() {
		return 0, nil
	}
	mat, err := ToMat(img)
	if err != nil {
		return 0, err
	}
	defer mat.Close()
	face := mat.Region(box.Sub(img.Bounds().Min))
	defer face.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(face, &gray, gocv.ColorBGRToGray)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	v := sd * sd
	return v / (v + 100), nil
}
