// Package cv implements the tracker Engine on OpenCV: pigo or YuNet for
// detection and a gocv DNN network for face templates.
package cv

import (
	"image"

	"gocv.io/x/gocv"
)

// ModelType defines the face encoding model type
type ModelType string

const (
	// ModelOpenFace is the OpenFace nn4.small2.v1 model (128-dim, 96x96 input)
	ModelOpenFace ModelType = "openface"
	// ModelFaceNet is the FaceNet model (128-dim, 160x160 input)
	ModelFaceNet ModelType = "facenet"
	// ModelArcFace is the ArcFace model (512-dim, 112x112 input)
	ModelArcFace ModelType = "arcface"
	// ModelDlib is the Dlib ResNet model (128-dim, 150x150 input)
	ModelDlib ModelType = "dlib"
	// ModelCustom allows custom model configuration
	ModelCustom ModelType = "custom"
)

// ModelConfig describes how face crops are fed to an encoder network.
type ModelConfig struct {
	Type        ModelType
	InputSize   image.Point
	FeatureDim  int
	MeanValues  gocv.Scalar
	ScaleFactor float64
	SwapRB      bool
	Crop        bool
	// Version is stamped into every template the encoder produces.
	// Templates of different versions are never compared.
	Version int
}

var modelConfigs = map[ModelType]ModelConfig{
	ModelOpenFace: {
		Type:        ModelOpenFace,
		InputSize:   image.Pt(96, 96),
		FeatureDim:  128,
		MeanValues:  gocv.NewScalar(0, 0, 0, 0),
		ScaleFactor: 1.0 / 255.0,
		SwapRB:      true,
		Version:     1,
	},
	ModelFaceNet: {
		Type:        ModelFaceNet,
		InputSize:   image.Pt(160, 160),
		FeatureDim:  128,
		MeanValues:  gocv.NewScalar(0, 0, 0, 0),
		ScaleFactor: 1.0 / 127.5,
		SwapRB:      true,
		Version:     2,
	},
	ModelArcFace: {
		Type:        ModelArcFace,
		InputSize:   image.Pt(112, 112),
		FeatureDim:  512,
		MeanValues:  gocv.NewScalar(127.5, 127.5, 127.5, 0),
		ScaleFactor: 1.0 / 127.5,
		SwapRB:      true,
		Version:     3,
	},
	ModelDlib: {
		Type:        ModelDlib,
		InputSize:   image.Pt(150, 150),
		FeatureDim:  128,
		MeanValues:  gocv.NewScalar(0, 0, 0, 0),
		ScaleFactor: 1.0 / 255.0,
		SwapRB:      true,
		Version:     4,
	},
}

// customVersionBase keeps custom model versions clear of the predefined ones.
const customVersionBase = 100

// ModelConfigFor returns the predefined configuration of a model type.
func ModelConfigFor(t ModelType) (ModelConfig, bool) {
	c, ok := modelConfigs[t]
	return c, ok
}
