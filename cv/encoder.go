package cv

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// DNNEncoder turns face crops into feature vectors with an OpenCV DNN
// network.
type DNNEncoder struct {
	net    gocv.Net
	config ModelConfig
	mu     sync.Mutex // gocv.Net is not safe for concurrent Forward calls
}

// NewDNNEncoder loads the network at modelPath. configPath is optional;
// some formats need it.
func NewDNNEncoder(modelPath, configPath string, config ModelConfig) (*DNNEncoder, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load face encoder model %s", modelPath)
	}
	return &DNNEncoder{net: net, config: config}, nil
}

// Config returns the model configuration.
func (e *DNNEncoder) Config() ModelConfig { return e.config }

// Encode computes the raw feature vector of the face inside box.
func (e *DNNEncoder) Encode(frame gocv.Mat, box image.Rectangle) ([]float32, error) {
	box = box.Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if box.Empty() {
		return nil, errors.New("face box outside the image")
	}
	face := frame.Region(box)
	defer face.Close()
	return e.ExtractFeature(face)
}

// ExtractFeature runs the network on a face crop.
func (e *DNNEncoder) ExtractFeature(faceImg gocv.Mat) ([]float32, error) {
	if faceImg.Empty() {
		return nil, errors.New("input image is empty")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(faceImg, &resized, e.config.InputSize, 0, 0, gocv.InterpolationLinear)

	blob := gocv.BlobFromImage(
		resized,
		e.config.ScaleFactor,
		e.config.InputSize,
		e.config.MeanValues,
		e.config.SwapRB,
		e.config.Crop,
	)
	defer blob.Close()

	e.mu.Lock()
	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	e.mu.Unlock()
	defer output.Close()

	if e.config.FeatureDim > 0 && output.Total() != e.config.FeatureDim {
		return nil, fmt.Errorf("encoder produced %d values, expected %d", output.Total(), e.config.FeatureDim)
	}
	feature := make([]float32, output.Total())
	for i := range feature {
		feature[i] = output.GetFloatAt(0, i)
	}
	return feature, nil
}

// Close releases the network.
func (e *DNNEncoder) Close() error {
	if !e.net.Empty() {
		return e.net.Close()
	}
	return nil
}
