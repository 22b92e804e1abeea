package facetrack

import (
	"encoding/binary"
	"math"
)

const (
	templateFormat     = 1
	templateHeaderSize = 4
)

// Template is an engine-produced face descriptor.
//
// Layout: format byte, detection version byte, little-endian uint16
// dimension, then dimension little-endian float32 values.
type Template []byte

// NewTemplate encodes feature as a template produced under
// detectionVersion. The feature is L2 normalized first.
func NewTemplate(detectionVersion int, feature []float32) Template {
	feature = normalizeFeature(feature)
	t := make(Template, templateHeaderSize+4*len(feature))
	t[0] = templateFormat
	t[1] = byte(detectionVersion)
	binary.LittleEndian.PutUint16(t[2:4], uint16(len(feature)))
	for i, v := range feature {
		binary.LittleEndian.PutUint32(t[templateHeaderSize+4*i:], math.Float32bits(v))
	}
	return t
}

// Validate checks the header and length of t.
func (t Template) Validate() error {
	if len(t) < templateHeaderSize {
		return newError(KindInvalidTemplate, "template", "too short (%d bytes)", len(t))
	}
	if t[0] != templateFormat {
		return newError(KindInvalidTemplate, "template", "unsupported template format %d", t[0])
	}
	dim := int(binary.LittleEndian.Uint16(t[2:4]))
	if dim == 0 || len(t) != templateHeaderSize+4*dim {
		return newError(KindInvalidTemplate, "template", "length %d does not match dimension %d", len(t), dim)
	}
	return nil
}

// DetectionVersion returns the detection version t was produced under.
func (t Template) DetectionVersion() int {
	if len(t) < 2 {
		return 0
	}
	return int(t[1])
}

// Vector decodes the feature vector.
func (t Template) Vector() ([]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	dim := int(binary.LittleEndian.Uint16(t[2:4]))
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(t[templateHeaderSize+4*i:]))
	}
	return v, nil
}

// Clone returns a copy of t.
func (t Template) Clone() Template {
	if t == nil {
		return nil
	}
	c := make(Template, len(t))
	copy(c, t)
	return c
}

// TemplateSimilarity compares two templates and returns a score in [0, 1]
// derived from their cosine similarity. Templates from different detection
// versions or of different dimension are not comparable.
func TemplateSimilarity(a, b Template) (float64, error) {
	va, err := a.Vector()
	if err != nil {
		return 0, err
	}
	vb, err := b.Vector()
	if err != nil {
		return 0, err
	}
	if a.DetectionVersion() != b.DetectionVersion() {
		return 0, newError(KindInvalidTemplate, "similarity",
			"detection versions differ (%d vs %d)", a.DetectionVersion(), b.DetectionVersion())
	}
	if len(va) != len(vb) {
		return 0, newError(KindInvalidTemplate, "similarity", "dimensions differ (%d vs %d)", len(va), len(vb))
	}
	s := (1 + float64(cosineSimilarity(va, vb))) / 2
	return math.Max(0, math.Min(1, s)), nil
}

// cosineSimilarity calculates the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// normalizeFeature performs L2 normalization on a feature vector
func normalizeFeature(feature []float32) []float32 {
	var norm float64
	for _, v := range feature {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	normalized := make([]float32, len(feature))
	if norm == 0 {
		copy(normalized, feature)
		return normalized
	}
	for i, v := range feature {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}
