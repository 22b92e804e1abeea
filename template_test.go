package facetrack

import (
	"errors"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float32
	}{
		{
			name:     "identical vectors",
			a:        []float32{1, 0, 0},
			b:        []float32{1, 0, 0},
			expected: 1.0,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1, 0, 0},
			b:        []float32{0, 1, 0},
			expected: 0.0,
		},
		{
			name:     "opposite vectors",
			a:        []float32{1, 0, 0},
			b:        []float32{-1, 0, 0},
			expected: -1.0,
		},
		{
			name:     "different lengths",
			a:        []float32{1, 0},
			b:        []float32{1, 0, 0},
			expected: 0.0,
		},
		{
			name:     "zero vector",
			a:        []float32{0, 0, 0},
			b:        []float32{1, 0, 0},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := cosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(result-tt.expected)) > 0.001 {
				t.Errorf("Expected %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestNormalizeFeature(t *testing.T) {
	normalized := normalizeFeature([]float32{3, 4, 0})

	var norm float64
	for _, v := range normalized {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 0.001 {
		t.Errorf("Expected unit norm, got %.3f", math.Sqrt(norm))
	}

	zero := normalizeFeature([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("Expected zero vector unchanged, got %v", zero)
	}
}

func TestTemplateLayout(t *testing.T) {
	tmpl := NewTemplate(7, []float32{3, 4})
	if err := tmpl.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tmpl.DetectionVersion() != 7 {
		t.Errorf("Expected detection version 7, got %d", tmpl.DetectionVersion())
	}
	if len(tmpl) != templateHeaderSize+8 {
		t.Errorf("Expected %d bytes, got %d", templateHeaderSize+8, len(tmpl))
	}
	v, err := tmpl.Vector()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("Expected normalized (0.6, 0.8), got %v", v)
	}

	c := tmpl.Clone()
	c[4] = 0
	if tmpl[4] == 0 {
		t.Error("Expected Clone to copy")
	}
}

func TestTemplateValidate(t *testing.T) {
	good := NewTemplate(1, person(0))
	tests := []struct {
		name string
		tmpl Template
	}{
		{"empty", nil},
		{"short header", Template{1, 1}},
		{"wrong format", append(Template{9}, good[1:]...)},
		{"truncated", good[:len(good)-1]},
		{"zero dimension", Template{1, 1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tmpl.Validate(); !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("Expected ErrInvalidTemplate, got %v", err)
			}
		})
	}
}

func TestTemplateSimilarity(t *testing.T) {
	a := NewTemplate(1, person(0))

	tests := []struct {
		name string
		b    Template
		want float64
	}{
		{"same person", NewTemplate(1, person(0)), 1},
		{"other person", NewTemplate(1, person(1)), 0.5},
		{"opposite", NewTemplate(1, []float32{-1, 0, 0, 0, 0, 0, 0, 0}), 0},
		{"lookalike", NewTemplate(1, lookalike(0, 1, 0.8)), 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := TemplateSimilarity(a, tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(s-tt.want) > 1e-6 {
				t.Errorf("Expected %.3f, got %.6f", tt.want, s)
			}
		})
	}
}

func TestTemplateSimilarityIncomparable(t *testing.T) {
	a := NewTemplate(1, person(0))
	if _, err := TemplateSimilarity(a, NewTemplate(2, person(0))); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("Expected detection version mismatch to fail, got %v", err)
	}
	if _, err := TemplateSimilarity(a, NewTemplate(1, []float32{1, 0})); !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("Expected dimension mismatch to fail, got %v", err)
	}
}

func TestSelfSimilarityIsMaximal(t *testing.T) {
	templates := []Template{
		NewTemplate(1, person(0)),
		NewTemplate(1, person(3)),
		NewTemplate(1, lookalike(0, 3, 0.6)),
		NewTemplate(1, []float32{0.3, -0.2, 0.5, 0.1, 0, 0.7, -0.4, 0.2}),
	}
	for i, a := range templates {
		self, err := TemplateSimilarity(a, a)
		if err != nil {
			t.Fatal(err)
		}
		for j, b := range templates {
			s, err := TemplateSimilarity(a, b)
			if err != nil {
				t.Fatal(err)
			}
			if s > self+1e-9 {
				t.Errorf("Template %d scores %.6f against %d, above its self similarity %.6f", i, s, j, self)
			}
			back, _ := TemplateSimilarity(b, a)
			if math.Abs(s-back) > 1e-9 {
				t.Errorf("Similarity not symmetric for %d and %d: %.6f vs %.6f", i, j, s, back)
			}
		}
	}
}

func BenchmarkTemplateSimilarity(b *testing.B) {
	feature := make([]float32, 128)
	for i := range feature {
		feature[i] = float32(i%7) - 3
	}
	x := NewTemplate(1, feature)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		TemplateSimilarity(x, x)
	}
}
