package facetrack

import (
	"math"
	"testing"
)

func TestSmoothKeypoints(t *testing.T) {
	prev := []Point{{0, 0}, {10, 0}}

	tests := []struct {
		name   string
		cur    []Point
		setup  func(*Params)
		expect []Point
	}{
		{
			name:   "small motion is damped",
			cur:    []Point{{1, 0}, {11, 0}},
			expect: []Point{{0.5, 0}, {10.5, 0}},
		},
		{
			name:   "smoothing disabled",
			cur:    []Point{{1, 0}, {11, 0}},
			setup:  func(p *Params) { p.SmoothFacialFeatures = false },
			expect: []Point{{1, 0}, {11, 0}},
		},
		{
			name:   "large jump resets",
			cur:    []Point{{40, 0}, {50, 0}},
			expect: []Point{{40, 0}, {50, 0}},
		},
		{
			name:   "jitter suppressed",
			cur:    []Point{{1, 0}, {11, 0}},
			setup:  func(p *Params) { p.FacialFeatureJitterSuppression = 2 },
			expect: []Point{{0, 0}, {10, 0}},
		},
		{
			name:   "point count changed",
			cur:    []Point{{3, 3}},
			expect: []Point{{3, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			if tt.setup != nil {
				tt.setup(&p)
			}
			got := smoothKeypoints(prev, tt.cur, 100, &p)
			if len(got) != len(tt.expect) {
				t.Fatalf("Expected %v, got %v", tt.expect, got)
			}
			for i := range got {
				if math.Abs(got[i].X-tt.expect[i].X) > 1e-9 || math.Abs(got[i].Y-tt.expect[i].Y) > 1e-9 {
					t.Errorf("Point %d: expected %v, got %v", i, tt.expect[i], got[i])
				}
			}
		})
	}
}

func TestScalarFilter(t *testing.T) {
	var f scalarFilter
	if _, ok := f.get(); ok {
		t.Error("Expected no value before the first update")
	}
	f.update(10, true, 0.5, 0)
	if v, _ := f.get(); v != 10 {
		t.Errorf("Expected first observation taken as is, got %v", v)
	}
	f.update(20, true, 0.5, 0)
	if v, _ := f.get(); v != 15 {
		t.Errorf("Expected temporal blend 15, got %v", v)
	}
	f.update(30, false, 0.5, 0)
	if v, _ := f.get(); v != 30 {
		t.Errorf("Expected raw value with smoothing off, got %v", v)
	}
}

func TestLivenessFilter(t *testing.T) {
	var f livenessFilter
	for _, x := range []float64{0.2, 0.4, 0.6, 0.8} {
		f.update(x, 3)
	}
	if len(f.history) != 3 {
		t.Fatalf("Expected window of 3, got %v", f.history)
	}
	if v, ok := f.get(true, 3, 1); !ok || math.Abs(v-0.6) > 1e-9 {
		t.Errorf("Expected mean 0.6, got %v, %v", v, ok)
	}
	if v, ok := f.get(false, 3, 1); !ok || v != 0.8 {
		t.Errorf("Expected latest score unsmoothed, got %v, %v", v, ok)
	}
	// alpha 0 keeps only the newest frame.
	if v, _ := f.get(true, 3, 0); math.Abs(v-0.8) > 1e-9 {
		t.Errorf("Expected 0.8 with alpha 0, got %v", v)
	}
	if _, ok := f.get(true, 4, 1); ok {
		t.Error("Expected no smoothed score before the window fills")
	}
}

func TestAgeGroupWeights(t *testing.T) {
	w := ageGroupWeights(28.5)
	best := 0
	var total float64
	for i, v := range w {
		total += v
		if v > w[best] {
			best = i
		}
	}
	if ageGroups[best].label != "25-32" {
		t.Errorf("Expected 25-32 to dominate, got %s", ageGroups[best].label)
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("Expected weights to sum to 1, got %v", total)
	}
}

func TestAttributeValue(t *testing.T) {
	v, err := AttributeValue("Smile=0.9;EyesOpen=0.25;", "eyesopen")
	if err != nil || v != 0.25 {
		t.Errorf("Expected 0.25, got %v, %v", v, err)
	}
	if _, err := AttributeValue("Smile=0.9;", "Age"); KindOf(err) != KindAttributeNotDetected {
		t.Errorf("Expected KindAttributeNotDetected, got %v", err)
	}
	if _, err := AttributeValue("Smile=abc;", "Smile"); KindOf(err) != KindSyntaxError {
		t.Errorf("Expected KindSyntaxError, got %v", err)
	}
}
