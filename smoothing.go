package facetrack

import (
	"math"

	"golang.org/x/exp/slices"
)

// smoothKeypoints filters the keypoints of one face between consecutive
// frames. Spatial smoothing pulls each point's motion toward the mean
// motion of all points; temporal smoothing blends with the previous frame;
// movements within the jitter radius are ignored. A displacement larger
// than FacialFeatureDeviationThreshold times the face width resets the
// filter.
func smoothKeypoints(prev, cur []Point, faceWidth float64, p *Params) []Point {
	if !p.SmoothFacialFeatures || len(prev) == 0 || len(prev) != len(cur) {
		return slices.Clone(cur)
	}

	var mean Point
	for i := range cur {
		mean.X += cur[i].X - prev[i].X
		mean.Y += cur[i].Y - prev[i].Y
	}
	mean.X /= float64(len(cur))
	mean.Y /= float64(len(cur))

	if faceWidth > 0 && p.FacialFeatureDeviationThreshold > 0 &&
		math.Hypot(mean.X, mean.Y) > p.FacialFeatureDeviationThreshold*faceWidth {
		return slices.Clone(cur)
	}

	s := p.FacialFeatureSmoothingSpatial
	c := p.FacialFeatureSmoothingTemporal
	out := make([]Point, len(cur))
	for i := range cur {
		dx := (1-s)*(cur[i].X-prev[i].X) + s*mean.X
		dy := (1-s)*(cur[i].Y-prev[i].Y) + s*mean.Y
		if math.Hypot(dx, dy) <= p.FacialFeatureJitterSuppression {
			out[i] = prev[i]
			continue
		}
		out[i] = Point{
			X: prev[i].X + (1-c)*dx,
			Y: prev[i].Y + (1-c)*dy,
		}
	}
	return out
}

// scalarFilter smooths one scalar attribute. The temporal coefficient is
// the weight of the previous estimate; the spatial coefficient pulls the
// estimate toward the long-run mean of the observations.
type scalarFilter struct {
	value float64
	sum   float64
	n     int
}

func (f *scalarFilter) update(x float64, enabled bool, temporal, spatial float64) {
	f.sum += x
	f.n++
	if !enabled || f.n == 1 {
		f.value = x
		return
	}
	v := temporal*f.value + (1-temporal)*x
	f.value = (1-spatial)*v + spatial*(f.sum/float64(f.n))
}

func (f *scalarFilter) get() (float64, bool) {
	return f.value, f.n > 0
}

// livenessFilter keeps the most recent liveness scores.
type livenessFilter struct {
	history []float64
}

func (f *livenessFilter) update(x float64, window int) {
	f.history = append(f.history, x)
	if window < 1 {
		window = 1
	}
	if len(f.history) > window {
		f.history = slices.Delete(f.history, 0, len(f.history)-window)
	}
}

// get returns the liveness estimate. With smoothing enabled a score is
// reported only once window frames were observed, and frames are weighted
// by alpha^age with the newest frame at age 0.
func (f *livenessFilter) get(smooth bool, window int, alpha float64) (float64, bool) {
	n := len(f.history)
	if n == 0 {
		return 0, false
	}
	if !smooth {
		return f.history[n-1], true
	}
	if n < window {
		return 0, false
	}
	var sum, weights float64
	w := 1.0
	for i := n - 1; i >= 0; i-- {
		sum += w * f.history[i]
		weights += w
		w *= alpha
	}
	if weights == 0 {
		return f.history[n-1], true
	}
	return sum / weights, true
}

// attributeState accumulates attribute measurements of one identity on one
// stream.
type attributeState struct {
	age      scalarFilter
	smile    scalarFilter
	eyesOpen scalarFilter
	male     scalarFilter
	liveness livenessFilter

	angles        *Angles
	livenessError string
	quality       *float64
}

func (a *attributeState) update(raw RawAttributes, p *Params) {
	if raw.Age != nil {
		a.age.update(*raw.Age, p.SmoothAttributeAge, p.AttributeAgeSmoothingTemporal, p.AttributeAgeSmoothingSpatial)
	}
	if raw.Smile != nil {
		a.smile.update(*raw.Smile, p.SmoothAttributeExpressionSmile,
			p.AttributeExpressionSmileSmoothingTemporal, p.AttributeExpressionSmileSmoothingSpatial)
	}
	if raw.EyesOpen != nil {
		a.eyesOpen.update(*raw.EyesOpen, p.SmoothAttributeExpressionEyesOpen,
			p.AttributeExpressionEyesOpenSmoothingTemporal, p.AttributeExpressionEyesOpenSmoothingSpatial)
	}
	if raw.Male != nil {
		a.male.update(*raw.Male, false, 0, 0)
	}
	if raw.Liveness != nil {
		a.liveness.update(*raw.Liveness, p.LivenessFramesCount)
	}
	if raw.Angles != nil {
		angles := *raw.Angles
		a.angles = &angles
	}
	if raw.LivenessError != "" {
		a.livenessError = raw.LivenessError
	}
	if raw.Quality != nil {
		q := *raw.Quality
		a.quality = &q
	}
}

// snapshot freezes the current estimates so identity queries do not depend
// on the stream the identity was last seen on.
func (a *attributeState) snapshot(p *Params) attributeSnapshot {
	var s attributeSnapshot
	s.age = optional(a.age.get())
	s.smile = optional(a.smile.get())
	s.eyesOpen = optional(a.eyesOpen.get())
	s.male = optional(a.male.get())
	s.liveness = optional(a.liveness.get(p.SmoothAttributeLiveness, p.LivenessFramesCount, p.AttributeLivenessSmoothingAlpha))
	if a.angles != nil {
		angles := *a.angles
		s.angles = &angles
	}
	s.livenessError = a.livenessError
	s.quality = a.quality
	return s
}

type attributeSnapshot struct {
	age, smile, eyesOpen, male, liveness *float64
	angles                               *Angles
	livenessError                        string
	quality                              *float64
}

func optional(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
