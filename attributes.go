package facetrack

import (
	"math"
	"strconv"
	"strings"
)

// Facial attribute names accepted by FacialAttribute.
const (
	AttributeAge           = "Age"
	AttributeAgeGroups     = "AgeGroups"
	AttributeGender        = "Gender"
	AttributeExpression    = "Expression"
	AttributeAngles        = "Angles"
	AttributeLiveness      = "Liveness"
	AttributeLivenessError = "LivenessError"
	AttributeImageQuality  = "ImageQuality"
)

type ageGroup struct {
	label  string
	center float64
}

var ageGroups = []ageGroup{
	{"0-2", 1}, {"4-6", 5}, {"8-13", 10.5}, {"15-20", 17.5},
	{"25-32", 28.5}, {"38-43", 40.5}, {"48-53", 50.5}, {"60-", 65},
}

// FacialAttribute returns the named attribute of id as key=value; text,
// for example "Smile=0.91;EyesOpen=0.88;". The identity must be locked.
func (t *Tracker) FacialAttribute(id ID, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lockedIdentity("FacialAttribute", id)
	if err != nil {
		return "", err
	}
	a := ident.attrs
	notDetected := func() (string, error) {
		return "", newError(KindAttributeNotDetected, "FacialAttribute", "%s not detected for identity %d", name, id)
	}

	var b attributeWriter
	switch {
	case strings.EqualFold(name, AttributeAge):
		if a.age == nil {
			return notDetected()
		}
		b.put("Age", *a.age)
	case strings.EqualFold(name, AttributeAgeGroups):
		if a.age == nil {
			return notDetected()
		}
		for i, w := range ageGroupWeights(*a.age) {
			b.put(ageGroups[i].label, w)
		}
	case strings.EqualFold(name, AttributeGender):
		if a.male == nil {
			return notDetected()
		}
		m := clamp01(*a.male)
		b.put("Male", m)
		b.put("Female", 1-m)
	case strings.EqualFold(name, AttributeExpression):
		if a.smile == nil && a.eyesOpen == nil {
			return notDetected()
		}
		if a.smile != nil {
			b.put("Smile", *a.smile)
		}
		if a.eyesOpen != nil {
			b.put("EyesOpen", *a.eyesOpen)
		}
	case strings.EqualFold(name, AttributeAngles):
		if a.angles == nil {
			return notDetected()
		}
		b.put("Roll", a.angles.Roll)
		b.put("Pan", a.angles.Pan)
		b.put("Tilt", a.angles.Tilt)
	case strings.EqualFold(name, AttributeLiveness):
		if a.liveness == nil {
			return notDetected()
		}
		b.put("Liveness", *a.liveness)
	case strings.EqualFold(name, AttributeLivenessError):
		if a.livenessError == "" {
			return notDetected()
		}
		b.putString("LivenessError", a.livenessError)
	case strings.EqualFold(name, AttributeImageQuality):
		if a.quality == nil {
			return notDetected()
		}
		b.put("ImageQuality", *a.quality)
	default:
		return "", newError(KindUnknownAttribute, "FacialAttribute", "unknown attribute %q", name)
	}
	return b.String(), nil
}

// AttributeValue extracts one numeric value from key=value; attribute
// text.
func AttributeValue(values, key string) (float64, error) {
	assignments, err := SplitAssignments(values)
	if err != nil {
		return 0, err
	}
	for _, a := range assignments {
		if strings.EqualFold(a.Name, key) {
			f, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64)
			if err != nil {
				return 0, &Error{Kind: KindSyntaxError, Op: "AttributeValue", Message: "bad value for " + key, Offset: a.Offset}
			}
			return f, nil
		}
	}
	return 0, newError(KindAttributeNotDetected, "AttributeValue", "%q not present", key)
}

// ageGroupWeights spreads an age estimate over the age groups with a
// Gaussian whose width grows with age.
func ageGroupWeights(age float64) []float64 {
	sigma := 2 + 0.15*age
	weights := make([]float64, len(ageGroups))
	var total float64
	for i, g := range ageGroups {
		d := (age - g.center) / sigma
		weights[i] = math.Exp(-d * d / 2)
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

type attributeWriter struct {
	strings.Builder
}

func (w *attributeWriter) put(key string, v float64) {
	w.putString(key, strconv.FormatFloat(v, 'f', -1, 64))
}

func (w *attributeWriter) putString(key, v string) {
	w.WriteString(key)
	w.WriteByte('=')
	w.WriteString(v)
	w.WriteByte(';')
}
