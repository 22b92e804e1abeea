package facetrack

import (
	"math"
	"strconv"
	"strings"

	"github.com/mcuadros/go-defaults"
	"golang.org/x/exp/slices"
)

// AllParametersSet is the offset SetParameters reports when every
// assignment in the batch was applied.
const AllParametersSet = -1

// ValueType is the declared type of a tracker parameter.
type ValueType int

const (
	TypeString ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeList
	TypeEnum
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeList:
		return "list"
	case TypeEnum:
		return "enum"
	}
	return "unknown"
}

// Value is a typed parameter value. Only the field matching Type is set.
type Value struct {
	Type  ValueType
	Str   string
	Bool  bool
	Int   int64
	Float float64
	List  []int
}

// String renders v in the key=value wire format.
func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeList:
		parts := make([]string, len(v.List))
		for i, n := range v.List {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	default:
		return v.Str
	}
}

// Params is the typed form of the tracker configuration. Field names match
// the wire parameter names.
type Params struct {
	FaceDetectionModel    string `default:"default"`
	FaceDetection2Model   string `default:"default"`
	FaceRecognition2Model string `default:"default"`
	LivenessModel         string `default:"default"`

	FaceDetection2PatchMode             string `default:"fast"`
	ComputationDelegate                 string `default:"cpu"`
	PassiveLivenessComputationDelegate  string `default:"cpu"`
	FaceDetection2ComputationDelegate   string `default:"cpu"`
	FaceRecognition2ComputationDelegate string `default:"cpu"`

	ContinuousVideoFeed                  bool `default:"true"`
	DetectAge                            bool
	DetectAngles                         bool
	DetectExpression                     bool
	DetectEyes                           bool
	DetectFacialFeatures                 bool `default:"true"`
	DetectGender                         bool
	DetectLiveness                       bool
	DetermineFaceRotationAngle           bool
	FaceRecognition2UseFlipTest          bool
	HandleArbitraryRotations             bool
	KeepFaceImages                       bool `default:"true"`
	Learning                             bool `default:"true"`
	PurgeIDReassignment                  bool
	RecognizeFaces                       bool `default:"true"`
	SmoothAttributeAge                   bool `default:"true"`
	SmoothAttributeExpressionEyesOpen    bool `default:"true"`
	SmoothAttributeExpressionSmile       bool `default:"true"`
	SmoothAttributeLiveness              bool `default:"true"`
	SmoothFacialFeatures                 bool `default:"true"`
	SuppressMisdetectedFaces             bool
	TrimFacesWithUncertainFacialFeatures bool
	TrimOutOfScreenFaces                 bool
	VideoFeedDiscontinuity               bool

	AttributeAgeSmoothingSpatial                 float64 `default:"0.5"`
	AttributeAgeSmoothingTemporal                float64 `default:"0.8"`
	AttributeExpressionEyesOpenSmoothingSpatial  float64 `default:"0.5"`
	AttributeExpressionEyesOpenSmoothingTemporal float64 `default:"0.5"`
	AttributeExpressionSmileSmoothingSpatial     float64 `default:"0.5"`
	AttributeExpressionSmileSmoothingTemporal    float64 `default:"0.5"`
	AttributeLivenessSmoothingAlpha              float64 `default:"1"`
	FaceDetection2Threshold                      float64 `default:"0.5"`
	FaceDetectionThreshold                       float64 `default:"5"`
	FaceTrackingDistance                         float64 `default:"0.5"`
	FacialFeatureDeviationThreshold              float64 `default:"0.25"`
	FacialFeatureJitterSuppression               float64
	FacialFeatureSmoothingSpatial                float64 `default:"0.3"`
	FacialFeatureSmoothingTemporal               float64 `default:"0.5"`
	Threshold                                    float64 `default:"0.8"`
	Threshold2                                   float64 `default:"0.9"`

	ConfirmFrameCount         int `default:"3"`
	DetectFaceOnceEvery       int `default:"1"`
	DetectionVersion          int `default:"1"`
	FaceDetection2BatchSize   int `default:"1"`
	FaceDetection2BigFaceSize int `default:"0"`
	FaceDetection2PatchSize   int `default:"256"`
	FaceRecognition2BatchSize int `default:"1"`
	InternalResizeWidth       int `default:"100"`
	LivenessFramesCount       int `default:"6"`
	MemoryLimit               int `default:"0"`
	PrevFrameCount            int `default:"4"`
	RecognitionPrecision      int `default:"1"`

	DeleteCameras []int
}

// DefaultParams returns the configuration of a freshly created tracker.
func DefaultParams() Params {
	var p Params
	defaults.SetDefaults(&p)
	return p
}

type param struct {
	name string
	typ  ValueType
	enum []string
	min  float64
	max  float64
	get  func(*Params) Value
	set  func(*Params, Value)
}

var (
	patchModes = []string{"fast", "mixed", "full"}
	delegates  = []string{"none", "cpu", "gpu", "nnapi"}
)

func stringParam(name string, field func(*Params) *string) param {
	return param{
		name: name, typ: TypeString,
		get: func(p *Params) Value { return Value{Type: TypeString, Str: *field(p)} },
		set: func(p *Params, v Value) { *field(p) = v.Str },
	}
}

func enumParam(name string, values []string, field func(*Params) *string) param {
	pr := stringParam(name, field)
	pr.typ = TypeEnum
	pr.enum = values
	get := pr.get
	pr.get = func(p *Params) Value {
		v := get(p)
		v.Type = TypeEnum
		return v
	}
	return pr
}

func boolParam(name string, field func(*Params) *bool) param {
	return param{
		name: name, typ: TypeBool,
		get: func(p *Params) Value { return Value{Type: TypeBool, Bool: *field(p)} },
		set: func(p *Params, v Value) { *field(p) = v.Bool },
	}
}

func floatParam(name string, min, max float64, field func(*Params) *float64) param {
	return param{
		name: name, typ: TypeFloat, min: min, max: max,
		get: func(p *Params) Value { return Value{Type: TypeFloat, Float: *field(p)} },
		set: func(p *Params, v Value) { *field(p) = v.Float },
	}
}

func intParam(name string, min, max float64, field func(*Params) *int) param {
	return param{
		name: name, typ: TypeInt, min: min, max: max,
		get: func(p *Params) Value { return Value{Type: TypeInt, Int: int64(*field(p))} },
		set: func(p *Params, v Value) { *field(p) = int(v.Int) },
	}
}

func listParam(name string, field func(*Params) *[]int) param {
	return param{
		name: name, typ: TypeList,
		get: func(p *Params) Value { return Value{Type: TypeList, List: slices.Clone(*field(p))} },
		set: func(p *Params, v Value) { *field(p) = slices.Clone(v.List) },
	}
}

const unbounded = math.MaxFloat64

var paramSchema = []param{
	stringParam("FaceDetectionModel", func(p *Params) *string { return &p.FaceDetectionModel }),
	stringParam("FaceDetection2Model", func(p *Params) *string { return &p.FaceDetection2Model }),
	stringParam("FaceRecognition2Model", func(p *Params) *string { return &p.FaceRecognition2Model }),
	stringParam("LivenessModel", func(p *Params) *string { return &p.LivenessModel }),

	enumParam("FaceDetection2PatchMode", patchModes, func(p *Params) *string { return &p.FaceDetection2PatchMode }),
	enumParam("ComputationDelegate", delegates, func(p *Params) *string { return &p.ComputationDelegate }),
	enumParam("PassiveLivenessComputationDelegate", delegates, func(p *Params) *string { return &p.PassiveLivenessComputationDelegate }),
	enumParam("FaceDetection2ComputationDelegate", delegates, func(p *Params) *string { return &p.FaceDetection2ComputationDelegate }),
	enumParam("FaceRecognition2ComputationDelegate", delegates, func(p *Params) *string { return &p.FaceRecognition2ComputationDelegate }),

	boolParam("ContinuousVideoFeed", func(p *Params) *bool { return &p.ContinuousVideoFeed }),
	boolParam("DetectAge", func(p *Params) *bool { return &p.DetectAge }),
	boolParam("DetectAngles", func(p *Params) *bool { return &p.DetectAngles }),
	boolParam("DetectExpression", func(p *Params) *bool { return &p.DetectExpression }),
	boolParam("DetectEyes", func(p *Params) *bool { return &p.DetectEyes }),
	boolParam("DetectFacialFeatures", func(p *Params) *bool { return &p.DetectFacialFeatures }),
	boolParam("DetectGender", func(p *Params) *bool { return &p.DetectGender }),
	boolParam("DetectLiveness", func(p *Params) *bool { return &p.DetectLiveness }),
	boolParam("DetermineFaceRotationAngle", func(p *Params) *bool { return &p.DetermineFaceRotationAngle }),
	boolParam("FaceRecognition2UseFlipTest", func(p *Params) *bool { return &p.FaceRecognition2UseFlipTest }),
	boolParam("HandleArbitraryRotations", func(p *Params) *bool { return &p.HandleArbitraryRotations }),
	boolParam("KeepFaceImages", func(p *Params) *bool { return &p.KeepFaceImages }),
	boolParam("Learning", func(p *Params) *bool { return &p.Learning }),
	boolParam("PurgeIDReassignment", func(p *Params) *bool { return &p.PurgeIDReassignment }),
	boolParam("RecognizeFaces", func(p *Params) *bool { return &p.RecognizeFaces }),
	boolParam("SmoothAttributeAge", func(p *Params) *bool { return &p.SmoothAttributeAge }),
	boolParam("SmoothAttributeExpressionEyesOpen", func(p *Params) *bool { return &p.SmoothAttributeExpressionEyesOpen }),
	boolParam("SmoothAttributeExpressionSmile", func(p *Params) *bool { return &p.SmoothAttributeExpressionSmile }),
	boolParam("SmoothAttributeLiveness", func(p *Params) *bool { return &p.SmoothAttributeLiveness }),
	boolParam("SmoothFacialFeatures", func(p *Params) *bool { return &p.SmoothFacialFeatures }),
	boolParam("SuppressMisdetectedFaces", func(p *Params) *bool { return &p.SuppressMisdetectedFaces }),
	boolParam("TrimFacesWithUncertainFacialFeatures", func(p *Params) *bool { return &p.TrimFacesWithUncertainFacialFeatures }),
	boolParam("TrimOutOfScreenFaces", func(p *Params) *bool { return &p.TrimOutOfScreenFaces }),
	boolParam("VideoFeedDiscontinuity", func(p *Params) *bool { return &p.VideoFeedDiscontinuity }),

	floatParam("AttributeAgeSmoothingSpatial", 0, 1, func(p *Params) *float64 { return &p.AttributeAgeSmoothingSpatial }),
	floatParam("AttributeAgeSmoothingTemporal", 0, 1, func(p *Params) *float64 { return &p.AttributeAgeSmoothingTemporal }),
	floatParam("AttributeExpressionEyesOpenSmoothingSpatial", 0, 1, func(p *Params) *float64 { return &p.AttributeExpressionEyesOpenSmoothingSpatial }),
	floatParam("AttributeExpressionEyesOpenSmoothingTemporal", 0, 1, func(p *Params) *float64 { return &p.AttributeExpressionEyesOpenSmoothingTemporal }),
	floatParam("AttributeExpressionSmileSmoothingSpatial", 0, 1, func(p *Params) *float64 { return &p.AttributeExpressionSmileSmoothingSpatial }),
	floatParam("AttributeExpressionSmileSmoothingTemporal", 0, 1, func(p *Params) *float64 { return &p.AttributeExpressionSmileSmoothingTemporal }),
	floatParam("AttributeLivenessSmoothingAlpha", 0, unbounded, func(p *Params) *float64 { return &p.AttributeLivenessSmoothingAlpha }),
	floatParam("FaceDetection2Threshold", 0, 1, func(p *Params) *float64 { return &p.FaceDetection2Threshold }),
	floatParam("FaceDetectionThreshold", 0, unbounded, func(p *Params) *float64 { return &p.FaceDetectionThreshold }),
	floatParam("FaceTrackingDistance", 0, unbounded, func(p *Params) *float64 { return &p.FaceTrackingDistance }),
	floatParam("FacialFeatureDeviationThreshold", 0, unbounded, func(p *Params) *float64 { return &p.FacialFeatureDeviationThreshold }),
	floatParam("FacialFeatureJitterSuppression", 0, unbounded, func(p *Params) *float64 { return &p.FacialFeatureJitterSuppression }),
	floatParam("FacialFeatureSmoothingSpatial", 0, 1, func(p *Params) *float64 { return &p.FacialFeatureSmoothingSpatial }),
	floatParam("FacialFeatureSmoothingTemporal", 0, 1, func(p *Params) *float64 { return &p.FacialFeatureSmoothingTemporal }),
	floatParam("Threshold", 0, 1, func(p *Params) *float64 { return &p.Threshold }),
	floatParam("Threshold2", 0, 1, func(p *Params) *float64 { return &p.Threshold2 }),

	intParam("ConfirmFrameCount", 1, unbounded, func(p *Params) *int { return &p.ConfirmFrameCount }),
	intParam("DetectFaceOnceEvery", 1, unbounded, func(p *Params) *int { return &p.DetectFaceOnceEvery }),
	intParam("DetectionVersion", 1, 255, func(p *Params) *int { return &p.DetectionVersion }),
	intParam("FaceDetection2BatchSize", 1, unbounded, func(p *Params) *int { return &p.FaceDetection2BatchSize }),
	intParam("FaceDetection2BigFaceSize", 0, unbounded, func(p *Params) *int { return &p.FaceDetection2BigFaceSize }),
	intParam("FaceDetection2PatchSize", 1, unbounded, func(p *Params) *int { return &p.FaceDetection2PatchSize }),
	intParam("FaceRecognition2BatchSize", 1, unbounded, func(p *Params) *int { return &p.FaceRecognition2BatchSize }),
	intParam("InternalResizeWidth", 0, unbounded, func(p *Params) *int { return &p.InternalResizeWidth }),
	intParam("LivenessFramesCount", 1, unbounded, func(p *Params) *int { return &p.LivenessFramesCount }),
	intParam("MemoryLimit", 0, unbounded, func(p *Params) *int { return &p.MemoryLimit }),
	intParam("PrevFrameCount", 0, unbounded, func(p *Params) *int { return &p.PrevFrameCount }),
	intParam("RecognitionPrecision", 0, 2, func(p *Params) *int { return &p.RecognitionPrecision }),

	listParam("DeleteCameras", func(p *Params) *[]int { return &p.DeleteCameras }),
}

var paramIndex = func() map[string]*param {
	idx := make(map[string]*param, len(paramSchema))
	for i := range paramSchema {
		idx[strings.ToLower(paramSchema[i].name)] = &paramSchema[i]
	}
	return idx
}()

func lookupParam(name string) (*param, bool) {
	p, ok := paramIndex[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// ParameterNames lists every recognised parameter name in schema order.
func ParameterNames() []string {
	names := make([]string, len(paramSchema))
	for i, p := range paramSchema {
		names[i] = p.name
	}
	return names
}

// ParameterType returns the declared type of the named parameter.
func ParameterType(name string) (ValueType, error) {
	p, ok := lookupParam(name)
	if !ok {
		return 0, newError(KindParameterNotFound, "ParameterType", "unknown parameter %q", name)
	}
	return p.typ, nil
}

// parse converts raw into a value of the parameter's type.
func (p *param) parse(raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch p.typ {
	case TypeBool:
		switch strings.ToLower(raw) {
		case "true", "1":
			return Value{Type: TypeBool, Bool: true}, nil
		case "false", "0":
			return Value{Type: TypeBool}, nil
		}
		return Value{}, newError(KindSyntaxError, p.name, "%q is not a boolean", raw)
	case TypeInt:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f != math.Trunc(f) {
			return Value{}, newError(KindSyntaxError, p.name, "%q is not an integer", raw)
		}
		if err := p.checkRange(f); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeInt, Int: int64(f)}, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, newError(KindSyntaxError, p.name, "%q is not a number", raw)
		}
		if err := p.checkRange(f); err != nil {
			return Value{}, err
		}
		return Value{Type: TypeFloat, Float: f}, nil
	case TypeList:
		v := Value{Type: TypeList, List: []int{}}
		if raw == "" {
			return v, nil
		}
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return Value{}, newError(KindSyntaxError, p.name, "%q is not an integer list", raw)
			}
			v.List = append(v.List, n)
		}
		return v, nil
	case TypeEnum:
		for _, allowed := range p.enum {
			if strings.EqualFold(raw, allowed) {
				return Value{Type: TypeEnum, Str: allowed}, nil
			}
		}
		return Value{}, newError(KindSyntaxError, p.name, "%q is not one of %s", raw, strings.Join(p.enum, ", "))
	default:
		if strings.Contains(raw, ";") {
			return Value{}, newError(KindSyntaxError, p.name, "%q contains a batch separator", raw)
		}
		return Value{Type: TypeString, Str: raw}, nil
	}
}

func (p *param) checkRange(f float64) error {
	if f < p.min || f > p.max {
		return newError(KindSyntaxError, p.name, "%v outside [%v, %v]", f, p.min, p.max)
	}
	return nil
}

// check re-parses the text parameters so that Encode output always
// applies cleanly.
func (p *Params) check() error {
	for i := range paramSchema {
		pr := &paramSchema[i]
		if pr.typ != TypeString && pr.typ != TypeEnum {
			continue
		}
		if _, err := pr.parse(pr.get(p).Str); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the typed value of the named parameter.
func (p *Params) Get(name string) (Value, error) {
	pr, ok := lookupParam(name)
	if !ok {
		return Value{}, newError(KindParameterNotFound, "Get", "unknown parameter %q", name)
	}
	return pr.get(p), nil
}

// Set parses value and assigns it to the named parameter.
func (p *Params) Set(name, value string) error {
	pr, ok := lookupParam(name)
	if !ok {
		return newError(KindParameterNotFound, "Set", "unknown parameter %q", name)
	}
	v, err := pr.parse(value)
	if err != nil {
		return err
	}
	pr.set(p, v)
	return nil
}

// Assignment is one key=value pair of a batch with the offset of its key.
type Assignment struct {
	Name   string
	Value  string
	Offset int
}

// SplitAssignments tokenizes a key1=value1;key2=value2 batch. Empty
// segments are skipped. A segment without '=' fails with ErrSyntaxError
// carrying its offset.
func SplitAssignments(batch string) ([]Assignment, error) {
	var out []Assignment
	pos := 0
	for pos <= len(batch) {
		end := strings.IndexByte(batch[pos:], ';')
		if end < 0 {
			end = len(batch)
		} else {
			end += pos
		}
		seg := batch[pos:end]
		lead := len(seg) - len(strings.TrimLeft(seg, " \t\r\n"))
		if strings.TrimSpace(seg) != "" {
			eq := strings.IndexByte(seg, '=')
			if eq < 0 {
				return out, &Error{Kind: KindSyntaxError, Op: "SetParameters",
					Message: "missing '=' in " + strconv.Quote(strings.TrimSpace(seg)), Offset: pos + lead}
			}
			out = append(out, Assignment{
				Name:   strings.TrimSpace(seg[:eq]),
				Value:  seg[eq+1:],
				Offset: pos + lead,
			})
		}
		pos = end + 1
	}
	return out, nil
}

// Apply assigns a batch left to right and stops at the first failure. The
// assignments before the failure stay applied. The returned offset is
// AllParametersSet on success, otherwise the position of the failing key.
func (p *Params) Apply(batch string) (int, error) {
	assignments, splitErr := SplitAssignments(batch)
	for _, a := range assignments {
		if err := p.Set(a.Name, a.Value); err != nil {
			return a.Offset, withOffset(err, a.Offset)
		}
	}
	if splitErr != nil {
		return ErrorOffset(splitErr), splitErr
	}
	return AllParametersSet, nil
}

// Encode renders every parameter as a batch string in schema order.
func (p Params) Encode() string {
	var b strings.Builder
	for i := range paramSchema {
		pr := &paramSchema[i]
		b.WriteString(pr.name)
		b.WriteByte('=')
		b.WriteString(pr.get(&p).String())
		b.WriteByte(';')
	}
	return b.String()
}

// attributeSet derives the attributes FeedFrame requests from the engine.
func (p *Params) attributeSet() AttributeSet {
	var s AttributeSet
	if p.DetectAge {
		s |= AttrAge
	}
	if p.DetectGender {
		s |= AttrGender
	}
	if p.DetectExpression || p.DetectEyes {
		s |= AttrExpression
	}
	if p.DetectAngles || p.DetermineFaceRotationAngle {
		s |= AttrAngles
	}
	if p.DetectLiveness {
		s |= AttrLiveness
	}
	return s
}

func withOffset(err error, offset int) error {
	if e, ok := err.(*Error); ok {
		c := *e
		c.Offset = offset
		return &c
	}
	return err
}
