package facetrack

import (
	"image"
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/google/uuid"
)

// ID is a long-lived identity handle. IDs are never reused by a tracker,
// not even after the identity is purged or merged away.
type ID int64

// FaceID names one stored face observation of an identity.
type FaceID int64

// IdentityState is the lifecycle stage of an identity.
type IdentityState int

const (
	StateTentative IdentityState = iota
	StateConfirmed
)

func (s IdentityState) String() string {
	if s == StateConfirmed {
		return "confirmed"
	}
	return "tentative"
}

// MarshalText renders the state by name in JSON.
func (s IdentityState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *IdentityState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "tentative":
		*s = StateTentative
	case "confirmed":
		*s = StateConfirmed
	default:
		return newError(KindSyntaxError, "IdentityState", "unknown identity state %q", text)
	}
	return nil
}

type identity struct {
	id      ID
	faces   []FaceID
	name    string
	similar []ID
	locks   int
	state   IdentityState
	hits    int

	box       image.Rectangle
	keypoints []Point
	attrs     attributeSnapshot
}

type face struct {
	id       FaceID
	owner    ID
	template Template
	image    image.Image
}

// Tracker is the identity store. It maps identities to their stored faces
// and metadata, and advances tracking state one frame at a time through
// FeedFrame.
//
// All methods are safe for concurrent use; FeedFrame calls are serialized
// and must be issued in capture order.
type Tracker struct {
	mu sync.Mutex

	engine       Engine
	logger       *slog.Logger
	lockChecking bool
	expected     int
	closed       bool
	instanceID   uuid.UUID

	defaults   Params
	params     Params
	identities *treemap.Map // ID -> *identity
	faces      *treemap.Map // FaceID -> *face
	reassigned map[ID]ID
	nextID     ID
	nextFaceID FaceID
	streams    map[int]*stream
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger for identity lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithLockChecking toggles enforcement of the lock-before-access contract
// for names, similar-ID lists and attributes. It is on by default.
func WithLockChecking(enabled bool) Option {
	return func(t *Tracker) {
		t.lockChecking = enabled
	}
}

// WithExpectedDetectionVersion makes Restore fail with
// ErrUnsupportedVersion when the stored memory was built under another
// detection version.
func WithExpectedDetectionVersion(version int) Option {
	return func(t *Tracker) {
		t.expected = version
	}
}

// WithParams replaces the default parameters of a new tracker. Clear
// returns to these values.
func WithParams(p Params) Option {
	return func(t *Tracker) {
		t.defaults = p
	}
}

func idComparator(a, b interface{}) int {
	x, y := a.(ID), b.(ID)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func faceComparator(a, b interface{}) int {
	x, y := a.(FaceID), b.(FaceID)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// New creates an empty tracker with default parameters. engine may be nil
// for a store that only manages precomputed templates; FeedFrame then
// fails with ErrNotInitialized.
func New(engine Engine, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		engine:       engine,
		logger:       slog.Default(),
		lockChecking: true,
		instanceID:   uuid.New(),
		defaults:     DefaultParams(),
	}
	if engine != nil {
		t.defaults.DetectionVersion = engine.DetectionVersion()
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.defaults.DetectionVersion < 1 || t.defaults.DetectionVersion > 255 {
		return nil, newError(KindInvalidArgument, "New", "detection version %d out of range", t.defaults.DetectionVersion)
	}
	if err := t.defaults.check(); err != nil {
		return nil, err
	}
	t.reset()
	return t, nil
}

func (t *Tracker) reset() {
	t.params = t.defaults
	t.params.DeleteCameras = nil
	t.identities = treemap.NewWith(idComparator)
	t.faces = treemap.NewWith(faceComparator)
	t.reassigned = make(map[ID]ID)
	t.nextID = 1
	t.nextFaceID = 1
	t.streams = make(map[int]*stream)
}

// Clear discards every identity and resets all parameters to their
// defaults. It cannot be undone.
func (t *Tracker) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("Clear"); err != nil {
		return err
	}
	n := t.identities.Size()
	t.reset()
	t.logger.Info("tracker memory cleared", "identities", n)
	return nil
}

// Close releases the tracker. Every later call fails with
// ErrNotInitialized.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return newError(KindNotInitialized, "Close", "tracker already closed")
	}
	t.closed = true
	t.identities.Clear()
	t.faces.Clear()
	t.streams = nil
	return nil
}

// InstanceID identifies this tracker memory; it survives save and
// restore.
func (t *Tracker) InstanceID() uuid.UUID {
	return t.instanceID
}

// Engine returns the engine the tracker feeds frames through.
func (t *Tracker) Engine() Engine {
	return t.engine
}

// DetectionVersion returns the detection version tag of the memory.
func (t *Tracker) DetectionVersion() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params.DetectionVersion
}

// CheckDetectionVersion fails with ErrUnsupportedVersion when the memory
// was built under a detection version other than expected.
func (t *Tracker) CheckDetectionVersion(expected int) error {
	if v := t.DetectionVersion(); v != expected {
		return newError(KindUnsupportedVersion, "CheckDetectionVersion",
			"tracker memory uses detection version %d, expected %d", v, expected)
	}
	return nil
}

// SetParameter assigns one parameter from its wire representation. A
// malformed or out-of-range value fails with ErrSyntaxError, an unknown
// name with ErrParameterNotFound.
func (t *Tracker) SetParameter(name, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("SetParameter"); err != nil {
		return err
	}
	return t.setParameterLocked(name, value)
}

// SetParameters applies a key1=value1;key2=value2 batch left to right.
// Assignments before the first failure stay applied; the returned offset
// points at the failing key, or is AllParametersSet.
func (t *Tracker) SetParameters(batch string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("SetParameters"); err != nil {
		return 0, err
	}
	assignments, splitErr := SplitAssignments(batch)
	for _, a := range assignments {
		if err := t.setParameterLocked(a.Name, a.Value); err != nil {
			return a.Offset, withOffset(err, a.Offset)
		}
	}
	if splitErr != nil {
		return ErrorOffset(splitErr), splitErr
	}
	return AllParametersSet, nil
}

func (t *Tracker) setParameterLocked(name, value string) error {
	pr, ok := lookupParam(name)
	if !ok {
		return newError(KindParameterNotFound, "SetParameter", "unknown parameter %q", name)
	}
	v, err := pr.parse(value)
	if err != nil {
		return err
	}
	if pr.name == "DetectionVersion" && int(v.Int) != t.params.DetectionVersion && t.faces.Size() > 0 {
		return newError(KindInvalidArgument, "SetParameter",
			"cannot change detection version of a memory holding %d faces", t.faces.Size())
	}
	pr.set(&t.params, v)
	if pr.name == "DeleteCameras" {
		for _, idx := range v.List {
			delete(t.streams, idx)
		}
	}
	return nil
}

// Parameter returns the typed value of a parameter.
func (t *Tracker) Parameter(name string) (Value, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("Parameter"); err != nil {
		return Value{}, err
	}
	return t.params.Get(name)
}

// ParameterString returns a parameter in its wire representation.
func (t *Tracker) ParameterString(name string) (string, error) {
	v, err := t.Parameter(name)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// Params returns a copy of the current configuration.
func (t *Tracker) Params() Params {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.params
	p.DeleteCameras = append([]int(nil), t.params.DeleteCameras...)
	return p
}

func (t *Tracker) checkOpen(op string) error {
	if t.closed {
		return newError(KindNotInitialized, op, "tracker is closed")
	}
	return nil
}

func (t *Tracker) identity(id ID) (*identity, bool) {
	v, ok := t.identities.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*identity), true
}

func (t *Tracker) face(id FaceID) (*face, bool) {
	v, ok := t.faces.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*face), true
}

func (t *Tracker) lookupIdentity(op string, id ID) (*identity, error) {
	if err := t.checkOpen(op); err != nil {
		return nil, err
	}
	ident, ok := t.identity(id)
	if !ok {
		return nil, newError(KindIDNotFound, op, "identity %d not found", id)
	}
	return ident, nil
}

func (t *Tracker) lookupFace(op string, id FaceID) (*face, error) {
	if err := t.checkOpen(op); err != nil {
		return nil, err
	}
	f, ok := t.face(id)
	if !ok {
		return nil, newError(KindFaceIDNotFound, op, "face %d not found", id)
	}
	return f, nil
}

// eachIdentity visits identities in ascending ID order.
func (t *Tracker) eachIdentity(fn func(*identity)) {
	it := t.identities.Iterator()
	for it.Next() {
		fn(it.Value().(*identity))
	}
}
