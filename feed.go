package facetrack

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/exp/slices"
)

// EventKind classifies identity lifecycle events emitted by FeedFrame.
type EventKind int

const (
	// EventCreated reports a new identity for an unrecognized face.
	EventCreated EventKind = iota
	// EventConfirmed reports an identity seen in enough frames.
	EventConfirmed
	// EventMerged reports that From was recognized as Into and folded into
	// it.
	EventMerged
	// EventLinked reports that two identities were recorded as similar.
	EventLinked
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventConfirmed:
		return "confirmed"
	case EventMerged:
		return "merged"
	case EventLinked:
		return "linked"
	}
	return "unknown"
}

// MarshalText renders the kind by name in JSON.
func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *EventKind) UnmarshalText(text []byte) error {
	for c := EventCreated; c <= EventLinked; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return newError(KindSyntaxError, "EventKind", "unknown event kind %q", text)
}

// Event is one identity state transition.
type Event struct {
	Kind       EventKind `json:"kind"`
	ID         ID        `json:"id,omitempty"`
	From       ID        `json:"from,omitempty"`
	Into       ID        `json:"into,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventMerged:
		return fmt.Sprintf("Merged{From: %d, Into: %d}", e.From, e.Into)
	case EventLinked:
		return fmt.Sprintf("Linked{%d, %d}", e.From, e.Into)
	default:
		return fmt.Sprintf("%s{%d}", e.Kind, e.ID)
	}
}

// TrackedFace describes one detection of a frame after reconciliation.
type TrackedFace struct {
	ID         ID              `json:"id"`
	Box        image.Rectangle `json:"box"`
	Keypoints  []Point         `json:"keypoints,omitempty"`
	Confidence float64         `json:"confidence"`
	State      IdentityState   `json:"state"`
	// Similarity is the recognition score that selected ID, or 0 when the
	// identity was kept by tracking or newly created.
	Similarity float64 `json:"similarity"`
}

// FeedResult is the outcome of one FeedFrame call.
type FeedResult struct {
	Stream int           `json:"stream"`
	Frame  int64         `json:"frame"`
	IDs    []ID          `json:"ids"`
	Faces  []TrackedFace `json:"faces"`
	Events []Event       `json:"events,omitempty"`
}

type track struct {
	id        ID
	box       image.Rectangle
	lastFrame int64
	keypoints []Point
	attrs     attributeState
}

type stream struct {
	index      int
	frame      int64
	lastDetect int64
	tracks     []*track
	last       []TrackedFace
}

func (s *stream) reset() {
	s.tracks = nil
	s.last = nil
	s.lastDetect = 0
}

func (s *stream) dropIdentity(id ID) {
	s.tracks = slices.DeleteFunc(s.tracks, func(tr *track) bool { return tr.id == id })
	s.last = slices.DeleteFunc(s.last, func(f TrackedFace) bool { return f.ID == id })
}

func (s *stream) renameIdentity(from, into ID) {
	for _, tr := range s.tracks {
		if tr.id == from {
			tr.id = into
		}
	}
	for i := range s.last {
		if s.last[i].ID == from {
			s.last[i].ID = into
		}
	}
}

// associate returns the closest unused track whose last box center lies
// within maxDist face widths of box.
func (s *stream) associate(box image.Rectangle, maxDist float64, used map[*track]bool, claimed map[ID]bool) *track {
	var best *track
	bestDist := math.MaxFloat64
	for _, tr := range s.tracks {
		if used[tr] || claimed[tr.id] {
			continue
		}
		w := float64(tr.box.Dx())
		if w <= 0 {
			continue
		}
		d := centerDistance(tr.box, box) / w
		if d <= maxDist && d < bestDist {
			best, bestDist = tr, d
		}
	}
	return best
}

func centerDistance(a, b image.Rectangle) float64 {
	ax := float64(a.Min.X+a.Max.X) / 2
	ay := float64(a.Min.Y+a.Max.Y) / 2
	bx := float64(b.Min.X+b.Max.X) / 2
	by := float64(b.Min.Y+b.Max.Y) / 2
	return math.Hypot(ax-bx, ay-by)
}

func (t *Tracker) stream(index int) *stream {
	st, ok := t.streams[index]
	if !ok {
		st = &stream{index: index}
		t.streams[index] = st
	}
	return st
}

// observation is everything the engine reported for one detection.
type observation struct {
	det      Detection
	template Template
	attrs    RawAttributes
}

// FeedFrame advances tracking on stream streamIndex by one frame. It
// returns the identities visible in img in detection order, most confident
// first. A frame without faces is a valid empty result. Engine failures
// leave the tracker unchanged.
func (t *Tracker) FeedFrame(img image.Image, maxFaces, streamIndex int) (FeedResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := FeedResult{Stream: streamIndex}
	if err := t.checkOpen("FeedFrame"); err != nil {
		return res, err
	}
	if t.engine == nil {
		return res, newError(KindNotInitialized, "FeedFrame", "tracker has no engine")
	}
	if v := t.engine.DetectionVersion(); v != t.params.DetectionVersion {
		return res, newError(KindUnsupportedVersion, "FeedFrame",
			"engine detection version %d does not match tracker memory version %d", v, t.params.DetectionVersion)
	}
	if err := checkImage("FeedFrame", img); err != nil {
		return res, err
	}
	if maxFaces <= 0 {
		return res, newError(KindInvalidArgument, "FeedFrame", "maxFaces must be positive, got %d", maxFaces)
	}

	st := t.stream(streamIndex)
	discontinuity := t.params.VideoFeedDiscontinuity || !t.params.ContinuousVideoFeed
	frame := st.frame + 1
	res.Frame = frame

	every := int64(t.params.DetectFaceOnceEvery)
	if !discontinuity && every > 1 && st.lastDetect > 0 && frame-st.lastDetect < every && len(st.last) > 0 {
		st.frame = frame
		res.Faces = slices.Clone(st.last)
		for _, f := range res.Faces {
			res.IDs = append(res.IDs, f.ID)
		}
		return res, nil
	}

	obs, err := t.observe(img, maxFaces)
	if err != nil {
		return res, err
	}

	if discontinuity {
		st.reset()
		t.params.VideoFeedDiscontinuity = false
	}
	st.frame = frame
	st.lastDetect = frame

	used := make(map[*track]bool, len(obs))
	claimed := make(map[ID]bool, len(obs))
	for _, o := range obs {
		tf, err := t.reconcile(st, img, o, used, claimed, &res)
		if err != nil {
			return res, err
		}
		res.IDs = append(res.IDs, tf.ID)
		res.Faces = append(res.Faces, tf)
	}

	maxAge := int64(t.params.PrevFrameCount)
	st.tracks = slices.DeleteFunc(st.tracks, func(tr *track) bool {
		return frame-tr.lastFrame > maxAge
	})
	st.last = slices.Clone(res.Faces)
	return res, nil
}

// observe runs every engine call of a frame before any state is touched.
func (t *Tracker) observe(img image.Image, maxFaces int) ([]observation, error) {
	dets, err := detectSorted(t.engine, img, maxFaces)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	dets = slices.DeleteFunc(dets, func(d Detection) bool {
		if t.params.TrimOutOfScreenFaces && !d.Box.In(bounds) {
			return true
		}
		return t.params.SuppressMisdetectedFaces && d.Confidence < t.params.FaceDetection2Threshold
	})

	attrSet := t.params.attributeSet()
	attrEngine, hasAttrs := t.engine.(AttributeDetector)

	obs := make([]observation, 0, len(dets))
	for _, d := range dets {
		o := observation{det: d}
		if t.params.RecognizeFaces {
			o.template = d.Template
			if o.template == nil {
				if o.template, err = t.engine.Template(img, d); err != nil {
					return nil, engineError("FeedFrame", err)
				}
			}
			if err := t.checkTemplate("FeedFrame", o.template); err != nil {
				return nil, err
			}
		}
		if hasAttrs && attrSet != 0 {
			if o.attrs, err = attrEngine.DetectAttributes(img, d, attrSet); err != nil {
				return nil, engineError("FeedFrame", err)
			}
		}
		obs = append(obs, o)
	}
	return obs, nil
}

func (t *Tracker) reconcile(st *stream, img image.Image, o observation, used map[*track]bool, claimed map[ID]bool, res *FeedResult) (TrackedFace, error) {
	p := &t.params
	tr := st.associate(o.det.Box, p.FaceTrackingDistance, used, claimed)

	var match Match
	matched := false
	if o.template != nil {
		ms, err := t.matchLocked(o.template, p.Threshold, 1, claimed)
		if err != nil {
			return TrackedFace{}, err
		}
		if len(ms) > 0 {
			match, matched = ms[0], true
		}
	}

	var ident *identity
	similarity := 0.0
	switch {
	case tr != nil && matched && match.ID != tr.id:
		var merged bool
		ident, merged = t.resolveConflict(tr.id, match, res)
		if merged {
			similarity = match.Similarity
		}
	case tr != nil:
		ident, _ = t.identity(tr.id)
	case matched:
		ident, _ = t.identity(match.ID)
		similarity = match.Similarity
	}
	if ident == nil {
		ident = t.newIdentityLocked()
		res.Events = append(res.Events, Event{Kind: EventCreated, ID: ident.id})
		t.logger.Debug("identity created from frame", "id", ident.id, "stream", st.index)
	}

	if o.template != nil && p.Learning {
		t.learn(ident, o.template, img, o.det.Box)
	}

	ident.hits++
	if ident.state == StateTentative && ident.hits >= p.ConfirmFrameCount {
		ident.state = StateConfirmed
		res.Events = append(res.Events, Event{Kind: EventConfirmed, ID: ident.id})
	}

	if tr == nil {
		tr = &track{}
		st.tracks = append(st.tracks, tr)
	}
	if tr.id != ident.id {
		tr.keypoints = nil
		tr.attrs = attributeState{}
	}
	tr.id = ident.id
	tr.box = o.det.Box
	tr.lastFrame = st.frame
	if p.DetectFacialFeatures {
		tr.keypoints = smoothKeypoints(tr.keypoints, o.det.Keypoints, float64(o.det.Box.Dx()), p)
	}
	tr.attrs.update(o.attrs, p)

	ident.box = tr.box
	ident.keypoints = slices.Clone(tr.keypoints)
	ident.attrs = tr.attrs.snapshot(p)

	used[tr] = true
	claimed[ident.id] = true
	return TrackedFace{
		ID:         ident.id,
		Box:        o.det.Box,
		Keypoints:  slices.Clone(tr.keypoints),
		Confidence: o.det.Confidence,
		State:      ident.state,
		Similarity: similarity,
	}, nil
}

// resolveConflict handles a face that tracking attributes to one identity
// while recognition points at another. A match at Threshold2 merges the
// younger identity into the older one unless either is locked; otherwise
// tracking wins and both are linked as similar.
func (t *Tracker) resolveConflict(trackID ID, match Match, res *FeedResult) (*identity, bool) {
	tracked, _ := t.identity(trackID)
	recognized, _ := t.identity(match.ID)
	if tracked == nil {
		return recognized, recognized != nil
	}
	if recognized == nil {
		return tracked, false
	}

	if match.Similarity >= t.params.Threshold2 && tracked.locks == 0 && recognized.locks == 0 {
		from, into := tracked, recognized
		if from.id < into.id {
			from, into = into, from
		}
		t.merge(from, into)
		res.Events = append(res.Events, Event{Kind: EventMerged, From: from.id, Into: into.id, Similarity: match.Similarity})
		return into, true
	}

	if tracked.locks == 0 && recognized.locks == 0 && !slices.Contains(tracked.similar, recognized.id) {
		t.link(tracked, recognized)
		res.Events = append(res.Events, Event{Kind: EventLinked, From: tracked.id, Into: recognized.id, Similarity: match.Similarity})
	}
	return tracked, false
}

// learn stores tmpl under ident unless it duplicates a stored face or the
// memory limit is reached.
func (t *Tracker) learn(ident *identity, tmpl Template, img image.Image, box image.Rectangle) {
	for _, fid := range ident.faces {
		f, ok := t.face(fid)
		if !ok {
			continue
		}
		if s, err := t.similarity(tmpl, f.template); err == nil && s >= t.params.Threshold2 {
			return
		}
	}
	if limit := t.params.MemoryLimit; limit > 0 && t.faces.Size() >= limit {
		t.logger.Debug("memory limit reached, template not stored", "id", ident.id, "limit", limit)
		return
	}
	var faceImg image.Image
	if t.params.KeepFaceImages {
		faceImg = cropFace(img, box)
	}
	t.addFaceLocked(ident, tmpl, faceImg)
}
