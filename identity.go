package facetrack

import (
	"image"

	"golang.org/x/exp/slices"
)

// CreateIdentity allocates a new identity holding one face with template
// tmpl.
func (t *Tracker) CreateIdentity(tmpl Template) (ID, FaceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("CreateIdentity"); err != nil {
		return 0, 0, err
	}
	if err := t.checkTemplate("CreateIdentity", tmpl); err != nil {
		return 0, 0, err
	}
	ident := t.newIdentityLocked()
	ident.state = StateConfirmed
	f := t.addFaceLocked(ident, tmpl, nil)
	t.logger.Debug("identity created", "id", ident.id, "face", f.id)
	return ident.id, f.id, nil
}

// AddTemplate stores another face template under an existing identity.
func (t *Tracker) AddTemplate(id ID, tmpl Template) (FaceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("AddTemplate", id)
	if err != nil {
		return 0, err
	}
	if err := t.checkTemplate("AddTemplate", tmpl); err != nil {
		return 0, err
	}
	return t.addFaceLocked(ident, tmpl, nil).id, nil
}

// DeleteFace removes one stored face. The owning identity stays, even when
// it has no faces left.
func (t *Tracker) DeleteFace(faceID FaceID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.lookupFace("DeleteFace", faceID)
	if err != nil {
		return err
	}
	t.removeFaceLocked(f)
	return nil
}

// AllIDs returns every live identity in ascending order.
func (t *Tracker) AllIDs() ([]ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("AllIDs"); err != nil {
		return nil, err
	}
	ids := make([]ID, 0, t.identities.Size())
	for _, k := range t.identities.Keys() {
		ids = append(ids, k.(ID))
	}
	return ids, nil
}

// FaceIDs returns the faces stored for id, oldest first.
func (t *Tracker) FaceIDs(id ID) ([]FaceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("FaceIDs", id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(ident.faces), nil
}

// IDsCount returns the number of live identities.
func (t *Tracker) IDsCount() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("IDsCount"); err != nil {
		return 0, err
	}
	return t.identities.Size(), nil
}

// FaceIDsCount returns the number of faces stored for id.
func (t *Tracker) FaceIDsCount(id ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("FaceIDsCount", id)
	if err != nil {
		return 0, err
	}
	return len(ident.faces), nil
}

// IDByFaceID returns the identity owning faceID.
func (t *Tracker) IDByFaceID(faceID FaceID) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.lookupFace("IDByFaceID", faceID)
	if err != nil {
		return 0, err
	}
	return f.owner, nil
}

// FaceTemplate returns a copy of the template stored with faceID.
func (t *Tracker) FaceTemplate(faceID FaceID) (Template, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.lookupFace("FaceTemplate", faceID)
	if err != nil {
		return nil, err
	}
	return f.template.Clone(), nil
}

// FaceImage returns the face image stored with faceID.
func (t *Tracker) FaceImage(faceID FaceID) (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.lookupFace("FaceImage", faceID)
	if err != nil {
		return nil, err
	}
	if f.image == nil {
		return nil, newError(KindFaceImageNotFound, "FaceImage", "face %d has no image", faceID)
	}
	return f.image, nil
}

// SetFaceImage attaches img to faceID, replacing any previous image.
func (t *Tracker) SetFaceImage(faceID FaceID, img image.Image) error {
	if err := checkImage("SetFaceImage", img); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.lookupFace("SetFaceImage", faceID)
	if err != nil {
		return err
	}
	f.image = img
	return nil
}

// DeleteFaceImage drops the image stored with faceID.
func (t *Tracker) DeleteFaceImage(faceID FaceID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := t.lookupFace("DeleteFaceImage", faceID)
	if err != nil {
		return err
	}
	if f.image == nil {
		return newError(KindFaceImageNotFound, "DeleteFaceImage", "face %d has no image", faceID)
	}
	f.image = nil
	return nil
}

// IDReassignment resolves id to the identity that currently represents
// it: id itself when live, or the identity it was merged into. Stale IDs
// without a reassignment record fail with ErrIDNotFound.
func (t *Tracker) IDReassignment(id ID) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("IDReassignment"); err != nil {
		return 0, err
	}
	if target, ok := t.resolveLocked(id); ok {
		return target, nil
	}
	return 0, newError(KindIDNotFound, "IDReassignment", "identity %d not found", id)
}

// FacePosition returns the last seen bounding box of id.
func (t *Tracker) FacePosition(id ID) (image.Rectangle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("FacePosition", id)
	if err != nil {
		return image.Rectangle{}, err
	}
	if ident.box.Empty() {
		return image.Rectangle{}, newError(KindAttributeNotDetected, "FacePosition", "identity %d not seen in a frame", id)
	}
	return ident.box, nil
}

// FacialFeatures returns the smoothed keypoints of id from its last
// observation.
func (t *Tracker) FacialFeatures(id ID) ([]Point, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("FacialFeatures", id)
	if err != nil {
		return nil, err
	}
	if len(ident.keypoints) == 0 {
		return nil, newError(KindAttributeNotDetected, "FacialFeatures", "no facial features for identity %d", id)
	}
	return slices.Clone(ident.keypoints), nil
}

// Eyes returns the smoothed eye centres of id, right eye first. Engines
// whose keypoints do not start with the eyes locate them through
// EyeLocator.
func (t *Tracker) Eyes(id ID) ([2]Point, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("Eyes", id)
	if err != nil {
		return [2]Point{}, err
	}
	if eyes, ok := locateEyes(t.engine, ident.keypoints); ok {
		return eyes, nil
	}
	return [2]Point{}, newError(KindAttributeNotDetected, "Eyes", "no eye positions for identity %d", id)
}

func locateEyes(e Engine, keypoints []Point) ([2]Point, bool) {
	if len(keypoints) == 0 {
		return [2]Point{}, false
	}
	if l, ok := e.(EyeLocator); ok {
		return l.Eyes(keypoints)
	}
	if len(keypoints) < 2 {
		return [2]Point{}, false
	}
	return [2]Point{keypoints[0], keypoints[1]}, true
}

// IdentityState returns the lifecycle state of id.
func (t *Tracker) IdentityState(id ID) (IdentityState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("IdentityState", id)
	if err != nil {
		return 0, err
	}
	return ident.state, nil
}

func (t *Tracker) resolveLocked(id ID) (ID, bool) {
	for hops := 0; hops <= len(t.reassigned); hops++ {
		if _, ok := t.identity(id); ok {
			return id, true
		}
		next, ok := t.reassigned[id]
		if !ok {
			return 0, false
		}
		id = next
	}
	return 0, false
}

func (t *Tracker) checkTemplate(op string, tmpl Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	if v := tmpl.DetectionVersion(); v != t.params.DetectionVersion {
		return newError(KindInvalidTemplate, op,
			"template built under detection version %d, memory uses %d", v, t.params.DetectionVersion)
	}
	return nil
}

func (t *Tracker) newIdentityLocked() *identity {
	ident := &identity{id: t.nextID}
	t.nextID++
	t.identities.Put(ident.id, ident)
	return ident
}

func (t *Tracker) addFaceLocked(ident *identity, tmpl Template, img image.Image) *face {
	f := &face{
		id:       t.nextFaceID,
		owner:    ident.id,
		template: tmpl.Clone(),
		image:    img,
	}
	t.nextFaceID++
	t.faces.Put(f.id, f)
	ident.faces = append(ident.faces, f.id)
	return f
}

func (t *Tracker) removeFaceLocked(f *face) {
	t.faces.Remove(f.id)
	if ident, ok := t.identity(f.owner); ok {
		if i := slices.Index(ident.faces, f.id); i >= 0 {
			ident.faces = slices.Delete(ident.faces, i, i+1)
		}
	}
}
