package facetrack

import (
	"errors"
	"image"
)

// StoredImage is an image kept alive by a Registry.
type StoredImage struct {
	Image image.Image
}

type (
	TrackerHandle = Handle[Tracker]
	ImageHandle   = Handle[StoredImage]
)

// Registry hands out numeric handles for trackers and images so that
// bridges (HTTP, CLI scripts) can refer to them across calls.
type Registry struct {
	trackers Arena[Tracker]
	images   Arena[StoredImage]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddTracker registers t and returns its handle.
func (r *Registry) AddTracker(t *Tracker) (TrackerHandle, error) {
	if t == nil {
		return Invalid[Tracker](), newError(KindInvalidArgument, "AddTracker", "nil tracker")
	}
	return r.trackers.Insert(t), nil
}

// Tracker returns the tracker behind h.
func (r *Registry) Tracker(h TrackerHandle) (*Tracker, error) {
	return r.trackers.Get(h)
}

// FreeTracker closes and unregisters the tracker behind h. The handle is
// stale afterwards.
func (r *Registry) FreeTracker(h TrackerHandle) error {
	t, err := r.trackers.Remove(h)
	if err != nil {
		return err
	}
	return t.Close()
}

// Trackers returns the handles of every registered tracker.
func (r *Registry) Trackers() []TrackerHandle {
	var hs []TrackerHandle
	r.trackers.Each(func(h TrackerHandle, _ *Tracker) bool {
		hs = append(hs, h)
		return true
	})
	return hs
}

// AddImage registers img and returns its handle.
func (r *Registry) AddImage(img image.Image) (ImageHandle, error) {
	if err := checkImage("AddImage", img); err != nil {
		return Invalid[StoredImage](), err
	}
	return r.images.Insert(&StoredImage{Image: img}), nil
}

// Image returns the image behind h.
func (r *Registry) Image(h ImageHandle) (image.Image, error) {
	s, err := r.images.Get(h)
	if err != nil {
		return nil, err
	}
	return s.Image, nil
}

// FreeImage unregisters the image behind h.
func (r *Registry) FreeImage(h ImageHandle) error {
	_, err := r.images.Remove(h)
	return err
}

// Close frees every tracker and image.
func (r *Registry) Close() error {
	var errs []error
	for _, h := range r.Trackers() {
		if err := r.FreeTracker(h); err != nil {
			errs = append(errs, err)
		}
	}
	r.images.Each(func(h ImageHandle, _ *StoredImage) bool {
		r.images.Remove(h)
		return true
	})
	return errors.Join(errs...)
}
