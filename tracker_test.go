package facetrack

import (
	"errors"
	"testing"
)

func TestNewTakesEngineDetectionVersion(t *testing.T) {
	e := newFakeEngine()
	e.version = 4
	tr := newTestTracker(t, e)

	if tr.DetectionVersion() != 4 {
		t.Errorf("Expected detection version 4, got %d", tr.DetectionVersion())
	}
	if err := tr.CheckDetectionVersion(4); err != nil {
		t.Errorf("CheckDetectionVersion: %v", err)
	}
	if err := tr.CheckDetectionVersion(1); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}
	if tr.Engine() != Engine(e) {
		t.Error("Expected Engine to return the engine")
	}
}

func TestNewRejectsBadDetectionVersion(t *testing.T) {
	p := DefaultParams()
	p.DetectionVersion = 0
	if _, err := New(nil, WithParams(p)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestTrackerParameters(t *testing.T) {
	tr := newTestTracker(t, newFakeEngine())

	if err := tr.SetParameter("Threshold", "0.7"); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	if s, _ := tr.ParameterString("threshold"); s != "0.7" {
		t.Errorf("Expected 0.7, got %q", s)
	}

	offset, err := tr.SetParameters("Threshold=0.8;BadKey=1")
	if offset != 14 || !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("Expected ErrParameterNotFound at 14, got %d, %v", offset, err)
	}
	if tr.Params().Threshold != 0.8 {
		t.Errorf("Expected Threshold applied before the bad key, got %v", tr.Params().Threshold)
	}

	offset, err = tr.SetParameters("Learning=false;KeepFaceImages=false")
	if err != nil || offset != AllParametersSet {
		t.Errorf("Expected AllParametersSet, got %d, %v", offset, err)
	}
	if v, _ := tr.Parameter("Learning"); v.Bool {
		t.Error("Expected Learning=false")
	}

	if _, err := tr.Parameter("Nope"); !errors.Is(err, ErrParameterNotFound) {
		t.Errorf("Expected ErrParameterNotFound, got %v", err)
	}
}

func TestDetectionVersionLockedByFaces(t *testing.T) {
	tr := newTestTracker(t, nil)

	if err := tr.SetParameter("DetectionVersion", "2"); err != nil {
		t.Fatalf("Expected version change on an empty memory to succeed: %v", err)
	}
	if _, _, err := tr.CreateIdentity(NewTemplate(2, person(0))); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetParameter("DetectionVersion", "3"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument once faces exist, got %v", err)
	}
	if err := tr.SetParameter("DetectionVersion", "2"); err != nil {
		t.Errorf("Expected setting the same version to succeed: %v", err)
	}
}

func TestClearResetsEverything(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.SetParameter("Threshold", "0.5")
	id, _, err := tr.CreateIdentity(NewTemplate(1, person(0)))
	if err != nil {
		t.Fatal(err)
	}

	if err := tr.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	ids, _ := tr.AllIDs()
	if len(ids) != 0 {
		t.Errorf("Expected empty memory, got %v", ids)
	}
	if tr.Params().Threshold != 0.8 {
		t.Errorf("Expected default threshold after Clear, got %v", tr.Params().Threshold)
	}
	if _, err := tr.FaceIDs(id); !errors.Is(err, ErrIDNotFound) {
		t.Errorf("Expected ErrIDNotFound, got %v", err)
	}

	// IDs restart after Clear.
	again, _, _ := tr.CreateIdentity(NewTemplate(1, person(1)))
	if again != 1 {
		t.Errorf("Expected first ID 1 after Clear, got %d", again)
	}
}

func TestClosedTracker(t *testing.T) {
	tr := newTestTracker(t, newFakeEngine())
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	checks := map[string]error{}
	_, checks["AllIDs"] = tr.AllIDs()
	_, checks["FeedFrame"] = tr.FeedFrame(newScene(), 1, 0)
	_, checks["Save"] = tr.Save()
	_, checks["Parameter"] = tr.Parameter("Threshold")
	checks["Clear"] = tr.Clear()
	checks["Close"] = tr.Close()

	for op, err := range checks {
		if !errors.Is(err, ErrNotInitialized) {
			t.Errorf("%s: expected ErrNotInitialized, got %v", op, err)
		}
	}
}

func TestInstanceIDSurvivesRestore(t *testing.T) {
	tr := newTestTracker(t, nil)
	data, err := tr.Save()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := Restore(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	if restored.InstanceID() != tr.InstanceID() {
		t.Errorf("Expected instance ID %v, got %v", tr.InstanceID(), restored.InstanceID())
	}
}
