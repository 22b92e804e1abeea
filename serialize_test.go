package facetrack

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"
)

// buildMemory returns a tracker with names, links, a reassignment and a
// face image.
func buildMemory(t *testing.T) (*Tracker, []ID) {
	t.Helper()
	tr := newTestTracker(t, nil, WithLockChecking(false))
	if _, err := tr.SetParameters("Threshold=0.72;KeepFaceImages=false;DetectAge=true"); err != nil {
		t.Fatal(err)
	}

	alice, fa, _ := tr.CreateIdentity(NewTemplate(1, person(0)))
	bob, _, _ := tr.CreateIdentity(NewTemplate(1, person(1)))
	carol, _, _ := tr.CreateIdentity(NewTemplate(1, person(2)))
	dup, _, _ := tr.CreateIdentity(NewTemplate(1, lookalike(0, 3, 0.95)))
	tr.AddTemplate(bob, NewTemplate(1, lookalike(1, 4, 0.8)))

	tr.SetName(alice, "Alice")
	tr.SetName(bob, "Bob")

	face := image.NewRGBA(image.Rect(0, 0, 3, 2))
	face.Set(1, 1, color.RGBA{10, 20, 30, 255})
	tr.SetFaceImage(fa, face)

	tr.mu.Lock()
	ia, _ := tr.identity(alice)
	ic, _ := tr.identity(carol)
	id, _ := tr.identity(dup)
	tr.link(ia, ic)
	tr.merge(id, ia)
	tr.mu.Unlock()

	return tr, []ID{alice, bob, carol, dup}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	tr, ids := buildMemory(t)
	alice, bob, carol, dup := ids[0], ids[1], ids[2], ids[3]

	data, err := tr.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	restored, err := Restore(data, nil, WithLockChecking(false))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	gotIDs, _ := restored.AllIDs()
	wantIDs, _ := tr.AllIDs()
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("Expected IDs %v, got %v", wantIDs, gotIDs)
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("Expected IDs %v, got %v", wantIDs, gotIDs)
			break
		}
	}

	for _, id := range []ID{alice, bob} {
		want, _ := tr.Name(id)
		if got, _ := restored.Name(id); got != want {
			t.Errorf("Identity %d: expected name %q, got %q", id, want, got)
		}
		wantFaces, _ := tr.FaceIDs(id)
		gotFaces, _ := restored.FaceIDs(id)
		if len(gotFaces) != len(wantFaces) {
			t.Errorf("Identity %d: expected faces %v, got %v", id, wantFaces, gotFaces)
		}
	}

	if similar, _ := restored.SimilarIDs(alice); len(similar) != 1 || similar[0] != carol {
		t.Errorf("Expected link to %d, got %v", carol, similar)
	}
	if got, err := restored.IDReassignment(dup); err != nil || got != alice {
		t.Errorf("Expected %d reassigned to %d, got %d, %v", dup, alice, got, err)
	}

	if restored.Params().Encode() != tr.Params().Encode() {
		t.Errorf("Parameters differ:\n%s\n%s", tr.Params().Encode(), restored.Params().Encode())
	}

	faces, _ := restored.FaceIDs(alice)
	img, err := restored.FaceImage(faces[0])
	if err != nil {
		t.Fatalf("FaceImage: %v", err)
	}
	if r, g, b, _ := img.At(1, 1).RGBA(); r>>8 != 10 || g>>8 != 20 || b>>8 != 30 {
		t.Errorf("Face image pixel not preserved: %d %d %d", r>>8, g>>8, b>>8)
	}

	matches, _ := restored.MatchAgainst(NewTemplate(1, person(1)), 0.9, 1)
	if len(matches) != 1 || matches[0].ID != bob {
		t.Errorf("Expected restored templates to match %d, got %+v", bob, matches)
	}

	// New identities continue after the restored counter.
	next, _, _ := restored.CreateIdentity(NewTemplate(1, person(5)))
	if next <= dup {
		t.Errorf("Expected a fresh ID above %d, got %d", dup, next)
	}
}

func TestSaveIsDeterministic(t *testing.T) {
	tr, _ := buildMemory(t)
	a, _ := tr.Save()
	b, _ := tr.Save()
	if string(a) != string(b) {
		t.Error("Expected identical output for an unchanged memory")
	}
}

func TestSaveToBuffer(t *testing.T) {
	tr, _ := buildMemory(t)

	size, err := tr.MemoryBufferSize()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tr.SaveToBuffer(make([]byte, size-1)); !errors.Is(err, ErrInsufficientBufferSize) {
		t.Errorf("Expected ErrInsufficientBufferSize, got %v", err)
	}
	buf := make([]byte, size+16)
	n, err := tr.SaveToBuffer(buf)
	if err != nil || n != size {
		t.Fatalf("Expected %d bytes written, got %d, %v", size, n, err)
	}
	if _, err := Restore(buf[:n], nil); err != nil {
		t.Errorf("Restore from buffer: %v", err)
	}
}

func TestRestoreRejects(t *testing.T) {
	tr, _ := buildMemory(t)
	data, _ := tr.Save()

	future, err := memoryEncMode.Marshal(memorySnapshot{FormatVersion: memoryFormatVersion + 1, DetectionVersion: 1})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrBadFormat},
		{"wrong magic", append([]byte("NOTAMEMO"), data[8:]...), ErrBadFormat},
		{"truncated", data[:len(data)/2], ErrBadFormat},
		{"garbage body", append([]byte(memoryMagic), 0xff, 0x00, 0x13), ErrBadFormat},
		{"future format", append([]byte(memoryMagic), future...), ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Restore(tt.data, nil); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSaveRestoreStringParameters(t *testing.T) {
	tr := newTestTracker(t, nil)
	if err := tr.SetParameter("FaceDetectionModel", "models/a;b.onnx"); !errors.Is(err, ErrSyntaxError) {
		t.Errorf("Expected ErrSyntaxError for a value with a separator, got %v", err)
	}
	if err := tr.SetParameter("FaceDetectionModel", "models/a=b c.onnx"); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	tr.CreateIdentity(NewTemplate(1, person(0)))

	data, err := tr.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	restored, err := Restore(data, nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got, _ := restored.ParameterString("FaceDetectionModel"); got != "models/a=b c.onnx" {
		t.Errorf("Expected the model path preserved, got %q", got)
	}
	if ids, _ := restored.AllIDs(); len(ids) != 1 {
		t.Errorf("Expected 1 identity, got %v", ids)
	}
}

func TestNewRejectsUnencodableParams(t *testing.T) {
	p := DefaultParams()
	p.LivenessModel = "a;b"
	if _, err := New(nil, WithParams(p)); !errors.Is(err, ErrSyntaxError) {
		t.Errorf("Expected ErrSyntaxError, got %v", err)
	}
}

func TestRestoreRejectsCorruptRecords(t *testing.T) {
	tr, ids := buildMemory(t)
	alice, dup := ids[0], ids[3]
	data, _ := tr.Save()

	tests := []struct {
		name   string
		mutate func(*memorySnapshot)
	}{
		{"unknown state", func(s *memorySnapshot) { s.Identities[0].State = 7 }},
		{"negative state", func(s *memorySnapshot) { s.Identities[0].State = -1 }},
		{"dangling reassignment", func(s *memorySnapshot) { s.Reassigned[int64(dup)] = s.NextID + 5 }},
		{"live identity reassigned", func(s *memorySnapshot) { s.Reassigned[int64(alice)] = int64(ids[1]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var snap memorySnapshot
			if err := memoryDecMode.Unmarshal(data[len(memoryMagic):], &snap); err != nil {
				t.Fatal(err)
			}
			tt.mutate(&snap)
			body, err := memoryEncMode.Marshal(snap)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := Restore(append([]byte(memoryMagic), body...), nil); !errors.Is(err, ErrBadFormat) {
				t.Errorf("Expected ErrBadFormat, got %v", err)
			}
		})
	}
}

func TestRestoreDetectionVersion(t *testing.T) {
	tr := newTestTracker(t, nil)
	tr.SetParameter("DetectionVersion", "3")
	tr.CreateIdentity(NewTemplate(3, person(0)))
	data, _ := tr.Save()

	if _, err := Restore(data, nil, WithExpectedDetectionVersion(2)); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}

	restored, err := Restore(data, nil, WithExpectedDetectionVersion(3))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.DetectionVersion() != 3 {
		t.Errorf("Expected detection version 3, got %d", restored.DetectionVersion())
	}

	// Without an expectation the mismatch stays detectable.
	e := newFakeEngine()
	lenient, err := Restore(data, e)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := lenient.CheckDetectionVersion(e.DetectionVersion()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected CheckDetectionVersion to report the mismatch, got %v", err)
	}
	if _, err := lenient.FeedFrame(newScene(), 1, 0); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected FeedFrame to refuse the mismatched engine, got %v", err)
	}
}

func TestSaveToFileAndLoad(t *testing.T) {
	tr, ids := buildMemory(t)
	path := filepath.Join(t.TempDir(), "memory.ftm")

	if err := tr.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	restored, err := LoadFromFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if _, err := restored.FaceIDs(ids[1]); err != nil {
		t.Errorf("Expected identity %d after load: %v", ids[1], err)
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.ftm"), nil); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
	if err := tr.SaveToFile(filepath.Join(t.TempDir(), "no", "such", "dir", "m.ftm")); !errors.Is(err, ErrCannotCreateFile) {
		t.Errorf("Expected ErrCannotCreateFile, got %v", err)
	}
}
