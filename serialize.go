package facetrack

import (
	"bytes"
	"errors"
	"image/png"
	"io/fs"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

const (
	memoryMagic         = "FTMEMORY"
	memoryFormatVersion = 1
)

type memorySnapshot struct {
	FormatVersion    int              `cbor:"1,keyasint"`
	DetectionVersion int              `cbor:"2,keyasint"`
	InstanceID       []byte           `cbor:"3,keyasint"`
	NextID           int64            `cbor:"4,keyasint"`
	NextFaceID       int64            `cbor:"5,keyasint"`
	Params           string           `cbor:"6,keyasint"`
	Identities       []identityRecord `cbor:"7,keyasint"`
	Faces            []faceRecord     `cbor:"8,keyasint"`
	Reassigned       map[int64]int64  `cbor:"9,keyasint"`
}

type identityRecord struct {
	ID      int64   `cbor:"1,keyasint"`
	Name    string  `cbor:"2,keyasint,omitempty"`
	Faces   []int64 `cbor:"3,keyasint"`
	Similar []int64 `cbor:"4,keyasint,omitempty"`
	State   int     `cbor:"5,keyasint"`
	Hits    int     `cbor:"6,keyasint"`
}

type faceRecord struct {
	ID       int64  `cbor:"1,keyasint"`
	Owner    int64  `cbor:"2,keyasint"`
	Template []byte `cbor:"3,keyasint"`
	Image    []byte `cbor:"4,keyasint,omitempty"`
}

var (
	memoryEncMode = func() cbor.EncMode {
		em, err := cbor.CoreDetEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		return em
	}()
	memoryDecMode = func() cbor.DecMode {
		dm, err := cbor.DecOptions{MaxArrayElements: 1 << 24, MaxMapPairs: 1 << 24}.DecMode()
		if err != nil {
			panic(err)
		}
		return dm
	}()
)

// Save serializes the tracker memory: identities, faces, names, links,
// reassignments, parameters and the detection version tag. Tracking state
// of the streams is not saved.
func (t *Tracker) Save() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("Save"); err != nil {
		return nil, err
	}
	return t.saveLocked()
}

// MemoryBufferSize returns the number of bytes SaveToBuffer needs.
func (t *Tracker) MemoryBufferSize() (int, error) {
	data, err := t.Save()
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// SaveToBuffer serializes into buf and returns the bytes written. It fails
// with ErrInsufficientBufferSize when buf is shorter than MemoryBufferSize.
func (t *Tracker) SaveToBuffer(buf []byte) (int, error) {
	data, err := t.Save()
	if err != nil {
		return 0, err
	}
	if len(buf) < len(data) {
		return 0, newError(KindInsufficientBufferSize, "SaveToBuffer", "need %d bytes, have %d", len(data), len(buf))
	}
	return copy(buf, data), nil
}

// SaveToFile writes the serialized memory to path.
func (t *Tracker) SaveToFile(path string) error {
	data, err := t.Save()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return wrapError(KindCannotCreateFile, "SaveToFile", err)
	}
	return nil
}

func (t *Tracker) saveLocked() ([]byte, error) {
	snap := memorySnapshot{
		FormatVersion:    memoryFormatVersion,
		DetectionVersion: t.params.DetectionVersion,
		InstanceID:       t.instanceID[:],
		NextID:           int64(t.nextID),
		NextFaceID:       int64(t.nextFaceID),
		Params:           t.params.Encode(),
		Reassigned:       make(map[int64]int64, len(t.reassigned)),
	}
	t.eachIdentity(func(ident *identity) {
		rec := identityRecord{
			ID:    int64(ident.id),
			Name:  ident.name,
			Faces: make([]int64, len(ident.faces)),
			State: int(ident.state),
			Hits:  ident.hits,
		}
		for i, fid := range ident.faces {
			rec.Faces[i] = int64(fid)
		}
		for _, sid := range ident.similar {
			rec.Similar = append(rec.Similar, int64(sid))
		}
		snap.Identities = append(snap.Identities, rec)
	})

	it := t.faces.Iterator()
	for it.Next() {
		f := it.Value().(*face)
		rec := faceRecord{ID: int64(f.id), Owner: int64(f.owner), Template: f.template}
		if f.image != nil {
			var buf bytes.Buffer
			if err := png.Encode(&buf, f.image); err != nil {
				return nil, wrapError(KindFailed, "Save", err)
			}
			rec.Image = buf.Bytes()
		}
		snap.Faces = append(snap.Faces, rec)
	}
	for from, into := range t.reassigned {
		snap.Reassigned[int64(from)] = int64(into)
	}

	body, err := memoryEncMode.Marshal(snap)
	if err != nil {
		return nil, wrapError(KindFailed, "Save", err)
	}
	return append([]byte(memoryMagic), body...), nil
}

// Restore rebuilds a tracker from Save output. Corrupt or truncated data
// fails with ErrBadFormat and data from an unknown format revision with
// ErrUnsupportedVersion. With WithExpectedDetectionVersion a detection
// version mismatch also fails with ErrUnsupportedVersion.
func Restore(data []byte, engine Engine, opts ...Option) (*Tracker, error) {
	if !bytes.HasPrefix(data, []byte(memoryMagic)) {
		return nil, newError(KindBadFormat, "Restore", "missing tracker memory header")
	}
	var snap memorySnapshot
	if err := memoryDecMode.Unmarshal(data[len(memoryMagic):], &snap); err != nil {
		return nil, wrapError(KindBadFormat, "Restore", err)
	}
	if snap.FormatVersion != memoryFormatVersion {
		return nil, newError(KindUnsupportedVersion, "Restore", "memory format version %d not supported", snap.FormatVersion)
	}

	t, err := New(engine, opts...)
	if err != nil {
		return nil, err
	}
	if t.expected != 0 && t.expected != snap.DetectionVersion {
		return nil, newError(KindUnsupportedVersion, "Restore",
			"memory uses detection version %d, expected %d", snap.DetectionVersion, t.expected)
	}
	if err := t.load(&snap); err != nil {
		return nil, err
	}
	if engine != nil && engine.DetectionVersion() != snap.DetectionVersion {
		t.logger.Warn("restored memory does not match engine detection version",
			"memory", snap.DetectionVersion, "engine", engine.DetectionVersion())
	}
	t.logger.Info("tracker memory restored", "identities", len(snap.Identities), "faces", len(snap.Faces))
	return t, nil
}

// LoadFromFile restores a tracker from a file written by SaveToFile.
func LoadFromFile(path string, engine Engine, opts ...Option) (*Tracker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, wrapError(KindFileNotFound, "LoadFromFile", err)
		}
		return nil, wrapError(KindIOError, "LoadFromFile", err)
	}
	return Restore(data, engine, opts...)
}

func (t *Tracker) load(snap *memorySnapshot) error {
	bad := func(format string, args ...any) error {
		return newError(KindBadFormat, "Restore", format, args...)
	}

	params := DefaultParams()
	if _, err := params.Apply(snap.Params); err != nil {
		return wrapError(KindBadFormat, "Restore", err)
	}
	if params.DetectionVersion != snap.DetectionVersion {
		return bad("parameters carry detection version %d, header %d", params.DetectionVersion, snap.DetectionVersion)
	}
	params.VideoFeedDiscontinuity = false
	params.DeleteCameras = nil
	if id, err := uuid.FromBytes(snap.InstanceID); err == nil {
		t.instanceID = id
	}
	t.defaults.DetectionVersion = snap.DetectionVersion
	t.params = params

	for _, rec := range snap.Identities {
		if rec.ID <= 0 || rec.ID >= snap.NextID {
			return bad("identity %d outside allocated range", rec.ID)
		}
		if _, dup := t.identity(ID(rec.ID)); dup {
			return bad("duplicate identity %d", rec.ID)
		}
		if st := IdentityState(rec.State); st != StateTentative && st != StateConfirmed {
			return bad("identity %d has unknown state %d", rec.ID, rec.State)
		}
		ident := &identity{
			id:    ID(rec.ID),
			name:  rec.Name,
			state: IdentityState(rec.State),
			hits:  rec.Hits,
		}
		for _, sid := range rec.Similar {
			ident.similar = insertID(ident.similar, ID(sid))
		}
		t.identities.Put(ident.id, ident)
	}

	for _, rec := range snap.Faces {
		if rec.ID <= 0 || rec.ID >= snap.NextFaceID {
			return bad("face %d outside allocated range", rec.ID)
		}
		if _, ok := t.identity(ID(rec.Owner)); !ok {
			return bad("face %d owned by unknown identity %d", rec.ID, rec.Owner)
		}
		tmpl := Template(rec.Template)
		if err := tmpl.Validate(); err != nil {
			return wrapError(KindBadFormat, "Restore", err)
		}
		f := &face{id: FaceID(rec.ID), owner: ID(rec.Owner), template: tmpl}
		if len(rec.Image) > 0 {
			img, err := png.Decode(bytes.NewReader(rec.Image))
			if err != nil {
				return wrapError(KindBadFormat, "Restore", err)
			}
			f.image = img
		}
		t.faces.Put(f.id, f)
	}

	for _, rec := range snap.Identities {
		ident, _ := t.identity(ID(rec.ID))
		for _, fid := range rec.Faces {
			f, ok := t.face(FaceID(fid))
			if !ok || f.owner != ident.id {
				return bad("identity %d lists foreign face %d", rec.ID, fid)
			}
			ident.faces = append(ident.faces, f.id)
		}
		ident.similar = slices.DeleteFunc(ident.similar, func(sid ID) bool {
			_, ok := t.identity(sid)
			return !ok
		})
	}

	for from, into := range snap.Reassigned {
		if _, live := t.identity(ID(from)); live {
			return bad("live identity %d recorded as reassigned", from)
		}
		_, live := t.identity(ID(into))
		_, chained := snap.Reassigned[into]
		if !live && !chained {
			return bad("identity %d reassigned to unknown identity %d", from, into)
		}
		t.reassigned[ID(from)] = ID(into)
	}
	t.nextID = ID(snap.NextID)
	t.nextFaceID = FaceID(snap.NextFaceID)
	return nil
}
