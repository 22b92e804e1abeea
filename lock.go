package facetrack

import (
	"golang.org/x/exp/slices"
)

// Lock marks id as held by the caller. While held, FeedFrame does not merge
// the identity away or rewrite its name and similar-ID list. Locks nest and
// must be paired with Unlock.
func (t *Tracker) Lock(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("Lock", id)
	if err != nil {
		return err
	}
	ident.locks++
	return nil
}

// Unlock releases one Lock of id.
func (t *Tracker) Unlock(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("Unlock", id)
	if err != nil {
		return err
	}
	if ident.locks == 0 {
		return newError(KindNotLocked, "Unlock", "identity %d is not locked", id)
	}
	ident.locks--
	return nil
}

// IsLocked reports whether id is currently held.
func (t *Tracker) IsLocked(id ID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lookupIdentity("IsLocked", id)
	if err != nil {
		return false, err
	}
	return ident.locks > 0, nil
}

func (t *Tracker) lockedIdentity(op string, id ID) (*identity, error) {
	ident, err := t.lookupIdentity(op, id)
	if err != nil {
		return nil, err
	}
	if t.lockChecking && ident.locks == 0 {
		return nil, newError(KindNotLocked, op, "identity %d must be locked first", id)
	}
	return ident, nil
}

// Name returns the name of id. The identity must be locked.
func (t *Tracker) Name(id ID) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lockedIdentity("Name", id)
	if err != nil {
		return "", err
	}
	return ident.name, nil
}

// SetName names id. The identity must be locked.
func (t *Tracker) SetName(id ID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lockedIdentity("SetName", id)
	if err != nil {
		return err
	}
	ident.name = name
	t.logger.Debug("identity named", "id", id, "name", name)
	return nil
}

// AllNames returns the name of id followed by the distinct names of its
// similar identities. Empty names are skipped. The identity must be locked.
func (t *Tracker) AllNames(id ID) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lockedIdentity("AllNames", id)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, 1+len(ident.similar))
	add := func(n string) {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	add(ident.name)
	for _, sid := range ident.similar {
		if other, ok := t.identity(sid); ok {
			add(other.name)
		}
	}
	return names, nil
}

// SimilarIDCount returns how many identities are recorded as possibly the
// same person as id. The identity must be locked.
func (t *Tracker) SimilarIDCount(id ID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lockedIdentity("SimilarIDCount", id)
	if err != nil {
		return 0, err
	}
	return len(ident.similar), nil
}

// SimilarIDs returns the identities recorded as possibly the same person
// as id, in ascending order. The identity must be locked.
func (t *Tracker) SimilarIDs(id ID) ([]ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ident, err := t.lockedIdentity("SimilarIDs", id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(ident.similar), nil
}

// Purge deletes everything stored for id: faces, images, name, links and
// tracking state. Purging an ID that was merged away only drops its
// reassignment record.
func (t *Tracker) Purge(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("Purge"); err != nil {
		return err
	}
	ident, ok := t.identity(id)
	if !ok {
		if _, merged := t.reassigned[id]; merged {
			delete(t.reassigned, id)
			return nil
		}
		return newError(KindIDNotFound, "Purge", "identity %d not found", id)
	}

	for _, fid := range ident.faces {
		t.faces.Remove(fid)
	}
	t.identities.Remove(id)
	t.eachIdentity(func(other *identity) {
		other.similar = removeID(other.similar, id)
	})
	for from, into := range t.reassigned {
		if into == id {
			delete(t.reassigned, from)
		}
	}
	for _, st := range t.streams {
		st.dropIdentity(id)
	}
	t.logger.Info("identity purged", "id", id, "faces", len(ident.faces))
	return nil
}

// link records a and b as possibly the same person.
func (t *Tracker) link(a, b *identity) {
	if a.id == b.id {
		return
	}
	a.similar = insertID(a.similar, b.id)
	b.similar = insertID(b.similar, a.id)
}

// merge folds from into into and records the reassignment.
func (t *Tracker) merge(from, into *identity) {
	for _, fid := range from.faces {
		if f, ok := t.face(fid); ok {
			f.owner = into.id
		}
	}
	into.faces = append(into.faces, from.faces...)
	if into.name == "" {
		into.name = from.name
	}
	for _, sid := range from.similar {
		if sid != into.id {
			into.similar = insertID(into.similar, sid)
		}
	}
	into.similar = removeID(into.similar, from.id)
	into.hits += from.hits
	if from.state == StateConfirmed {
		into.state = StateConfirmed
	}

	t.identities.Remove(from.id)
	t.eachIdentity(func(other *identity) {
		if slices.Contains(other.similar, from.id) {
			other.similar = removeID(other.similar, from.id)
			if other.id != into.id {
				other.similar = insertID(other.similar, into.id)
			}
		}
	})

	for old, target := range t.reassigned {
		if target == from.id {
			if t.params.PurgeIDReassignment {
				delete(t.reassigned, old)
			} else {
				t.reassigned[old] = into.id
			}
		}
	}
	if !t.params.PurgeIDReassignment {
		t.reassigned[from.id] = into.id
	}
	for _, st := range t.streams {
		st.renameIdentity(from.id, into.id)
	}
	t.logger.Info("identities merged", "from", from.id, "into", into.id)
}

func insertID(ids []ID, id ID) []ID {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func removeID(ids []ID, id ID) []ID {
	if i, found := slices.BinarySearch(ids, id); found {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}
