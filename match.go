package facetrack

import (
	"github.com/emirpasic/gods/trees/binaryheap"
	"golang.org/x/exp/slices"
)

// Match is one ranked MatchAgainst result.
type Match struct {
	ID         ID      `json:"id"`
	Similarity float64 `json:"similarity"`
}

// ranks a before b when it is more similar, or equally similar with a
// smaller ID.
func betterMatch(a, b Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.ID < b.ID
}

// MatchAgainst ranks identities by their best similarity to tmpl. Only
// identities scoring at least threshold are returned, best first, at most
// maxResults of them.
func (t *Tracker) MatchAgainst(tmpl Template, threshold float64, maxResults int) ([]Match, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkOpen("MatchAgainst"); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		return nil, newError(KindInvalidArgument, "MatchAgainst", "maxResults must be positive, got %d", maxResults)
	}
	if err := t.checkTemplate("MatchAgainst", tmpl); err != nil {
		return nil, err
	}
	return t.matchLocked(tmpl, threshold, maxResults, nil)
}

// matchLocked keeps the best maxResults candidates in a heap whose root is
// the worst kept match.
func (t *Tracker) matchLocked(tmpl Template, threshold float64, maxResults int, exclude map[ID]bool) ([]Match, error) {
	heap := binaryheap.NewWith(func(a, b interface{}) int {
		x, y := a.(Match), b.(Match)
		switch {
		case betterMatch(y, x):
			return -1
		case betterMatch(x, y):
			return 1
		}
		return 0
	})

	var firstErr error
	t.eachIdentity(func(ident *identity) {
		if firstErr != nil || exclude[ident.id] || len(ident.faces) == 0 {
			return
		}
		best, err := t.bestSimilarityLocked(ident, tmpl)
		if err != nil {
			firstErr = err
			return
		}
		if best < threshold {
			return
		}
		heap.Push(Match{ID: ident.id, Similarity: best})
		if heap.Size() > maxResults {
			heap.Pop()
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	matches := make([]Match, 0, heap.Size())
	for _, v := range heap.Values() {
		matches = append(matches, v.(Match))
	}
	slices.SortFunc(matches, func(a, b Match) int {
		switch {
		case betterMatch(a, b):
			return -1
		case betterMatch(b, a):
			return 1
		}
		return 0
	})
	return matches, nil
}

func (t *Tracker) bestSimilarityLocked(ident *identity, tmpl Template) (float64, error) {
	best := -1.0
	for _, fid := range ident.faces {
		f, ok := t.face(fid)
		if !ok {
			continue
		}
		s, err := t.similarity(tmpl, f.template)
		if err != nil {
			return 0, err
		}
		if s > best {
			best = s
		}
	}
	return best, nil
}

func (t *Tracker) similarity(a, b Template) (float64, error) {
	if t.engine == nil {
		return TemplateSimilarity(a, b)
	}
	s, err := t.engine.Similarity(a, b)
	if err != nil {
		return 0, engineError("similarity", err)
	}
	return s, nil
}
