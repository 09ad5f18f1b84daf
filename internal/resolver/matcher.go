package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/kozaktomas/face-resolver/internal/database"
)

// Searcher is the read side of the embedding index.
type Searcher interface {
	Search(query []float32, k int) ([]database.Neighbor, error)
}

// StateReader looks up the identity state of faces.
type StateReader interface {
	FaceStates(ctx context.Context, ids []int64) (map[int64]database.FaceState, error)
}

// Candidate is a retained neighbor together with the person it votes for.
type Candidate struct {
	FaceID   int64   `json:"face_id"`
	Distance float64 `json:"distance"`
	PersonID *int64  `json:"person_id,omitempty"`
}

// Match is an accepted vote.
type Match struct {
	PersonID   int64   `json:"person_id"`
	Votes      int     `json:"votes"`
	Candidates int     `json:"candidates"`
	Distance   float64 `json:"distance"` // best distance among the winner's candidates
}

// Matcher proposes a confirmed person for a face from its nearest neighbors.
// It never writes; the caller persists the decision.
type Matcher struct {
	index Searcher
	store StateReader
	opts  Options
}

// NewMatcher creates a matcher over an index and the store's confirmed persons.
func NewMatcher(index Searcher, store StateReader, opts Options) *Matcher {
	return &Matcher{index: index, store: store, opts: opts}
}

// Neighbors returns the K nearest index entries of a face, itself excluded.
func (m *Matcher) Neighbors(faceID int64, vec []float32) ([]database.Neighbor, error) {
	found, err := m.index.Search(vec, m.opts.KNearest)
	if err != nil {
		return nil, fmt.Errorf("searching neighbors of face %d: %w", faceID, err)
	}
	return excludeSelf(faceID, found), nil
}

// Decide filters the neighbors, looks up who they were confirmed as, and
// votes. It returns nil when no person wins the vote.
func (m *Matcher) Decide(ctx context.Context, neighbors []database.Neighbor) (*Match, []Candidate, error) {
	kept := relativeCandidates(neighbors, m.opts.RelativeSlack, m.opts.MaxCandidates)
	if len(kept) == 0 {
		return nil, nil, nil
	}

	states, err := m.store.FaceStates(ctx, neighborIDs(kept))
	if err != nil {
		return nil, nil, fmt.Errorf("reading candidate persons: %w", err)
	}

	candidates := make([]Candidate, len(kept))
	for i, n := range kept {
		candidates[i] = Candidate{FaceID: n.FaceID, Distance: n.Distance}
		if person, ok := states[n.FaceID].VotingPerson(); ok {
			candidates[i].PersonID = &person
		}
	}

	match, ok := Vote(candidates)
	if !ok {
		return nil, candidates, nil
	}
	return &match, candidates, nil
}

// Vote counts candidates per person. The person with the most votes wins;
// ties go to the smaller best distance, then the smaller person id. The
// winner is accepted when it holds at least half of the candidates.
func Vote(candidates []Candidate) (Match, bool) {
	type tally struct {
		votes int
		best  float64
	}
	tallies := map[int64]*tally{}
	for _, c := range candidates {
		if c.PersonID == nil {
			continue
		}
		t, ok := tallies[*c.PersonID]
		if !ok {
			t = &tally{best: c.Distance}
			tallies[*c.PersonID] = t
		}
		t.votes++
		t.best = min(t.best, c.Distance)
	}
	if len(tallies) == 0 {
		return Match{}, false
	}

	persons := make([]int64, 0, len(tallies))
	for id := range tallies {
		persons = append(persons, id)
	}
	sort.Slice(persons, func(i, j int) bool {
		a, b := tallies[persons[i]], tallies[persons[j]]
		if a.votes != b.votes {
			return a.votes > b.votes
		}
		if a.best != b.best {
			return a.best < b.best
		}
		return persons[i] < persons[j]
	})

	winner := persons[0]
	t := tallies[winner]
	n := len(candidates)
	if 2*t.votes < n {
		return Match{}, false
	}
	return Match{PersonID: winner, Votes: t.votes, Candidates: n, Distance: t.best}, true
}
