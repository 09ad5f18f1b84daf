// Package mock provides an in-memory implementation of database.IdentityStore for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/facematch"
)

// MockIdentityStore keeps faces, persons, memberships and runs in maps.
// It follows the same state rules as the SQL store.
type MockIdentityStore struct {
	mu         sync.RWMutex
	faces      map[int64]*database.Face
	membership map[int64]string
	persons    map[int64]database.Person
	runs       []database.RunRecord
	revision   int64
	nextFace   int64
	nextPerson int64
	lockHolder string

	// Writes counts successful resolution writes (suggest, assign, merge, mark).
	Writes int

	// Error injection
	AddFaceError         error
	ConfirmFaceError     error
	AddPersonError       error
	ListFacesError       error
	UnresolvedFacesError error
	ListEmbeddingsError  error
	FaceStatesError      error
	SuggestPersonError   error
	AssignClusterError   error
	MergeClustersError   error
	MarkResolvedError    error
	StartRunError        error
	FinishRunError       error
	// FaceErrors fails every resolution write that targets the given face.
	FaceErrors map[int64]error
}

var _ database.IdentityStore = (*MockIdentityStore)(nil)

// NewMockIdentityStore creates an empty store holding only the ignored sentinel person.
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		faces:      make(map[int64]*database.Face),
		membership: make(map[int64]string),
		persons: map[int64]database.Person{
			database.SentinelPersonID: {ID: database.SentinelPersonID, Name: database.SentinelPersonName, CreatedAt: time.Now().UTC()},
		},
		revision:   1,
		FaceErrors: make(map[int64]error),
	}
}

func (m *MockIdentityStore) faceError(id int64) error {
	if err := m.FaceErrors[id]; err != nil {
		return fmt.Errorf("face %d: %w", id, err)
	}
	return nil
}

// snapshot returns a copy of the face joined with its membership.
func (m *MockIdentityStore) snapshot(f *database.Face, withEmbedding bool) database.Face {
	out := *f
	out.ClusterID = m.membership[f.ID]
	if withEmbedding {
		out.Embedding = slices.Clone(f.Embedding)
	} else {
		out.Embedding = nil
	}
	return out
}

func (m *MockIdentityStore) sortedFaceIDs() []int64 {
	ids := make([]int64, 0, len(m.faces))
	for id := range m.faces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *MockIdentityStore) state(f *database.Face) database.FaceState {
	return database.FaceState{
		FaceID:            f.ID,
		PersonID:          f.PersonID,
		SuggestedPersonID: f.SuggestedPersonID,
		ClusterID:         m.membership[f.ID],
	}
}

func ptr(v int64) *int64 {
	return &v
}

// GetFace returns a face with its embedding.
func (m *MockIdentityStore) GetFace(ctx context.Context, id int64) (*database.Face, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.faces[id]
	if !ok {
		return nil, fmt.Errorf("face %d: %w", id, database.ErrNotFound)
	}
	out := m.snapshot(f, true)
	return &out, nil
}

// FacesByFile returns faces from one file.
func (m *MockIdentityStore) FacesByFile(ctx context.Context, fileRef string) ([]database.Face, error) {
	return m.ListFaces(ctx, database.FaceFilter{FileRef: fileRef})
}

// ListFaces returns faces without embeddings, ordered by id.
func (m *MockIdentityStore) ListFaces(ctx context.Context, filter database.FaceFilter) ([]database.Face, error) {
	if m.ListFacesError != nil {
		return nil, m.ListFacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Face
	skipped := 0
	for _, id := range m.sortedFaceIDs() {
		f := m.faces[id]
		if filter.FileRef != "" && f.FileRef != filter.FileRef {
			continue
		}
		if filter.Status != "" && m.state(f).Status() != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, m.snapshot(f, false))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// CountFaces returns per-state counters.
func (m *MockIdentityStore) CountFaces(ctx context.Context) (database.FaceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := database.FaceStats{Total: len(m.faces), Persons: len(m.persons) - 1, Revision: m.revision}
	for _, f := range m.faces {
		switch m.state(f).Status() {
		case database.StatusConfirmed:
			if *f.PersonID == database.SentinelPersonID {
				st.Ignored++
			} else {
				st.Confirmed++
			}
		case database.StatusSuggested:
			st.Suggested++
		case database.StatusClustered:
			st.Clustered++
		default:
			st.Unresolved++
		}
	}
	clusters := map[string]struct{}{}
	for _, c := range m.membership {
		clusters[c] = struct{}{}
	}
	st.Clusters = len(clusters)
	return st, nil
}

// ListClusters returns clusters ordered by id with sorted members.
func (m *MockIdentityStore) ListClusters(ctx context.Context) ([]database.Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := map[string][]int64{}
	for faceID, c := range m.membership {
		byID[c] = append(byID[c], faceID)
	}
	var out []database.Cluster
	for id, members := range byID {
		slices.Sort(members)
		out = append(out, database.Cluster{ID: id, FaceIDs: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddFace stores a face and advances the revision.
func (m *MockIdentityStore) AddFace(ctx context.Context, face database.NewFace) (int64, error) {
	if m.AddFaceError != nil {
		return 0, m.AddFaceError
	}
	if len(face.Embedding) == 0 {
		return 0, fmt.Errorf("%w: face embedding is empty", database.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextFace++
	m.faces[m.nextFace] = &database.Face{
		ID:         m.nextFace,
		FileRef:    face.FileRef,
		Embedding:  slices.Clone(face.Embedding),
		Confidence: face.Confidence,
		BBox:       face.BBox,
		CreatedAt:  time.Now().UTC(),
	}
	m.revision++
	return m.nextFace, nil
}

// ConfirmFace records a human assignment.
func (m *MockIdentityStore) ConfirmFace(ctx context.Context, faceID, personID int64) error {
	if m.ConfirmFaceError != nil {
		return m.ConfirmFaceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.persons[personID]; !ok {
		return fmt.Errorf("person %d: %w", personID, database.ErrNotFound)
	}
	f, ok := m.faces[faceID]
	if !ok {
		return fmt.Errorf("face %d: %w", faceID, database.ErrNotFound)
	}
	f.PersonID = ptr(personID)
	f.SuggestedPersonID = nil
	m.revision++
	return nil
}

// AddPerson creates a person with a unique normalized name.
func (m *MockIdentityStore) AddPerson(ctx context.Context, name string) (*database.Person, error) {
	if m.AddPersonError != nil {
		return nil, m.AddPersonError
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: person name is required", database.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := facematch.PersonNameKey(name)
	for _, p := range m.persons {
		if facematch.PersonNameKey(p.Name) == key {
			return nil, fmt.Errorf("%q: %w", name, database.ErrPersonExists)
		}
	}
	m.nextPerson++
	p := database.Person{ID: m.nextPerson, Name: name, CreatedAt: time.Now().UTC()}
	m.persons[p.ID] = p
	return &p, nil
}

// GetPerson returns a person by id.
func (m *MockIdentityStore) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	if !ok {
		return nil, fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	return &p, nil
}

// ListPersons returns persons except the sentinel, by normalized name.
func (m *MockIdentityStore) ListPersons(ctx context.Context) ([]database.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []database.Person{}
	for id, p := range m.persons {
		if id != database.SentinelPersonID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := facematch.PersonNameKey(out[i].Name), facematch.PersonNameKey(out[j].Name)
		if ki != kj {
			return ki < kj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Revision returns the current revision.
func (m *MockIdentityStore) Revision(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision, nil
}

// UnresolvedFaces returns unconfirmed faces not resolved against revision.
func (m *MockIdentityStore) UnresolvedFaces(ctx context.Context, revision int64) ([]database.Face, error) {
	if m.UnresolvedFacesError != nil {
		return nil, m.UnresolvedFacesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.Face
	for _, id := range m.sortedFaceIDs() {
		f := m.faces[id]
		if f.PersonID != nil {
			continue
		}
		if f.ResolvedRevision != nil && *f.ResolvedRevision >= revision {
			continue
		}
		out = append(out, m.snapshot(f, true))
	}
	return out, nil
}

// ListEmbeddings pages through embeddings by ascending id.
func (m *MockIdentityStore) ListEmbeddings(ctx context.Context, afterID int64, limit int) ([]database.EmbeddingRecord, error) {
	if m.ListEmbeddingsError != nil {
		return nil, m.ListEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.EmbeddingRecord
	for _, id := range m.sortedFaceIDs() {
		if id <= afterID {
			continue
		}
		out = append(out, database.EmbeddingRecord{FaceID: id, Embedding: slices.Clone(m.faces[id].Embedding)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FaceStates returns states for known ids.
func (m *MockIdentityStore) FaceStates(ctx context.Context, ids []int64) (map[int64]database.FaceState, error) {
	if m.FaceStatesError != nil {
		return nil, m.FaceStatesError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int64]database.FaceState, len(ids))
	for _, id := range ids {
		if f, ok := m.faces[id]; ok {
			out[id] = m.state(f)
		}
	}
	return out, nil
}

// SuggestPerson sets a suggestion and drops the membership.
func (m *MockIdentityStore) SuggestPerson(ctx context.Context, faceID, personID, revision int64) (bool, error) {
	if m.SuggestPersonError != nil {
		return false, m.SuggestPersonError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faceError(faceID); err != nil {
		return false, err
	}
	f, ok := m.faces[faceID]
	if !ok || f.PersonID != nil {
		return false, nil
	}
	f.SuggestedPersonID = ptr(personID)
	f.ResolvedRevision = ptr(revision)
	delete(m.membership, faceID)
	m.Writes++
	return true, nil
}

// AssignCluster writes memberships for the face and its eligible neighbors.
func (m *MockIdentityStore) AssignCluster(ctx context.Context, a database.ClusterAssignment) (int, error) {
	if m.AssignClusterError != nil {
		return 0, m.AssignClusterError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faceError(a.FaceID); err != nil {
		return 0, err
	}
	self, ok := m.faces[a.FaceID]
	if !ok || self.PersonID != nil {
		return 0, nil
	}
	self.SuggestedPersonID = nil
	self.ResolvedRevision = ptr(a.Revision)

	written := 0
	seen := map[int64]bool{}
	for _, id := range append([]int64{a.FaceID}, a.Members...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := m.faces[id]
		if !ok || f.PersonID != nil || m.membership[id] == a.ClusterID {
			continue
		}
		if id != a.FaceID && f.SuggestedPersonID != nil {
			continue
		}
		m.membership[id] = a.ClusterID
		written++
	}
	m.Writes++
	return written, nil
}

// MergeClusters moves unconfirmed members of losers into winner.
func (m *MockIdentityStore) MergeClusters(ctx context.Context, winner string, losers []string) (int, error) {
	if m.MergeClustersError != nil {
		return 0, m.MergeClustersError
	}
	if len(losers) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := 0
	for faceID, c := range m.membership {
		if !slices.Contains(losers, c) || m.faces[faceID].PersonID != nil {
			continue
		}
		m.membership[faceID] = winner
		moved++
	}
	m.Writes++
	return moved, nil
}

// MarkResolved records a resolution with no outcome.
func (m *MockIdentityStore) MarkResolved(ctx context.Context, faceID, revision int64) error {
	if m.MarkResolvedError != nil {
		return m.MarkResolvedError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.faceError(faceID); err != nil {
		return err
	}
	if f, ok := m.faces[faceID]; ok && f.PersonID == nil {
		f.ResolvedRevision = ptr(revision)
		m.Writes++
	}
	return nil
}

// StartRun appends a running record.
func (m *MockIdentityStore) StartRun(ctx context.Context, revision int64) (int64, error) {
	if m.StartRunError != nil {
		return 0, m.StartRunError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := int64(len(m.runs) + 1)
	m.runs = append(m.runs, database.RunRecord{
		ID:        id,
		Revision:  revision,
		StartedAt: time.Now().UTC(),
		Status:    database.RunRunning,
	})
	return id, nil
}

// FinishRun replaces the counters of a run.
func (m *MockIdentityStore) FinishRun(ctx context.Context, run database.RunRecord) error {
	if m.FinishRunError != nil {
		return m.FinishRunError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID < 1 || run.ID > int64(len(m.runs)) {
		return fmt.Errorf("run %d: %w", run.ID, database.ErrNotFound)
	}
	prev := m.runs[run.ID-1]
	run.Revision = prev.Revision
	run.StartedAt = prev.StartedAt
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	m.runs[run.ID-1] = run
	return nil
}

// ListRuns returns the most recent runs first.
func (m *MockIdentityStore) ListRuns(ctx context.Context, limit int) ([]database.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []database.RunRecord{}
	for i := len(m.runs) - 1; i >= 0; i-- {
		out = append(out, m.runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// TryLockRun takes an in-process run lock.
func (m *MockIdentityStore) TryLockRun(ctx context.Context, holder string) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lockHolder != "" {
		return nil, fmt.Errorf("held by %q: %w", m.lockHolder, database.ErrRunLocked)
	}
	m.lockHolder = holder
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.lockHolder = ""
		return nil
	}, nil
}

// Close is a no-op.
func (m *MockIdentityStore) Close() error {
	return nil
}
