// Package storetest holds the behaviour tests shared by every IdentityStore
// backend. Backend packages call Run from their own _test.go files.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, migrated store. It must register its own cleanup.
type Factory func(t *testing.T) database.IdentityStore

// Run executes the conformance suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s database.IdentityStore)
	}{
		{"Persons", testPersons},
		{"PersonNamesFoldOnlyCase", testPersonNamesFoldOnlyCase},
		{"AddFace", testAddFace},
		{"ConfirmFace", testConfirmFace},
		{"UnresolvedFaces", testUnresolvedFaces},
		{"SuggestPerson", testSuggestPerson},
		{"AssignCluster", testAssignCluster},
		{"MergeClusters", testMergeClusters},
		{"FaceStates", testFaceStates},
		{"ListFacesAndCounts", testListFacesAndCounts},
		{"ListEmbeddings", testListEmbeddings},
		{"Runs", testRuns},
		{"RunLock", testRunLock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func vec(x float32) []float32 {
	return []float32{x, x + 0.5, -x, 1}
}

func addFace(t *testing.T, s database.IdentityStore, file string, x float32) int64 {
	t.Helper()
	id, err := s.AddFace(context.Background(), database.NewFace{
		FileRef:    file,
		Embedding:  vec(x),
		Confidence: 0.9,
		BBox:       database.BBox{Left: 10, Top: 20, Width: 30, Height: 40},
	})
	require.NoError(t, err)
	require.Positive(t, id)
	return id
}

func addPerson(t *testing.T, s database.IdentityStore, name string) int64 {
	t.Helper()
	p, err := s.AddPerson(context.Background(), name)
	require.NoError(t, err)
	return p.ID
}

func state(t *testing.T, s database.IdentityStore, id int64) database.FaceState {
	t.Helper()
	states, err := s.FaceStates(context.Background(), []int64{id})
	require.NoError(t, err)
	st, ok := states[id]
	require.True(t, ok, "face %d has no state", id)
	return st
}

func revision(t *testing.T, s database.IdentityStore) int64 {
	t.Helper()
	rev, err := s.Revision(context.Background())
	require.NoError(t, err)
	return rev
}

func testPersons(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()

	jan, err := s.AddPerson(ctx, "  Jan Novák ")
	require.NoError(t, err)
	assert.Equal(t, "Jan Novák", jan.Name)
	assert.NotEqual(t, database.SentinelPersonID, jan.ID)

	_, err = s.AddPerson(ctx, "JAN NOVÁK")
	assert.ErrorIs(t, err, database.ErrPersonExists)

	_, err = s.AddPerson(ctx, "   ")
	assert.ErrorIs(t, err, database.ErrInvalidArgument)

	addPerson(t, s, "Alena Dvořáková")

	persons, err := s.ListPersons(ctx)
	require.NoError(t, err)
	require.Len(t, persons, 2)
	assert.Equal(t, "Alena Dvořáková", persons[0].Name)
	assert.Equal(t, "Jan Novák", persons[1].Name)

	ignored, err := s.GetPerson(ctx, database.SentinelPersonID)
	require.NoError(t, err)
	assert.Equal(t, database.SentinelPersonName, ignored.Name)

	_, err = s.GetPerson(ctx, 987654)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func testPersonNamesFoldOnlyCase(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()

	addPerson(t, s, "Jiří")
	addPerson(t, s, "Jiri")
	addPerson(t, s, "Anna-Marie")
	addPerson(t, s, "Anna Marie")
	addPerson(t, s, "Bob")

	_, err := s.AddPerson(ctx, "BOB")
	assert.ErrorIs(t, err, database.ErrPersonExists)
	_, err = s.AddPerson(ctx, "jiří")
	assert.ErrorIs(t, err, database.ErrPersonExists)

	persons, err := s.ListPersons(ctx)
	require.NoError(t, err)
	assert.Len(t, persons, 5)
}

func testAddFace(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	before := revision(t, s)

	id := addFace(t, s, "photos/a.jpg", 1)
	assert.Equal(t, before+1, revision(t, s))

	face, err := s.GetFace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "photos/a.jpg", face.FileRef)
	assert.Equal(t, vec(1), face.Embedding)
	assert.InDelta(t, 0.9, face.Confidence, 1e-9)
	assert.Equal(t, database.BBox{Left: 10, Top: 20, Width: 30, Height: 40}, face.BBox)
	assert.Equal(t, database.StatusUnresolved, face.Status())
	assert.Nil(t, face.ResolvedRevision)

	_, err = s.AddFace(ctx, database.NewFace{FileRef: "photos/b.jpg"})
	assert.ErrorIs(t, err, database.ErrInvalidArgument)

	_, err = s.GetFace(ctx, id+1000)
	assert.ErrorIs(t, err, database.ErrNotFound)

	byFile, err := s.FacesByFile(ctx, "photos/a.jpg")
	require.NoError(t, err)
	require.Len(t, byFile, 1)
	assert.Equal(t, id, byFile[0].ID)
}

func testConfirmFace(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	face := addFace(t, s, "a.jpg", 1)
	jan := addPerson(t, s, "Jan")

	ok, err := s.SuggestPerson(ctx, face, jan, revision(t, s))
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, s.ConfirmFace(ctx, face, 424242), database.ErrNotFound)
	assert.ErrorIs(t, s.ConfirmFace(ctx, face+1000, jan), database.ErrNotFound)

	before := revision(t, s)
	require.NoError(t, s.ConfirmFace(ctx, face, jan))
	assert.Equal(t, before+1, revision(t, s))

	st := state(t, s, face)
	assert.Equal(t, database.StatusConfirmed, st.Status())
	require.NotNil(t, st.PersonID)
	assert.Equal(t, jan, *st.PersonID)
	assert.Nil(t, st.SuggestedPersonID)

	// Confirming again with the same person is not an error.
	require.NoError(t, s.ConfirmFace(ctx, face, jan))
}

func testUnresolvedFaces(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	f1 := addFace(t, s, "a.jpg", 1)
	f2 := addFace(t, s, "a.jpg", 2)
	f3 := addFace(t, s, "b.jpg", 3)
	rev := revision(t, s)

	faces, err := s.UnresolvedFaces(ctx, rev)
	require.NoError(t, err)
	assert.Equal(t, []int64{f1, f2, f3}, faceIDs(faces))
	assert.Equal(t, vec(2), faces[1].Embedding)

	require.NoError(t, s.MarkResolved(ctx, f1, rev))
	faces, err = s.UnresolvedFaces(ctx, rev)
	require.NoError(t, err)
	assert.Equal(t, []int64{f2, f3}, faceIDs(faces))

	p := addPerson(t, s, "Jan")
	require.NoError(t, s.ConfirmFace(ctx, f2, p))
	rev = revision(t, s)

	// A newer revision brings resolved faces back; confirmed ones never return.
	faces, err = s.UnresolvedFaces(ctx, rev)
	require.NoError(t, err)
	assert.Equal(t, []int64{f1, f3}, faceIDs(faces))
}

func testSuggestPerson(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	f1 := addFace(t, s, "a.jpg", 1)
	f2 := addFace(t, s, "a.jpg", 2)
	f3 := addFace(t, s, "a.jpg", 3)
	p := addPerson(t, s, "Jan")
	rev := revision(t, s)

	_, err := s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c1", FaceID: f1, Members: []int64{f2}, Revision: rev})
	require.NoError(t, err)

	ok, err := s.SuggestPerson(ctx, f1, p, rev)
	require.NoError(t, err)
	assert.True(t, ok)

	st := state(t, s, f1)
	assert.Equal(t, database.StatusSuggested, st.Status())
	assert.Empty(t, st.ClusterID)
	assert.Equal(t, "c1", state(t, s, f2).ClusterID)

	face, err := s.GetFace(ctx, f1)
	require.NoError(t, err)
	require.NotNil(t, face.ResolvedRevision)
	assert.Equal(t, rev, *face.ResolvedRevision)

	require.NoError(t, s.ConfirmFace(ctx, f3, p))
	ok, err = s.SuggestPerson(ctx, f3, p, revision(t, s))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, state(t, s, f3).SuggestedPersonID)
}

func testAssignCluster(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	f1 := addFace(t, s, "a.jpg", 1)
	f2 := addFace(t, s, "a.jpg", 2)
	confirmed := addFace(t, s, "a.jpg", 3)
	suggested := addFace(t, s, "a.jpg", 4)
	p := addPerson(t, s, "Jan")
	require.NoError(t, s.ConfirmFace(ctx, confirmed, p))
	rev := revision(t, s)
	_, err := s.SuggestPerson(ctx, suggested, p, rev)
	require.NoError(t, err)

	a := database.ClusterAssignment{
		ClusterID: "c1",
		FaceID:    f1,
		Members:   []int64{f2, confirmed, suggested, f2},
		Revision:  rev,
	}
	written, err := s.AssignCluster(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	assert.Equal(t, "c1", state(t, s, f1).ClusterID)
	assert.Equal(t, database.StatusClustered, state(t, s, f2).Status())
	assert.Empty(t, state(t, s, confirmed).ClusterID)
	assert.Equal(t, database.StatusSuggested, state(t, s, suggested).Status())

	written, err = s.AssignCluster(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, written)

	// The resolved face itself drops its suggestion.
	written, err = s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c1", FaceID: suggested, Revision: rev})
	require.NoError(t, err)
	assert.Equal(t, 1, written)
	st := state(t, s, suggested)
	assert.Nil(t, st.SuggestedPersonID)
	assert.Equal(t, "c1", st.ClusterID)

	written, err = s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c2", FaceID: confirmed, Members: []int64{f1}, Revision: rev})
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.Equal(t, "c1", state(t, s, f1).ClusterID)
}

func testMergeClusters(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	f1 := addFace(t, s, "a.jpg", 1)
	f2 := addFace(t, s, "a.jpg", 2)
	f3 := addFace(t, s, "a.jpg", 3)
	rev := revision(t, s)

	_, err := s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c1", FaceID: f1, Members: []int64{f2}, Revision: rev})
	require.NoError(t, err)
	_, err = s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c2", FaceID: f3, Revision: rev})
	require.NoError(t, err)

	p := addPerson(t, s, "Jan")
	require.NoError(t, s.ConfirmFace(ctx, f2, p))

	moved, err := s.MergeClusters(ctx, "c0", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	assert.Equal(t, "c0", state(t, s, f1).ClusterID)
	assert.Equal(t, "c0", state(t, s, f3).ClusterID)
	assert.Equal(t, "c1", state(t, s, f2).ClusterID, "confirmed faces keep their membership")

	moved, err = s.MergeClusters(ctx, "c0", nil)
	require.NoError(t, err)
	assert.Zero(t, moved)

	clusters, err := s.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, database.Cluster{ID: "c0", FaceIDs: []int64{f1, f3}}, clusters[0])
	assert.Equal(t, database.Cluster{ID: "c1", FaceIDs: []int64{f2}}, clusters[1])
}

func testFaceStates(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	f1 := addFace(t, s, "a.jpg", 1)

	states, err := s.FaceStates(ctx, []int64{f1, f1 + 500})
	require.NoError(t, err)
	assert.Len(t, states, 1)
	assert.Equal(t, database.FaceState{FaceID: f1}, states[f1])

	states, err = s.FaceStates(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, states)
}

func testListFacesAndCounts(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	unresolved := addFace(t, s, "a.jpg", 1)
	clustered := addFace(t, s, "a.jpg", 2)
	suggested := addFace(t, s, "b.jpg", 3)
	confirmed := addFace(t, s, "b.jpg", 4)
	ignored := addFace(t, s, "c.jpg", 5)
	p := addPerson(t, s, "Jan")
	rev := revision(t, s)

	_, err := s.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c1", FaceID: clustered, Revision: rev})
	require.NoError(t, err)
	_, err = s.SuggestPerson(ctx, suggested, p, rev)
	require.NoError(t, err)
	require.NoError(t, s.ConfirmFace(ctx, confirmed, p))
	require.NoError(t, s.ConfirmFace(ctx, ignored, database.SentinelPersonID))

	tests := []struct {
		status database.FaceStatus
		want   []int64
	}{
		{"", []int64{unresolved, clustered, suggested, confirmed, ignored}},
		{database.StatusUnresolved, []int64{unresolved}},
		{database.StatusClustered, []int64{clustered}},
		{database.StatusSuggested, []int64{suggested}},
		{database.StatusConfirmed, []int64{confirmed, ignored}},
	}
	for _, tt := range tests {
		faces, err := s.ListFaces(ctx, database.FaceFilter{Status: tt.status})
		require.NoError(t, err)
		assert.Equal(t, tt.want, faceIDs(faces), "status %q", tt.status)
	}

	page, err := s.ListFaces(ctx, database.FaceFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{clustered, suggested}, faceIDs(page))

	byFile, err := s.ListFaces(ctx, database.FaceFilter{FileRef: "b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []int64{suggested, confirmed}, faceIDs(byFile))

	stats, err := s.CountFaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.FaceStats{
		Total:      5,
		Unresolved: 1,
		Suggested:  1,
		Clustered:  1,
		Confirmed:  1,
		Ignored:    1,
		Clusters:   1,
		Persons:    1,
		Revision:   revision(t, s),
	}, stats)
}

func testListEmbeddings(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()
	var ids []int64
	for i := range 5 {
		ids = append(ids, addFace(t, s, "a.jpg", float32(i)))
	}

	var got []int64
	after := int64(0)
	for {
		page, err := s.ListEmbeddings(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 2)
		for _, rec := range page {
			got = append(got, rec.FaceID)
			assert.Len(t, rec.Embedding, 4)
		}
		after = page[len(page)-1].FaceID
	}
	assert.Equal(t, ids, got)
}

func testRuns(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()

	first, err := s.StartRun(ctx, 3)
	require.NoError(t, err)
	second, err := s.StartRun(ctx, 4)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	require.NoError(t, s.FinishRun(ctx, database.RunRecord{
		ID:          first,
		Status:      database.RunCompleted,
		Considered:  10,
		Suggested:   4,
		Clustered:   3,
		NewClusters: 2,
		Merged:      1,
		Unresolved:  2,
		Failed:      1,
	}))

	err = s.FinishRun(ctx, database.RunRecord{ID: second + 100, Status: database.RunFailed})
	assert.ErrorIs(t, err, database.ErrNotFound)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, database.RunRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	done := runs[1]
	assert.Equal(t, int64(3), done.Revision)
	assert.Equal(t, database.RunCompleted, done.Status)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 10, done.Considered)
	assert.Equal(t, 4, done.Suggested)
	assert.Equal(t, 3, done.Clustered)
	assert.Equal(t, 2, done.NewClusters)
	assert.Equal(t, 1, done.Merged)
	assert.Equal(t, 2, done.Unresolved)
	assert.Equal(t, 1, done.Failed)

	limited, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func testRunLock(t *testing.T, s database.IdentityStore) {
	ctx := context.Background()

	release, err := s.TryLockRun(ctx, "first")
	require.NoError(t, err)

	_, err = s.TryLockRun(ctx, "second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrRunLocked), "unexpected error: %v", err)

	require.NoError(t, release(ctx))

	release, err = s.TryLockRun(ctx, "third")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func faceIDs(faces []database.Face) []int64 {
	ids := make([]int64, 0, len(faces))
	for _, f := range faces {
		ids = append(ids, f.ID)
	}
	return ids
}
