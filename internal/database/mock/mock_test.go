package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/database/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.IdentityStore {
		return NewMockIdentityStore()
	})
}

func TestFaceErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMockIdentityStore()
	id, err := m.AddFace(ctx, database.NewFace{FileRef: "a.jpg", Embedding: []float32{1, 2}})
	require.NoError(t, err)

	boom := errors.New("boom")
	m.FaceErrors[id] = boom

	_, err = m.SuggestPerson(ctx, id, 0, 1)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.MarkResolved(ctx, id, 1), boom)
	_, err = m.AssignCluster(ctx, database.ClusterAssignment{ClusterID: "c", FaceID: id, Revision: 1})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, m.Writes)
}
