package database

import (
	"context"
)

// FaceReader provides read-only access to stored faces
type FaceReader interface {
	// GetFace returns a face with its embedding, or ErrNotFound
	GetFace(ctx context.Context, id int64) (*Face, error)
	// FacesByFile returns all faces extracted from the given file reference
	FacesByFile(ctx context.Context, fileRef string) ([]Face, error)
	// ListFaces returns faces without embeddings, ordered by id
	ListFaces(ctx context.Context, filter FaceFilter) ([]Face, error)
	// CountFaces returns per-state counters
	CountFaces(ctx context.Context) (FaceStats, error)
	// ListClusters returns every cluster with its member face ids
	ListClusters(ctx context.Context) ([]Cluster, error)
}

// FaceWriter provides the write operations driven by intake and by humans
type FaceWriter interface {
	FaceReader

	// AddFace stores a newly extracted face and advances the store revision
	AddFace(ctx context.Context, face NewFace) (int64, error)
	// ConfirmFace records a human assignment, clears any suggestion and
	// advances the store revision. Unknown face or person returns ErrNotFound.
	ConfirmFace(ctx context.Context, faceID, personID int64) error
}

// PersonStore manages confirmed identities
type PersonStore interface {
	// AddPerson creates a person; names are unique ignoring case and diacritics
	AddPerson(ctx context.Context, name string) (*Person, error)
	// GetPerson returns a person by id, or ErrNotFound
	GetPerson(ctx context.Context, id int64) (*Person, error)
	// ListPersons returns all persons except the ignored sentinel
	ListPersons(ctx context.Context) ([]Person, error)
}

// ResolutionStore is the surface a resolution run reads and writes.
// Every write method is a single atomic transaction.
type ResolutionStore interface {
	// Revision returns the current store revision
	Revision(ctx context.Context) (int64, error)
	// UnresolvedFaces returns faces with no confirmed person that were not yet
	// resolved against the given revision, ordered by id
	UnresolvedFaces(ctx context.Context, revision int64) ([]Face, error)
	// ListEmbeddings pages through all stored embeddings by ascending face id
	ListEmbeddings(ctx context.Context, afterID int64, limit int) ([]EmbeddingRecord, error)
	// FaceStates returns the identity state of the given faces; unknown ids are omitted
	FaceStates(ctx context.Context, ids []int64) (map[int64]FaceState, error)

	// SuggestPerson sets the suggestion, drops the face's cluster membership and
	// marks it resolved. Returns false when the face has been confirmed meanwhile.
	SuggestPerson(ctx context.Context, faceID, personID, revision int64) (bool, error)
	// AssignCluster writes memberships for the resolved face and its eligible
	// neighbors, clears the face's own suggestion and marks it resolved.
	// Returns the number of membership rows inserted or changed.
	AssignCluster(ctx context.Context, a ClusterAssignment) (int, error)
	// MergeClusters moves the unconfirmed members of losers into winner
	MergeClusters(ctx context.Context, winner string, losers []string) (int, error)
	// MarkResolved records that the face was resolved against revision with no outcome
	MarkResolved(ctx context.Context, faceID, revision int64) error

	// StartRun and FinishRun maintain the run bookkeeping table
	StartRun(ctx context.Context, revision int64) (int64, error)
	FinishRun(ctx context.Context, run RunRecord) error
}

// RunLocker serialises writers of the face index and the resolution tables
type RunLocker interface {
	// TryLockRun acquires the single-writer lock or returns ErrRunLocked.
	// The returned function releases it.
	TryLockRun(ctx context.Context, holder string) (func(context.Context) error, error)
}

// IdentityStore is the full store implemented by every backend
type IdentityStore interface {
	FaceWriter
	PersonStore
	ResolutionStore
	RunLocker

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	// Close releases the connection pool
	Close() error
}
