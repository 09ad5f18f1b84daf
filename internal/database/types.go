package database

import (
	"time"
)

// SentinelPersonID is the reserved person meaning "ignored". Faces confirmed
// as this person never act as match evidence.
const SentinelPersonID int64 = 0

// SentinelPersonName is the display name seeded for SentinelPersonID.
const SentinelPersonName = "Ignored"

// FaceStatus is the effective resolution state of a face.
type FaceStatus string

const (
	StatusUnresolved FaceStatus = "unresolved"
	StatusSuggested  FaceStatus = "suggested"
	StatusClustered  FaceStatus = "clustered"
	StatusConfirmed  FaceStatus = "confirmed"
)

// ParseFaceStatus validates a status name coming from a flag or query string.
// The empty string means "any status".
func ParseFaceStatus(s string) (FaceStatus, bool) {
	switch FaceStatus(s) {
	case "", StatusUnresolved, StatusSuggested, StatusClustered, StatusConfirmed:
		return FaceStatus(s), true
	}
	return "", false
}

// BBox is a face bounding box in pixel coordinates of the source file.
type BBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Corners returns the box as [x1, y1, x2, y2].
func (b BBox) Corners() []float64 {
	return []float64{
		float64(b.Left),
		float64(b.Top),
		float64(b.Left + b.Width),
		float64(b.Top + b.Height),
	}
}

// Face is a detected face as stored in the identity store.
type Face struct {
	ID         int64
	FileRef    string
	Embedding  []float32
	Confidence float64
	BBox       BBox
	CreatedAt  time.Time

	PersonID          *int64 // confirmed by a human
	SuggestedPersonID *int64 // proposed by a resolution run
	ClusterID         string // empty when the face has no membership
	ResolvedRevision  *int64 // store revision the face was last resolved against
}

// Status derives the effective state from the stored columns.
func (f *Face) Status() FaceStatus {
	return FaceState{
		FaceID:            f.ID,
		PersonID:          f.PersonID,
		SuggestedPersonID: f.SuggestedPersonID,
		ClusterID:         f.ClusterID,
	}.Status()
}

// NewFace holds the input for AddFace.
type NewFace struct {
	FileRef    string
	Embedding  []float32
	Confidence float64
	BBox       BBox
}

// FaceState is the identity-related slice of a face used by resolution decisions.
type FaceState struct {
	FaceID            int64
	PersonID          *int64
	SuggestedPersonID *int64
	ClusterID         string
}

// Confirmed reports whether a human assigned the face to a person.
func (s FaceState) Confirmed() bool {
	return s.PersonID != nil
}

// Status derives the effective state.
func (s FaceState) Status() FaceStatus {
	switch {
	case s.PersonID != nil:
		return StatusConfirmed
	case s.SuggestedPersonID != nil:
		return StatusSuggested
	case s.ClusterID != "":
		return StatusClustered
	default:
		return StatusUnresolved
	}
}

// VotingPerson returns the person the face votes for during matching.
// Unconfirmed faces and faces confirmed as ignored do not vote.
func (s FaceState) VotingPerson() (int64, bool) {
	if s.PersonID == nil || *s.PersonID == SentinelPersonID {
		return 0, false
	}
	return *s.PersonID, true
}

// EmbeddingRecord pairs a face id with its embedding for index rebuilds.
type EmbeddingRecord struct {
	FaceID    int64
	Embedding []float32
}

// Person is a confirmed identity.
type Person struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ClusterAssignment describes one membership write produced by the cluster assigner.
// FaceID is the face being resolved; Members are its within-threshold neighbors.
type ClusterAssignment struct {
	ClusterID string
	FaceID    int64
	Members   []int64
	Revision  int64
}

// Cluster lists the faces sharing a cluster id.
type Cluster struct {
	ID      string  `json:"id"`
	FaceIDs []int64 `json:"face_ids"`
}

// FaceFilter narrows ListFaces.
type FaceFilter struct {
	Status  FaceStatus
	FileRef string
	Limit   int
	Offset  int
}

// FaceStats counts faces per effective state.
type FaceStats struct {
	Total      int   `json:"total"`
	Unresolved int   `json:"unresolved"`
	Suggested  int   `json:"suggested"`
	Clustered  int   `json:"clustered"`
	Confirmed  int   `json:"confirmed"`
	Ignored    int   `json:"ignored"`
	Clusters   int   `json:"clusters"`
	Persons    int   `json:"persons"`
	Revision   int64 `json:"revision"`
}

// RunStatus is the terminal state of a resolution run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the bookkeeping row written for each resolution run.
type RunRecord struct {
	ID          int64      `json:"id"`
	Revision    int64      `json:"revision"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Status      RunStatus  `json:"status"`
	Considered  int        `json:"considered"`
	Suggested   int        `json:"suggested"`
	Clustered   int        `json:"clustered"`
	NewClusters int        `json:"new_clusters"`
	Merged      int        `json:"merged"`
	Unresolved  int        `json:"unresolved"`
	Failed      int        `json:"failed"`
}
