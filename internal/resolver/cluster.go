package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// ClusterStore is the part of the identity store the assigner writes through.
type ClusterStore interface {
	StateReader
	AssignCluster(ctx context.Context, a database.ClusterAssignment) (int, error)
	MergeClusters(ctx context.Context, winner string, losers []string) (int, error)
}

// ClusterOutcome describes a membership write.
type ClusterOutcome struct {
	ClusterID string   `json:"cluster_id"`
	Minted    bool     `json:"minted"`
	Merged    []string `json:"merged,omitempty"`
	Members   []int64  `json:"members"`
	Written   int      `json:"written"`
}

// Assigner groups unmatched faces with their close neighbors.
type Assigner struct {
	store     ClusterStore
	threshold float64
	newID     func() (string, error)
	logger    *slog.Logger
}

// NewAssigner creates an assigner minting UUIDv7 cluster ids, so the lowest
// id of a merge is also the earliest minted.
func NewAssigner(store ClusterStore, opts Options, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		store:     store,
		threshold: opts.ClusterThreshold,
		newID:     newClusterID,
		logger:    logger,
	}
}

func newClusterID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("minting cluster id: %w", err)
	}
	return id.String(), nil
}

// Assign places faceID and its neighbors within the cluster threshold into
// one cluster. neighbors must already exclude the face itself. It returns nil
// when no neighbor is close enough.
//
// Joining several existing clusters merges them into the lowest id. That
// touches faces outside the group, so without exclusive access Assign
// returns database.ErrAmbiguousCluster before writing anything.
func (a *Assigner) Assign(ctx context.Context, faceID int64, neighbors []database.Neighbor, revision int64, exclusive bool) (*ClusterOutcome, error) {
	group := withinThreshold(neighbors, a.threshold)
	if len(group) == 0 {
		return nil, nil
	}
	members := neighborIDs(group)

	states, err := a.store.FaceStates(ctx, append([]int64{faceID}, members...))
	if err != nil {
		return nil, fmt.Errorf("reading group clusters: %w", err)
	}

	existing := existingClusters(states)
	out := &ClusterOutcome{Members: members}

	switch len(existing) {
	case 0:
		id, err := a.newID()
		if err != nil {
			return nil, err
		}
		out.ClusterID = id
		out.Minted = true
	case 1:
		out.ClusterID = existing[0]
	default:
		if !exclusive {
			return nil, fmt.Errorf("face %d touches clusters %v: %w", faceID, existing, database.ErrAmbiguousCluster)
		}
		out.ClusterID = existing[0]
		out.Merged = existing[1:]
		moved, err := a.store.MergeClusters(ctx, out.ClusterID, out.Merged)
		if err != nil {
			return nil, fmt.Errorf("merging clusters into %s: %w", out.ClusterID, err)
		}
		a.logger.InfoContext(ctx, "clusters merged",
			"face_id", faceID,
			"winner", out.ClusterID,
			"losers", out.Merged,
			"moved", moved,
		)
	}

	out.Written, err = a.store.AssignCluster(ctx, database.ClusterAssignment{
		ClusterID: out.ClusterID,
		FaceID:    faceID,
		Members:   members,
		Revision:  revision,
	})
	if err != nil {
		return nil, fmt.Errorf("assigning cluster %s: %w", out.ClusterID, err)
	}
	return out, nil
}

// existingClusters returns the distinct cluster ids held by unconfirmed
// faces of the group, lowest first. Confirmed faces keep whatever membership
// they had but no longer steer clustering.
func existingClusters(states map[int64]database.FaceState) []string {
	seen := map[string]bool{}
	var ids []string
	for _, st := range states {
		if st.ClusterID == "" || st.Confirmed() || seen[st.ClusterID] {
			continue
		}
		seen[st.ClusterID] = true
		ids = append(ids, st.ClusterID)
	}
	sort.Strings(ids)
	return ids
}
