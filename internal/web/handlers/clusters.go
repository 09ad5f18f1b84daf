package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-resolver/internal/constants"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// ClustersHandler exposes clusters and run history
type ClustersHandler struct {
	store database.IdentityStore
}

// NewClustersHandler creates a new clusters handler
func NewClustersHandler(store database.IdentityStore) *ClustersHandler {
	return &ClustersHandler{store: store}
}

// ClusterListResponse lists clusters
type ClusterListResponse struct {
	Clusters []database.Cluster `json:"clusters"`
	Count    int                `json:"count"`
}

// List returns every cluster with its member faces
func (h *ClustersHandler) List(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.store.ListClusters(r.Context())
	if err != nil {
		respondStoreError(w, r, "list clusters", err)
		return
	}
	if clusters == nil {
		clusters = []database.Cluster{}
	}
	respondJSON(w, http.StatusOK, ClusterListResponse{Clusters: clusters, Count: len(clusters)})
}

// Runs returns the most recent resolution runs
func (h *ClustersHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", constants.DefaultRunListLimit)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondStoreError(w, r, "list runs", err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}
