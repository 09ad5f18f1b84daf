package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-resolver/internal/database"
)

const statsCacheTTL = 30 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get() (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	store database.IdentityStore
	cache statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(store database.IdentityStore) *StatsHandler {
	return &StatsHandler{store: store}
}

// InvalidateCache clears the cached stats so the next request reads fresh counters
func (h *StatsHandler) InvalidateCache() {
	if h == nil {
		return
	}
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	Faces   database.FaceStats  `json:"faces"`
	LastRun *database.RunRecord `json:"last_run,omitempty"`
}

// Get returns face counters and the latest run
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	faces, err := h.store.CountFaces(r.Context())
	if err != nil {
		respondStoreError(w, r, "count faces", err)
		return
	}
	runs, err := h.store.ListRuns(r.Context(), 1)
	if err != nil {
		respondStoreError(w, r, "list runs", err)
		return
	}

	stats := &StatsResponse{Faces: faces}
	if len(runs) > 0 {
		stats.LastRun = &runs[0]
	}

	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
