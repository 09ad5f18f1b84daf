package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kozaktomas/face-resolver/internal/constants"
	"github.com/kozaktomas/face-resolver/internal/database"
)

// FacesHandler handles face listing and human confirmation
type FacesHandler struct {
	store database.IdentityStore
	stats *StatsHandler
}

// NewFacesHandler creates a new faces handler
func NewFacesHandler(store database.IdentityStore, stats *StatsHandler) *FacesHandler {
	return &FacesHandler{store: store, stats: stats}
}

// FaceResponse represents a face in API responses
type FaceResponse struct {
	ID                int64               `json:"id"`
	File              string              `json:"file"`
	Confidence        float64             `json:"confidence"`
	BBox              database.BBox       `json:"bbox"`
	Status            database.FaceStatus `json:"status"`
	PersonID          *int64              `json:"person_id,omitempty"`
	SuggestedPersonID *int64              `json:"suggested_person_id,omitempty"`
	ClusterID         string              `json:"cluster_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

func toFaceResponse(f *database.Face) FaceResponse {
	return FaceResponse{
		ID:                f.ID,
		File:              f.FileRef,
		Confidence:        f.Confidence,
		BBox:              f.BBox,
		Status:            f.Status(),
		PersonID:          f.PersonID,
		SuggestedPersonID: f.SuggestedPersonID,
		ClusterID:         f.ClusterID,
		CreatedAt:         f.CreatedAt,
	}
}

// FaceListResponse is a page of faces
type FaceListResponse struct {
	Faces  []FaceResponse `json:"faces"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// List returns faces filtered by state
func (h *FacesHandler) List(w http.ResponseWriter, r *http.Request) {
	status, ok := database.ParseFaceStatus(r.URL.Query().Get("state"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid state")
		return
	}
	limit, ok := queryInt(r, "limit", constants.DefaultPageSize)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	if limit == 0 || limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}

	faces, err := h.store.ListFaces(r.Context(), database.FaceFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondStoreError(w, r, "list faces", err)
		return
	}

	resp := FaceListResponse{Faces: make([]FaceResponse, len(faces)), Limit: limit, Offset: offset}
	for i := range faces {
		resp.Faces[i] = toFaceResponse(&faces[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns a single face
func (h *FacesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	face, err := h.store.GetFace(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, "get face", err)
		return
	}
	respondJSON(w, http.StatusOK, toFaceResponse(face))
}

// ConfirmRequest is the body of a confirmation
type ConfirmRequest struct {
	PersonID *int64 `json:"person_id"`
}

// Confirm assigns a face to a person. Person 0 marks the face as ignored.
func (h *FacesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid face id")
		return
	}

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.PersonID == nil || *req.PersonID < 0 {
		respondError(w, http.StatusBadRequest, "person_id is required")
		return
	}

	if err := h.store.ConfirmFace(r.Context(), id, *req.PersonID); err != nil {
		respondStoreError(w, r, "confirm face", err)
		return
	}
	h.stats.InvalidateCache()

	face, err := h.store.GetFace(r.Context(), id)
	if err != nil {
		respondStoreError(w, r, "get face", err)
		return
	}
	respondJSON(w, http.StatusOK, toFaceResponse(face))
}
