package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kozaktomas/face-resolver/internal/database"
	"github.com/kozaktomas/face-resolver/internal/facematch"
)

// PersonsHandler handles confirmed identities
type PersonsHandler struct {
	store database.PersonStore
	stats *StatsHandler
}

// NewPersonsHandler creates a new persons handler
func NewPersonsHandler(store database.PersonStore, stats *StatsHandler) *PersonsHandler {
	return &PersonsHandler{store: store, stats: stats}
}

// List returns all persons, optionally filtered by the q query parameter
// (accent and case insensitive substring match).
func (h *PersonsHandler) List(w http.ResponseWriter, r *http.Request) {
	persons, err := h.store.ListPersons(r.Context())
	if err != nil {
		respondStoreError(w, r, "list persons", err)
		return
	}

	if q := r.URL.Query().Get("q"); q != "" {
		filtered := make([]database.Person, 0, len(persons))
		for _, p := range persons {
			if facematch.MatchesPersonName(p.Name, q) {
				filtered = append(filtered, p)
			}
		}
		persons = filtered
	}
	respondJSON(w, http.StatusOK, persons)
}

// CreatePersonRequest is the body of person creation
type CreatePersonRequest struct {
	Name string `json:"name"`
}

// Create adds a person
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	person, err := h.store.AddPerson(r.Context(), req.Name)
	if err != nil {
		respondStoreError(w, r, "add person", err)
		return
	}
	h.stats.InvalidateCache()
	respondJSON(w, http.StatusCreated, person)
}
