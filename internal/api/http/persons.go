package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	trailerrors "github.com/trailmap/trailmap/internal/errors"
	"github.com/trailmap/trailmap/internal/identity"
)

// CreatePersonRequest represents a person creation request.
type CreatePersonRequest struct {
	TeamID      int64    `json:"team_id"`
	DistinctIDs []string `json:"distinct_ids"`
}

// PersonsHandler handles the person admin endpoints: creation and soft
// deletion. Deletion is what drives cache invalidation downstream.
type PersonsHandler struct {
	store *identity.SQLiteIdentityStore
}

// NewPersonsHandler creates a new persons handler.
func NewPersonsHandler(store *identity.SQLiteIdentityStore) *PersonsHandler {
	return &PersonsHandler{store: store}
}

// Create handles POST /api/person/.
func (h *PersonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req CreatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), "", requestID)
		return
	}
	if req.TeamID < 1 {
		writeError(w, http.StatusBadRequest, "team_id is required", "", requestID)
		return
	}
	if len(req.DistinctIDs) == 0 {
		writeError(w, http.StatusBadRequest, "distinct_ids must not be empty", "", requestID)
		return
	}

	person, err := h.store.CreatePerson(r.Context(), req.TeamID, req.DistinctIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), trailerrors.GetCode(err), requestID)
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

// Delete handles DELETE /api/person/{id}. Deleting an already deleted
// person is a no-op success.
func (h *PersonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "person id must be an integer", "", requestID)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if trailerrors.GetCode(err) == trailerrors.CodePersonNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), trailerrors.GetCode(err), requestID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
