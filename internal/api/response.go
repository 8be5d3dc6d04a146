package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ilisteam/ilis/internal/model"
)

// pathID parses the {id} path segment.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("error encoding response: %v", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// domainError maps domain errors to client-facing status codes: 404 for
// missing entities, 403 for requesting one's own item, 422 for business-rule
// violations. Everything else is an internal error.
func domainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrStorageNotFound),
		errors.Is(err, model.ErrItemNotFound),
		errors.Is(err, model.ErrRequestNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrRequestOnOwnItem):
		jsonError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, model.ErrRequestDurationTooShort),
		errors.Is(err, model.ErrRequestIntervalConflict),
		errors.Is(err, model.ErrIllegalStatusTransition),
		errors.Is(err, model.ErrDeletionNotAllowed):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
