package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/browseragent/taskqueue/internal/apperrors"
)

// errorBody is the structured 400/404/500 body shape used across every
// handler, grounded on apperrors.Error's Op/Kind/Message fields.
type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	switch {
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
		kind = "not_found"
	case apperrors.IsValidation(err):
		status = http.StatusBadRequest
		kind = "validation"
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: "validation"})
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: msg, Kind: "not_found"})
}
