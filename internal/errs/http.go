// internal/errs/http.go
package errs

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPStatus maps a taxonomy error to the response code the route layer
// should emit.
func HTTPStatus(err error) int {
	var (
		ve *ValidationError
		nf *NotFoundError
		ib *InsufficientBalanceError
		ce *ConflictError
		de *DependencyError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.As(err, &ib):
		return http.StatusUnprocessableEntity
	case errors.As(err, &de):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP renders err as a JSON error body with the mapped status.
func WriteHTTP(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
