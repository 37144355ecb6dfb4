package httptransport

import (
	"encoding/json"
	"net/http"

	"fiscalhub/pkg/fiscalerrors"
)

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses. Every
// handler funnels failures through here so clients see one envelope shape.
func writeError(w http.ResponseWriter, err error) {
	code := fiscalerrors.CodeOf(err)
	writeJSON(w, fiscalerrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}
